package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/extension"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/intrafmc/cbd_backend/cache"
	"github.com/intrafmc/cbd_backend/config"
	"github.com/intrafmc/cbd_backend/directives"
	"github.com/intrafmc/cbd_backend/graph"
	"github.com/intrafmc/cbd_backend/middlewares"
	"github.com/intrafmc/cbd_backend/models"
	"github.com/intrafmc/cbd_backend/utils"
	"github.com/intrafmc/cbd_backend/workflow"
	"github.com/ravilushqa/otelgqlgen"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("cbd_backend")

// Cache backs automatic persisted queries.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

const apqPrefix = "apq:"

func NewCache(client redis.UniversalClient, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) Add(ctx context.Context, key string, value interface{}) {
	c.client.Set(ctx, apqPrefix+key, value, c.ttl)
}

func (c *Cache) Get(ctx context.Context, key string) (interface{}, bool) {
	s, err := c.client.Get(ctx, apqPrefix+key).Result()
	if err != nil {
		return struct{}{}, false
	}
	return s, true
}

// app holds everything built once the backing stores are reachable.
type app struct {
	arrivals *models.ArrivalService
	catalog  *models.CatalogService
	graphql  http.Handler
}

var current atomic.Pointer[app]

func newApp(store models.Store, c *cache.GraphQLCache, rdb redis.UniversalClient, logger *logrus.Logger) *app {
	catalog := models.NewCatalogService(store, c, logger)
	arrivals := models.NewArrivalService(store, c, logger)
	return &app{
		arrivals: arrivals,
		catalog:  catalog,
		graphql:  newGraphqlServer(arrivals, catalog, rdb),
	}
}

func newGraphqlServer(arrivals *models.ArrivalService, catalog *models.CatalogService, rdb redis.UniversalClient) http.Handler {
	resolver := &graph.Resolver{
		Tracer:   tracer,
		Arrivals: arrivals,
		Catalog:  catalog,
	}
	c := graph.Config{Resolvers: resolver}
	c.Directives.Auth = directives.Auth(catalog)

	h := handler.New(graph.NewExecutableSchema(c))
	h.AddTransport(transport.GET{})
	h.AddTransport(transport.POST{})
	h.Use(extension.Introspection{})
	h.Use(otelgqlgen.Middleware())
	h.SetErrorPresenter(graph.ErrorPresenter)
	h.SetRecoverFunc(graph.RecoverFunc)
	// APQ is optional; without Redis every query is sent in full.
	if rdb != nil {
		h.Use(extension.AutomaticPersistedQuery{Cache: NewCache(rdb, 24*time.Hour)})
	}
	return h
}

// Defining the Graphql handler
func graphqlHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		current.Load().graphql.ServeHTTP(c.Writer, c.Request)
	}
}

// Defining the Playground handler
func playgroundHandler() gin.HandlerFunc {
	h := playground.Handler("GraphQL", "/query")

	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// schemaHandler serves the SDL for tooling that cannot introspect.
func schemaHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		a := current.Load()
		sdl, err := cache.GetCached(c.Request.Context(), a.catalog.Cache(), cache.ResourceSchema, cache.IdentifierCurrent,
			func(context.Context) (string, error) { return graph.SDL(), nil })
		if err != nil {
			config.LogError(config.GetLogger(), "server.go", "schemaHandler", "loading schema", nil, err)
			sdl = graph.SDL()
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(sdl))
	}
}

// authorizeCacheAdmin answers with 401/403 and reports false unless the
// request principal may administer the cache.
func authorizeCacheAdmin(c *gin.Context, a *app) bool {
	userId, ok := utils.GetUserIdFromContext(c.Request.Context())
	if !ok || userId <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return false
	}
	perms, err := a.catalog.GetUserPermissions(c.Request.Context(), userId)
	if err != nil {
		config.LogError(config.GetLogger(), "server.go", "authorizeCacheAdmin", "reading permissions", userId, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return false
	}
	if !models.HasPermission(perms, models.PermissionCacheAdmin) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	return true
}

type cacheClearRequest struct {
	Resource   string `json:"resource"`
	Identifier string `json:"identifier"`
}

// cacheClearHandler flushes the whole prefix, or one resource type (optionally
// one identifier) when the body names it.
func cacheClearHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		a := current.Load()
		if !authorizeCacheAdmin(c, a) {
			return
		}
		var req cacheClearRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}

		ctx := c.Request.Context()
		gc := a.catalog.Cache()
		if req.Resource == "" {
			n, err := gc.ClearAll(ctx)
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"cleared": n, "prefix": gc.Prefix()})
			return
		}

		resource, err := cache.ParseResourceType(req.Resource)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		identifier := req.Identifier
		if identifier == "" {
			identifier = cache.Wildcard
		}
		if err := gc.Invalidate(ctx, resource, identifier); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"resource": resource, "identifier": identifier})
	}
}

func cacheWarmUpHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		a := current.Load()
		if !authorizeCacheAdmin(c, a) {
			return
		}
		report, err := a.catalog.WarmUp(c.Request.Context())
		status := http.StatusOK
		if err != nil {
			status = http.StatusMultiStatus
		}
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		c.JSON(status, gin.H{
			"warmed":         report.Warmed,
			"failed":         report.Failed,
			"skipped":        report.Skipped,
			"correlation_id": cid,
		})
	}
}

func cacheStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		a := current.Load()
		if !authorizeCacheAdmin(c, a) {
			return
		}
		stats, err := a.catalog.Cache().Stats(c.Request.Context())
		if err != nil {
			config.LogError(config.GetLogger(), "server.go", "cacheStatsHandler", "reading cache stats", stats.Prefix, err)
		}
		c.JSON(http.StatusOK, stats)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func newRouter(logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Header("x-correlation-id", cid)
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Until the stores are connected every other route answers 503.
		if current.Load() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production, require an explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "x-correlation-id")
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	r.Use(cors.New(corsConfig))

	// Optional rate limiting.
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.AuthMiddleware())
	r.Use(middlewares.LoaderMiddleware(func() *middlewares.Loaders {
		a := current.Load()
		return middlewares.NewLoaders(a.arrivals, a.catalog)
	}))
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())
	r.POST("/query", graphqlHandler())
	r.GET("/query", graphqlHandler())
	r.GET("/", playgroundHandler())
	r.GET("/schema", schemaHandler())
	// Ops tooling (cache:admin only).
	r.POST("/internal/ops/cache/clear", cacheClearHandler())
	r.POST("/internal/ops/cache/warmup", cacheWarmUpHandler())
	r.GET("/internal/ops/cache/stats", cacheStatsHandler())
	r.NoRoute(customNotFoundHandler)
	return r
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Listen before the stores are up; the readiness gate answers 503 meanwhile.
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: newRouter(logger),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()

	if strings.EqualFold(strings.TrimSpace(os.Getenv("STORE_BACKEND")), "memory") {
		logger.WithFields(logrus.Fields{"field": "store"}).Warn("STORE_BACKEND=memory; data is lost on shutdown")
		current.Store(newApp(models.NewMemoryStore(), cache.NewFromConfig(cache.NewMemoryStore()), nil, logger))
	} else {
		config.ConnectDatabaseWithRetry()
		config.ConnectRedisWithRetry(sigCtx)

		db := config.GetDB()
		sqlDB, _ := db.DB()
		defer func() {
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		}()
		// AutoMigrate can block tables; SKIP_MIGRATIONS moves it to a separate job.
		if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
			models.MigrateTable(db)
		} else {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
		}

		rdb := config.GetRedisDB()
		var cacheStore cache.Store = cache.NewMemoryStore()
		var apq redis.UniversalClient
		if rdb != nil {
			cacheStore = cache.NewRedisStore(rdb)
			apq = rdb
		} else {
			logger.WithFields(logrus.Fields{"field": "cache"}).Warn("redis unavailable; using in-process cache")
		}
		current.Store(newApp(models.NewGormStore(db), cache.NewFromConfig(cacheStore), apq, logger))

		// Stock events are published after commit.
		if config.StockEventsEnabled() {
			go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)
		}
	}

	if config.CacheWarmUpOnStart() {
		go func() {
			report, err := current.Load().catalog.WarmUp(sigCtx)
			if err != nil {
				config.LogError(logger, "server.go", "main", "cache warm-up", report.Failed, err)
				return
			}
			logger.WithFields(logrus.Fields{"field": "cache", "warmed": len(report.Warmed), "skipped": report.Skipped}).Info("cache warmed")
		}()
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("connect to http://localhost:", port, "/ for GraphQL playground")
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// NewRateLimiter uses the shared Redis client once it is connected; until
// then requests pass unthrottled.
func NewRateLimiter(limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
	}
}

func (rl *RateLimiter) redis() *redis.Client {
	if rl.client != nil {
		return rl.client
	}
	return config.GetRedisDB()
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	client := rl.redis()
	if client == nil {
		c.Next()
		return
	}
	key := "ratelimit:" + c.ClientIP()

	count, err := client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	if count == 1 {
		if err := client.Expire(c.Request.Context(), key, rl.window).Err(); err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
