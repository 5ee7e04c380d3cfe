// cache-warmup fills (or clears) the shared GraphQL cache from a job instead
// of waiting for the first requests after a deploy.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_HOST=... REDIS_ADDRESS=... go run ./cmd/cache-warmup
//	go run ./cmd/cache-warmup --clear
//	go run ./cmd/cache-warmup --invalidate products
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/intrafmc/cbd_backend/cache"
	"github.com/intrafmc/cbd_backend/config"
	"github.com/intrafmc/cbd_backend/models"
)

type options struct {
	clearAll   bool
	invalidate string
}

func main() {
	os.Exit(run())
}

// run owns every deferred cleanup so they finish before the process exits.
func run() int {
	var opts options
	flag.BoolVar(&opts.clearAll, "clear", false, "Flush every key under CACHE_PREFIX before warming")
	flag.StringVar(&opts.invalidate, "invalidate", "", "Optional: drop one resource type (categories, products, ...) and exit")
	timeout := flag.Duration("timeout", 2*time.Minute, "Give up after this long")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry(ctx)
	db := config.GetDB()
	rdb := config.GetRedisDB()
	if db == nil || rdb == nil {
		fmt.Fprintln(os.Stderr, "database or redis not initialized. Set DB_* and REDIS_ADDRESS env vars.")
		return 1
	}
	defer rdb.Close()

	logger := config.GetLogger()
	c := cache.NewFromConfig(cache.NewRedisStore(rdb))
	catalog := models.NewCatalogService(models.NewGormStore(db), c, logger)
	return execute(ctx, c, catalog, opts, os.Stdout, os.Stderr)
}

func execute(ctx context.Context, c *cache.GraphQLCache, catalog *models.CatalogService, opts options, stdout, stderr io.Writer) int {
	if opts.invalidate != "" {
		resource, err := cache.ParseResourceType(opts.invalidate)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		n, err := c.InvalidateAll(ctx, resource)
		if err != nil {
			fmt.Fprintf(stderr, "invalidate %s failed: %v\n", resource, err)
			return 1
		}
		fmt.Fprintf(stdout, "Dropped %d %s entries under %q\n", n, resource, c.Prefix())
		return 0
	}

	if opts.clearAll {
		n, err := c.ClearAll(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "clear failed: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Cleared %d keys under %q\n", n, c.Prefix())
	}

	report, err := catalog.WarmUp(ctx)
	if report.Skipped {
		fmt.Fprintln(stdout, "Another instance holds the warm-up lock; nothing to do")
		return 0
	}
	for _, key := range report.Warmed {
		fmt.Fprintf(stdout, "warmed %s\n", key)
	}
	if err != nil {
		for key, reason := range report.Failed {
			fmt.Fprintf(stderr, "failed %s: %s\n", key, reason)
		}
		return 1
	}
	return 0
}
