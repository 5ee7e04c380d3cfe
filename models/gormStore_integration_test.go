package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/intrafmc/cbd_backend/cache"
	"github.com/intrafmc/cbd_backend/config"
	"github.com/intrafmc/cbd_backend/models"
	"github.com/intrafmc/cbd_backend/utils"
	"github.com/intrafmc/cbd_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func TestGormStore_ArrivalValidationAgainstMySQL(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "cbd_test")
	t.Setenv("CACHE_PREFIX", "cbd_it")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry(ctx)
	db := config.GetDB()
	if db == nil || config.GetRedisDB() == nil {
		t.Fatalf("dependencies not connected")
	}
	models.MigrateTable(db)

	logger := logrus.New()
	c := cache.NewFromConfig(cache.NewRedisStore(config.GetRedisDB()))
	store := models.NewGormStore(db)
	catalog := models.NewCatalogService(store, c, logger)
	arrivals := models.NewArrivalService(store, c, logger)

	a, err := catalog.CreateProduct(ctx, &models.NewProduct{Name: "Oil 10%", Price: decimal.NewFromInt(40), Stock: 100})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	b, err := catalog.CreateProduct(ctx, &models.NewProduct{Name: "Oil 20%", Price: decimal.NewFromInt(70), Stock: 50})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	// Prime the products cache so validation has something to invalidate.
	if _, err := catalog.GetProduct(ctx, a.ID); err != nil {
		t.Fatalf("GetProduct: %v", err)
	}

	arrival, err := arrivals.CreateArrival(ctx, &models.NewArrival{
		Amount: decimal.RequireFromString("1512.50"),
		Status: models.ArrivalStatusPending,
		Products: []*models.NewArrivalProduct{
			{ProductId: a.ID, Quantity: 30, UnitPrice: decimal.NewFromInt(20)},
			{ProductId: b.ID, Quantity: 25, UnitPrice: decimal.RequireFromString("36.50")},
		},
	}, nil)
	if err != nil {
		t.Fatalf("CreateArrival: %v", err)
	}

	// Racing validations: exactly one wins, the rest see InvalidState.
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		conflict int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := arrivals.ValidateArrival(ctx, arrival.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, utils.ErrInvalidState):
				conflict++
			default:
				t.Errorf("ValidateArrival: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || conflict != 5 {
		t.Fatalf("wins=%d conflicts=%d, want 1 and 5", wins, conflict)
	}

	for id, want := range map[int]int{a.ID: 130, b.ID: 75} {
		p, err := catalog.GetProduct(ctx, id)
		if err != nil {
			t.Fatalf("GetProduct(%d): %v", id, err)
		}
		if p.Stock != want {
			t.Fatalf("product %d stock = %d, want %d", id, p.Stock, want)
		}
	}

	// The outbox row is published once and marked SENT.
	var published []string
	d := workflow.NewOutboxDispatcher(db, logger)
	d.Publish = func(_ context.Context, data []byte, attrs map[string]string) (string, error) {
		published = append(published, attrs["arrival_id"])
		return "msg-1", nil
	}
	n, err := d.DispatchOnce(ctx)
	if err != nil || n != 1 {
		t.Fatalf("DispatchOnce = %d, %v", n, err)
	}
	if len(published) != 1 || published[0] != fmt.Sprint(arrival.ID) {
		t.Fatalf("published = %v", published)
	}
	var ev models.StockEvent
	if err := db.Where("arrival_id = ?", arrival.ID).First(&ev).Error; err != nil {
		t.Fatalf("load stock event: %v", err)
	}
	if ev.PublishStatus != models.OutboxPublishStatusSent || ev.PubSubMessageId == nil || *ev.PubSubMessageId != "msg-1" {
		t.Fatalf("stock event = %+v", ev)
	}
	if n, _ := d.DispatchOnce(ctx); n != 0 {
		t.Fatalf("second dispatch published %d events", n)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("cbd-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("cbd-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=cbd_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
