package integration

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/evpower/csms/internal/adapter/cache"
	"github.com/evpower/csms/internal/adapter/storage/postgres"
)

// TestEnv wires real Postgres and Redis behind the adapters under test.
type TestEnv struct {
	DB     *gorm.DB
	Cache  *cache.RedisCache
	Logger *zap.Logger

	pgContainer    testcontainers.Container
	redisContainer testcontainers.Container
}

var (
	envOnce sync.Once
	env     *TestEnv
	envErr  error
)

// SetupTestEnvironment starts (or reuses) the containerized dependencies.
// Tests skip when neither Docker nor external service URLs are available.
func SetupTestEnvironment(t *testing.T) *TestEnv {
	t.Helper()
	envOnce.Do(func() {
		env, envErr = buildEnv()
	})
	if envErr != nil {
		t.Skipf("integration environment unavailable: %v", envErr)
	}
	return env
}

func buildEnv() (*TestEnv, error) {
	ctx := context.Background()
	logger, _ := zap.NewDevelopment()

	dbURL := os.Getenv("DATABASE_URL")
	redisURL := os.Getenv("REDIS_URL")

	e := &TestEnv{Logger: logger}

	if dbURL == "" {
		pgContainer, err := tcpostgres.RunContainer(ctx,
			testcontainers.WithImage("postgres:16-alpine"),
			tcpostgres.WithDatabase("csms_test"),
			tcpostgres.WithUsername("csms"),
			tcpostgres.WithPassword("csms_test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("postgres container: %w", err)
		}
		e.pgContainer = pgContainer

		host, err := pgContainer.Host(ctx)
		if err != nil {
			return nil, err
		}
		port, err := pgContainer.MappedPort(ctx, "5432")
		if err != nil {
			return nil, err
		}
		dbURL = fmt.Sprintf("postgres://csms:csms_test@%s:%s/csms_test?sslmode=disable", host, port.Port())
	}

	db, err := postgres.NewConnection(dbURL, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := postgres.RunMigrations(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e.DB = db

	if redisURL == "" {
		redisContainer, err := tcredis.RunContainer(ctx,
			testcontainers.WithImage("redis:7-alpine"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("Ready to accept connections").
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("redis container: %w", err)
		}
		e.redisContainer = redisContainer

		host, err := redisContainer.Host(ctx)
		if err != nil {
			return nil, err
		}
		port, err := redisContainer.MappedPort(ctx, "6379")
		if err != nil {
			return nil, err
		}
		redisURL = fmt.Sprintf("redis://%s:%s", host, port.Port())
	}

	redisCache, err := cache.NewRedisCache(redisURL, logger)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	e.Cache = redisCache

	return e, nil
}

// CleanTables truncates every table the suite touches.
func CleanTables(t *testing.T, db *gorm.DB) {
	t.Helper()
	tables := []string{
		"meter_samples",
		"charging_sessions",
		"top_ups",
		"tariff_rules",
		"connectors",
		"stations",
		"locations",
		"clients",
	}
	for _, table := range tables {
		if err := db.Exec("TRUNCATE TABLE " + table + " CASCADE").Error; err != nil {
			t.Logf("truncate %s: %v", table, err)
		}
	}
}
