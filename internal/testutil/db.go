package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/crmorbit-ai/crm-v1-sub004/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NewTestDB creates a new Postgres test container, runs migrations, and returns a connection pool.
// The container is automatically cleaned up when the test finishes.
func NewTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	pool, cleanup, err := StartPostgres(context.Background())
	if err != nil {
		t.Fatalf("Failed to start test database: %v", err)
	}
	t.Cleanup(cleanup)

	return pool
}

// StartPostgres starts a migrated Postgres container outside of a test, for the dev server.
// The returned cleanup closes the pool and terminates the container.
func StartPostgres(ctx context.Context) (*pgxpool.Pool, func(), error) {
	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("mailsync_test"),
		postgres.WithUsername("mailsync"),
		postgres.WithPassword("mailsync"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	terminate := func() {
		_ = postgresContainer.Terminate(context.Background())
	}

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		terminate()
		return nil, nil, err
	}

	if err := migrations.Run(connStr); err != nil {
		terminate()
		return nil, nil, err
	}

	// Same pool settings as production
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		terminate()
		return nil, nil, err
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		terminate()
		return nil, nil, err
	}

	return pool, func() {
		pool.Close()
		terminate()
	}, nil
}
