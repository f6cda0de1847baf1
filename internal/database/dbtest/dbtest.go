// Package dbtest provisions a PostgreSQL instance for integration tests:
// an external database when TEST_DB_HOST is set, otherwise a throwaway
// container.
package dbtest

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Instance is a running test database.
type Instance struct {
	DSN       string
	container *postgres.PostgresContainer
}

// Start returns a reachable database.
func Start(ctx context.Context) (*Instance, error) {
	if host := os.Getenv("TEST_DB_HOST"); host != "" {
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			envOr("TEST_DB_USER", "postgres"),
			envOr("TEST_DB_PASSWORD", "postgres"),
			host,
			envOr("TEST_DB_PORT", "5432"),
			envOr("TEST_DB_NAME", "parcelheat_test"),
		)
		return &Instance{DSN: dsn}, nil
	}

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("parcelheat_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &Instance{DSN: dsn, container: container}, nil
}

// Stop terminates the container, if one was started.
func (i *Instance) Stop(ctx context.Context) error {
	if i == nil || i.container == nil {
		return nil
	}
	return i.container.Terminate(ctx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
