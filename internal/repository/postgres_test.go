package repository_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/glizzus/cmdcron/internal/datalayer"
	"github.com/glizzus/cmdcron/internal/repository"
)

func newPostgresPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := t.Context()

	postgresContainer, err := postgres.Run(
		ctx,
		"postgres",
		postgres.WithDatabase("cmdcron"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := postgresContainer.Terminate(context.Background()); err != nil {
			t.Errorf("failed to terminate postgres container: %v", err)
		}
	})

	connStr, err := postgresContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to create postgres pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := datalayer.MigratePostgres(pool); err != nil {
		t.Fatalf("failed to migrate postgres: %v", err)
	}
	return pool
}

func TestPostgresRepositories(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	pool := newPostgresPool(t)

	t.Run("schedules", func(t *testing.T) {
		testScheduleRepository(t, repository.NewPostgresScheduleRepository(pool))
	})
	t.Run("runs", func(t *testing.T) {
		testRunRepository(t, repository.NewPostgresRunRepository(pool))
	})
}
