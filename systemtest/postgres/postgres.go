package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/omarafosh/NFC-Card-Germany/internal/db"
)

const (
	dbUser     = "bridge"
	dbPassword = "bridge"
	dbName     = "dashboard"
)

// Instance is a throwaway dashboard database with the bridge tables applied.
type Instance struct {
	Container *postgres.PostgresContainer
	URL       string
	Pool      *pgxpool.Pool
}

func StartPostgres(ctx context.Context) (*Instance, error) {
	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		postgres.WithDatabase(dbName),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start Postgres container: %w", err)
	}

	inst := &Instance{Container: container}
	if err := inst.init(ctx); err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	return inst, nil
}

func (i *Instance) init(ctx context.Context) error {
	state, err := i.Container.State(ctx)
	if err != nil {
		return fmt.Errorf("failed to get container state: %w", err)
	}
	if !state.Running {
		return fmt.Errorf("postgres container is not running")
	}

	i.URL, err = i.Container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return fmt.Errorf("failed to get connection string: %w", err)
	}
	if err := db.RunMigrations(ctx, i.URL, "public"); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	i.Pool, err = db.InitDB(ctx, db.Config{URL: i.URL, MaxConns: 8, MinConns: 1})
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func (i *Instance) Terminate(ctx context.Context) error {
	if i.Pool != nil {
		i.Pool.Close()
	}
	if err := i.Container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate Postgres container: %w", err)
	}
	return nil
}
