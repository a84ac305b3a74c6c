package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/orgsync/internal/logger"
	postgresstore "github.com/wolfeidau/orgsync/internal/store/postgres"
)

type MigrateCmd struct {
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

func (c *MigrateCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx = log.WithContext(ctx)

	if err := c.PostgresStore.validate(); err != nil {
		return err
	}

	pool, err := postgresstore.NewPool(ctx, c.PostgresStore.poolConfig())
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	return postgresstore.RunMigrations(ctx, pool)
}
