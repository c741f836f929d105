package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jarrod-lowe/rally-relay/internal/config"
	"github.com/jarrod-lowe/rally-relay/internal/store"
)

// Migrator applies the database schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create database tables",
	Long:  "Creates every table the relay uses and seeds the project settings row",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		v := viper.GetViper()
		config.Bind(v)

		pool, err := store.Open(ctx, v.GetString("database.url"))
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer pool.Close()

		return runMigrate(ctx, store.New(pool))
	},
}

func runMigrate(ctx context.Context, m Migrator) error {
	logger.InfoContext(ctx, "Running migrations")
	if err := m.Migrate(ctx); err != nil {
		logger.ErrorContext(ctx, "Migration failed", slog.String("error", err.Error()))
		return err
	}
	logger.InfoContext(ctx, "Migrations complete")
	return nil
}
