package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/sessions/internal/config"
	"github.com/alfredjeanlab/sessions/internal/store/dynamo"
	"github.com/alfredjeanlab/sessions/internal/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:               "migrate",
	Short:             "Create or upgrade the session table",
	GroupID:           "system",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := cfg.NewLogger(os.Stderr)
		ctx := context.Background()

		switch cfg.Store {
		case config.StoreDynamo:
			st, err := dynamo.New(ctx, cfg.DynamoTable, cfg.DynamoRegion, cfg.DynamoEndpoint)
			if err != nil {
				return err
			}
			created, err := st.EnsureTable(ctx)
			if err != nil {
				return err
			}
			logger.Info("dynamo table ready", "table", cfg.DynamoTable, "created", created)
		case config.StorePostgres:
			// New applies pending migrations before returning.
			st, err := postgres.New(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer st.Close()
			logger.Info("postgres migrations applied")
		default:
			return fmt.Errorf("store %q has nothing to migrate", cfg.Store)
		}
		return nil
	},
}
