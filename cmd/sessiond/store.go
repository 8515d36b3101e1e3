package main

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/sessions/internal/config"
	"github.com/alfredjeanlab/sessions/internal/store"
	"github.com/alfredjeanlab/sessions/internal/store/dynamo"
	"github.com/alfredjeanlab/sessions/internal/store/memory"
	"github.com/alfredjeanlab/sessions/internal/store/postgres"
)

// openStore connects to the backend named by cfg.Store.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StoreDynamo:
		return dynamo.New(ctx, cfg.DynamoTable, cfg.DynamoRegion, cfg.DynamoEndpoint)
	case config.StorePostgres:
		return postgres.New(cfg.DatabaseURL)
	case config.StoreMemory:
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}
