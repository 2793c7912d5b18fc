// Package di provides dependency injection wiring and initialization.
package di

import (
	"context"
	"fmt"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/rs/zerolog"
)

// Wire initializes all dependencies and returns a fully configured container.
// Order of operations:
// 1. Initialize databases
// 2. Initialize repositories
// 3. Initialize services
// 4. Register jobs
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, *JobInstances, error) {
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := InitializeRepositories(container, log); err != nil {
		container.Close(context.Background())
		return nil, nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	if err := InitializeServices(container, cfg, log); err != nil {
		container.Close(context.Background())
		return nil, nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	jobs, err := RegisterJobs(container, cfg, log)
	if err != nil {
		container.Close(context.Background())
		return nil, nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	return container, jobs, nil
}

// Close stops the active run, the bridge worker and the ledger, in that order.
// Errors are logged by their owners; Close never fails.
func (c *Container) Close(ctx context.Context) {
	if c.ExecutionService != nil {
		_ = c.ExecutionService.Shutdown(ctx)
	}
	if c.BridgeClient != nil {
		c.BridgeClient.Close()
	}
	if c.LedgerDB != nil {
		_ = c.LedgerDB.Close()
	}
}
