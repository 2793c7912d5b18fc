// Package di provides dependency injection for database connections.
package di

import (
	"fmt"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the ledger and applies its schema
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	ledgerDB, err := database.New(database.Config{
		Path:    cfg.LedgerPath(),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ledger database: %w", err)
	}
	container.LedgerDB = ledgerDB

	if err := ledgerDB.Migrate(); err != nil {
		_ = ledgerDB.Close()
		return nil, fmt.Errorf("failed to migrate ledger database: %w", err)
	}

	log.Info().Str("path", ledgerDB.Path()).Msg("Ledger database ready")
	return container, nil
}
