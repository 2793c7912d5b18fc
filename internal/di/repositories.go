// Package di provides dependency injection for repositories.
package di

import (
	"fmt"
	"time"

	"github.com/aristath/rebalancer/internal/modules/ledger"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates the ledger repositories
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	conn := container.LedgerDB.Conn()
	container.RunRepo = ledger.NewRunRepository(conn, log)
	container.OrderRepo = ledger.NewOrderRepository(conn, log)
	container.SubmissionRepo = ledger.NewSubmissionRepository(conn, log)
	return nil
}

// FailInterruptedRuns marks runs a previous server process left in the running
// state as failed. The CLI shares the ledger, so only server startup calls it.
func FailInterruptedRuns(container *Container, log zerolog.Logger) error {
	n, err := container.RunRepo.FailInterrupted(time.Now())
	if err != nil {
		return fmt.Errorf("failed to close interrupted runs: %w", err)
	}
	if n > 0 {
		log.Warn().Int64("runs", n).Msg("Marked interrupted runs as failed")
	}
	return nil
}
