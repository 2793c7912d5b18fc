// Package di provides dependency injection type definitions.
//
// The Container holds every long-lived dependency of the application. It is
// created by Wire and handed to the HTTP server and the command line tools.
package di

import (
	"github.com/aristath/rebalancer/internal/clients/bridge"
	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/events"
	"github.com/aristath/rebalancer/internal/modules/execution"
	"github.com/aristath/rebalancer/internal/modules/ledger"
	"github.com/aristath/rebalancer/internal/modules/reporting"
	"github.com/aristath/rebalancer/internal/reliability"
	"github.com/aristath/rebalancer/internal/scheduler"
)

// Container holds all dependencies for the application
type Container struct {
	// Databases
	LedgerDB *database.DB // Run journal: runs, reconciled orders, submissions

	// Broker
	Broker       domain.BrokerAdapter
	BridgeClient *bridge.Client // nil in paper mode

	// Repositories
	RunRepo        *ledger.RunRepository
	OrderRepo      *ledger.OrderRepository
	SubmissionRepo *ledger.SubmissionRepository

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager

	// Services
	ExecutionService *execution.Service
	ReportingService *reporting.Service
	BackupService    *reliability.BackupService
}

// JobInstances holds references to registered jobs for manual triggering.
// Rebalance is nil when no schedule is configured.
type JobInstances struct {
	Rebalance     *scheduler.RebalanceJob
	Backup        *scheduler.BackupJob
	Maintenance   *reliability.DailyMaintenanceJob
	WALCheckpoint *scheduler.WALCheckpointJob
}
