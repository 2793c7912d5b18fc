// Package di provides dependency injection for scheduler jobs.
package di

import (
	"fmt"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/reliability"
	"github.com/aristath/rebalancer/internal/scheduler"
	"github.com/rs/zerolog"
)

// Fixed maintenance schedules (cron with seconds)
const (
	maintenanceSchedule   = "0 30 2 * * *"
	walCheckpointSchedule = "0 */30 * * * *"
)

// RegisterJobs creates the background jobs. They are not scheduled until
// ScheduleJobs is called, so command line tools can run them directly.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	instances := &JobInstances{
		Backup:      scheduler.NewBackupJob(container.BackupService, log),
		Maintenance: reliability.NewDailyMaintenanceJob(container.LedgerDB, cfg.DataDir, log),
		WALCheckpoint: scheduler.NewWALCheckpointJob(map[string]*database.DB{
			"ledger": container.LedgerDB,
		}, log),
	}

	if cfg.Schedule.Enabled() {
		instances.Rebalance = scheduler.NewRebalanceJob(
			container.ExecutionService,
			cfg.Schedule.TargetsFile,
			cfg.Schedule.Duration,
			log,
		)
	}

	return instances, nil
}

// ScheduleJobs adds every registered job to sched
func ScheduleJobs(sched *scheduler.Scheduler, jobs *JobInstances, cfg *config.Config) error {
	if jobs.Rebalance != nil {
		if err := sched.AddJob(cfg.Schedule.Cron, jobs.Rebalance); err != nil {
			return fmt.Errorf("failed to schedule rebalance: %w", err)
		}
	}
	if err := sched.AddJob(cfg.Backup.Cron, jobs.Backup); err != nil {
		return fmt.Errorf("failed to schedule backup: %w", err)
	}
	if err := sched.AddJob(maintenanceSchedule, jobs.Maintenance); err != nil {
		return fmt.Errorf("failed to schedule maintenance: %w", err)
	}
	if err := sched.AddJob(walCheckpointSchedule, jobs.WALCheckpoint); err != nil {
		return fmt.Errorf("failed to schedule WAL checkpoint: %w", err)
	}
	return nil
}
