package scheduler

import (
	"context"
	"time"

	"github.com/aristath/rebalancer/internal/reliability"
	"github.com/rs/zerolog"
)

const backupTimeout = 10 * time.Minute

// Backuper produces a ledger backup
type Backuper interface {
	Backup(ctx context.Context) (*reliability.BackupResult, error)
}

// BackupJob runs the ledger backup
type BackupJob struct {
	backups Backuper
	log     zerolog.Logger
}

// NewBackupJob creates a new backup job
func NewBackupJob(backups Backuper, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		backups: backups,
		log:     log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}

// Run executes the backup with a timeout
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
	defer cancel()

	result, err := j.backups.Backup(ctx)
	if err != nil {
		return err
	}
	j.log.Debug().Str("archive", result.Archive).Bool("uploaded", result.Uploaded).Msg("Backup job finished")
	return nil
}
