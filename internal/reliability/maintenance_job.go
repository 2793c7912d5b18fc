package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

const (
	criticalFreeGB = 0.5
	lowFreeGB      = 5.0
)

// DailyMaintenanceJob checks ledger integrity, truncates its WAL and watches
// free disk space
type DailyMaintenanceJob struct {
	db      *database.DB
	dataDir string
	// diskFree is swapped in tests
	diskFree func(path string) (uint64, error)
	log      zerolog.Logger
}

// NewDailyMaintenanceJob creates a new daily maintenance job
func NewDailyMaintenanceJob(db *database.DB, dataDir string, log zerolog.Logger) *DailyMaintenanceJob {
	return &DailyMaintenanceJob{
		db:       db,
		dataDir:  dataDir,
		diskFree: freeBytes,
		log:      log.With().Str("job", "daily_maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *DailyMaintenanceJob) Name() string {
	return "daily_maintenance"
}

// Run executes the daily maintenance job
func (j *DailyMaintenanceJob) Run() error {
	j.log.Info().Msg("Starting daily maintenance")
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := j.db.HealthCheck(ctx); err != nil {
		j.log.Error().Err(err).Str("database", j.db.Name()).Msg("CRITICAL: integrity check failed")
		return err
	}

	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		// not fatal, the next checkpoint retries
		j.log.Warn().Err(err).Str("database", j.db.Name()).Msg("WAL checkpoint failed")
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	if stats, err := j.db.GetStats(); err == nil {
		j.log.Info().
			Str("database", j.db.Name()).
			Float64("size_mb", float64(stats.SizeBytes)/1024/1024).
			Float64("wal_size_mb", float64(stats.WALSizeBytes)/1024/1024).
			Msg("Database metrics")
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Daily maintenance completed successfully")
	return nil
}

// checkDiskSpace fails when the data directory is nearly full
func (j *DailyMaintenanceJob) checkDiskSpace() error {
	free, err := j.diskFree(j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}
	availableGB := float64(free) / 1e9

	j.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check")

	if availableGB < criticalFreeGB {
		j.log.Error().
			Float64("available_gb", availableGB).
			Msg("CRITICAL: Insufficient disk space")
		return fmt.Errorf("CRITICAL: only %.2f GB free on %s", availableGB, j.dataDir)
	}
	if availableGB < lowFreeGB {
		j.log.Warn().
			Float64("available_gb", availableGB).
			Msg("Disk space running low")
	}
	return nil
}

func freeBytes(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
