package di

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/modules/execution"
	"github.com/aristath/rebalancer/internal/modules/ledger"
	"github.com/aristath/rebalancer/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	defaults := execution.DefaultParams()
	return &config.Config{
		DataDir:    t.TempDir(),
		Port:       8001,
		BrokerMode: config.BrokerModePaper,
		PaperCash:  100000,
		Execution: config.ExecutionConfig{
			LotSize:           defaults.LotSize,
			MinOrderValue:     defaults.MinOrderValue,
			IgnoreOrderValue:  defaults.IgnoreOrderValue,
			PassiveOffset:     defaults.PassiveOffset,
			BookRetryAttempts: defaults.BookRetry.MaxAttempts,
			BookRetryDelay:    defaults.BookRetry.Delay,
			SettleDelay:       defaults.SettleDelay,
			DefaultInterval:   defaults.DefaultInterval,
		},
		Backup: config.BackupConfig{Cron: "0 0 3 * * *", Prefix: "rebalancer"},
	}
}

func TestWire_PaperMode(t *testing.T) {
	cfg := testConfig(t)

	container, jobs, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close(context.Background()) })

	assert.NotNil(t, container.LedgerDB)
	assert.NotNil(t, container.Broker)
	assert.Nil(t, container.BridgeClient)
	assert.NotNil(t, container.ExecutionService)
	assert.NotNil(t, container.ReportingService)
	assert.NotNil(t, container.BackupService)
	assert.False(t, container.BackupService.UploadEnabled())

	assert.NotNil(t, jobs.Backup)
	assert.NotNil(t, jobs.Maintenance)
	assert.NotNil(t, jobs.WALCheckpoint)
	assert.Nil(t, jobs.Rebalance, "no schedule configured")

	sched := scheduler.New(zerolog.Nop())
	require.NoError(t, ScheduleJobs(sched, jobs, cfg))
	var names []string
	for _, e := range sched.Entries() {
		names = append(names, e.Job)
	}
	assert.Equal(t, []string{"backup", "daily_maintenance", "wal_checkpoint"}, names)
}

func TestWire_BridgeModeWithSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.BrokerMode = config.BrokerModeBridge
	cfg.Bridge = config.BridgeConfig{URL: "http://127.0.0.1:1", Timeout: time.Second}
	cfg.Schedule = config.ScheduleConfig{Cron: "0 0 10 * * 1-5", TargetsFile: "targets.csv", Duration: time.Hour}

	container, jobs, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close(context.Background()) })

	require.NotNil(t, container.BridgeClient)
	assert.Equal(t, container.BridgeClient, container.Broker)
	require.NotNil(t, jobs.Rebalance)

	sched := scheduler.New(zerolog.Nop())
	require.NoError(t, ScheduleJobs(sched, jobs, cfg))
	entries := sched.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, "rebalance", entries[0].Job)
	assert.Equal(t, "0 0 10 * * 1-5", entries[0].Schedule)
}

func TestFailInterruptedRuns(t *testing.T) {
	cfg := testConfig(t)

	first, _, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, first.RunRepo.Create(ledger.Run{
		ID:          "stuck",
		Phase:       "running",
		WindowStart: now,
		WindowEnd:   now.Add(time.Hour),
		Interval:    20 * time.Second,
		CreatedAt:   now,
	}))
	first.Close(context.Background())

	// wiring alone, as the CLI does, leaves the run alone
	second, _, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { second.Close(context.Background()) })

	run, err := second.RunRepo.GetByID("stuck")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, ledger.RunStatusRunning, run.Status)

	require.NoError(t, FailInterruptedRuns(second, zerolog.Nop()))

	run, err = second.RunRepo.GetByID("stuck")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, ledger.RunStatusFailed, run.Status)
}

func TestScheduleJobs_InvalidCron(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backup.Cron = "not a schedule"

	container, jobs, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close(context.Background()) })

	assert.Error(t, ScheduleJobs(scheduler.New(zerolog.Nop()), jobs, cfg))
}
