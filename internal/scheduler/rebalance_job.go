package scheduler

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aristath/rebalancer/internal/modules/execution"
	"github.com/rs/zerolog"
)

// RunStarter launches a run in the background
type RunStarter interface {
	Start(req execution.RunRequest) (string, error)
}

// RebalanceJob starts a run from a target file on a schedule
type RebalanceJob struct {
	runs        RunStarter
	targetsFile string
	duration    time.Duration
	log         zerolog.Logger
}

// NewRebalanceJob creates a job that rebalances to targetsFile over duration
func NewRebalanceJob(runs RunStarter, targetsFile string, duration time.Duration, log zerolog.Logger) *RebalanceJob {
	return &RebalanceJob{
		runs:        runs,
		targetsFile: targetsFile,
		duration:    duration,
		log:         log.With().Str("job", "rebalance").Logger(),
	}
}

// Name returns the job name
func (j *RebalanceJob) Name() string {
	return "rebalance"
}

// Run reads the target file and starts a run. A run already in progress is
// left alone and the tick is skipped.
func (j *RebalanceJob) Run() error {
	f, err := os.Open(j.targetsFile)
	if err != nil {
		return fmt.Errorf("failed to open targets file: %w", err)
	}
	defer f.Close()

	targets, err := execution.ParseTargets(f)
	if err != nil {
		return fmt.Errorf("invalid targets file %s: %w", j.targetsFile, err)
	}

	runID, err := j.runs.Start(execution.RunRequest{
		Targets:      targets,
		WindowConfig: execution.WindowConfig{DurationSeconds: execution.Seconds(j.duration.Seconds())},
		Source:       "schedule",
	})
	if errors.Is(err, execution.ErrRunInProgress) {
		j.log.Warn().Msg("Skipping scheduled rebalance, a run is already active")
		return nil
	}
	if err != nil {
		return err
	}

	j.log.Info().
		Str("run_id", runID).
		Int("targets", len(targets)).
		Dur("duration", j.duration).
		Msg("Scheduled rebalance started")
	return nil
}
