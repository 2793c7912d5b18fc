package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RunRepository handles run rows
// Database: ledger.db (runs table)
type RunRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *sql.DB, log zerolog.Logger) *RunRepository {
	return &RunRepository{
		db:  db,
		log: log.With().Str("repo", "runs").Logger(),
	}
}

const runColumns = `id, status, phase, source, window_start, window_end, interval_ms,
	ticks, submitted, failed, skipped, error, created_at, finished_at`

// Create inserts a new run
func (r *RunRepository) Create(run Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	if run.Source == "" {
		run.Source = "api"
	}

	_, err := r.db.Exec(`
		INSERT INTO runs (id, status, phase, source, window_start, window_end, interval_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		string(run.Status),
		run.Phase,
		run.Source,
		run.WindowStart.Unix(),
		run.WindowEnd.Unix(),
		run.Interval.Milliseconds(),
		run.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	r.log.Debug().Str("run_id", run.ID).Msg("Run created")
	return nil
}

// UpdatePhase records the phase a run entered
func (r *RunRepository) UpdatePhase(id, phase string) error {
	res, err := r.db.Exec("UPDATE runs SET phase = ? WHERE id = ?", phase, id)
	if err != nil {
		return fmt.Errorf("failed to update phase of run %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

// Finish stores the outcome and counters of a run
func (r *RunRepository) Finish(id string, status RunStatus, summary RunSummary, errMsg string, finishedAt time.Time) error {
	var errValue interface{}
	if errMsg != "" {
		errValue = errMsg
	}

	res, err := r.db.Exec(`
		UPDATE runs
		SET status = ?, ticks = ?, submitted = ?, failed = ?, skipped = ?, error = ?, finished_at = ?
		WHERE id = ?
	`,
		string(status),
		summary.Ticks,
		summary.Submitted,
		summary.Failed,
		summary.Skipped,
		errValue,
		finishedAt.Unix(),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

// GetByID returns the run or nil when it does not exist
func (r *RunRepository) GetByID(id string) (*Run, error) {
	row := r.db.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// List returns the most recent runs first
func (r *RunRepository) List(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query("SELECT "+runColumns+" FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// FailInterrupted marks runs left in the running state by a previous
// process as failed. It returns how many were updated.
func (r *RunRepository) FailInterrupted(now time.Time) (int64, error) {
	res, err := r.db.Exec(`
		UPDATE runs SET status = ?, error = ?, finished_at = ?
		WHERE status = ?
	`, string(RunStatusFailed), "interrupted by restart", now.Unix(), string(RunStatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted runs: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run                    Run
		status                 string
		windowStart, windowEnd int64
		intervalMs, createdAt  int64
		errMsg                 sql.NullString
		finishedAt             sql.NullInt64
	)

	if err := row.Scan(
		&run.ID,
		&status,
		&run.Phase,
		&run.Source,
		&windowStart,
		&windowEnd,
		&intervalMs,
		&run.Ticks,
		&run.Submitted,
		&run.Failed,
		&run.Skipped,
		&errMsg,
		&createdAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)
	run.WindowStart = time.Unix(windowStart, 0).UTC()
	run.WindowEnd = time.Unix(windowEnd, 0).UTC()
	run.Interval = time.Duration(intervalMs) * time.Millisecond
	run.CreatedAt = time.Unix(createdAt, 0).UTC()
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0).UTC()
		run.FinishedAt = &t
	}
	return &run, nil
}

func requireOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}
