package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// SubmissionRepository journals order decisions
// Database: ledger.db (submissions table)
type SubmissionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSubmissionRepository creates a new submission repository
func NewSubmissionRepository(db *sql.DB, log zerolog.Logger) *SubmissionRepository {
	return &SubmissionRepository{
		db:  db,
		log: log.With().Str("repo", "submissions").Logger(),
	}
}

// Record appends one decision and returns its id
func (r *SubmissionRepository) Record(s SubmissionRecord) (int64, error) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}

	var reason interface{}
	if s.Reason != "" {
		reason = s.Reason
	}

	res, err := r.db.Exec(`
		INSERT INTO submissions (run_id, code, direction, stage, price, volume, status, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.RunID, s.Code, s.Direction, s.Stage, s.Price, s.Volume, string(s.Status), reason, s.CreatedAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to record submission for %s: %w", s.Code, err)
	}
	return res.LastInsertId()
}

// GetByRun returns the decisions of a run in journal order
func (r *SubmissionRepository) GetByRun(runID string) ([]SubmissionRecord, error) {
	rows, err := r.db.Query(`
		SELECT id, run_id, code, direction, stage, price, volume, status, reason, created_at
		FROM submissions WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions of run %s: %w", runID, err)
	}
	defer rows.Close()

	records := make([]SubmissionRecord, 0)
	for rows.Next() {
		var (
			s         SubmissionRecord
			status    string
			reason    sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&s.ID, &s.RunID, &s.Code, &s.Direction, &s.Stage, &s.Price, &s.Volume,
			&status, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		s.Status = SubmissionStatus(status)
		if reason.Valid {
			s.Reason = reason.String
		}
		s.CreatedAt = time.Unix(createdAt, 0).UTC()
		records = append(records, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating submissions: %w", err)
	}
	return records, nil
}

// CountByStatus returns the number of decisions per status for a run
func (r *SubmissionRepository) CountByStatus(runID string) (map[SubmissionStatus]int, error) {
	rows, err := r.db.Query(`
		SELECT status, COUNT(*) FROM submissions WHERE run_id = ? GROUP BY status
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count submissions of run %s: %w", runID, err)
	}
	defer rows.Close()

	counts := map[SubmissionStatus]int{
		SubmissionSubmitted: 0,
		SubmissionFailed:    0,
		SubmissionSkipped:   0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan submission count: %w", err)
		}
		counts[SubmissionStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating submission counts: %w", err)
	}
	return counts, nil
}
