// Package ledger journals rebalancing runs: the run itself, the reconciled
// order set and every submission or skip decision.
package ledger

import "time"

// RunStatus is the outcome of a run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// SubmissionStatus classifies a journaled decision
type SubmissionStatus string

const (
	SubmissionSubmitted SubmissionStatus = "submitted"
	SubmissionFailed    SubmissionStatus = "failed"
	SubmissionSkipped   SubmissionStatus = "skipped"
)

// Run is one rebalancing execution
type Run struct {
	ID          string        `json:"id"`
	Status      RunStatus     `json:"status"`
	Phase       string        `json:"phase"`
	Source      string        `json:"source"`
	WindowStart time.Time     `json:"window_start"`
	WindowEnd   time.Time     `json:"window_end"`
	Interval    time.Duration `json:"interval"`
	Ticks       int           `json:"ticks"`
	Submitted   int           `json:"submitted"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
}

// RunSummary carries the counters written when a run ends
type RunSummary struct {
	Ticks     int
	Submitted int
	Failed    int
	Skipped   int
}

// OrderRecord is the journaled state of one reconciled order
type OrderRecord struct {
	RunID           string    `json:"run_id"`
	Code            string    `json:"code"`
	InitialPosition float64   `json:"initial_position"`
	FinalPosition   float64   `json:"final_position"`
	ReferencePrice  float64   `json:"reference_price"`
	Direction       string    `json:"direction"`
	Mode            string    `json:"mode"`
	InterimTarget   float64   `json:"interim_target"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SubmissionRecord is one journaled order decision
type SubmissionRecord struct {
	ID        int64            `json:"id"`
	RunID     string           `json:"run_id"`
	Code      string           `json:"code"`
	Direction string           `json:"direction"`
	Stage     string           `json:"stage"`
	Price     float64          `json:"price"`
	Volume    int64            `json:"volume"`
	Status    SubmissionStatus `json:"status"`
	Reason    string           `json:"reason,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
