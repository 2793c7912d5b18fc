package events

import "time"

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// RunStartedData contains data for RunStarted events
type RunStartedData struct {
	RunID       string    `json:"run_id"`
	Source      string    `json:"source"`
	Targets     int       `json:"targets"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	IntervalSec float64   `json:"interval_sec"`
}

// EventType returns the event type for RunStartedData
func (d *RunStartedData) EventType() EventType {
	return RunStarted
}

// RunPhaseChangedData contains data for RunPhaseChanged events
type RunPhaseChangedData struct {
	RunID string `json:"run_id"`
	Phase string `json:"phase"`
}

// EventType returns the event type for RunPhaseChangedData
func (d *RunPhaseChangedData) EventType() EventType {
	return RunPhaseChanged
}

// TickCompletedData contains data for TickCompleted events
type TickCompletedData struct {
	RunID    string  `json:"run_id"`
	Tick     int     `json:"tick"`
	Fraction float64 `json:"fraction"`
}

// EventType returns the event type for TickCompletedData
func (d *TickCompletedData) EventType() EventType {
	return TickCompleted
}

// OrderData contains data for OrderSubmitted and OrderFailed events
type OrderData struct {
	RunID     string  `json:"run_id"`
	Code      string  `json:"code"`
	Direction string  `json:"direction"`
	Stage     string  `json:"stage"`
	Price     float64 `json:"price"`
	Volume    int64   `json:"volume"`
	Error     string  `json:"error,omitempty"`
}

// EventType returns OrderFailed when an error is set, OrderSubmitted otherwise
func (d *OrderData) EventType() EventType {
	if d.Error != "" {
		return OrderFailed
	}
	return OrderSubmitted
}

// OrderSkippedData contains data for OrderSkipped events
type OrderSkippedData struct {
	RunID     string `json:"run_id"`
	Code      string `json:"code"`
	Direction string `json:"direction"`
	Stage     string `json:"stage"`
	Reason    string `json:"reason"`
	Detail    string `json:"detail,omitempty"`
}

// EventType returns the event type for OrderSkippedData
func (d *OrderSkippedData) EventType() EventType {
	return OrderSkipped
}

// RunFinishedData contains data for RunFinished events
type RunFinishedData struct {
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
	Ticks     int    `json:"ticks"`
	Submitted int    `json:"submitted"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Error     string `json:"error,omitempty"`
}

// EventType returns the event type for RunFinishedData
func (d *RunFinishedData) EventType() EventType {
	return RunFinished
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
