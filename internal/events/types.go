// Package events provides event management functionality.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	RunStarted      EventType = "RUN_STARTED"
	RunPhaseChanged EventType = "RUN_PHASE_CHANGED"
	TickCompleted   EventType = "TICK_COMPLETED"
	OrderSubmitted  EventType = "ORDER_SUBMITTED"
	OrderFailed     EventType = "ORDER_FAILED"
	OrderSkipped    EventType = "ORDER_SKIPPED"
	RunFinished     EventType = "RUN_FINISHED"
	BackupCompleted EventType = "BACKUP_COMPLETED"
	ErrorOccurred   EventType = "ERROR_OCCURRED"
)

// Event is what subscribers receive
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}
