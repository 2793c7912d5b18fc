package events

import (
	"time"

	"github.com/rs/zerolog"
)

// Manager handles event emission and logging
type Manager struct {
	bus *Bus
	now func() time.Time
	log zerolog.Logger
}

// NewManager creates a new event manager
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{
		bus: bus,
		now: time.Now,
		log: log.With().Str("service", "events").Logger(),
	}
}

// Bus returns the bus events are published on
func (m *Manager) Bus() *Bus {
	return m.bus
}

// EmitTyped publishes data on the bus and logs it
func (m *Manager) EmitTyped(module string, data EventData) {
	if data == nil {
		return
	}

	event := Event{
		Type:      data.EventType(),
		Timestamp: m.now(),
		Module:    module,
		Data:      data,
	}
	m.bus.Publish(event)

	level := zerolog.DebugLevel
	switch event.Type {
	case RunStarted, RunFinished, OrderFailed, BackupCompleted, ErrorOccurred:
		level = zerolog.InfoLevel
	}
	m.log.WithLevel(level).
		Str("event_type", string(event.Type)).
		Str("module", module).
		Interface("data", data).
		Msg("Event emitted")
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	if err == nil {
		return
	}
	m.EmitTyped(module, &ErrorEventData{
		Error:   err.Error(),
		Context: context,
	})
}
