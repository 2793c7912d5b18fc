package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/rebalancer/internal/events"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	streamHeartbeat    = 30 * time.Second
	streamWriteTimeout = 10 * time.Second
)

// heartbeat is sent while no events flow so idle proxies keep the socket open
type heartbeat struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// EventsStreamHandler streams bus events to websocket clients as JSON text frames
type EventsStreamHandler struct {
	eventBus *events.Bus
	log      zerolog.Logger
}

// NewEventsStreamHandler creates a new events stream handler
func NewEventsStreamHandler(eventBus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		eventBus: eventBus,
		log:      log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/stream. The optional "types" query
// parameter is a comma-separated list of event types to forward.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	allowed := parseTypesFilter(r.URL.Query().Get("types"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS is open for the whole API
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to accept event stream")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	// Clients only listen; CloseRead handles their close frame and cancels ctx
	ctx := conn.CloseRead(r.Context())

	id, ch := h.eventBus.Subscribe(events.DefaultSubscriberBuffer)
	defer h.eventBus.Unsubscribe(id)

	h.log.Info().Int("subscriber", id).Int("types", len(allowed)).Msg("Event stream client connected")

	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Int("subscriber", id).Msg("Event stream client disconnected")
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case event, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if allowed != nil && !allowed[event.Type] {
				continue
			}
			if err := h.write(ctx, conn, event); err != nil {
				h.log.Debug().Err(err).Int("subscriber", id).Msg("Event stream write failed")
				return
			}

		case t := <-ticker.C:
			if err := h.write(ctx, conn, heartbeat{Type: "HEARTBEAT", Timestamp: t}); err != nil {
				return
			}
		}
	}
}

func (h *EventsStreamHandler) write(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode event")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// parseTypesFilter returns nil when every type is wanted
func parseTypesFilter(raw string) map[events.EventType]bool {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	allowed := make(map[events.EventType]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			allowed[events.EventType(strings.ToUpper(t))] = true
		}
	}
	return allowed
}
