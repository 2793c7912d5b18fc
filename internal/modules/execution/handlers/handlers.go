// Package handlers provides HTTP handlers for starting runs and for
// read-only broker audit.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/execution"
	"github.com/rs/zerolog"
)

// maxCSVBody bounds uploaded target files
const maxCSVBody = 4 << 20

// Handler handles run submission and broker audit requests
type Handler struct {
	service *execution.Service
	broker  domain.BrokerAdapter
	log     zerolog.Logger
}

// NewHandler creates a new execution handler
func NewHandler(service *execution.Service, broker domain.BrokerAdapter, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		broker:  broker,
		log:     log.With().Str("handler", "execution").Logger(),
	}
}

// HandleStartRun handles POST /api/runs
func (h *Handler) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	var req execution.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	req.Source = "api"
	h.start(w, req)
}

// HandleStartRunCSV handles POST /api/runs/csv.
// The body is a target file; the window comes from the query string.
func (h *Handler) HandleStartRunCSV(w http.ResponseWriter, r *http.Request) {
	window, err := WindowFromQuery(r.URL.Query())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	targets, err := execution.ParseTargets(http.MaxBytesReader(w, r.Body, maxCSVBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.start(w, execution.RunRequest{Targets: targets, WindowConfig: window, Source: "api"})
}

// HandleGetActiveRun handles GET /api/runs/active
func (h *Handler) HandleGetActiveRun(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"active": h.service.Active(),
	})
}

func (h *Handler) start(w http.ResponseWriter, req execution.RunRequest) {
	runID, err := h.service.Start(req)
	switch {
	case err == nil:
		h.log.Info().Str("run_id", runID).Int("targets", len(req.Targets)).Msg("Run accepted")
		h.writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
	case errors.Is(err, execution.ErrRunInProgress):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrConfiguration), errors.Is(err, domain.ErrValidation):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Msg("Failed to start run")
		h.writeError(w, http.StatusInternalServerError, "Failed to start run")
	}
}

// HandleGetPositions handles GET /api/broker/positions
func (h *Handler) HandleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.broker.GetPositions(r.Context())
	if err != nil {
		h.brokerError(w, "positions", err)
		return
	}

	list := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		list = append(list, p)
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"positions": list,
		"count":     len(list),
	})
}

// HandleGetOrderBook handles GET /api/broker/book/{code}
func (h *Handler) HandleGetOrderBook(w http.ResponseWriter, r *http.Request, code string) {
	code = execution.NormalizeCode(code)
	if code == "" {
		h.writeError(w, http.StatusBadRequest, "Instrument code is required")
		return
	}

	book, err := h.broker.GetOrderBook(r.Context(), code)
	if err != nil {
		h.brokerError(w, "order book", err)
		return
	}
	if book == nil {
		book = domain.EmptyOrderBook(code)
	}
	h.writeJSON(w, http.StatusOK, newBookView(book))
}

// HandleGetBalance handles GET /api/broker/balance
func (h *Handler) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.broker.GetBalance(r.Context())
	if err != nil {
		h.brokerError(w, "balance", err)
		return
	}
	h.writeJSON(w, http.StatusOK, balance)
}

// HandleGetOpenOrders handles GET /api/broker/open-orders
func (h *Handler) HandleGetOpenOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.broker.GetOpenOrders(r.Context())
	if err != nil {
		h.brokerError(w, "open orders", err)
		return
	}
	if orders == nil {
		orders = []domain.OpenOrder{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"count":  len(orders),
	})
}

func (h *Handler) brokerError(w http.ResponseWriter, what string, err error) {
	h.log.Error().Err(err).Str("query", what).Msg("Broker query failed")
	h.writeError(w, http.StatusBadGateway, fmt.Sprintf("Failed to get %s from broker", what))
}

// levelView is a book level with unquoted values rendered as null
type levelView struct {
	Price  *float64 `json:"price"`
	Volume *float64 `json:"volume"`
}

type bookView struct {
	Code string      `json:"code"`
	Bids []levelView `json:"bids"`
	Asks []levelView `json:"asks"`
}

func newBookView(book *domain.OrderBookSnapshot) bookView {
	view := bookView{Code: book.Code}
	for i := 0; i < domain.BookDepth; i++ {
		view.Bids = append(view.Bids, newLevelView(book.Bids[i]))
		view.Asks = append(view.Asks, newLevelView(book.Asks[i]))
	}
	return view
}

func newLevelView(level domain.PriceLevel) levelView {
	var view levelView
	if domain.IsQuoted(level.Price) {
		price := level.Price
		view.Price = &price
	}
	if domain.IsQuoted(level.Volume) {
		volume := level.Volume
		view.Volume = &volume
	}
	return view
}

// WindowFromQuery reads a window configuration from query parameters:
// interval, timedelta_tot (seconds) and datetime_start, datetime_end (RFC 3339).
func WindowFromQuery(q url.Values) (execution.WindowConfig, error) {
	var cfg execution.WindowConfig
	var err error

	if cfg.IntervalSeconds, err = floatParam(q, "interval"); err != nil {
		return cfg, err
	}
	if cfg.DurationSeconds, err = floatParam(q, "timedelta_tot"); err != nil {
		return cfg, err
	}
	if cfg.Start, err = timeParam(q, "datetime_start"); err != nil {
		return cfg, err
	}
	if cfg.End, err = timeParam(q, "datetime_end"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func floatParam(q url.Values, name string) (*float64, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, domain.NewConfigurationError("%s must be a number of seconds, got %q", name, raw)
	}
	return &v, nil
}

func timeParam(q url.Values, name string) (*time.Time, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, domain.NewConfigurationError("%s must be an RFC 3339 timestamp, got %q", name, raw)
	}
	return &t, nil
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
