// Package handlers provides HTTP handlers for the run journal.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/rebalancer/internal/modules/ledger"
	"github.com/aristath/rebalancer/internal/modules/reporting"
	"github.com/rs/zerolog"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Handler handles run journal HTTP requests
type Handler struct {
	runs        *ledger.RunRepository
	orders      *ledger.OrderRepository
	submissions *ledger.SubmissionRepository
	reports     *reporting.Service
	log         zerolog.Logger
}

// NewHandler creates a new run journal handler
func NewHandler(
	runs *ledger.RunRepository,
	orders *ledger.OrderRepository,
	submissions *ledger.SubmissionRepository,
	reports *reporting.Service,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		runs:        runs,
		orders:      orders,
		submissions: submissions,
		reports:     reports,
		log:         log.With().Str("handler", "ledger").Logger(),
	}
}

// HandleListRuns handles GET /api/runs
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	runs, err := h.runs.List(limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		h.writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []ledger.Run{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
		"metadata": map[string]interface{}{
			"limit":     limit,
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetRun handles GET /api/runs/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request, id string) {
	run, ok := h.loadRun(w, id)
	if !ok {
		return
	}

	counts, err := h.submissions.CountByStatus(id)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to count submissions")
		h.writeError(w, http.StatusInternalServerError, "Failed to count submissions")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"run":         run,
		"submissions": counts,
	})
}

// HandleGetOrders handles GET /api/runs/{id}/orders
func (h *Handler) HandleGetOrders(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := h.loadRun(w, id); !ok {
		return
	}

	orders, err := h.orders.GetByRun(id)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to load orders")
		h.writeError(w, http.StatusInternalServerError, "Failed to load orders")
		return
	}
	if orders == nil {
		orders = []ledger.OrderRecord{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id": id,
		"orders": orders,
		"count":  len(orders),
	})
}

// HandleGetSubmissions handles GET /api/runs/{id}/submissions
// Optional query: status=submitted|failed|skipped, code=<instrument>
func (h *Handler) HandleGetSubmissions(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := h.loadRun(w, id); !ok {
		return
	}

	records, err := h.submissions.GetByRun(id)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to load submissions")
		h.writeError(w, http.StatusInternalServerError, "Failed to load submissions")
		return
	}

	status := r.URL.Query().Get("status")
	code := r.URL.Query().Get("code")
	filtered := make([]ledger.SubmissionRecord, 0, len(records))
	for _, rec := range records {
		if status != "" && string(rec.Status) != status {
			continue
		}
		if code != "" && rec.Code != code {
			continue
		}
		filtered = append(filtered, rec)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":      id,
		"submissions": filtered,
		"count":       len(filtered),
	})
}

// HandleGetReport handles GET /api/runs/{id}/report
func (h *Handler) HandleGetReport(w http.ResponseWriter, r *http.Request, id string) {
	report, err := h.reports.Build(id)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to build report")
		h.writeError(w, http.StatusInternalServerError, "Failed to build report")
		return
	}
	if report == nil {
		h.writeError(w, http.StatusNotFound, "Run not found")
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) loadRun(w http.ResponseWriter, id string) (*ledger.Run, bool) {
	run, err := h.runs.GetByID(id)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to load run")
		h.writeError(w, http.StatusInternalServerError, "Failed to load run")
		return nil, false
	}
	if run == nil {
		h.writeError(w, http.StatusNotFound, "Run not found")
		return nil, false
	}
	return run, true
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
