package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the run journal routes. Run creation lives with
// the execution handlers on the same /runs prefix.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/runs", h.HandleListRuns)
	r.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		h.HandleGetRun(w, r, chi.URLParam(r, "id"))
	})
	r.Get("/runs/{id}/orders", func(w http.ResponseWriter, r *http.Request) {
		h.HandleGetOrders(w, r, chi.URLParam(r, "id"))
	})
	r.Get("/runs/{id}/submissions", func(w http.ResponseWriter, r *http.Request) {
		h.HandleGetSubmissions(w, r, chi.URLParam(r, "id"))
	})
	r.Get("/runs/{id}/report", func(w http.ResponseWriter, r *http.Request) {
		h.HandleGetReport(w, r, chi.URLParam(r, "id"))
	})
}
