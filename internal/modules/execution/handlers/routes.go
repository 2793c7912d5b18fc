package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers run submission and broker audit routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/runs", h.HandleStartRun)
	r.Post("/runs/csv", h.HandleStartRunCSV)
	r.Get("/runs/active", h.HandleGetActiveRun)

	r.Route("/broker", func(r chi.Router) {
		r.Get("/positions", h.HandleGetPositions)
		r.Get("/book/{code}", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetOrderBook(w, r, chi.URLParam(r, "code"))
		})
		r.Get("/balance", h.HandleGetBalance)
		r.Get("/open-orders", h.HandleGetOpenOrders)
	})
}
