/*
server.go - HTTP router assembly

Wires chi middleware, CORS and the JWT authentication layer around the
handlers. Everything under /api requires a valid bearer token; /healthz is
open so load balancers can probe without credentials.
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// NewRouter builds the full routing tree.
func NewRouter(h *Handler, jwtSecret string, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(Auth(jwtSecret))

		r.Route("/employees", func(r chi.Router) {
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/ledger", h.GetLedger)
			r.Get("/{id}/allocations", h.GetAvailableAllocations)
			r.Get("/{id}/timesheets", h.ListTimesheets)
			r.Post("/{id}/leave-applications", h.SubmitLeaveApplication)
		})

		r.Get("/leave-applications/{id}", h.GetLeaveApplication)

		r.Route("/timesheets", func(r chi.Router) {
			r.Post("/", h.CreateTimesheet)
			r.Get("/{id}", h.GetTimesheet)
			r.Get("/{id}/preview", h.PreviewTimesheet)
			r.Post("/{id}/submit", h.SubmitTimesheet)
			r.Post("/{id}/approval", h.SetApproval)
			r.Post("/{id}/cancel", h.CancelTimesheet)
		})
	})

	return r
}
