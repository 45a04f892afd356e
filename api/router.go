package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates an http.Handler with all routes registered.
// metricsHandler serves the Prometheus exposition and may be nil.
func NewRouter(h *Handler, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/deployments", func(r chi.Router) {
			r.Post("/", h.createDeployment)
			r.Get("/", h.listDeployments)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getDeployment)
				r.Post("/start", h.startDeployment)
				r.Post("/promote", h.promoteDeployment)
				r.Post("/rollback", h.rollbackDeployment)
				r.Post("/abort", h.abortDeployment)
			})
		})

		r.Route("/targets", func(r chi.Router) {
			r.Get("/", h.listTargets)
			r.Post("/", h.registerTarget)
			r.Delete("/{id}", h.removeTarget)
		})

		r.Route("/approvals", func(r chi.Router) {
			r.Post("/", h.approveEnvironment)
			r.Delete("/{environment}", h.revokeApproval)
		})
	})

	return r
}
