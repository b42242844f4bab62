package httpapp

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes mounts the API on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/downloads", h.SubmitDownload)
		r.Get("/downloads", h.ListDownloads)
		r.Get("/jobs/{id}", h.GetJob)
		r.Get("/jobs/active", h.ActiveJob)
		r.Post("/jobs/{id}/cancel", h.CancelJob)
		r.Get("/progress/stream", h.ProgressStream)
	})
}
