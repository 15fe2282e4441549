package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"go-file-engine/internal/config"
	"go-file-engine/internal/handler"
	"go-file-engine/internal/metrics"
	"go-file-engine/internal/middleware"
	"go-file-engine/internal/service"
	"go-file-engine/internal/websocket"
)

type Handlers struct {
	Operations *handler.OperationsHandler
	Jobs       *handler.JobsHandler
	Resources  *handler.ResourcesHandler
	Cache      *handler.CacheHandler
	Trash      *handler.TrashHandler
	Health     *handler.HealthHandler
}

func New(cfg *config.Config, authMiddleware *middleware.AuthMiddleware, h Handlers, hub *websocket.Hub) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.SubmitRateLimitRPM)

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimitMiddleware.Handler)

	health := h.Health
	if health == nil {
		health = handler.NewHealthHandler(nil)
	}
	r.Get("/health", health.Check)
	r.Handle("/metrics", metrics.Handler())
	r.With(authMiddleware.RequireAuth).Get("/ws", hub.ServeWS)

	anyRole := authMiddleware.RequireRoles(service.RoleViewer, service.RoleEditor, service.RoleAdmin)
	editors := authMiddleware.RequireRoles(service.RoleEditor, service.RoleAdmin)
	admins := authMiddleware.RequireRoles(service.RoleAdmin)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(authMiddleware.RequireAuth)

		// A synchronous batch runs as long as its transfers do, so it is
		// kept outside the buffered request timeout.
		api.With(editors).Post("/operations", h.Operations.Submit)

		api.Group(func(timed chi.Router) {
			timed.Use(middleware.Timeout(cfg.RequestTimeout))

			timed.With(anyRole).Get("/jobs", h.Jobs.List)
			timed.With(anyRole).Get("/jobs/{job_id}", h.Jobs.GetJob)
			timed.With(anyRole).Get("/jobs/{job_id}/items", h.Jobs.GetJobItems)
			timed.With(editors).Post("/jobs/{job_id}/cancel", h.Jobs.Cancel)

			timed.With(anyRole).Get("/resources", h.Resources.List)
			timed.With(anyRole).Get("/resources/{resource_id}/entries", h.Resources.Entries)
			timed.With(anyRole).Get("/resources/{resource_id}/stat", h.Resources.Stat)
			timed.With(anyRole).Get("/resources/{resource_id}/space", h.Resources.Space)

			timed.With(anyRole).Get("/cache", h.Cache.List)
			timed.With(anyRole).Post("/cache/release", h.Cache.Release)
			timed.With(editors).Post("/cache/dirty", h.Cache.MarkDirty)

			timed.With(anyRole).Get("/trash", h.Trash.List)
			timed.With(editors).Post("/trash/{trash_id}/restore", h.Trash.Restore)
			timed.With(admins).Delete("/trash/{trash_id}", h.Trash.Purge)
			timed.With(admins).Delete("/trash", h.Trash.Empty)
		})

		// Acquire downloads and commit uploads whole files.
		api.With(anyRole).Post("/cache/acquire", h.Cache.Acquire)
		api.With(editors).Post("/cache/commit", h.Cache.Commit)
	})

	return r
}
