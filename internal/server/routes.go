package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"sweeparr/internal/models"
)

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/version", s.handleVersion)

	// Webhook intake authenticates with per-server secrets, not
	// sessions, so it lives outside /api.
	if s.webhooks != nil {
		s.router.Route("/webhook", func(r chi.Router) {
			r.Use(webhookRateLimit)
			r.Mount("/", s.webhooks.Handler())
		})
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(limitBody)
		r.Use(jsonContentType)
		r.Use(corsMiddleware(s.corsOrigin))
		r.Use(s.auth.RequireAdmin)

		r.Route("/sync/library", func(sr chi.Router) {
			sr.Post("/", s.handleStartSync(models.JobLibrarySync))
			sr.Get("/", s.handleJobStatus(models.JobLibrarySync))
			sr.Post("/cancel", s.handleCancelJob(models.JobLibrarySync))
		})

		r.Route("/sync/history", func(sr chi.Router) {
			sr.Post("/", s.handleStartSync(models.JobHistorySync))
			sr.Get("/", s.handleJobStatus(models.JobHistorySync))
			sr.Post("/cancel", s.handleCancelJob(models.JobHistorySync))
		})

		r.Get("/candidates", s.handleCandidates)

		r.Route("/cascade", func(sr chi.Router) {
			sr.Post("/", s.handleStartCascade)
			sr.Get("/", s.handleJobStatus(models.JobCascadeDelete))
			sr.Get("/progress", s.handleJobStatus(models.JobCascadeDelete))
			sr.Post("/cancel", s.handleCancelJob(models.JobCascadeDelete))
		})

		r.Route("/stats", func(sr chi.Router) {
			sr.Get("/", s.handleStatsOverview)
			sr.Get("/storage", s.handleStatsStorage)
			sr.Get("/quality", s.handleStatsQuality)
			sr.Get("/inaccessible", s.handleStatsInaccessible)
			sr.Put("/capacity", s.handleSetCapacity)
		})

		r.Route("/servers", func(sr chi.Router) {
			sr.Get("/", s.handleListServers)
			sr.Post("/", s.handleRegisterServer)
			sr.Delete("/{id}", s.handleDeleteServer)
		})

		r.Route("/schedules", func(sr chi.Router) {
			sr.Get("/", s.handleListSchedules)
			sr.Put("/", s.handleUpsertSchedule)
		})

		r.Post("/rules/{id}/leaving-soon", s.handleLeavingSoon)

		r.Route("/events", func(sr chi.Router) {
			sr.Get("/sync", s.handleListSyncEvents)
			sr.Get("/deletions", s.handleListDeletionEvents)
			sr.Get("/webhooks", s.handleListWebhookEvents)
		})

		r.Route("/notifications", func(sr chi.Router) {
			sr.Get("/", s.handleListChannels)
			sr.Post("/", s.handleCreateChannel)
			sr.Post("/{id}/test", s.handleTestChannel)
			sr.Delete("/{id}", s.handleDeleteChannel)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.st.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}
