package server

import (
	"net/http"

	"sweeparr/internal/auth"
	"sweeparr/internal/models"
)

func (s *Server) handleStartCascade(w http.ResponseWriter, r *http.Request) {
	if s.cleanup == nil {
		writeError(w, http.StatusServiceUnavailable, "cleanup engine not configured")
		return
	}
	user := auth.UserFromContext(r.Context())

	var req models.CascadeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	casc, err := s.cleanup.Prepare(r.Context(), user.ID, &req, user.Email)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	job, err := s.jobs.Start(user.ID, models.JobCascadeDelete, models.TriggerManual, casc.Run)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobStatusResponse{Running: true, Job: job.Snapshot()})
}
