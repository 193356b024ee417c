package server

import (
	"net/http"

	"sweeparr/internal/auth"
	"sweeparr/internal/models"
)

// jobStatusResponse is the polling view of one job slot. Running is
// false for lingering finished jobs and when the slot is empty.
type jobStatusResponse struct {
	Running bool                `json:"running"`
	Job     *models.JobSnapshot `json:"job,omitempty"`
}

func (s *Server) runnerFor(kind models.JobKind) Runner {
	switch kind {
	case models.JobLibrarySync:
		return s.library
	case models.JobHistorySync:
		return s.history
	}
	return nil
}

func (s *Server) handleStartSync(kind models.JobKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runner := s.runnerFor(kind)
		if runner == nil {
			writeError(w, http.StatusServiceUnavailable, "sync engine not configured")
			return
		}
		user := auth.UserFromContext(r.Context())
		job, err := s.jobs.Start(user.ID, kind, models.TriggerManual, runner.Run)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, jobStatusResponse{Running: true, Job: job.Snapshot()})
	}
}

func (s *Server) handleJobStatus(kind models.JobKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := auth.UserFromContext(r.Context())
		job, ok := s.jobs.Get(user.ID, kind)

		if r.URL.Query().Get("stream") == "true" {
			if !ok {
				writeError(w, http.StatusNotFound, "no job to stream")
				return
			}
			s.streamJob(w, r, job)
			return
		}

		if !ok {
			writeJSON(w, http.StatusOK, jobStatusResponse{})
			return
		}
		snap := job.Snapshot()
		writeJSON(w, http.StatusOK, jobStatusResponse{Running: snap.Status == models.JobRunning, Job: snap})
	}
}

func (s *Server) handleCancelJob(kind models.JobKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := auth.UserFromContext(r.Context())
		if !s.jobs.Cancel(user.ID, kind) {
			writeError(w, http.StatusNotFound, "no running job")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
	}
}
