package server

import (
	"net/http"

	"sweeparr/internal/auth"
	"sweeparr/internal/models"
)

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	channels, err := s.st.ListNotificationChannels(r.Context(), user.ID, false)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	var ch models.NotificationChannel
	if err := decodeJSON(r, &ch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := ch.ValidateConfig(); err != nil {
		writeAPIError(w, err)
		return
	}
	ch.ID = 0
	ch.UserID = user.ID
	if err := s.st.CreateNotificationChannel(r.Context(), &ch); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

// handleTestChannel sends a sample message through the stored channel so
// misconfigured webhooks surface before a real cascade needs them.
func (s *Server) handleTestChannel(w http.ResponseWriter, r *http.Request) {
	if s.notifier == nil {
		writeError(w, http.StatusServiceUnavailable, "notifier not configured")
		return
	}
	user := auth.UserFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	ch, err := s.st.GetNotificationChannel(r.Context(), user.ID, id)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if err := s.notifier.TestChannel(r.Context(), ch); err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "failed", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.st.DeleteNotificationChannel(r.Context(), user.ID, id); err != nil {
		writeAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
