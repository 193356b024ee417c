package server

import (
	"net/http"

	"sweeparr/internal/auth"
)

// handleLeavingSoon reconciles the rule's display collection on every
// reachable server so users can see what the rule would remove.
func (s *Server) handleLeavingSoon(w http.ResponseWriter, r *http.Request) {
	if s.cleanup == nil {
		writeError(w, http.StatusServiceUnavailable, "cleanup engine not configured")
		return
	}
	user := auth.UserFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	rule, err := s.st.GetDeletionRule(r.Context(), user.ID, id)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	result, err := s.cleanup.ReconcileLeavingSoon(r.Context(), user.ID, rule)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
