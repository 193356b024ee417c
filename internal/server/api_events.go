package server

import (
	"net/http"
	"strconv"

	"sweeparr/internal/auth"
)

const defaultEventLimit = 100

func eventLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultEventLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	if n == 0 {
		n = defaultEventLimit
	}
	return n, true
}

func (s *Server) handleListSyncEvents(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	limit, ok := eventLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	events, err := s.st.ListSyncEvents(r.Context(), user.ID, limit)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListDeletionEvents(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	limit, ok := eventLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	if raw := r.URL.Query().Get("rule_id"); raw != "" {
		ruleID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ruleID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid rule_id")
			return
		}
		events, err := s.st.DeletionEventsForRun(r.Context(), user.ID, ruleID, limit)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, events)
		return
	}

	events, err := s.st.ListDeletionEvents(r.Context(), user.ID, limit)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListWebhookEvents(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	limit, ok := eventLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	events, err := s.st.ListWebhookEvents(r.Context(), user.ID, limit)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
