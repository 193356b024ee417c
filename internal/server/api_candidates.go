package server

import (
	"net/http"
	"strconv"

	"sweeparr/internal/auth"
	"sweeparr/internal/cleanup"
	"sweeparr/internal/models"
)

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	if s.cleanup == nil {
		writeError(w, http.StatusServiceUnavailable, "cleanup engine not configured")
		return
	}
	user := auth.UserFromContext(r.Context())
	q := r.URL.Query()

	ruleID, err := strconv.ParseInt(q.Get("rule_id"), 10, 64)
	if err != nil || ruleID <= 0 {
		writeError(w, http.StatusBadRequest, "rule_id is required")
		return
	}
	rule, err := s.st.GetDeletionRule(r.Context(), user.ID, ruleID)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	opts := cleanup.PreviewOptions{GroupShows: q.Get("group") == "shows"}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("kind_filter"); v != "" {
		kind := models.MediaKind(v)
		if !kind.Valid() {
			writeError(w, http.StatusBadRequest, "invalid kind_filter")
			return
		}
		opts.KindFilter = kind
	}
	if v := q.Get("min_size_gb"); v != "" {
		gb, err := strconv.ParseFloat(v, 64)
		if err != nil || gb < 0 {
			writeError(w, http.StatusBadRequest, "invalid min_size_gb")
			return
		}
		opts.MinSizeBytes = int64(gb * (1 << 30))
	}

	preview, err := s.cleanup.Preview(r.Context(), user.ID, rule, opts)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}
