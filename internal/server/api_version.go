package server

import (
	"net/http"

	"sweeparr/internal/version"
)

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.updates == nil {
		cur := s.version
		if cur == "" {
			cur = "unknown"
		}
		writeJSON(w, http.StatusOK, version.Info{Current: cur})
		return
	}
	writeJSON(w, http.StatusOK, s.updates.Info())
}
