package server

import (
	"net/http"

	"sweeparr/internal/auth"
	"sweeparr/internal/models"
)

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	schedules, err := s.st.ListSchedules(r.Context(), user.ID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (s *Server) handleUpsertSchedule(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	var in models.ScheduleInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	schedule, err := s.st.UpsertSchedule(r.Context(), user.ID, &in)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}
