package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"sweeparr/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAPIError maps the engine error taxonomy onto status codes.
// Conflicts carry the running job so clients can render its progress;
// safety refusals carry the force hint.
func writeAPIError(w http.ResponseWriter, err error) {
	var (
		ve *models.ValidationError
		ce *models.ConflictError
		se *models.SafetyError
		ae *models.AuthError
		te *models.TransientError
	)
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.As(err, &ce):
		writeJSON(w, http.StatusConflict, map[string]any{"error": ce.Error(), "job": ce.Snapshot})
	case errors.As(err, &se):
		writeJSON(w, http.StatusConflict, map[string]any{"error": se.Error(), "requires_force": true})
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &ae), errors.As(err, &te):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		log.Printf("[server] internal: %v", err)
		writeError(w, http.StatusInternalServerError, "internal")
	}
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
