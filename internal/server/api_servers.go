package server

import (
	"fmt"
	"net/http"

	"sweeparr/internal/auth"
	"sweeparr/internal/models"
)

// registeredServer is the one response that carries the webhook
// secret. List responses never include it; losing it means deleting
// and re-registering the server.
type registeredServer struct {
	models.Server
	WebhookSecret string `json:"webhook_secret"`
	WebhookPath   string `json:"webhook_path"`
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	servers, err := s.st.ListServers(r.Context(), user.ID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

func (s *Server) handleRegisterServer(w http.ResponseWriter, r *http.Request) {
	if s.registrar == nil {
		writeError(w, http.StatusServiceUnavailable, "server registration not configured")
		return
	}
	user := auth.UserFromContext(r.Context())

	var in models.ServerInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := in.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	srv, err := s.registrar.Register(r.Context(), user.ID, &in)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registeredServer{
		Server:        *srv,
		WebhookSecret: srv.WebhookSecret,
		WebhookPath:   fmt.Sprintf("/webhook/plex/%d", user.ID),
	})
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.st.DeleteServer(r.Context(), user.ID, id); err != nil {
		writeAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
