package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"sweeparr/internal/models"
	"sweeparr/internal/notify"
)

func postChannel(srv *testServer, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/notifications", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestCreateAndListChannels(t *testing.T) {
	srv, _ := newTestServerWrapped(t)

	w := postChannel(srv, `{"name":"ops","channel_type":"discord","enabled":true,
		"config":{"webhook_url":"https://discord.test/hook"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created models.NotificationChannel
	json.NewDecoder(w.Body).Decode(&created)
	if created.ID == 0 || created.UserID != testAdmin.ID {
		t.Errorf("created = %+v", created)
	}

	w = postChannel(srv, `{"name":"audit","channel_type":"webhook","enabled":false,
		"config":{"url":"https://audit.test/sink"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("second create: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	lw := httptest.NewRecorder()
	srv.ServeHTTP(lw, req)
	if lw.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", lw.Code)
	}
	var channels []models.NotificationChannel
	json.NewDecoder(lw.Body).Decode(&channels)
	// Disabled channels still show up in the management list.
	if len(channels) != 2 {
		t.Fatalf("channels = %d, want 2", len(channels))
	}
}

func TestCreateChannelValidation(t *testing.T) {
	srv, _ := newTestServerWrapped(t)

	cases := []struct {
		name string
		body string
	}{
		{"malformed", `{bad`},
		{"missing name", `{"channel_type":"discord","config":{"webhook_url":"https://x"}}`},
		{"unknown type", `{"name":"x","channel_type":"carrier_pigeon","config":{}}`},
		{"config not json", `{"name":"x","channel_type":"discord","config":"nope"}`},
		{"discord missing url", `{"name":"x","channel_type":"discord","config":{}}`},
		{"pushover missing key", `{"name":"x","channel_type":"pushover","config":{"app_token":"t"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postChannel(srv, tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("got %d, want 400: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestTestChannel(t *testing.T) {
	var hits atomic.Int32
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer sink.Close()

	srv, _ := newTestServerWrapped(t, WithNotifier(notify.New()))

	w := postChannel(srv, fmt.Sprintf(`{"name":"sink","channel_type":"webhook","enabled":true,
		"config":{"url":%q}}`, sink.URL))
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var ch models.NotificationChannel
	json.NewDecoder(w.Body).Decode(&ch)

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/notifications/%d/test", ch.ID), nil)
	tw := httptest.NewRecorder()
	srv.ServeHTTP(tw, req)
	if tw.Code != http.StatusOK {
		t.Fatalf("test: expected 200, got %d: %s", tw.Code, tw.Body.String())
	}
	var resp map[string]string
	json.NewDecoder(tw.Body).Decode(&resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q: %v", resp["status"], resp)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("sink hit %d times", n)
	}
}

func TestTestChannelReportsFailure(t *testing.T) {
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no thanks", http.StatusInternalServerError)
	}))
	defer sink.Close()

	srv, _ := newTestServerWrapped(t, WithNotifier(notify.New()))

	w := postChannel(srv, fmt.Sprintf(`{"name":"sink","channel_type":"webhook","enabled":true,
		"config":{"url":%q}}`, sink.URL))
	var ch models.NotificationChannel
	json.NewDecoder(w.Body).Decode(&ch)

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/notifications/%d/test", ch.ID), nil)
	tw := httptest.NewRecorder()
	srv.ServeHTTP(tw, req)

	// Delivery failure is a result, not an API error.
	if tw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", tw.Code, tw.Body.String())
	}
	var resp map[string]string
	json.NewDecoder(tw.Body).Decode(&resp)
	if resp["status"] != "failed" || resp["error"] == "" {
		t.Errorf("resp = %v", resp)
	}
}

func TestTestChannelUnconfigured(t *testing.T) {
	srv, _ := newTestServerWrapped(t)

	req := httptest.NewRequest(http.MethodPost, "/api/notifications/1/test", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without notifier, got %d", w.Code)
	}
}

func TestTestChannelNotFound(t *testing.T) {
	srv, _ := newTestServerWrapped(t, WithNotifier(notify.New()))

	req := httptest.NewRequest(http.MethodPost, "/api/notifications/999/test", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDeleteChannel(t *testing.T) {
	srv, _ := newTestServerWrapped(t)

	w := postChannel(srv, `{"name":"doomed","channel_type":"ntfy","enabled":true,
		"config":{"server_url":"https://ntfy.test","topic":"sweeparr"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var ch models.NotificationChannel
	json.NewDecoder(w.Body).Decode(&ch)

	req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/notifications/%d", ch.ID), nil)
	dw := httptest.NewRecorder()
	srv.ServeHTTP(dw, req)
	if dw.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d: %s", dw.Code, dw.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/notifications/%d", ch.ID), nil)
	dw = httptest.NewRecorder()
	srv.ServeHTTP(dw, req)
	if dw.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", dw.Code)
	}
}
