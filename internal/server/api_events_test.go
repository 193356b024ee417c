package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sweeparr/internal/models"
	"sweeparr/internal/store"
)

func seedSyncEvent(t *testing.T, s *store.Store, userID int64, kind models.JobKind, startedAgo time.Duration) {
	t.Helper()
	now := time.Now().UTC()
	e := &models.SyncEvent{
		UserID:         userID,
		Kind:           kind,
		Trigger:        models.TriggerManual,
		Status:         models.JobCompleted,
		ItemsProcessed: 10,
		StartedAt:      now.Add(-startedAgo),
		FinishedAt:     now.Add(-startedAgo).Add(time.Minute),
	}
	if err := s.CreateSyncEvent(context.Background(), e); err != nil {
		t.Fatal(err)
	}
}

func seedDeletionEvent(t *testing.T, s *store.Store, userID, serverID, ruleID int64, externalID string) {
	t.Helper()
	e := &models.DeletionEvent{
		UserID:        userID,
		ServerID:      serverID,
		RuleID:        ruleID,
		ExternalID:    externalID,
		Title:         "Movie " + externalID,
		Kind:          models.KindMovie,
		FileSizeBytes: 1 << 30,
		DryRun:        true,
		Status:        models.DeletionPending,
		Actor:         "rule:stale cleanup",
	}
	if err := s.CreateDeletionEvent(context.Background(), e); err != nil {
		t.Fatal(err)
	}
}

func TestListSyncEvents(t *testing.T) {
	srv, st := newTestServerWrapped(t)
	seedSyncEvent(t, st, testAdmin.ID, models.JobLibrarySync, 2*time.Hour)
	seedSyncEvent(t, st, testAdmin.ID, models.JobHistorySync, time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/api/events/sync", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var events []models.SyncEvent
	json.NewDecoder(w.Body).Decode(&events)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	// Newest first.
	if events[0].Kind != models.JobHistorySync {
		t.Errorf("first event kind = %q", events[0].Kind)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/events/sync?limit=1", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	events = nil
	json.NewDecoder(w.Body).Decode(&events)
	if len(events) != 1 {
		t.Errorf("limited events = %d, want 1", len(events))
	}
}

func TestListSyncEventsInvalidLimit(t *testing.T) {
	srv, _ := newTestServerWrapped(t)

	for _, q := range []string{"limit=abc", "limit=-1"} {
		req := httptest.NewRequest(http.MethodGet, "/api/events/sync?"+q, nil)
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", q, w.Code)
		}
	}
}

func TestListDeletionEvents(t *testing.T) {
	srv, st := newTestServerWrapped(t)
	server := seedServer(t, st, testAdmin.ID)
	ruleA := seedRule(t, st, testAdmin.ID)
	ruleB := seedRule(t, st, testAdmin.ID)

	seedDeletionEvent(t, st, testAdmin.ID, server.ID, ruleA.ID, "m1")
	seedDeletionEvent(t, st, testAdmin.ID, server.ID, ruleA.ID, "m2")
	seedDeletionEvent(t, st, testAdmin.ID, server.ID, ruleB.ID, "m3")

	req := httptest.NewRequest(http.MethodGet, "/api/events/deletions", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var events []models.DeletionEvent
	json.NewDecoder(w.Body).Decode(&events)
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}

	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/events/deletions?rule_id=%d", ruleA.ID), nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("filtered: expected 200, got %d", w.Code)
	}
	events = nil
	json.NewDecoder(w.Body).Decode(&events)
	if len(events) != 2 {
		t.Fatalf("rule filter returned %d events, want 2", len(events))
	}
	for _, e := range events {
		if e.RuleID != ruleA.ID {
			t.Errorf("event %d has rule_id %d", e.ID, e.RuleID)
		}
	}
}

func TestListDeletionEventsInvalidRule(t *testing.T) {
	srv, _ := newTestServerWrapped(t)

	for _, q := range []string{"rule_id=abc", "rule_id=0", "rule_id=-3"} {
		req := httptest.NewRequest(http.MethodGet, "/api/events/deletions?"+q, nil)
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", q, w.Code)
		}
	}
}

func TestListWebhookEvents(t *testing.T) {
	srv, st := newTestServerWrapped(t)
	for _, service := range []string{"plex", "sonarr"} {
		e := &models.WebhookEvent{
			UserID:           testAdmin.ID,
			Service:          service,
			Event:            "library.new",
			PayloadHash:      "abc123",
			PayloadBytes:     512,
			ProcessingStatus: models.WebhookAccepted,
			ActionsTriggered: "library_sync",
		}
		if err := st.CreateWebhookEvent(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/events/webhooks", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var events []models.WebhookEvent
	json.NewDecoder(w.Body).Decode(&events)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	for _, e := range events {
		if e.PayloadHash != "abc123" || e.ProcessingStatus != models.WebhookAccepted {
			t.Errorf("event = %+v", e)
		}
	}
}

func TestDeletionEventsScopedToOwner(t *testing.T) {
	srv, st := newTestServerWrapped(t)
	other := &models.User{Email: "other-events@test.local", Name: "Other", Role: models.RoleAdmin}
	if err := st.CreateUser(context.Background(), other); err != nil {
		t.Fatal(err)
	}
	foreignServer := seedServer(t, st, other.ID)
	foreignRule := seedRule(t, st, other.ID)
	seedDeletionEvent(t, st, other.ID, foreignServer.ID, foreignRule.ID, "fm1")

	req := httptest.NewRequest(http.MethodGet, "/api/events/deletions", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	var events []models.DeletionEvent
	json.NewDecoder(w.Body).Decode(&events)
	if len(events) != 0 {
		t.Errorf("saw %d foreign events", len(events))
	}
}
