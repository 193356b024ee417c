package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sweeparr/internal/cleanup"
	"sweeparr/internal/clients"
	"sweeparr/internal/models"
	"sweeparr/internal/store"
)

// cascadeServer wires a cleanup engine over the server's own store.
// Handlers read the field per request, so assigning after New is fine.
func cascadeServer(t *testing.T) (*testServer, *store.Store) {
	t.Helper()
	srv, st := newTestServerWrapped(t)
	srv.cleanup = cleanup.NewEngine(st, clients.NewFactory(st))
	return srv, st
}

func postCascade(t *testing.T, srv *testServer, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/cascade", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func dryRunBody(ruleID int64, ids ...int64) string {
	raw, _ := json.Marshal(models.CascadeRequest{RuleID: ruleID, CandidateIDs: ids, DryRun: true})
	return string(raw)
}

func TestCascadeDryRunEndToEnd(t *testing.T) {
	srv, st := cascadeServer(t)
	s := seedServer(t, st, testAdmin.ID)
	rule := seedRule(t, st, testAdmin.ID)
	m1 := seedStaleMovie(t, st, s.ID, "m1", "Old Movie", 2<<30)
	m2 := seedStaleMovie(t, st, s.ID, "m2", "Older Movie", 1<<30)
	seedStaleMovie(t, st, s.ID, "m3", "Kept Movie", 1<<30)

	w := postCascade(t, srv, dryRunBody(rule.ID, m1.ID, m2.ID))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp jobStatusResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Job == nil || resp.Job.Kind != models.JobCascadeDelete {
		t.Fatalf("snapshot = %+v", resp.Job)
	}

	if got := waitTerminal(t, srv.Server, models.JobCascadeDelete); got != models.JobCompleted {
		t.Fatalf("terminal status = %s", got)
	}

	// Dry runs audit but delete nothing.
	events, err := st.DeletionEventsForRun(context.Background(), testAdmin.ID, rule.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("audit rows = %d, want 2", len(events))
	}
	for _, ev := range events {
		if !ev.DryRun || ev.Status != models.DeletionPending {
			t.Errorf("event %s: dry_run=%v status=%s", ev.ExternalID, ev.DryRun, ev.Status)
		}
	}
	if n, _ := st.CountMediaItems(context.Background(), testAdmin.ID); n != 3 {
		t.Errorf("catalog = %d items after dry run, want 3", n)
	}

	// The finished run stays readable on the progress endpoints.
	req := httptest.NewRequest(http.MethodGet, "/api/cascade/progress", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	resp = jobStatusResponse{}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Running || resp.Job == nil {
		t.Fatalf("progress after finish = %+v", resp)
	}
	var prog models.CascadeProgress
	if err := json.Unmarshal(resp.Job.Progress, &prog); err != nil {
		t.Fatalf("progress frame: %v", err)
	}
	if prog.Deleted != 2 || !prog.DryRun {
		t.Errorf("progress = %+v", prog)
	}
}

func TestCascadeRejectsMalformedBody(t *testing.T) {
	srv, _ := cascadeServer(t)

	w := postCascade(t, srv, "{not json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCascadeUnknownRule(t *testing.T) {
	srv, st := cascadeServer(t)
	s := seedServer(t, st, testAdmin.ID)
	m := seedStaleMovie(t, st, s.ID, "m1", "Old Movie", 1<<30)

	w := postCascade(t, srv, dryRunBody(9999, m.ID))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCascadeRequiresConfirmToken(t *testing.T) {
	srv, st := cascadeServer(t)
	s := seedServer(t, st, testAdmin.ID)
	rule := seedRule(t, st, testAdmin.ID)
	m := seedStaleMovie(t, st, s.ID, "m1", "Old Movie", 1<<30)

	body := fmt.Sprintf(`{"rule_id":%d,"candidate_ids":[%d],"confirm_token":"DELETE 5 ITEMS"}`, rule.ID, m.ID)
	w := postCascade(t, srv, body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on token mismatch, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if !strings.Contains(resp["error"], "confirm_token") {
		t.Errorf("error = %q, want confirm_token mention", resp["error"])
	}
}

func TestCascadeForeignItemsRejected(t *testing.T) {
	srv, st := cascadeServer(t)
	rule := seedRule(t, st, testAdmin.ID)

	// Another admin's catalog.
	other := &models.User{Email: "other@test.local", Name: "Other", Role: models.RoleAdmin}
	if err := st.CreateUser(context.Background(), other); err != nil {
		t.Fatal(err)
	}
	otherSrv := seedServer(t, st, other.ID)
	foreign := seedStaleMovie(t, st, otherSrv.ID, "m1", "Not Yours", 1<<30)

	w := postCascade(t, srv, dryRunBody(rule.ID, foreign.ID))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for foreign item, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCascadeSafetyGate(t *testing.T) {
	srv, st := cascadeServer(t)
	s := seedServer(t, st, testAdmin.ID)
	rule := seedRule(t, st, testAdmin.ID)
	m1 := seedStaleMovie(t, st, s.ID, "m1", "A", 1<<30)
	m2 := seedStaleMovie(t, st, s.ID, "m2", "B", 1<<30)
	seedStaleMovie(t, st, s.ID, "m3", "C", 1<<30)
	seedStaleMovie(t, st, s.ID, "m4", "D", 1<<30)

	// 2 of 4 items is past the breadth threshold for a live run.
	body := fmt.Sprintf(`{"rule_id":%d,"candidate_ids":[%d,%d],"confirm_token":"DELETE 2 ITEMS"}`, rule.ID, m1.ID, m2.ID)
	w := postCascade(t, srv, body)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Error         string `json:"error"`
		RequiresForce bool   `json:"requires_force"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.RequiresForce {
		t.Fatalf("body = %s, want requires_force", w.Body.String())
	}
}

func TestCascadeConflictWithRunningJob(t *testing.T) {
	srv, st := cascadeServer(t)
	s := seedServer(t, st, testAdmin.ID)
	rule := seedRule(t, st, testAdmin.ID)
	m := seedStaleMovie(t, st, s.ID, "m1", "Old Movie", 1<<30)

	blocker := newFakeRunner(t)
	if _, err := srv.jobs.Start(testAdmin.ID, models.JobCascadeDelete, models.TriggerManual, blocker.Run); err != nil {
		t.Fatal(err)
	}
	blocker.waitStarted(t)

	w := postCascade(t, srv, dryRunBody(rule.ID, m.ID))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 while slot is held, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Job *models.JobSnapshot `json:"job"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Job == nil || resp.Job.Status != models.JobRunning {
		t.Fatalf("conflict body = %s", w.Body.String())
	}
}

func TestCascadeUnconfigured(t *testing.T) {
	srv, _ := newTestServerWrapped(t)

	w := postCascade(t, srv, `{"rule_id":1,"candidate_ids":[1],"dry_run":true}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without engine, got %d: %s", w.Code, w.Body.String())
	}
}
