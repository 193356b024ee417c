package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"sweeparr/internal/auth"
	"sweeparr/internal/jobs"
	"sweeparr/internal/models"
	"sweeparr/internal/store"
)

// testSessionToken is the session token for the test admin user
var testSessionToken string

// testAdmin is the user every wrapped request authenticates as.
var testAdmin *models.User

var seedCounter int

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	_, f, _, _ := runtime.Caller(0)
	dir := filepath.Join(filepath.Dir(f), "..", "..", "migrations")
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("migrations dir: %v", err)
	}
	if err := s.Migrate(dir); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *store.Store) {
	t.Helper()
	s := newTestStore(t)

	seedCounter++
	user := &models.User{
		Email: fmt.Sprintf("admin%d@test.local", seedCounter),
		Name:  "Test Admin",
		Role:  models.RoleAdmin,
	}
	if err := s.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("creating test admin: %v", err)
	}
	token := fmt.Sprintf("test-session-%d", seedCounter)
	if err := s.CreateSession(context.Background(), token, user.ID, time.Now().UTC().Add(24*time.Hour)); err != nil {
		t.Fatalf("creating test session: %v", err)
	}
	testSessionToken = token
	testAdmin = user

	authSvc, err := auth.New(context.Background(), s, auth.Config{})
	if err != nil {
		t.Fatalf("auth.New: %v", err)
	}
	srv := New(s, authSvc, jobs.NewRegistry(), opts...)
	return srv, s
}

// addAuthCookie adds the test session cookie to a request
func addAuthCookie(r *http.Request) {
	r.AddCookie(&http.Cookie{Name: auth.CookieName, Value: testSessionToken})
}

// testServer wraps Server to automatically add auth cookies in tests
type testServer struct {
	*Server
}

func (ts *testServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	addAuthCookie(r)
	ts.Server.ServeHTTP(w, r)
}

func newTestServerWrapped(t *testing.T, opts ...Option) (*testServer, *store.Store) {
	srv, s := newTestServer(t, opts...)
	return &testServer{srv}, s
}

func createViewerSession(t *testing.T, s *store.Store, name string) string {
	t.Helper()
	seedCounter++
	u := &models.User{
		Email: fmt.Sprintf("%s%d@test.local", name, seedCounter),
		Name:  name,
		Role:  models.RoleViewer,
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("creating viewer: %v", err)
	}
	token := fmt.Sprintf("viewer-session-%d", seedCounter)
	if err := s.CreateSession(context.Background(), token, u.ID, time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("creating viewer session: %v", err)
	}
	return token
}

func seedServer(t *testing.T, s *store.Store, userID int64) *models.Server {
	t.Helper()
	seedCounter++
	srv := &models.Server{
		UserID:        userID,
		Name:          fmt.Sprintf("server-%d", seedCounter),
		MachineID:     fmt.Sprintf("machine-%d", seedCounter),
		WebhookSecret: "0123456789abcdef0123456789abcdef",
	}
	if err := s.CreateServer(context.Background(), srv, "tok-"+srv.MachineID); err != nil {
		t.Fatal(err)
	}
	return srv
}

func seedRule(t *testing.T, s *store.Store, userID int64) *models.DeletionRule {
	t.Helper()
	r := &models.DeletionRule{
		UserID:                  userID,
		Name:                    "stale cleanup",
		Enabled:                 true,
		RuleType:                models.RuleUnwatched,
		GracePeriodDays:         30,
		InactivityThresholdDays: 60,
	}
	if err := s.CreateDeletionRule(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	return r
}

// seedStaleMovie inserts a mirror row old enough to clear the default
// rule's grace and inactivity windows.
func seedStaleMovie(t *testing.T, s *store.Store, serverID int64, externalID, title string, size int64) *models.MediaItem {
	t.Helper()
	added := time.Now().UTC().Add(-400 * 24 * time.Hour)
	patch := &models.MediaItemPatch{
		ExternalID:     externalID,
		Kind:           models.KindMovie,
		Title:          title,
		LibrarySection: "Movies",
		FileSizeBytes:  &size,
		AddedAt:        &added,
	}
	if _, _, err := s.UpsertMediaItem(context.Background(), serverID, patch); err != nil {
		t.Fatal(err)
	}
	item, err := s.GetMediaItemByExternalID(context.Background(), serverID, externalID)
	if err != nil {
		t.Fatal(err)
	}
	return item
}
