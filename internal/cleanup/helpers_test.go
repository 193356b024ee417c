package cleanup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"sweeparr/internal/clients"
	"sweeparr/internal/jobs"
	"sweeparr/internal/models"
	"sweeparr/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	_, f, _, _ := runtime.Caller(0)
	if err := s.Migrate(filepath.Join(filepath.Dir(f), "..", "..", "migrations")); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

var seedCounter int

func seedOwner(t *testing.T, s *store.Store) *models.User {
	t.Helper()
	seedCounter++
	u := &models.User{Email: fmt.Sprintf("owner%d@example.com", seedCounter), Name: "Owner", Role: models.RoleAdmin}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	return u
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

func seedConnectedServer(t *testing.T, s *store.Store, userID int64, url string) *models.Server {
	t.Helper()
	srv := seedServer(t, s, userID)
	if err := s.UpdateServerConnection(context.Background(), srv.ID, url, 12, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	return srv
}

func seedIntegration(t *testing.T, s *store.Store, userID, serverID int64, svc models.IntegrationService, baseURL string) *models.Integration {
	t.Helper()
	in := &models.Integration{
		UserID:   userID,
		ServerID: serverID,
		Service:  svc,
		Name:     string(svc),
		BaseURL:  baseURL,
	}
	if err := s.CreateIntegration(context.Background(), in, "api-key"); err != nil {
		t.Fatal(err)
	}
	return in
}

func seedRule(t *testing.T, s *store.Store, userID int64, mutate func(*models.DeletionRule)) *models.DeletionRule {
	t.Helper()
	r := &models.DeletionRule{
		UserID:                  userID,
		Name:                    "stale cleanup",
		Enabled:                 true,
		RuleType:                models.RuleUnwatched,
		GracePeriodDays:         30,
		InactivityThresholdDays: 60,
	}
	if mutate != nil {
		mutate(r)
	}
	if err := s.CreateDeletionRule(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	return r
}

// seedStaleMovie inserts a mirror row old enough to clear the default
// rule's grace and inactivity windows.
func seedStaleMovie(t *testing.T, s *store.Store, serverID int64, externalID, title string, size int64, mutate func(*models.MediaItemPatch)) *models.MediaItem {
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
	if mutate != nil {
		mutate(patch)
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

func seedStaleEpisode(t *testing.T, s *store.Store, serverID int64, externalID, show string, season, episode int, size int64, mutate func(*models.MediaItemPatch)) *models.MediaItem {
	t.Helper()
	added := time.Now().UTC().Add(-400 * 24 * time.Hour)
	patch := &models.MediaItemPatch{
		ExternalID:       externalID,
		Kind:             models.KindEpisode,
		Title:            fmt.Sprintf("%s S%02dE%02d", show, season, episode),
		LibrarySection:   "TV Shows",
		GrandparentTitle: &show,
		SeasonNumber:     &season,
		EpisodeNumber:    &episode,
		FileSizeBytes:    &size,
		AddedAt:          &added,
	}
	if mutate != nil {
		mutate(patch)
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

func waitJob(t *testing.T, j *jobs.Job) models.JobStatus {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if s := j.Status(); s.Terminal() {
			return s
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal status")
	return ""
}

func latestEvent(t *testing.T, s *store.Store, userID int64) models.SyncEvent {
	t.Helper()
	events, err := s.ListSyncEvents(context.Background(), userID, 1)
	if err != nil {
		t.Fatalf("ListSyncEvents: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("no sync events recorded")
	}
	return events[0]
}

func runEvents(t *testing.T, s *store.Store, userID, ruleID int64) []models.DeletionEvent {
	t.Helper()
	events, err := s.DeletionEventsForRun(context.Background(), userID, ruleID, 100)
	if err != nil {
		t.Fatalf("DeletionEventsForRun: %v", err)
	}
	return events
}

func eventFor(t *testing.T, events []models.DeletionEvent, externalID string) *models.DeletionEvent {
	t.Helper()
	for i := range events {
		if events[i].ExternalID == externalID {
			return &events[i]
		}
	}
	t.Fatalf("no audit row for %q", externalID)
	return nil
}

func countItems(t *testing.T, s *store.Store, userID int64) int {
	t.Helper()
	n, err := s.CountMediaItems(context.Background(), userID)
	if err != nil {
		t.Fatalf("CountMediaItems: %v", err)
	}
	return n
}

// plexRecorder fakes the media server delete endpoint and records what
// was removed.
type plexRecorder struct {
	mu       stdsync.Mutex
	requests int
	deletes  []string
	failKeys map[string]bool
	delay    time.Duration
	onDelete func()
}

func (p *plexRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.requests++
		p.mu.Unlock()

		if r.Method != http.MethodDelete || !strings.HasPrefix(r.URL.Path, "/library/metadata/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		key := strings.TrimPrefix(r.URL.Path, "/library/metadata/")
		if p.onDelete != nil {
			p.onDelete()
		}
		if p.delay > 0 {
			time.Sleep(p.delay)
		}

		p.mu.Lock()
		fail := p.failKeys[key]
		if !fail {
			p.deletes = append(p.deletes, key)
		}
		p.mu.Unlock()

		if fail {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (p *plexRecorder) deleted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deletes...)
}

func (p *plexRecorder) hits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

// arrFake serves the slice of the Sonarr/Radarr v3 API the cascade
// touches: lookup by external ID, delete by internal ID, and the
// fetch-then-put monitoring flip.
type arrFake struct {
	resource    string // "series" or "movie"
	lookupParam string // "tvdbId" or "tmdbId"
	ids         map[int64]int64
	failIDs     map[int64]bool

	mu          stdsync.Mutex
	requests    int
	lookups     int
	deletes     []string
	unmonitored []int64
}

func (a *arrFake) handler(t *testing.T) http.HandlerFunc {
	base := "/api/v3/" + a.resource
	return func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.requests++
		a.mu.Unlock()

		if got := r.Header.Get("X-Api-Key"); got != "api-key" {
			t.Errorf("%s request with api key %q", a.resource, got)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		switch {
		case r.Method == http.MethodGet && r.URL.Path == base:
			ext, _ := strconv.ParseInt(r.URL.Query().Get(a.lookupParam), 10, 64)
			a.mu.Lock()
			a.lookups++
			id, ok := a.ids[ext]
			a.mu.Unlock()
			if !ok {
				fmt.Fprint(w, "[]")
				return
			}
			fmt.Fprintf(w, `[{"id": %d}]`, id)
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, base+"/"):
			id, _ := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, base+"/"), 10, 64)
			fmt.Fprintf(w, `{"id": %d, "monitored": true}`, id)
		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, base+"/"):
			id, _ := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, base+"/"), 10, 64)
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode %s put: %v", a.resource, err)
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			a.mu.Lock()
			fail := a.failIDs[id]
			if !fail && body["monitored"] == false {
				a.unmonitored = append(a.unmonitored, id)
			}
			a.mu.Unlock()
			if fail {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			json.NewEncoder(w).Encode(body)
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, base+"/"):
			id, _ := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, base+"/"), 10, 64)
			a.mu.Lock()
			a.deletes = append(a.deletes, r.URL.Path+"?"+r.URL.RawQuery)
			fail := a.failIDs[id]
			a.mu.Unlock()
			if fail {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (a *arrFake) deleted() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.deletes...)
}

func (a *arrFake) lookupCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lookups
}

func (a *arrFake) unmonitoredIDs() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int64(nil), a.unmonitored...)
}

func (a *arrFake) hits() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests
}

// overseerrFake serves one title's media detail plus the request and
// media delete endpoints.
type overseerrFake struct {
	tmdbID    int64
	mediaID   int64
	requestID int64

	mu       stdsync.Mutex
	requests int
	deletes  []string
}

func (o *overseerrFake) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.requests++
		o.mu.Unlock()

		known := fmt.Sprintf("/api/v1/movie/%d", o.tmdbID)
		knownTV := fmt.Sprintf("/api/v1/tv/%d", o.tmdbID)
		switch {
		case r.Method == http.MethodGet && (r.URL.Path == known || r.URL.Path == knownTV):
			resp := map[string]any{}
			if o.mediaID > 0 {
				info := map[string]any{"id": o.mediaID}
				if o.requestID > 0 {
					info["requests"] = []map[string]any{{"id": o.requestID}}
				}
				resp["mediaInfo"] = info
			}
			json.NewEncoder(w).Encode(resp)
		case r.Method == http.MethodDelete:
			o.mu.Lock()
			o.deletes = append(o.deletes, r.URL.Path)
			o.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (o *overseerrFake) deleted() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.deletes...)
}

func (o *overseerrFake) hits() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.requests
}

// cascadeEnv wires a store, a registered media server backed by a
// plexRecorder, a rule, and the cleanup engine.
type cascadeEnv struct {
	st     *store.Store
	owner  *models.User
	server *models.Server
	plex   *plexRecorder
	engine *Engine
	reg    *jobs.Registry
	rule   *models.DeletionRule
}

func newCascadeEnv(t *testing.T, mutateRule func(*models.DeletionRule)) *cascadeEnv {
	t.Helper()
	st := newTestStore(t)
	owner := seedOwner(t, st)
	rec := &plexRecorder{failKeys: map[string]bool{}}
	ts := httptest.NewServer(rec.handler())
	t.Cleanup(ts.Close)
	srv := seedConnectedServer(t, st, owner.ID, ts.URL)
	rule := seedRule(t, st, owner.ID, mutateRule)
	return &cascadeEnv{
		st:     st,
		owner:  owner,
		server: srv,
		plex:   rec,
		engine: NewEngine(st, clients.NewFactory(st)),
		reg:    jobs.NewRegistry(),
		rule:   rule,
	}
}

func (e *cascadeEnv) addArr(t *testing.T, svc models.IntegrationService, fake *arrFake) {
	t.Helper()
	ts := httptest.NewServer(fake.handler(t))
	t.Cleanup(ts.Close)
	seedIntegration(t, e.st, e.owner.ID, e.server.ID, svc, ts.URL)
}

func (e *cascadeEnv) addOverseerr(t *testing.T, fake *overseerrFake) {
	t.Helper()
	ts := httptest.NewServer(fake.handler())
	t.Cleanup(ts.Close)
	seedIntegration(t, e.st, e.owner.ID, e.server.ID, models.ServiceOverseerr, ts.URL)
}

func (e *cascadeEnv) run(t *testing.T, req *models.CascadeRequest) models.JobStatus {
	t.Helper()
	casc, err := e.engine.Prepare(context.Background(), e.owner.ID, req, e.owner.Email)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	job, err := e.reg.Start(e.owner.ID, models.JobCascadeDelete, models.TriggerManual, casc.Run)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return waitJob(t, job)
}

// liveRequest builds a confirmed live request. Tests select most of
// their small seeded catalogs, so force skips the breadth gate; the
// gate has its own tests.
func liveRequest(ruleID int64, ids ...int64) *models.CascadeRequest {
	return &models.CascadeRequest{
		RuleID:       ruleID,
		CandidateIDs: ids,
		ConfirmToken: models.ConfirmTokenFor(len(ids)),
		Force:        true,
	}
}

func dryRequest(ruleID int64, ids ...int64) *models.CascadeRequest {
	return &models.CascadeRequest{RuleID: ruleID, CandidateIDs: ids, DryRun: true}
}
