package cleanup

import (
	"context"
	"errors"
	"net/url"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"sweeparr/internal/models"
)

func TestPrepareRejectsMismatchedToken(t *testing.T) {
	env := newCascadeEnv(t, nil)
	item := seedStaleMovie(t, env.st, env.server.ID, "m1", "Alpha", 1<<30, nil)

	req := &models.CascadeRequest{
		RuleID:       env.rule.ID,
		CandidateIDs: []int64{item.ID},
		ConfirmToken: "DELETE 2 ITEMS",
	}
	_, err := env.engine.Prepare(context.Background(), env.owner.ID, req, "admin")
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Prepare error = %v, want ValidationError", err)
	}
	if !strings.Contains(verr.Msg, "confirm_token") {
		t.Errorf("error %q does not name the token", verr.Msg)
	}
}

func TestPrepareRejectsVanishedCandidates(t *testing.T) {
	env := newCascadeEnv(t, nil)
	item := seedStaleMovie(t, env.st, env.server.ID, "m1", "Alpha", 1<<30, nil)

	req := liveRequest(env.rule.ID, item.ID, item.ID+9999)
	_, err := env.engine.Prepare(context.Background(), env.owner.ID, req, "admin")
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Prepare error = %v, want ValidationError", err)
	}
	if verr.Field != "candidate_ids" {
		t.Errorf("Field = %q, want candidate_ids", verr.Field)
	}
	if !strings.Contains(verr.Msg, "re-run the preview") {
		t.Errorf("error %q should tell the admin to re-run the preview", verr.Msg)
	}
}

func TestPrepareEnforcesBreadthGate(t *testing.T) {
	env := newCascadeEnv(t, nil)
	m1 := seedStaleMovie(t, env.st, env.server.ID, "m1", "Alpha", 1<<30, nil)
	m2 := seedStaleMovie(t, env.st, env.server.ID, "m2", "Beta", 1<<30, nil)
	seedStaleMovie(t, env.st, env.server.ID, "m3", "Gamma", 1<<30, nil)
	seedStaleMovie(t, env.st, env.server.ID, "m4", "Delta", 1<<30, nil)

	req := &models.CascadeRequest{
		RuleID:       env.rule.ID,
		CandidateIDs: []int64{m1.ID, m2.ID},
		ConfirmToken: models.ConfirmTokenFor(2),
	}
	_, err := env.engine.Prepare(context.Background(), env.owner.ID, req, "admin")
	var serr *models.SafetyError
	if !errors.As(err, &serr) {
		t.Fatalf("Prepare error = %v, want SafetyError", err)
	}
	if serr.Selected != 2 || serr.Total != 4 {
		t.Errorf("SafetyError = %d of %d, want 2 of 4", serr.Selected, serr.Total)
	}
	if serr.Percent != 50 {
		t.Errorf("Percent = %v, want 50", serr.Percent)
	}

	req.Force = true
	if _, err := env.engine.Prepare(context.Background(), env.owner.ID, req, "admin"); err != nil {
		t.Fatalf("forced Prepare: %v", err)
	}

	dry := dryRequest(env.rule.ID, m1.ID, m2.ID)
	if _, err := env.engine.Prepare(context.Background(), env.owner.ID, dry, "admin"); err != nil {
		t.Fatalf("dry-run Prepare: %v", err)
	}
}

func TestCascadeLiveRemovesEverywhere(t *testing.T) {
	env := newCascadeEnv(t, nil)
	radarrF := &arrFake{resource: "movie", lookupParam: "tmdbId", ids: map[int64]int64{777: 55}}
	env.addArr(t, models.ServiceRadarr, radarrF)
	ovr := &overseerrFake{tmdbID: 777, mediaID: 12, requestID: 9}
	env.addOverseerr(t, ovr)

	tmdb := int64(777)
	size := int64(5 << 30)
	item := seedStaleMovie(t, env.st, env.server.ID, "m1", "Alpha", size, func(p *models.MediaItemPatch) {
		p.TMDBID = &tmdb
	})

	if status := env.run(t, liveRequest(env.rule.ID, item.ID)); status != models.JobCompleted {
		t.Fatalf("status = %s, want completed", status)
	}

	if got := env.plex.deleted(); len(got) != 1 || got[0] != "m1" {
		t.Errorf("server deletes = %v, want [m1]", got)
	}

	deletes := radarrF.deleted()
	if len(deletes) != 1 {
		t.Fatalf("radarr deletes = %v, want one", deletes)
	}
	du, err := url.Parse(deletes[0])
	if err != nil {
		t.Fatal(err)
	}
	if du.Path != "/api/v3/movie/55" {
		t.Errorf("radarr delete path = %q, want /api/v3/movie/55", du.Path)
	}
	if q := du.Query(); q.Get("deleteFiles") != "true" || q.Get("addImportExclusion") != "true" {
		t.Errorf("radarr delete query = %v, want deleteFiles and addImportExclusion", q)
	}

	if got := ovr.deleted(); len(got) != 2 || got[0] != "/api/v1/request/9" || got[1] != "/api/v1/media/12" {
		t.Errorf("overseerr deletes = %v, want request 9 then media 12", got)
	}

	if _, err := env.st.GetMediaItemByExternalID(context.Background(), env.server.ID, "m1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("mirror row lookup = %v, want ErrNotFound", err)
	}

	events := runEvents(t, env.st, env.owner.ID, env.rule.ID)
	if len(events) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Status != models.DeletionCompleted {
		t.Errorf("audit status = %s, want completed", ev.Status)
	}
	if !ev.DeletedFromServer || !ev.DeletedFromRadarr || !ev.DeletedFromOverseerr {
		t.Errorf("audit flags server=%v radarr=%v overseerr=%v, want all true",
			ev.DeletedFromServer, ev.DeletedFromRadarr, ev.DeletedFromOverseerr)
	}
	if ev.DeletedFromSonarr {
		t.Error("movie cascade should not mark sonarr")
	}
	if ev.DeletedAt == nil {
		t.Error("DeletedAt not set")
	}
	if ev.DryRun {
		t.Error("live run recorded as dry run")
	}
	if ev.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, want empty", ev.ErrorMessage)
	}
	if ev.Actor != env.owner.Email {
		t.Errorf("Actor = %q, want %q", ev.Actor, env.owner.Email)
	}
	if ev.FileSizeBytes != size {
		t.Errorf("FileSizeBytes = %d, want %d", ev.FileSizeBytes, size)
	}

	se := latestEvent(t, env.st, env.owner.ID)
	if se.Kind != models.JobCascadeDelete || se.Status != models.JobCompleted {
		t.Errorf("sync event %s/%s, want cascade_delete/completed", se.Kind, se.Status)
	}
	if se.Source != "live" {
		t.Errorf("Source = %q, want live", se.Source)
	}
	if se.BytesFreed != size {
		t.Errorf("BytesFreed = %d, want %d", se.BytesFreed, size)
	}
	if se.ItemsProcessed != 1 || se.ItemsFailed != 0 {
		t.Errorf("processed/failed = %d/%d, want 1/0", se.ItemsProcessed, se.ItemsFailed)
	}

	rule, err := env.st.GetDeletionRule(context.Background(), env.owner.ID, env.rule.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rule.LastRunAt == nil {
		t.Error("LastRunAt not touched after a live run")
	}
}

func TestCascadeDryRunMakesNoCalls(t *testing.T) {
	env := newCascadeEnv(t, nil)
	radarrF := &arrFake{resource: "movie", lookupParam: "tmdbId", ids: map[int64]int64{777: 55}}
	env.addArr(t, models.ServiceRadarr, radarrF)
	ovr := &overseerrFake{tmdbID: 777, mediaID: 12, requestID: 9}
	env.addOverseerr(t, ovr)

	tmdb := int64(777)
	m1 := seedStaleMovie(t, env.st, env.server.ID, "m1", "Alpha", 4<<30, func(p *models.MediaItemPatch) {
		p.TMDBID = &tmdb
	})
	m2 := seedStaleMovie(t, env.st, env.server.ID, "m2", "Beta", 2<<30, nil)

	if status := env.run(t, dryRequest(env.rule.ID, m1.ID, m2.ID)); status != models.JobCompleted {
		t.Fatalf("status = %s, want completed", status)
	}

	if n := env.plex.hits(); n != 0 {
		t.Errorf("media server saw %d requests during a dry run", n)
	}
	if n := radarrF.hits(); n != 0 {
		t.Errorf("radarr saw %d requests during a dry run", n)
	}
	if n := ovr.hits(); n != 0 {
		t.Errorf("overseerr saw %d requests during a dry run", n)
	}
	if got := countItems(t, env.st, env.owner.ID); got != 2 {
		t.Errorf("catalog has %d items after dry run, want 2 untouched", got)
	}

	events := runEvents(t, env.st, env.owner.ID, env.rule.ID)
	if len(events) != 2 {
		t.Fatalf("audit rows = %d, want 2", len(events))
	}
	for _, ev := range events {
		if !ev.DryRun {
			t.Errorf("%s: DryRun = false", ev.ExternalID)
		}
		if ev.Status != models.DeletionPending {
			t.Errorf("%s: status = %s, want pending", ev.ExternalID, ev.Status)
		}
		if !ev.DeletedFromServer {
			t.Errorf("%s: dry run should mark the server step", ev.ExternalID)
		}
		if ev.DeletedAt != nil || ev.DeletedFromServerAt != nil {
			t.Errorf("%s: dry run recorded real timestamps", ev.ExternalID)
		}
	}
	withIDs := eventFor(t, events, "m1")
	if !withIDs.DeletedFromRadarr || !withIDs.DeletedFromOverseerr {
		t.Error("m1 would be removed from radarr and overseerr")
	}
	plain := eventFor(t, events, "m2")
	if plain.DeletedFromRadarr || plain.DeletedFromOverseerr {
		t.Error("m2 has no external IDs, no companion would apply")
	}

	se := latestEvent(t, env.st, env.owner.ID)
	if se.Source != "dry_run" {
		t.Errorf("Source = %q, want dry_run", se.Source)
	}
	if se.BytesFreed != 0 {
		t.Errorf("BytesFreed = %d, dry run frees nothing", se.BytesFreed)
	}
	if se.ItemsProcessed != 2 {
		t.Errorf("ItemsProcessed = %d, want 2", se.ItemsProcessed)
	}
}

func TestCascadeKeepsRowWhenServerRefuses(t *testing.T) {
	env := newCascadeEnv(t, nil)
	env.plex.failKeys["m2"] = true

	m1 := seedStaleMovie(t, env.st, env.server.ID, "m1", "Alpha", 4<<30, nil)
	m2 := seedStaleMovie(t, env.st, env.server.ID, "m2", "Beta", 2<<30, nil)

	if status := env.run(t, liveRequest(env.rule.ID, m1.ID, m2.ID)); status != models.JobCompleted {
		t.Fatalf("status = %s, want completed", status)
	}

	events := runEvents(t, env.st, env.owner.ID, env.rule.ID)
	if len(events) != 2 {
		t.Fatalf("audit rows = %d, want 2", len(events))
	}
	ok := eventFor(t, events, "m1")
	if ok.Status != models.DeletionCompleted {
		t.Errorf("m1 status = %s, want completed", ok.Status)
	}
	failed := eventFor(t, events, "m2")
	if failed.Status != models.DeletionFailed {
		t.Errorf("m2 status = %s, want failed", failed.Status)
	}
	if failed.DeletedFromServer {
		t.Error("m2 was not deleted, flag should stay false")
	}
	if !strings.Contains(failed.ErrorMessage, "403") {
		t.Errorf("m2 error %q should carry the server status", failed.ErrorMessage)
	}

	if _, err := env.st.GetMediaItemByExternalID(context.Background(), env.server.ID, "m1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("m1 lookup = %v, want ErrNotFound", err)
	}
	if _, err := env.st.GetMediaItemByExternalID(context.Background(), env.server.ID, "m2"); err != nil {
		t.Errorf("m2 should survive a failed delete: %v", err)
	}

	se := latestEvent(t, env.st, env.owner.ID)
	if se.ItemsProcessed != 2 || se.ItemsFailed != 1 {
		t.Errorf("processed/failed = %d/%d, want 2/1", se.ItemsProcessed, se.ItemsFailed)
	}
	if se.BytesFreed != m1.FileSizeBytes {
		t.Errorf("BytesFreed = %d, want only m1's %d", se.BytesFreed, m1.FileSizeBytes)
	}
}

func TestCascadePartialWhenCompanionRefuses(t *testing.T) {
	env := newCascadeEnv(t, nil)
	radarrF := &arrFake{
		resource:    "movie",
		lookupParam: "tmdbId",
		ids:         map[int64]int64{777: 55},
		failIDs:     map[int64]bool{55: true},
	}
	env.addArr(t, models.ServiceRadarr, radarrF)

	tmdb := int64(777)
	size := int64(3 << 30)
	item := seedStaleMovie(t, env.st, env.server.ID, "m1", "Alpha", size, func(p *models.MediaItemPatch) {
		p.TMDBID = &tmdb
	})

	if status := env.run(t, liveRequest(env.rule.ID, item.ID)); status != models.JobCompleted {
		t.Fatalf("status = %s, want completed", status)
	}

	events := runEvents(t, env.st, env.owner.ID, env.rule.ID)
	if len(events) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Status != models.DeletionPartial {
		t.Errorf("status = %s, want partial", ev.Status)
	}
	if !ev.DeletedFromServer {
		t.Error("server delete succeeded, flag should be true")
	}
	if ev.DeletedFromRadarr {
		t.Error("radarr refused, flag should stay false")
	}
	if !strings.Contains(ev.ErrorMessage, "radarr") {
		t.Errorf("ErrorMessage = %q, want the failing companion named", ev.ErrorMessage)
	}

	// The library file is gone regardless of companion trouble.
	if _, err := env.st.GetMediaItemByExternalID(context.Background(), env.server.ID, "m1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("mirror row lookup = %v, want ErrNotFound", err)
	}
	se := latestEvent(t, env.st, env.owner.ID)
	if se.ItemsFailed != 0 {
		t.Errorf("ItemsFailed = %d, partial still freed the file", se.ItemsFailed)
	}
	if se.BytesFreed != size {
		t.Errorf("BytesFreed = %d, want %d", se.BytesFreed, size)
	}
}

func TestCascadeAbortsWhenServerKeepsFailing(t *testing.T) {
	env := newCascadeEnv(t, nil)
	ids := make([]int64, 0, 10)
	for i := 0; i < 10; i++ {
		key := string(rune('a'+i)) + "0"
		env.plex.failKeys[key] = true
		item := seedStaleMovie(t, env.st, env.server.ID, key, "Movie "+key, 1<<30, nil)
		ids = append(ids, item.ID)
	}

	if status := env.run(t, liveRequest(env.rule.ID, ids...)); status != models.JobFailed {
		t.Fatalf("status = %s, want failed", status)
	}

	se := latestEvent(t, env.st, env.owner.ID)
	if se.Status != models.JobFailed {
		t.Errorf("sync event status = %s, want failed", se.Status)
	}
	if !strings.Contains(se.Error, "consecutive") {
		t.Errorf("Error = %q, want the consecutive-failure reason", se.Error)
	}

	events := runEvents(t, env.st, env.owner.ID, env.rule.ID)
	if len(events) < 3 || len(events) >= 10 {
		t.Errorf("audit rows = %d, want the run to stop after a few failures", len(events))
	}
	for _, ev := range events {
		if ev.Status != models.DeletionFailed {
			t.Errorf("%s: status = %s, want failed", ev.ExternalID, ev.Status)
		}
	}
	if got := countItems(t, env.st, env.owner.ID); got != 10 {
		t.Errorf("catalog has %d items, nothing should have been deleted", got)
	}
}

func TestCascadeForgetsSeriesOnce(t *testing.T) {
	env := newCascadeEnv(t, func(r *models.DeletionRule) { r.SelectShows = true })
	sonarrF := &arrFake{resource: "series", lookupParam: "tvdbId", ids: map[int64]int64{4242: 42}}
	env.addArr(t, models.ServiceSonarr, sonarrF)

	tvdb := int64(4242)
	ids := make([]int64, 0, 3)
	for i, key := range []string{"e1", "e2", "e3"} {
		item := seedStaleEpisode(t, env.st, env.server.ID, key, "The Wire", 1, i+1, 2<<30, func(p *models.MediaItemPatch) {
			p.TVDBID = &tvdb
		})
		ids = append(ids, item.ID)
	}

	if status := env.run(t, liveRequest(env.rule.ID, ids...)); status != models.JobCompleted {
		t.Fatalf("status = %s, want completed", status)
	}

	deletes := sonarrF.deleted()
	if len(deletes) != 1 {
		t.Fatalf("sonarr deletes = %v, want exactly one for the shared series", deletes)
	}
	du, err := url.Parse(deletes[0])
	if err != nil {
		t.Fatal(err)
	}
	if du.Path != "/api/v3/series/42" {
		t.Errorf("sonarr delete path = %q, want /api/v3/series/42", du.Path)
	}
	q := du.Query()
	if q.Get("addImportListExclusion") != "true" {
		t.Errorf("query = %v, want addImportListExclusion=true", q)
	}
	if q.Has("deleteFiles") {
		t.Error("series removal must keep files; the server delete already removed them")
	}
	if n := sonarrF.lookupCount(); n != 1 {
		t.Errorf("sonarr lookups = %d, want 1 memoized lookup", n)
	}

	events := runEvents(t, env.st, env.owner.ID, env.rule.ID)
	if len(events) != 3 {
		t.Fatalf("audit rows = %d, want 3", len(events))
	}
	for _, ev := range events {
		if ev.Status != models.DeletionCompleted {
			t.Errorf("%s: status = %s, want completed", ev.ExternalID, ev.Status)
		}
		if !ev.DeletedFromSonarr {
			t.Errorf("%s: DeletedFromSonarr = false", ev.ExternalID)
		}
	}
	if got := countItems(t, env.st, env.owner.ID); got != 0 {
		t.Errorf("catalog has %d items, want 0", got)
	}
}

func TestCascadeEpisodeRuleUnmonitorsKeptSeries(t *testing.T) {
	env := newCascadeEnv(t, nil)
	sonarrF := &arrFake{resource: "series", lookupParam: "tvdbId", ids: map[int64]int64{4242: 42}}
	env.addArr(t, models.ServiceSonarr, sonarrF)

	seriesID := int64(42)
	ids := make([]int64, 0, 2)
	for i, key := range []string{"e1", "e2"} {
		item := seedStaleEpisode(t, env.st, env.server.ID, key, "The Wire", 1, i+1, 2<<30, func(p *models.MediaItemPatch) {
			p.SonarrSeriesID = &seriesID
		})
		ids = append(ids, item.ID)
	}

	if status := env.run(t, liveRequest(env.rule.ID, ids...)); status != models.JobCompleted {
		t.Fatalf("status = %s, want completed", status)
	}

	if got := sonarrF.deleted(); len(got) != 0 {
		t.Errorf("sonarr deletes = %v; an episode-level rule must not remove the series", got)
	}
	// One flip for the shared series, or Sonarr re-grabs the episodes.
	if got := sonarrF.unmonitoredIDs(); len(got) != 1 || got[0] != 42 {
		t.Errorf("unmonitored series = %v, want exactly [42]", got)
	}
	events := runEvents(t, env.st, env.owner.ID, env.rule.ID)
	if len(events) != 2 {
		t.Fatalf("audit rows = %d, want 2", len(events))
	}
	for _, ev := range events {
		if ev.Status != models.DeletionCompleted {
			t.Errorf("%s: status = %s, want completed", ev.ExternalID, ev.Status)
		}
		if ev.DeletedFromSonarr {
			t.Errorf("%s: DeletedFromSonarr = true for an episode-level rule", ev.ExternalID)
		}
	}
}

func TestCascadeUnmonitorFailureIsAdvisory(t *testing.T) {
	env := newCascadeEnv(t, nil)
	sonarrF := &arrFake{
		resource:    "series",
		lookupParam: "tvdbId",
		ids:         map[int64]int64{4242: 42},
		failIDs:     map[int64]bool{42: true},
	}
	env.addArr(t, models.ServiceSonarr, sonarrF)

	tvdb := int64(4242)
	item := seedStaleEpisode(t, env.st, env.server.ID, "e1", "The Wire", 1, 1, 2<<30, func(p *models.MediaItemPatch) {
		p.TVDBID = &tvdb
	})

	if status := env.run(t, liveRequest(env.rule.ID, item.ID)); status != models.JobCompleted {
		t.Fatalf("status = %s, want completed", status)
	}

	events := runEvents(t, env.st, env.owner.ID, env.rule.ID)
	if len(events) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Status != models.DeletionCompleted {
		t.Errorf("status = %s, want completed; monitoring trouble never marks partial", ev.Status)
	}
	if ev.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, advisory failures stay out of the audit row", ev.ErrorMessage)
	}
	if _, err := env.st.GetMediaItemByExternalID(context.Background(), env.server.ID, "e1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("mirror row lookup = %v, want ErrNotFound", err)
	}
}

func TestCascadeSkipsUnmanagedCompanions(t *testing.T) {
	env := newCascadeEnv(t, nil)
	radarrF := &arrFake{resource: "movie", lookupParam: "tmdbId", ids: map[int64]int64{}}
	env.addArr(t, models.ServiceRadarr, radarrF)
	ovr := &overseerrFake{}
	env.addOverseerr(t, ovr)

	tmdb := int64(777)
	item := seedStaleMovie(t, env.st, env.server.ID, "m1", "Alpha", 1<<30, func(p *models.MediaItemPatch) {
		p.TMDBID = &tmdb
	})

	if status := env.run(t, liveRequest(env.rule.ID, item.ID)); status != models.JobCompleted {
		t.Fatalf("status = %s, want completed", status)
	}

	if n := radarrF.lookupCount(); n != 1 {
		t.Errorf("radarr lookups = %d, want 1", n)
	}
	if got := radarrF.deleted(); len(got) != 0 {
		t.Errorf("radarr deletes = %v, nothing is managed there", got)
	}
	if got := ovr.deleted(); len(got) != 0 {
		t.Errorf("overseerr deletes = %v, nothing was requested there", got)
	}

	events := runEvents(t, env.st, env.owner.ID, env.rule.ID)
	if len(events) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Status != models.DeletionCompleted {
		t.Errorf("status = %s, want completed; unmanaged companions are not failures", ev.Status)
	}
	if ev.DeletedFromRadarr || ev.DeletedFromOverseerr {
		t.Error("companion flags set without anything to remove")
	}
	if ev.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, want empty", ev.ErrorMessage)
	}
}

func TestCascadeCancelStopsDispatch(t *testing.T) {
	env := newCascadeEnv(t, nil)
	env.plex.delay = 30 * time.Millisecond
	var once stdsync.Once
	env.plex.onDelete = func() {
		once.Do(func() { env.reg.Cancel(env.owner.ID, models.JobCascadeDelete) })
	}

	ids := make([]int64, 0, 6)
	for _, key := range []string{"c1", "c2", "c3", "c4", "c5", "c6"} {
		item := seedStaleMovie(t, env.st, env.server.ID, key, "Movie "+key, 1<<30, nil)
		ids = append(ids, item.ID)
	}

	if status := env.run(t, liveRequest(env.rule.ID, ids...)); status != models.JobCancelled {
		t.Fatalf("status = %s, want cancelled", status)
	}

	se := latestEvent(t, env.st, env.owner.ID)
	if se.Status != models.JobCancelled {
		t.Errorf("sync event status = %s, want cancelled", se.Status)
	}
	if se.Error != "" {
		t.Errorf("Error = %q, cancellation is not an error", se.Error)
	}
	if se.ItemsProcessed < 1 || se.ItemsProcessed >= 6 {
		t.Errorf("ItemsProcessed = %d, want a partial prefix", se.ItemsProcessed)
	}
	// In-flight candidates finish; the rest never start.
	want := 6 - se.ItemsProcessed
	if got := countItems(t, env.st, env.owner.ID); got != want {
		t.Errorf("catalog has %d items, want %d", got, want)
	}
}
