package cleanup

import (
	"context"
	"fmt"
	"log"
	stdsync "sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"sweeparr/internal/clients"
	"sweeparr/internal/jobs"
	"sweeparr/internal/models"
	"sweeparr/internal/overseerr"
	"sweeparr/internal/plex"
	"sweeparr/internal/radarr"
	"sweeparr/internal/sonarr"
	"sweeparr/internal/store"
)

const (
	// cascadeConcurrency bounds candidates in flight per owner.
	cascadeConcurrency = 3

	// candidatePace spaces candidate starts; after a failure the pace
	// stretches to failurePace until a delete succeeds again.
	candidatePace = 100 * time.Millisecond
	failurePace   = 3 * time.Second

	// candidateTimeout caps one candidate's whole step sequence.
	candidateTimeout = 30 * time.Second

	// msAbortThreshold is how many consecutive server-delete failures
	// end the run; the server is clearly not accepting deletes.
	msAbortThreshold = 3
)

// Cascade is one validated deletion run, ready to execute.
type Cascade struct {
	engine *Engine
	rule   *models.DeletionRule
	items  []models.MediaItem
	dryRun bool
	actor  string
}

// Prepare validates a cascade request against the live catalog: rule
// exists, every selected item is still owned by the caller, the typed
// confirmation matches, and the selection is inside the safety bound
// unless forced. Dry runs skip the safety gate; they touch nothing.
func (e *Engine) Prepare(ctx context.Context, owner int64, req *models.CascadeRequest, actor string) (*Cascade, error) {
	if err := req.Validate(); err != nil {
		return nil, &models.ValidationError{Field: "cascade", Msg: err.Error()}
	}

	rule, err := e.st.GetDeletionRule(ctx, owner, req.RuleID)
	if err != nil {
		return nil, err
	}

	items, err := e.st.ListOwnedMediaItems(ctx, owner, req.CandidateIDs)
	if err != nil {
		return nil, err
	}
	if len(items) != len(req.CandidateIDs) {
		return nil, &models.ValidationError{
			Field: "candidate_ids",
			Msg: fmt.Sprintf("%d of %d selected items are no longer in the catalog; re-run the preview",
				len(req.CandidateIDs)-len(items), len(req.CandidateIDs)),
		}
	}

	if !req.DryRun && !req.Force {
		total, err := e.st.CountMediaItems(ctx, owner)
		if err != nil {
			return nil, err
		}
		if exceedsSafety(len(items), total) {
			return nil, &models.SafetyError{
				Selected: len(items),
				Total:    total,
				Percent:  float64(len(items)) * 100 / float64(total),
			}
		}
	}

	return &Cascade{engine: e, rule: rule, items: items, dryRun: req.DryRun, actor: actor}, nil
}

// cascRun is the shared progress state across cascade workers.
type cascRun struct {
	total  int
	dryRun bool

	current  atomic.Int64
	deleted  atomic.Int64
	failed   atomic.Int64
	bytes    atomic.Int64
	msStreak atomic.Int32

	mu   stdsync.Mutex
	item string
}

func (r *cascRun) frame() models.CascadeProgress {
	r.mu.Lock()
	item := r.item
	r.mu.Unlock()
	return models.CascadeProgress{
		Current:     int(r.current.Load()),
		Total:       r.total,
		Deleted:     int(r.deleted.Load()),
		Failed:      int(r.failed.Load()),
		CurrentItem: item,
		BytesFreed:  r.bytes.Load(),
		DryRun:      r.dryRun,
	}
}

func (r *cascRun) setItem(title string) {
	r.mu.Lock()
	r.item = title
	r.mu.Unlock()
}

// Run executes the cascade. It satisfies jobs.RunFunc. Cancellation is
// honored between candidates; an in-flight candidate always finishes
// its step sequence so the audit trail matches the real world.
func (c *Cascade) Run(ctx context.Context, job *jobs.Job) (models.JobStatus, error) {
	started := time.Now().UTC()
	run := &cascRun{total: len(c.items), dryRun: c.dryRun}
	job.SetProgress(run.frame())

	var set *clients.Set
	if !c.dryRun {
		var err error
		set, err = c.engine.factory.ForOwner(ctx, job.Owner)
		if err != nil {
			c.writeEvent(job, started, models.JobFailed, run, err)
			return models.JobFailed, err
		}
		for _, ue := range set.Unreachable {
			job.Warn(fmt.Sprintf("server %q unreachable, its items will fail: %v", ue.Server.Name, ue.Err))
		}
	}

	plexByServer := map[int64]*plex.Client{}
	if set != nil {
		for _, sc := range set.Servers {
			plexByServer[sc.Server.ID] = sc.Plex
		}
	}

	limiter := rate.NewLimiter(rate.Every(candidatePace), 1)
	series := &seriesDedup{byID: map[int64]error{}, byTVDB: map[int64]int64{}, unmonitored: map[int64]bool{}}

	work := make(chan models.MediaItem)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cascadeConcurrency; i++ {
		g.Go(func() error {
			for item := range work {
				if !c.dryRun {
					if err := limiter.Wait(gctx); err != nil {
						return nil
					}
				}
				if err := c.process(gctx, job, run, item, set, plexByServer, limiter, series); err != nil {
					return err
				}
				job.SetProgress(run.frame())
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(work)
		for _, item := range c.items {
			if gctx.Err() != nil {
				return nil
			}
			if run.msStreak.Load() >= msAbortThreshold {
				return fmt.Errorf("%d consecutive server deletes failed, aborting", msAbortThreshold)
			}
			select {
			case work <- item:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	werr := g.Wait()
	status := models.JobCompleted
	switch {
	case werr != nil:
		status = models.JobFailed
	case ctx.Err() != nil:
		status = models.JobCancelled
	}

	if !c.dryRun {
		bctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.engine.st.TouchRuleLastRun(bctx, c.rule.ID, time.Now().UTC()); err != nil {
			log.Printf("[cleanup] touch rule %d last run: %v", c.rule.ID, err)
		}
		cancel()
	}

	job.SetProgress(run.frame())
	c.writeEvent(job, started, status, run, werr)
	return status, werr
}

// process runs one candidate's full step sequence. The returned error
// is reserved for store failures, which abort the whole run; external
// failures are absorbed into the candidate's audit row.
func (c *Cascade) process(ctx context.Context, job *jobs.Job, run *cascRun, item models.MediaItem, set *clients.Set, plexByServer map[int64]*plex.Client, limiter *rate.Limiter, series *seriesDedup) error {
	run.setItem(item.Title)
	now := time.Now().UTC()
	event := c.baseEvent(&item, now)

	if c.dryRun {
		event.Status = models.DeletionPending
		event.DeletedFromServer = true
		event.DeletedFromSonarr = c.sonarrApplies(&item)
		event.DeletedFromRadarr = radarrApplies(&item)
		event.DeletedFromOverseerr = item.TMDBID != nil
		run.current.Add(1)
		run.deleted.Add(1)
		run.bytes.Add(item.FileSizeBytes)
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return c.engine.st.CreateDeletionEvent(wctx, event)
	}

	// The candidate runs to completion even if the job is cancelled
	// mid-sequence; a half-deleted item with no audit row is worse
	// than a slightly late stop.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), candidateTimeout)
	defer cancel()

	pc := plexByServer[item.ServerID]
	var msErr error
	if pc == nil {
		msErr = fmt.Errorf("server %d is unreachable", item.ServerID)
	} else {
		msErr = pc.DeleteItem(cctx, item.ExternalID)
	}
	if msErr != nil {
		run.msStreak.Add(1)
		limiter.SetLimit(rate.Every(failurePace))
		job.Warn(fmt.Sprintf("deleting %q from media server: %v", item.Title, msErr))
		event.Status = models.DeletionFailed
		event.ErrorMessage = msErr.Error()
		run.current.Add(1)
		run.failed.Add(1)
		return c.engine.st.CreateDeletionEvent(cctx, event)
	}
	run.msStreak.Store(0)
	limiter.SetLimit(rate.Every(candidatePace))
	event.DeletedFromServer = true
	event.DeletedFromServerAt = &now

	companionsOK := true
	if c.sonarrApplies(&item) && set.Sonarr != nil {
		removed, err := series.remove(cctx, set.Sonarr, &item)
		switch {
		case err != nil:
			companionsOK = false
			event.ErrorMessage = joinErr(event.ErrorMessage, "sonarr: "+err.Error())
			job.Warn(fmt.Sprintf("removing series for %q from sonarr: %v", item.Title, err))
		case removed:
			event.DeletedFromSonarr = true
			event.DeletedFromSonarrAt = &now
		}
	} else if keepsSeries(c.rule, &item) && set.Sonarr != nil {
		// The series stays in Sonarr, which would re-grab the episodes
		// just deleted. Pausing monitoring is advisory; a failure never
		// marks the candidate partial.
		if err := series.unmonitor(cctx, set.Sonarr, &item); err != nil {
			job.Warn(fmt.Sprintf("pausing monitoring for %q in sonarr: %v", item.Title, err))
		}
	}

	if radarrApplies(&item) && set.Radarr != nil {
		removed, err := removeMovie(cctx, set.Radarr, &item)
		switch {
		case err != nil:
			companionsOK = false
			event.ErrorMessage = joinErr(event.ErrorMessage, "radarr: "+err.Error())
			job.Warn(fmt.Sprintf("removing %q from radarr: %v", item.Title, err))
		case removed:
			event.DeletedFromRadarr = true
			event.DeletedFromRadarrAt = &now
		}
	}

	if item.TMDBID != nil && set.Overseerr != nil {
		cleared, err := clearRequests(cctx, set.Overseerr, &item)
		switch {
		case err != nil:
			companionsOK = false
			event.ErrorMessage = joinErr(event.ErrorMessage, "overseerr: "+err.Error())
			job.Warn(fmt.Sprintf("clearing request for %q from overseerr: %v", item.Title, err))
		case cleared:
			event.DeletedFromOverseerr = true
			event.DeletedFromOverseerrAt = &now
		}
	}

	event.Status = models.DeletionCompleted
	if !companionsOK {
		event.Status = models.DeletionPartial
	}
	event.DeletedAt = &now

	run.current.Add(1)
	run.deleted.Add(1)
	run.bytes.Add(item.FileSizeBytes)

	return c.engine.st.HardDeleteMediaItem(cctx, item.ID, event)
}

// sonarrApplies limits series removal to show-level rules: deleting a
// single stale episode must not forget the whole series. The series
// can be identified by a stored Sonarr ID or resolved from TVDB.
func (c *Cascade) sonarrApplies(item *models.MediaItem) bool {
	if !c.rule.SelectShows {
		return false
	}
	switch item.Kind {
	case models.KindShow, models.KindSeason, models.KindEpisode:
		return item.SonarrSeriesID != nil || item.TVDBID != nil
	}
	return false
}

// keepsSeries reports whether deleting the item leaves its series
// behind in Sonarr, still monitored.
func keepsSeries(rule *models.DeletionRule, item *models.MediaItem) bool {
	if rule.SelectShows {
		return false
	}
	switch item.Kind {
	case models.KindSeason, models.KindEpisode:
		return item.SonarrSeriesID != nil || item.TVDBID != nil
	}
	return false
}

func radarrApplies(item *models.MediaItem) bool {
	if item.Kind != models.KindMovie {
		return false
	}
	return item.RadarrMovieID != nil || item.TMDBID != nil
}

// removeMovie deletes the item's movie from Radarr, resolving the
// Radarr ID from TMDB when the mirror row does not carry one. A movie
// Radarr does not manage is a no-op, not a failure.
func removeMovie(ctx context.Context, rc *radarr.Client, item *models.MediaItem) (bool, error) {
	id := int64(0)
	if item.RadarrMovieID != nil {
		id = *item.RadarrMovieID
	} else {
		found, err := rc.LookupMovieByTMDB(ctx, *item.TMDBID)
		if err != nil {
			return false, err
		}
		id = found
	}
	if id == 0 {
		return false, nil
	}
	if err := rc.DeleteMovie(ctx, id, true, true); err != nil {
		return false, err
	}
	return true, nil
}

// clearRequests removes any Overseerr request and media entry for the
// item so it can be requested again after deletion. A title Overseerr
// never saw is a no-op, not a failure.
func clearRequests(ctx context.Context, oc *overseerr.Client, item *models.MediaItem) (bool, error) {
	mediaType := "movie"
	if item.Kind != models.KindMovie {
		mediaType = "tv"
	}
	res, err := oc.FindRequestByTMDB(ctx, *item.TMDBID, mediaType)
	if err != nil {
		return false, err
	}
	cleared := false
	if res.RequestID > 0 {
		if err := oc.DeleteRequest(ctx, res.RequestID); err != nil {
			return cleared, err
		}
		cleared = true
	}
	if res.MediaID > 0 {
		if err := oc.DeleteMedia(ctx, res.MediaID); err != nil {
			return cleared, err
		}
		cleared = true
	}
	return cleared, nil
}

func (c *Cascade) baseEvent(item *models.MediaItem, now time.Time) *models.DeletionEvent {
	evidence := store.CandidateEvidence(*item, c.rule, now)
	e := &models.DeletionEvent{
		UserID:        c.rule.UserID,
		ServerID:      item.ServerID,
		RuleID:        c.rule.ID,
		ExternalID:    item.ExternalID,
		Title:         item.Title,
		Kind:          item.Kind,
		FileSizeBytes: item.FileSizeBytes,
		Reason:        evidence.Reason,
		Score:         evidence.Score,
		DryRun:        c.dryRun,
		Actor:         c.actor,
	}
	if item.FilePath != nil {
		e.FilePath = *item.FilePath
	}
	return e
}

func (c *Cascade) writeEvent(job *jobs.Job, started time.Time, status models.JobStatus, run *cascRun, runErr error) {
	ev := &models.SyncEvent{
		UserID:         job.Owner,
		Kind:           models.JobCascadeDelete,
		Trigger:        job.Trigger,
		Status:         status,
		ItemsProcessed: int(run.current.Load()),
		ItemsFailed:    int(run.failed.Load()),
		StartedAt:      started,
		FinishedAt:     time.Now().UTC(),
		Source:         "live",
	}
	if c.dryRun {
		ev.Source = "dry_run"
	} else {
		ev.BytesFreed = run.bytes.Load()
	}
	if runErr != nil {
		ev.Error = runErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.engine.st.CreateSyncEvent(ctx, ev); err != nil {
		log.Printf("[cleanup] record cascade event: %v", err)
	}
	if c.engine.notify != nil {
		c.engine.notify.CascadeFinished(job.Owner, ev, c.rule.Name)
	}
}

// seriesDedup collapses per-episode series operations: a rule expands
// into many episodes of one series, but Sonarr forgets or unmonitors
// the series once. The lock serializes the call so a second worker
// waits for the first outcome instead of racing a duplicate.
type seriesDedup struct {
	mu          stdsync.Mutex
	byID        map[int64]error
	byTVDB      map[int64]int64
	unmonitored map[int64]bool
}

// remove resolves the item's Sonarr series (stored ID first, TVDB
// lookup otherwise) and deletes it once per series, keeping the files:
// the media server delete already removed them. A series Sonarr does
// not manage is a no-op, not a failure. Delete outcomes are memoized
// so sibling episodes report the same result; lookup errors are not,
// a later episode may retry.
func (d *seriesDedup) remove(ctx context.Context, sc *sonarr.Client, item *models.MediaItem) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, err := d.resolve(ctx, sc, item)
	if err != nil {
		return false, err
	}
	if id == 0 {
		return false, nil
	}
	if err, ok := d.byID[id]; ok {
		return err == nil, err
	}
	err := sc.DeleteSeries(ctx, id, false, true)
	d.byID[id] = err
	return err == nil, err
}

// unmonitor pauses the item's series in Sonarr, once per series.
func (d *seriesDedup) unmonitor(ctx context.Context, sc *sonarr.Client, item *models.MediaItem) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, err := d.resolve(ctx, sc, item)
	if err != nil || id == 0 {
		return err
	}
	if d.unmonitored[id] {
		return nil
	}
	if err := sc.SetMonitored(ctx, id, false); err != nil {
		return err
	}
	d.unmonitored[id] = true
	return nil
}

// resolve returns the item's Sonarr series ID, stored ID first, TVDB
// lookup otherwise. Zero when Sonarr does not manage the series.
// Callers hold d.mu.
func (d *seriesDedup) resolve(ctx context.Context, sc *sonarr.Client, item *models.MediaItem) (int64, error) {
	switch {
	case item.SonarrSeriesID != nil:
		return *item.SonarrSeriesID, nil
	case item.TVDBID != nil:
		cached, ok := d.byTVDB[*item.TVDBID]
		if !ok {
			found, err := sc.LookupSeriesByTVDB(ctx, *item.TVDBID)
			if err != nil {
				return 0, err
			}
			d.byTVDB[*item.TVDBID] = found
			cached = found
		}
		return cached, nil
	}
	return 0, nil
}

func joinErr(existing, add string) string {
	if existing == "" {
		return add
	}
	return existing + "; " + add
}
