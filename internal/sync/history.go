package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"sweeparr/internal/clients"
	"sweeparr/internal/jobs"
	"sweeparr/internal/models"
	"sweeparr/internal/plex"
	"sweeparr/internal/store"
	"sweeparr/internal/tautulli"
)

// historyBatchSize is how many history records one Tautulli page
// carries.
const historyBatchSize = 1000

// HistoryEngine populates engagement columns on the mirror, from
// Tautulli when the owner has a working integration, otherwise from
// the media server's own view counts.
type HistoryEngine struct {
	st      *store.Store
	factory *clients.Factory
	notify  Notifier
}

func NewHistoryEngine(st *store.Store, factory *clients.Factory) *HistoryEngine {
	return &HistoryEngine{st: st, factory: factory}
}

func (e *HistoryEngine) SetNotifier(n Notifier) {
	e.notify = n
}

type histRun struct {
	tracker *Tracker
	updated atomic.Int64
	created atomic.Int64
	source  string
}

func (r *histRun) frame() models.HistorySyncProgress {
	return models.HistorySyncProgress{
		Current:        r.tracker.Current(),
		Total:          r.tracker.Total(),
		Updated:        int(r.updated.Load()),
		Created:        int(r.created.Load()),
		ItemsPerSecond: r.tracker.Rate(),
		ETASeconds:     r.tracker.ETASeconds(),
		Source:         r.source,
	}
}

// Run selects the history source and merges engagement into the
// mirror. It satisfies jobs.RunFunc.
func (e *HistoryEngine) Run(ctx context.Context, job *jobs.Job) (models.JobStatus, error) {
	started := time.Now().UTC()

	set, err := e.factory.ForOwner(ctx, job.Owner)
	if err != nil {
		e.writeEvent(job, started, models.JobFailed, nil, err)
		return models.JobFailed, err
	}
	for _, ue := range set.Unreachable {
		job.Warn(fmt.Sprintf("server %q unreachable, skipping: %v", ue.Server.Name, ue.Err))
	}

	run := &histRun{tracker: NewTracker(0), source: "plex"}
	if set.HasActiveTautulli() {
		run.source = "tautulli"
	}

	var status models.JobStatus
	if run.source == "tautulli" {
		status, err = e.fromTautulli(ctx, job, set, run)
	} else {
		status, err = e.fromPlex(ctx, job, set, run)
	}

	job.SetProgress(run.frame())
	e.writeEvent(job, started, status, run, err)
	return status, err
}

// fromTautulli aggregates the full play history per rating key and
// applies cumulative totals. Partial aggregates are never applied: a
// failed stream would otherwise shrink counts.
func (e *HistoryEngine) fromTautulli(ctx context.Context, job *jobs.Job, set *clients.Set, run *histRun) (models.JobStatus, error) {
	tc := set.Tautulli
	serverID := set.ServerFor(models.ServiceTautulli).Server.ID

	_, total, err := tc.GetHistory(ctx, tautulli.Window{}, 0, 1)
	if err != nil {
		set.ReportFailure(ctx, models.ServiceTautulli, err)
		return models.JobFailed, err
	}
	run.tracker.AddTotal(total)
	job.SetProgress(run.frame())

	agg := make(map[string]*aggregate)
	err = tc.StreamHistory(ctx, tautulli.Window{}, historyBatchSize, func(batch tautulli.BatchResult) error {
		for i := range batch.Records {
			r := &batch.Records[i]
			key := string(r.RatingKey)
			if key == "" {
				continue
			}
			a, ok := agg[key]
			if !ok {
				a = &aggregate{}
				agg[key] = a
			}
			a.add(r)
		}
		run.tracker.Add(len(batch.Records))
		job.SetProgress(run.frame())
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return models.JobCancelled, nil
		}
		set.ReportFailure(ctx, models.ServiceTautulli, err)
		return models.JobFailed, err
	}
	set.ReportSuccess(ctx, models.ServiceTautulli)

	now := time.Now().UTC()
	for key, a := range agg {
		if ctx.Err() != nil {
			return models.JobCancelled, nil
		}
		if err := e.apply(ctx, job, run, serverID, a.patch(key), a.kind, a.title, now); err != nil {
			return models.JobFailed, err
		}
	}
	return models.JobCompleted, nil
}

// fromPlex walks the leaf sections of every server and merges the
// server's own view counts. Complete/partial splits are unavailable on
// this path.
func (e *HistoryEngine) fromPlex(ctx context.Context, job *jobs.Job, set *clients.Set, run *histRun) (models.JobStatus, error) {
	type walk struct {
		sc      *clients.ServerClient
		section plex.Section
		kind    models.MediaKind
	}
	var walks []walk

	for _, sc := range set.Servers {
		if err := ctx.Err(); err != nil {
			return models.JobCancelled, nil
		}
		sections, err := sc.Plex.Sections(ctx)
		if err != nil {
			if fatal(err) {
				return models.JobFailed, err
			}
			job.Warn(fmt.Sprintf("server %q: listing sections: %v", sc.Server.Name, err))
			continue
		}
		for _, section := range sections {
			for _, kind := range section.SyncKinds() {
				if !kind.Leaf() {
					continue
				}
				n, err := sc.Plex.CountSectionItems(ctx, section.Key, kind, time.Time{})
				if err == nil {
					run.tracker.AddTotal(n)
				}
				walks = append(walks, walk{sc: sc, section: section, kind: kind})
			}
		}
	}
	job.SetProgress(run.frame())

	now := time.Now().UTC()
	for _, w := range walks {
		serverID := w.sc.Server.ID
		err := w.sc.Plex.WalkSection(ctx, w.section.Key, w.kind, time.Time{}, func(it plex.Item) error {
			run.tracker.Add(1)
			patch := it.FallbackEngagement()
			if patch == nil {
				if run.tracker.Current()%200 == 0 {
					job.SetProgress(run.frame())
				}
				return nil
			}
			if err := e.apply(ctx, job, run, serverID, patch, it.Kind, it.Title, now); err != nil {
				return err
			}
			if run.tracker.Current()%200 == 0 {
				job.SetProgress(run.frame())
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return models.JobCancelled, nil
			}
			if fatal(err) {
				return models.JobFailed, err
			}
			var te *models.TransientError
			if errors.As(err, &te) {
				job.Warn(fmt.Sprintf("section %q (%s): %v", w.section.Title, w.kind, err))
				continue
			}
			return models.JobFailed, err
		}
	}
	return models.JobCompleted, nil
}

// apply merges one engagement patch, soft-resolving unknown rating
// keys into inaccessible placeholder rows.
func (e *HistoryEngine) apply(ctx context.Context, job *jobs.Job, run *histRun, serverID int64, patch *models.EngagementPatch, kind models.MediaKind, title string, now time.Time) error {
	changed, err := e.st.ApplyEngagement(ctx, serverID, patch, now)
	if errors.Is(err, models.ErrNotFound) {
		if kind != models.KindMovie && kind != models.KindEpisode {
			return nil
		}
		created, perr := e.st.EnsurePlaceholder(ctx, serverID, patch.ExternalID, kind, title)
		if perr != nil {
			return perr
		}
		if created {
			run.created.Add(1)
		}
		changed, err = e.st.ApplyEngagement(ctx, serverID, patch, now)
	}
	if err != nil {
		return err
	}
	if changed {
		run.updated.Add(1)
	}
	return nil
}

func (e *HistoryEngine) writeEvent(job *jobs.Job, started time.Time, status models.JobStatus, run *histRun, runErr error) {
	ev := &models.SyncEvent{
		UserID:     job.Owner,
		Kind:       models.JobHistorySync,
		Trigger:    job.Trigger,
		Status:     status,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	if run != nil {
		ev.ItemsProcessed = run.tracker.Current()
		ev.ItemsCreated = int(run.created.Load())
		ev.ItemsUpdated = int(run.updated.Load())
		ev.Source = run.source
	}
	if runErr != nil {
		ev.Error = runErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.st.CreateSyncEvent(ctx, ev); err != nil {
		log.Printf("[sync] record history sync event: %v", err)
	}
	if status == models.JobFailed && e.notify != nil {
		e.notify.SyncFailed(job.Owner, models.JobHistorySync, ev.Error)
	}
}

// aggregate accumulates one rating key's plays.
type aggregate struct {
	title        string
	kind         models.MediaKind
	plays        int
	complete     int
	partial      int
	pctSum       float64
	lastWatched  int64
	watchSeconds int64
}

func (a *aggregate) add(r *tautulli.HistoryRecord) {
	a.plays++
	if r.Complete() {
		a.complete++
	} else {
		a.partial++
	}
	a.pctSum += float64(r.PercentComplete)
	if w := r.WatchedAt(); w > a.lastWatched {
		a.lastWatched = w
	}
	sec := r.PlayDuration
	if sec == 0 {
		sec = r.Duration
	}
	a.watchSeconds += sec

	if a.title == "" {
		a.title = r.Title
	}
	if a.kind == "" {
		switch r.MediaType {
		case "movie":
			a.kind = models.KindMovie
		case "episode":
			a.kind = models.KindEpisode
		}
	}
}

// patch renders the aggregate as a cumulative engagement patch; totals
// replace stored counts.
func (a *aggregate) patch(externalID string) *models.EngagementPatch {
	p := &models.EngagementPatch{ExternalID: externalID, Cumulative: true}
	plays := a.plays
	p.TotalPlayCount = &plays
	complete := a.complete
	p.CompletePlayCount = &complete
	partial := a.partial
	p.PartialPlayCount = &partial
	if a.plays > 0 {
		avg := a.pctSum / float64(a.plays)
		p.AvgPercentComplete = &avg
	}
	if a.lastWatched > 0 {
		t := time.Unix(a.lastWatched, 0).UTC()
		p.LastWatchedAt = &t
	}
	if a.watchSeconds > 0 {
		sec := a.watchSeconds
		p.TotalWatchTimeSeconds = &sec
	}
	return p
}
