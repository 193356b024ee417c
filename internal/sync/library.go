package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	stdsync "sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"sweeparr/internal/clients"
	"sweeparr/internal/httputil"
	"sweeparr/internal/jobs"
	"sweeparr/internal/models"
	"sweeparr/internal/plex"
	"sweeparr/internal/store"
)

const (
	// fullSyncMaxAge forces a full walk when the last one is older.
	fullSyncMaxAge = 7 * 24 * time.Hour

	// incrementalSlack widens the updated-since filter so items the
	// server touched during the previous sync are not missed.
	incrementalSlack = time.Hour

	// flushThreshold is how many patches accumulate before a
	// transactional commit.
	flushThreshold = 500

	// sectionParallelism bounds concurrent section walks. Items within
	// a section stay serial; media servers tolerate bursts poorly.
	sectionParallelism = 4
)

// LibraryEngine mirrors media server catalogs into the store.
type LibraryEngine struct {
	st      *store.Store
	factory *clients.Factory
	notify  Notifier
}

// Notifier receives failed-sync outcomes. Implementations must return
// quickly; delivery happens off the job goroutine.
type Notifier interface {
	SyncFailed(owner int64, kind models.JobKind, errMsg string)
}

func NewLibraryEngine(st *store.Store, factory *clients.Factory) *LibraryEngine {
	return &LibraryEngine{st: st, factory: factory}
}

func (e *LibraryEngine) SetNotifier(n Notifier) {
	e.notify = n
}

// serverPlan is one server's share of the run: its mode, sections, and
// whether any of its sections failed.
type serverPlan struct {
	sc           *clients.ServerClient
	full         bool
	updatedSince time.Time
	troubled     atomic.Bool
}

type sectionTask struct {
	plan    *serverPlan
	section plex.Section
}

// libRun is the shared progress state across section walkers.
type libRun struct {
	tracker *Tracker
	created atomic.Int64
	updated atomic.Int64
	failed  atomic.Int64

	mu      stdsync.Mutex
	section string
	title   string
	full    bool
}

func (r *libRun) frame() models.LibrarySyncProgress {
	r.mu.Lock()
	section, title := r.section, r.title
	r.mu.Unlock()
	return models.LibrarySyncProgress{
		Current:        r.tracker.Current(),
		Total:          r.tracker.Total(),
		Section:        section,
		Title:          title,
		ItemsPerSecond: r.tracker.Rate(),
		ETASeconds:     r.tracker.ETASeconds(),
		Created:        int(r.created.Load()),
		Updated:        int(r.updated.Load()),
		Failed:         int(r.failed.Load()),
		Full:           r.full,
	}
}

func (r *libRun) setPosition(section, title string) {
	r.mu.Lock()
	r.section = section
	r.title = title
	r.mu.Unlock()
}

// Run walks every reachable server of the job's owner and upserts the
// catalog. It satisfies jobs.RunFunc.
func (e *LibraryEngine) Run(ctx context.Context, job *jobs.Job) (models.JobStatus, error) {
	started := time.Now().UTC()

	set, err := e.factory.ForOwner(ctx, job.Owner)
	if err != nil {
		e.writeEvent(job, started, models.JobFailed, nil, err)
		return models.JobFailed, err
	}
	for _, ue := range set.Unreachable {
		job.Warn(fmt.Sprintf("server %q unreachable, skipping: %v", ue.Server.Name, ue.Err))
	}

	plans, tasks, total, err := e.plan(ctx, job, set)
	if err != nil {
		status := models.JobFailed
		if errors.Is(err, context.Canceled) {
			status = models.JobCancelled
			err = nil
		}
		e.writeEvent(job, started, status, nil, err)
		return status, err
	}

	run := &libRun{tracker: NewTracker(total), full: anyFull(plans)}
	job.SetProgress(run.frame())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sectionParallelism)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			return e.syncSection(gctx, job, task, run)
		})
	}
	werr := g.Wait()

	status := models.JobCompleted
	switch {
	case werr == nil:
	case errors.Is(werr, context.Canceled):
		status = models.JobCancelled
		werr = nil
	default:
		status = models.JobFailed
	}

	if status == models.JobCompleted {
		e.markFullSyncs(plans)
	}

	job.SetProgress(run.frame())
	e.writeEvent(job, started, status, run, werr)
	return status, werr
}

// plan decides full vs incremental per server, lists sections, and
// pre-counts the total so ETA is meaningful from the first frame.
// Per-server listing failures degrade to warnings; credential
// rejections abort.
func (e *LibraryEngine) plan(ctx context.Context, job *jobs.Job, set *clients.Set) ([]*serverPlan, []sectionTask, int, error) {
	var (
		plans []*serverPlan
		tasks []sectionTask
		total int
	)
	for _, sc := range set.Servers {
		if err := ctx.Err(); err != nil {
			return nil, nil, 0, err
		}
		full, updatedSince := syncMode(&sc.Server)
		plan := &serverPlan{sc: sc, full: full, updatedSince: updatedSince}

		sections, err := sc.Plex.Sections(ctx)
		if err != nil {
			if fatal(err) {
				return nil, nil, 0, err
			}
			if httputil.IsTransient(err) {
				// The cached connection stopped answering; dropping it
				// makes the next job run discovery again.
				if cerr := e.st.ClearServerConnection(ctx, sc.Server.ID); cerr != nil {
					log.Printf("[sync] clear connection for server %d: %v", sc.Server.ID, cerr)
				}
			}
			job.Warn(fmt.Sprintf("server %q: listing sections: %v", sc.Server.Name, err))
			continue
		}

		for _, section := range sections {
			kinds := section.SyncKinds()
			if kinds == nil {
				continue
			}
			for _, kind := range kinds {
				n, err := sc.Plex.CountSectionItems(ctx, section.Key, kind, updatedSince)
				if err != nil {
					if fatal(err) || ctx.Err() != nil {
						return nil, nil, 0, firstErr(ctx.Err(), err)
					}
					job.Warn(fmt.Sprintf("server %q: counting %s/%s: %v", sc.Server.Name, section.Title, kind, err))
					continue
				}
				total += n
			}
			tasks = append(tasks, sectionTask{plan: plan, section: section})
		}
		plans = append(plans, plan)
	}
	return plans, tasks, total, nil
}

// syncSection walks one section's kinds serially, committing patches
// in transactional batches. Transient failures end the section with a
// warning; cancellation commits the in-flight batch first.
func (e *LibraryEngine) syncSection(ctx context.Context, job *jobs.Job, task sectionTask, run *libRun) error {
	serverID := task.plan.sc.Server.ID
	var pending []*models.MediaItemPatch

	flush := func(fctx context.Context) {
		if len(pending) == 0 {
			return
		}
		stats, err := e.st.BatchUpsertMediaItems(fctx, serverID, pending, func(chunk store.BatchStats, chunkErr error) {
			if chunkErr != nil {
				task.plan.troubled.Store(true)
				job.Warn(fmt.Sprintf("section %q: %v", task.section.Title, chunkErr))
			}
		})
		if err != nil {
			// Only cancellation aborts a batch mid-way; the committed
			// prefix is already counted in stats.
			task.plan.troubled.Store(true)
		}
		run.created.Add(int64(stats.Created))
		run.updated.Add(int64(stats.Updated))
		run.failed.Add(int64(stats.Failed))
		run.tracker.Add(stats.Created + stats.Updated + stats.Unchanged + stats.Failed)
		pending = pending[:0]
		job.SetProgress(run.frame())
	}

	for _, kind := range task.section.SyncKinds() {
		err := task.plan.sc.Plex.WalkSection(ctx, task.section.Key, kind, task.plan.updatedSince, func(it plex.Item) error {
			patch := it.CatalogPatch(task.section.Title)
			if !patch.HierarchyComplete() {
				run.failed.Add(1)
				run.tracker.Add(1)
				job.Warn(fmt.Sprintf("episode %q skipped: season or episode number missing", it.Title))
				return nil
			}
			run.setPosition(task.section.Title, it.Title)
			pending = append(pending, patch)
			if len(pending) >= flushThreshold {
				flush(ctx)
			}
			return nil
		})
		if err != nil {
			// Commit what we have before deciding how to stop.
			flush(context.WithoutCancel(ctx))
			if ctx.Err() != nil {
				return context.Canceled
			}
			if fatal(err) {
				return err
			}
			task.plan.troubled.Store(true)
			job.Warn(fmt.Sprintf("section %q (%s): %v", task.section.Title, kind, err))
			return nil
		}
	}
	flush(context.WithoutCancel(ctx))
	return nil
}

// markFullSyncs stamps last_full_sync_at on every server whose full
// walk finished clean, moving its next runs to incremental mode.
func (e *LibraryEngine) markFullSyncs(plans []*serverPlan) {
	for _, plan := range plans {
		if !plan.full || plan.troubled.Load() {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.st.UpdateServerLastFullSync(ctx, plan.sc.Server.ID, time.Now().UTC()); err != nil {
			log.Printf("[sync] mark full sync for server %d: %v", plan.sc.Server.ID, err)
		}
		cancel()
	}
}

func (e *LibraryEngine) writeEvent(job *jobs.Job, started time.Time, status models.JobStatus, run *libRun, runErr error) {
	ev := &models.SyncEvent{
		UserID:     job.Owner,
		Kind:       models.JobLibrarySync,
		Trigger:    job.Trigger,
		Status:     status,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	if run != nil {
		ev.ItemsProcessed = run.tracker.Current()
		ev.ItemsCreated = int(run.created.Load())
		ev.ItemsUpdated = int(run.updated.Load())
		ev.ItemsFailed = int(run.failed.Load())
	}
	if runErr != nil {
		ev.Error = runErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.st.CreateSyncEvent(ctx, ev); err != nil {
		log.Printf("[sync] record library sync event: %v", err)
	}
	if status == models.JobFailed && e.notify != nil {
		e.notify.SyncFailed(job.Owner, models.JobLibrarySync, ev.Error)
	}
}

func syncMode(srv *models.Server) (full bool, updatedSince time.Time) {
	if srv.LastFullSyncAt == nil || time.Since(*srv.LastFullSyncAt) > fullSyncMaxAge {
		return true, time.Time{}
	}
	return false, srv.LastFullSyncAt.Add(-incrementalSlack)
}

func anyFull(plans []*serverPlan) bool {
	for _, p := range plans {
		if p.full {
			return true
		}
	}
	return false
}

// fatal reports whether an error must terminate the whole job rather
// than degrade to a warning.
func fatal(err error) bool {
	var ae *models.AuthError
	return errors.As(err, &ae)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

