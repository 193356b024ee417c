package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"sweeparr/internal/jobs"
	"sweeparr/internal/models"
	"sweeparr/internal/store"
)

// DefaultTick is how often the scheduler scans for due schedules.
const DefaultTick = time.Minute

// sessionSweepEvery bounds how long an expired session row can linger.
const sessionSweepEvery = time.Hour

// Runner executes one job kind. The sync engines satisfy it.
type Runner interface {
	Run(ctx context.Context, job *jobs.Job) (models.JobStatus, error)
}

// Scheduler launches configured jobs through the registry when their
// next_run_at passes. One instance serves all owners.
type Scheduler struct {
	st       *store.Store
	registry *jobs.Registry
	runners  map[models.JobKind]Runner
	tick     time.Duration

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

type Option func(*Scheduler)

func WithTick(d time.Duration) Option {
	return func(s *Scheduler) {
		s.tick = d
	}
}

// WithRunner binds a job kind to the engine that executes it. Kinds
// without a runner are skipped: cascades stay manual because they need
// an admin's confirmation.
func WithRunner(kind models.JobKind, r Runner) Option {
	return func(s *Scheduler) {
		s.runners[kind] = r
	}
}

func New(st *store.Store, reg *jobs.Registry, opts ...Option) *Scheduler {
	sch := &Scheduler{
		st:       st,
		registry: reg,
		runners:  make(map[models.JobKind]Runner),
		tick:     DefaultTick,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sch)
	}
	return sch
}

// Start runs the scheduler: an immediate scan, then one per tick.
func (sch *Scheduler) Start(ctx context.Context) {
	sch.startOnce.Do(func() {
		ctx, sch.cancel = context.WithCancel(ctx)
		go sch.run(ctx)
	})
}

func (sch *Scheduler) Stop() {
	if sch.cancel != nil {
		sch.cancel()
		<-sch.done
	}
}

func (sch *Scheduler) run(ctx context.Context) {
	defer close(sch.done)

	sch.scan(ctx)

	ticker := time.NewTicker(sch.tick)
	defer ticker.Stop()

	lastSweep := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sch.scan(ctx)
			if time.Since(lastSweep) >= sessionSweepEvery {
				sch.sweepSessions(ctx)
				lastSweep = time.Now()
			}
		}
	}
}

func (sch *Scheduler) scan(ctx context.Context) {
	due, err := sch.st.DueSchedules(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("[scheduler] listing due schedules: %v", err)
		return
	}
	for _, sc := range due {
		sch.launch(sc)
	}
}

func (sch *Scheduler) launch(sc models.SyncSchedule) {
	runner, ok := sch.runners[sc.Kind]
	if !ok {
		log.Printf("[scheduler] schedule %d: no runner for %s, skipping", sc.ID, sc.Kind)
		return
	}

	interval := time.Duration(sc.IntervalHours) * time.Hour
	fn := func(ctx context.Context, job *jobs.Job) (models.JobStatus, error) {
		if err := sch.st.MarkScheduleStarted(ctx, sc.ID, time.Now().UTC(), interval); err != nil {
			log.Printf("[scheduler] schedule %d: marking started: %v", sc.ID, err)
		}
		status, err := runner.Run(ctx, job)
		sch.record(sc.ID, status, err)
		return status, err
	}

	if _, err := sch.registry.Start(sc.UserID, sc.Kind, models.TriggerScheduled, fn); err != nil {
		var conflict *models.ConflictError
		if errors.As(err, &conflict) {
			// Something of this kind is already running for the owner.
			// The row stays due and the next tick retries.
			return
		}
		log.Printf("[scheduler] schedule %d: starting %s: %v", sc.ID, sc.Kind, err)
	}
}

// record persists the outcome with the same status normalization the
// registry applies to the job itself.
func (sch *Scheduler) record(id int64, status models.JobStatus, runErr error) {
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
		if status == "" || status == models.JobRunning {
			status = models.JobFailed
		}
	}
	if status == "" || status == models.JobRunning {
		status = models.JobCompleted
	}

	// The job context dies with the run; bookkeeping still has to land.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sch.st.CompleteScheduleRun(ctx, id, status, errMsg, time.Now().UTC()); err != nil {
		log.Printf("[scheduler] schedule %d: recording run: %v", id, err)
	}
}

func (sch *Scheduler) sweepSessions(ctx context.Context) {
	deleted, err := sch.st.DeleteExpiredSessions(ctx)
	if err != nil {
		log.Printf("[scheduler] sweeping sessions: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("[scheduler] removed %d expired sessions", deleted)
	}
}
