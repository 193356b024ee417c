package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"sweeparr/internal/models"
)

// completedLinger is how long a finished job stays readable by pollers
// before eviction.
const completedLinger = 30 * time.Second

// subscriberBuffer bounds how far a slow stream consumer can lag. When
// it fills, the oldest frame is dropped so the latest always lands.
const subscriberBuffer = 16

type FrameKind string

const (
	FrameProgress FrameKind = "progress"
	FrameWarning  FrameKind = "warning"
	FrameStatus   FrameKind = "status"
)

// Frame is one event on a job stream. Progress frames carry the whole
// replaced progress record; status frames are terminal.
type Frame struct {
	Kind     FrameKind        `json:"kind"`
	Progress json.RawMessage  `json:"progress,omitempty"`
	Message  string           `json:"message,omitempty"`
	Status   models.JobStatus `json:"status,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Job is one running or recently finished operation for one owner.
type Job struct {
	Owner   int64
	Kind    models.JobKind
	Trigger models.SyncTrigger

	cancel context.CancelFunc

	mu         sync.Mutex
	status     models.JobStatus
	progress   json.RawMessage
	errMsg     string
	startedAt  time.Time
	finishedAt *time.Time

	subMu       sync.Mutex
	subscribers map[chan Frame]struct{}
}

func newJob(owner int64, kind models.JobKind, trigger models.SyncTrigger, cancel context.CancelFunc) *Job {
	return &Job{
		Owner:       owner,
		Kind:        kind,
		Trigger:     trigger,
		cancel:      cancel,
		status:      models.JobRunning,
		startedAt:   time.Now().UTC(),
		subscribers: make(map[chan Frame]struct{}),
	}
}

// SetProgress replaces the job's progress record and fans the frame out
// to subscribers.
func (j *Job) SetProgress(p any) {
	data, err := json.Marshal(p)
	if err != nil {
		log.Printf("[jobs] marshal progress: %v", err)
		return
	}
	j.mu.Lock()
	j.progress = data
	j.mu.Unlock()
	j.publish(Frame{Kind: FrameProgress, Progress: data})
}

// Warn emits a recoverable-issue frame without touching the progress
// record.
func (j *Job) Warn(msg string) {
	log.Printf("[jobs] %s owner=%d: %s", j.Kind, j.Owner, msg)
	j.publish(Frame{Kind: FrameWarning, Message: msg})
}

// Cancel requests cooperative cancellation. The pipeline observes it at
// its next suspension point.
func (j *Job) Cancel() { j.cancel() }

// Status returns the job's current lifecycle state.
func (j *Job) Status() models.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Snapshot returns the polling view: last progress frame plus
// lifecycle state.
func (j *Job) Snapshot() *models.JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return &models.JobSnapshot{
		Kind:       j.Kind,
		Status:     j.status,
		Trigger:    j.Trigger,
		Progress:   j.progress,
		Error:      j.errMsg,
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
	}
}

// Subscribe registers a stream consumer. A subscriber joining after the
// job finished receives the terminal frame immediately.
func (j *Job) Subscribe() chan Frame {
	ch := make(chan Frame, subscriberBuffer)

	j.subMu.Lock()
	j.subscribers[ch] = struct{}{}
	j.subMu.Unlock()

	// Status read after registration: a job finishing before it would
	// publish the terminal frame to a set that did not yet include ch.
	// A duplicate terminal frame is fine, readers stop at the first.
	j.mu.Lock()
	status, errMsg := j.status, j.errMsg
	j.mu.Unlock()

	if status.Terminal() {
		ch <- Frame{Kind: FrameStatus, Status: status, Error: errMsg}
	}
	return ch
}

func (j *Job) Unsubscribe(ch chan Frame) {
	j.subMu.Lock()
	_, exists := j.subscribers[ch]
	delete(j.subscribers, ch)
	j.subMu.Unlock()
	if exists {
		close(ch)
	}
}

func (j *Job) publish(f Frame) {
	j.subMu.Lock()
	defer j.subMu.Unlock()
	for ch := range j.subscribers {
		select {
		case ch <- f:
		default:
			// Full buffer: evict the oldest frame so the newest wins.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- f:
			default:
			}
		}
	}
}

func (j *Job) finish(status models.JobStatus, errMsg string) {
	now := time.Now().UTC()
	j.mu.Lock()
	j.status = status
	j.errMsg = errMsg
	j.finishedAt = &now
	j.mu.Unlock()
	j.publish(Frame{Kind: FrameStatus, Status: status, Error: errMsg})
}

// RunFunc executes a job and reports its terminal status. Returning an
// empty status maps to completed (or failed when err is non-nil).
type RunFunc func(ctx context.Context, j *Job) (models.JobStatus, error)

type key struct {
	owner int64
	kind  models.JobKind
}

// Registry holds at most one active job per (owner, kind) and keeps
// finished jobs around briefly for pollers.
type Registry struct {
	mu     sync.Mutex
	jobs   map[key]*Job
	linger time.Duration
}

func NewRegistry() *Registry {
	return &Registry{
		jobs:   make(map[key]*Job),
		linger: completedLinger,
	}
}

// exclusiveWith returns the other kind a job must not overlap with.
// Cascade deletes and library syncs mutate the same mirror rows.
func exclusiveWith(kind models.JobKind) (models.JobKind, bool) {
	switch kind {
	case models.JobLibrarySync:
		return models.JobCascadeDelete, true
	case models.JobCascadeDelete:
		return models.JobLibrarySync, true
	}
	return "", false
}

func (r *Registry) active(owner int64, kind models.JobKind) *Job {
	j, ok := r.jobs[key{owner, kind}]
	if !ok || j.Status().Terminal() {
		return nil
	}
	return j
}

// Start launches fn as the owner's job of the given kind. A second
// start of the same kind, or of a mutually exclusive kind, fails with
// ConflictError carrying the running job's snapshot.
func (r *Registry) Start(owner int64, kind models.JobKind, trigger models.SyncTrigger, fn RunFunc) (*Job, error) {
	r.mu.Lock()
	if j := r.active(owner, kind); j != nil {
		r.mu.Unlock()
		return nil, &models.ConflictError{Kind: kind, Snapshot: j.Snapshot()}
	}
	if other, excl := exclusiveWith(kind); excl {
		if j := r.active(owner, other); j != nil {
			r.mu.Unlock()
			return nil, &models.ConflictError{Kind: other, Snapshot: j.Snapshot()}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := newJob(owner, kind, trigger, cancel)
	k := key{owner, kind}
	r.jobs[k] = j
	r.mu.Unlock()

	go r.exec(ctx, k, j, fn)
	return j, nil
}

func (r *Registry) exec(ctx context.Context, k key, j *Job, fn RunFunc) {
	defer j.cancel()
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[jobs] %s owner=%d panicked: %v", j.Kind, j.Owner, p)
			j.finish(models.JobFailed, fmt.Sprintf("internal error: %v", p))
			r.scheduleEvict(k, j)
		}
	}()

	status, err := fn(ctx, j)
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
		if status == "" || status == models.JobRunning {
			status = models.JobFailed
		}
	}
	if status == "" || status == models.JobRunning {
		status = models.JobCompleted
	}
	j.finish(status, errMsg)
	r.scheduleEvict(k, j)
}

func (r *Registry) scheduleEvict(k key, j *Job) {
	time.AfterFunc(r.linger, func() {
		r.mu.Lock()
		if r.jobs[k] == j {
			delete(r.jobs, k)
		}
		r.mu.Unlock()
	})
}

// Get returns the owner's job of the given kind, running or lingering.
func (r *Registry) Get(owner int64, kind models.JobKind) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[key{owner, kind}]
	return j, ok
}

// Running reports whether a non-terminal job of the kind exists for the
// owner.
func (r *Registry) Running(owner int64, kind models.JobKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active(owner, kind) != nil
}

// Cancel signals the owner's running job of the given kind. It reports
// whether a running job was found.
func (r *Registry) Cancel(owner int64, kind models.JobKind) bool {
	r.mu.Lock()
	j := r.active(owner, kind)
	r.mu.Unlock()
	if j == nil {
		return false
	}
	j.Cancel()
	return true
}

// CancelAll signals every running job. Used at shutdown.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if !j.Status().Terminal() {
			j.Cancel()
		}
	}
}
