package events

import (
	stdsync "sync"
	"time"

	"sweeparr/internal/models"
)

// DebounceDelay is the quiet window between the last change signal
// and the job start it triggers.
const DebounceDelay = 30 * time.Second

// StartFunc launches the debounced job. Conflicts with an already
// running job are the callee's problem; the debouncer only decides
// when to ask.
type StartFunc func(owner int64, kind models.JobKind)

type debKey struct {
	owner int64
	kind  models.JobKind
}

// Debouncer coalesces change signals into one job start per
// (owner, kind). The first signal arms a timer; each further signal
// inside the window resets it, so the start fires one quiet window
// after the last event. A webhook burst from a season grab becomes a
// single sync.
type Debouncer struct {
	delay time.Duration
	start StartFunc

	mu      stdsync.Mutex
	pending map[debKey]*time.Timer
	stopped bool
}

func NewDebouncer(delay time.Duration, start StartFunc) *Debouncer {
	return &Debouncer{delay: delay, start: start, pending: map[debKey]*time.Timer{}}
}

// Signal notes a change for the owner. Safe from any goroutine.
func (d *Debouncer) Signal(owner int64, kind models.JobKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	k := debKey{owner: owner, kind: kind}
	if timer, armed := d.pending[k]; armed {
		timer.Reset(d.delay)
		return
	}
	d.pending[k] = time.AfterFunc(d.delay, func() { d.fire(k) })
}

func (d *Debouncer) fire(k debKey) {
	d.mu.Lock()
	delete(d.pending, k)
	stopped := d.stopped
	d.mu.Unlock()
	if !stopped {
		d.start(k.owner, k.kind)
	}
}

// Stop drops pending timers and ignores further signals.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for k, timer := range d.pending {
		timer.Stop()
		delete(d.pending, k)
	}
}
