package sync

import (
	"math"
	"sync"
	"time"
)

// throughputWindow is the span the items-per-second figure averages
// over.
const throughputWindow = 30 * time.Second

type sample struct {
	at time.Time
	n  int
}

// Tracker accumulates processed-item counts and derives throughput
// over a sliding window, so the ETA reflects recent pace rather than
// the whole run.
type Tracker struct {
	mu      sync.Mutex
	total   int
	current int
	samples []sample
	started time.Time
	now     func() time.Time
}

func NewTracker(total int) *Tracker {
	t := &Tracker{total: total, now: time.Now}
	t.started = t.now()
	return t
}

// Add records n more processed items.
func (t *Tracker) Add(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current += n
	t.samples = append(t.samples, sample{at: t.now(), n: n})
	t.prune()
}

// AddTotal grows the expected total, for engines that discover work
// while running.
func (t *Tracker) AddTotal(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total += n
}

func (t *Tracker) prune() {
	cutoff := t.now().Add(-throughputWindow)
	drop := 0
	for drop < len(t.samples) && t.samples[drop].at.Before(cutoff) {
		drop++
	}
	t.samples = t.samples[drop:]
}

func (t *Tracker) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *Tracker) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Rate returns items per second over the sliding window.
func (t *Tracker) Rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune()

	var n int
	for _, s := range t.samples {
		n += s.n
	}
	if n == 0 {
		return 0
	}

	span := t.now().Sub(t.started)
	if span > throughputWindow {
		span = throughputWindow
	}
	if span <= 0 {
		return 0
	}
	return float64(n) / span.Seconds()
}

// ETASeconds estimates time to completion at the current rate. Zero
// when the rate is unknown or the run is done.
func (t *Tracker) ETASeconds() int {
	rate := t.Rate()
	t.mu.Lock()
	remaining := t.total - t.current
	t.mu.Unlock()
	if rate <= 0 || remaining <= 0 {
		return 0
	}
	return int(math.Ceil(float64(remaining) / rate))
}
