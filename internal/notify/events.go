package notify

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"sweeparr/internal/models"
	"sweeparr/internal/store"
	"sweeparr/internal/units"
)

// Events turns job outcomes into channel messages. Dispatch runs on a
// detached context so a slow channel cannot hold up a finishing job;
// Wait drains in-flight sends at shutdown.
type Events struct {
	st *store.Store
	n  *Notifier

	wg sync.WaitGroup
}

func NewEvents(st *store.Store, n *Notifier) *Events {
	return &Events{st: st, n: n}
}

// CascadeFinished reports a finished live cascade. Dry runs stay
// quiet; they are previews.
func (e *Events) CascadeFinished(owner int64, ev *models.SyncEvent, ruleName string) {
	if ev.Source != "live" {
		return
	}

	removed := ev.ItemsProcessed - ev.ItemsFailed
	sev := SeverityInfo
	title := fmt.Sprintf("Cleanup finished: %s", ruleName)
	switch {
	case ev.Status == models.JobFailed:
		sev = SeverityCritical
		title = fmt.Sprintf("Cleanup failed: %s", ruleName)
	case ev.ItemsFailed > 0:
		sev = SeverityWarning
	}

	body := fmt.Sprintf("%d of %d items removed, %s freed", removed, ev.ItemsProcessed, units.FormatBytes(ev.BytesFreed))
	if ev.Error != "" {
		body += "\n" + ev.Error
	}

	fields := []Field{
		{Name: "Removed", Value: strconv.Itoa(removed)},
		{Name: "Failed", Value: strconv.Itoa(ev.ItemsFailed)},
		{Name: "Freed", Value: units.FormatBytes(ev.BytesFreed)},
	}
	if !ev.StartedAt.IsZero() {
		fields = append(fields, Field{Name: "Duration", Value: units.FormatDuration(ev.FinishedAt.Sub(ev.StartedAt))})
	}

	e.dispatch(owner, &Message{
		Event:      "cascade_finished",
		Title:      title,
		Body:       body,
		Severity:   sev,
		Fields:     fields,
		OccurredAt: ev.FinishedAt,
	})
}

// SyncFailed reports a sync job that ended in failure.
func (e *Events) SyncFailed(owner int64, kind models.JobKind, errMsg string) {
	e.dispatch(owner, &Message{
		Event:      "sync_failed",
		Title:      fmt.Sprintf("%s failed", kindLabel(kind)),
		Body:       errMsg,
		Severity:   SeverityWarning,
		OccurredAt: time.Now().UTC(),
	})
}

func kindLabel(kind models.JobKind) string {
	switch kind {
	case models.JobLibrarySync:
		return "Library sync"
	case models.JobHistorySync:
		return "History sync"
	case models.JobCascadeDelete:
		return "Cascade delete"
	}
	return string(kind)
}

func (e *Events) dispatch(owner int64, msg *Message) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		// Detached context: the job that produced this outcome may
		// already be tearing down.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		channels, err := e.st.ListNotificationChannels(ctx, owner, true)
		if err != nil {
			log.Printf("[notify] list channels for user %d: %v", owner, err)
			return
		}
		if len(channels) == 0 {
			return
		}
		if err := e.n.Send(ctx, msg, channels); err != nil {
			log.Printf("[notify] %s: %v", msg.Event, err)
		}
	}()
}

// Wait blocks until in-flight sends complete. Call during shutdown.
func (e *Events) Wait() {
	e.wg.Wait()
}
