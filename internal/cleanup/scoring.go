package cleanup

import (
	"context"
	"time"

	"sweeparr/internal/clients"
	"sweeparr/internal/models"
	"sweeparr/internal/store"
)

// safetyPercent is the share of the catalog one selection may remove
// without an explicit force flag.
const safetyPercent = 25

// Engine evaluates deletion rules against the mirror and executes
// confirmed cascades.
type Engine struct {
	st      *store.Store
	factory *clients.Factory
	notify  Notifier
}

// Notifier receives finished-cascade outcomes. Implementations must
// return quickly; delivery happens off the job goroutine.
type Notifier interface {
	CascadeFinished(owner int64, ev *models.SyncEvent, ruleName string)
}

func NewEngine(st *store.Store, factory *clients.Factory) *Engine {
	return &Engine{st: st, factory: factory}
}

func (e *Engine) SetNotifier(n Notifier) {
	e.notify = n
}

// PreviewOptions narrow a preview evaluation. Limit trims the returned
// page; totals always cover the full set up to the cap.
type PreviewOptions struct {
	Limit        int
	GroupShows   bool
	KindFilter   models.MediaKind
	MinSizeBytes int64
}

// Preview ranks the rule's candidates with the evidence the admin
// reviews: days idle, reason, and size-weighted score. The safety flag
// reflects the whole candidate set, not just the returned page.
func (e *Engine) Preview(ctx context.Context, userID int64, rule *models.DeletionRule, opts PreviewOptions) (*models.CandidatePreview, error) {
	now := time.Now().UTC()

	all, capped, err := e.st.QueryCandidates(ctx, userID, store.CandidateQuery{
		Rule:         rule,
		Now:          now,
		KindFilter:   opts.KindFilter,
		MinSizeBytes: opts.MinSizeBytes,
	})
	if err != nil {
		return nil, err
	}

	var totalBytes int64
	for _, c := range all {
		totalBytes += c.Item.FileSizeBytes
	}

	catalog, err := e.st.CountMediaItems(ctx, userID)
	if err != nil {
		return nil, err
	}

	page := all
	if opts.Limit > 0 && opts.Limit < len(all) {
		page = all[:opts.Limit]
	}

	preview := &models.CandidatePreview{
		RuleID:        rule.ID,
		Candidates:    page,
		Total:         len(all),
		TotalBytes:    totalBytes,
		CatalogItems:  catalog,
		Capped:        capped,
		RequiresForce: exceedsSafety(len(all), catalog),
		ComputedAt:    now,
	}

	if rule.SelectShows || opts.GroupShows {
		shows, err := e.st.ShowCandidates(ctx, userID, store.CandidateQuery{Rule: rule, Now: now, MinSizeBytes: opts.MinSizeBytes})
		if err != nil {
			return nil, err
		}
		preview.Shows = shows
	}
	return preview, nil
}

// exceedsSafety reports whether removing n of total catalog items
// crosses the force threshold.
func exceedsSafety(n, total int) bool {
	if total == 0 {
		return false
	}
	return n*100 > total*safetyPercent
}
