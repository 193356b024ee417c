package models

import (
	"errors"
	"fmt"
	"time"
)

// RuleType selects what a deletion rule targets.
type RuleType string

const (
	// RuleUnwatched targets accessible items past their grace and
	// inactivity thresholds.
	RuleUnwatched RuleType = "unwatched"
	// RuleBrokenFiles targets items whose files went missing.
	RuleBrokenFiles RuleType = "broken_files"
)

func (rt RuleType) Valid() bool {
	return rt == RuleUnwatched || rt == RuleBrokenFiles
}

// DeletionRule is an administrator cleanup policy.
type DeletionRule struct {
	ID                      int64      `json:"id"`
	UserID                  int64      `json:"user_id"`
	Name                    string     `json:"name"`
	Enabled                 bool       `json:"enabled"`
	DryRunMode              bool       `json:"dry_run_mode"`
	RuleType                RuleType   `json:"rule_type"`
	SelectShows             bool       `json:"select_shows"`
	GracePeriodDays         int        `json:"grace_period_days"`
	InactivityThresholdDays int        `json:"inactivity_threshold_days"`
	MinRating               *float64   `json:"min_rating,omitempty"`
	ExcludedKinds           []string   `json:"excluded_kinds,omitempty"`
	ExcludedLibraries       []string   `json:"excluded_libraries,omitempty"`
	ExcludedGenres          []string   `json:"excluded_genres,omitempty"`
	ExcludedCollections     []string   `json:"excluded_collections,omitempty"`
	LeavingSoonCollection   string     `json:"leaving_soon_collection,omitempty"`
	CreatedBy               string     `json:"created_by,omitempty"`
	LastRunAt               *time.Time `json:"last_run_at,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

func (r *DeletionRule) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	if len(r.Name) > 255 {
		return errors.New("name must be 255 characters or less")
	}
	if !r.RuleType.Valid() {
		return errors.New("rule_type must be unwatched or broken_files")
	}
	if r.GracePeriodDays < 0 {
		return errors.New("grace_period_days must be non-negative")
	}
	if r.InactivityThresholdDays < 0 {
		return errors.New("inactivity_threshold_days must be non-negative")
	}
	if r.MinRating != nil && (*r.MinRating < 0 || *r.MinRating > 10) {
		return errors.New("min_rating must be between 0 and 10")
	}
	for _, k := range r.ExcludedKinds {
		if !MediaKind(k).Valid() {
			return fmt.Errorf("excluded kind %q is not a media kind", k)
		}
	}
	return nil
}

// Candidate is a mirror row proposed for deletion, with the evidence
// the administrator reviews.
type Candidate struct {
	Item             MediaItem `json:"item"`
	DaysSinceAdded   int       `json:"days_since_added"`
	DaysSinceWatched int       `json:"days_since_watched"`
	Reason           string    `json:"reason"`
	Score            float64   `json:"score"`
}

// ShowCandidate aggregates episode candidates by show.
type ShowCandidate struct {
	GrandparentTitle string     `json:"grandparent_title"`
	Episodes         int        `json:"episodes"`
	TotalBytes       int64      `json:"total_bytes"`
	LastWatchedAt    *time.Time `json:"last_watched_at,omitempty"`
	TotalPlayCount   int        `json:"total_play_count"`
	EpisodeIDs       []int64    `json:"episode_ids"`
}

// CandidatePreview is the ranked result of evaluating a rule.
type CandidatePreview struct {
	RuleID        int64           `json:"rule_id"`
	Candidates    []Candidate     `json:"candidates"`
	Shows         []ShowCandidate `json:"shows,omitempty"`
	Total         int             `json:"total"`
	TotalBytes    int64           `json:"total_bytes"`
	CatalogItems  int             `json:"catalog_items"`
	Capped        bool            `json:"capped"`
	RequiresForce bool            `json:"requires_force"`
	ComputedAt    time.Time       `json:"computed_at"`
}

// CascadeRequest starts a cascade over a confirmed selection.
type CascadeRequest struct {
	RuleID       int64   `json:"rule_id"`
	CandidateIDs []int64 `json:"candidate_ids"`
	DryRun       bool    `json:"dry_run"`
	ConfirmToken string  `json:"confirm_token,omitempty"`
	Force        bool    `json:"force,omitempty"`
}

// ConfirmTokenFor is the typed confirmation a live cascade requires.
func ConfirmTokenFor(n int) string {
	return fmt.Sprintf("DELETE %d ITEMS", n)
}

func (cr *CascadeRequest) Validate() error {
	if cr.RuleID == 0 {
		return errors.New("rule_id is required")
	}
	if len(cr.CandidateIDs) == 0 {
		return errors.New("candidate_ids is required")
	}
	if !cr.DryRun && cr.ConfirmToken != ConfirmTokenFor(len(cr.CandidateIDs)) {
		return errors.New("confirm_token does not match selection")
	}
	return nil
}

// DefaultLeavingSoonCollection is used when a rule does not name its
// own display collection.
const DefaultLeavingSoonCollection = "Leaving Soon"

// LeavingSoonResult summarizes a collection reconcile across the
// owner's servers.
type LeavingSoonResult struct {
	Collection string              `json:"collection"`
	Candidates int                 `json:"candidates"`
	Servers    []LeavingSoonServer `json:"servers"`
}

// LeavingSoonServer is the per-server outcome. Added and Removed count
// collection memberships changed; Error is set when the server was
// unreachable or rejected the updates.
type LeavingSoonServer struct {
	ServerID int64  `json:"server_id"`
	Name     string `json:"name"`
	Added    int    `json:"added"`
	Removed  int    `json:"removed"`
	Error    string `json:"error,omitempty"`
}

type DeletionStatus string

const (
	DeletionPending   DeletionStatus = "pending"
	DeletionCompleted DeletionStatus = "completed"
	DeletionPartial   DeletionStatus = "partial"
	DeletionFailed    DeletionStatus = "failed"
)

// DeletionEvent is the immutable audit row for one processed
// candidate. It snapshots the item and outlives the mirror row, so it
// carries no foreign key to media_items.
type DeletionEvent struct {
	ID            int64          `json:"id"`
	UserID        int64          `json:"user_id"`
	ServerID      int64          `json:"server_id"`
	RuleID        int64          `json:"rule_id"`
	ExternalID    string         `json:"external_id"`
	Title         string         `json:"title"`
	Kind          MediaKind      `json:"kind"`
	FilePath      string         `json:"file_path,omitempty"`
	FileSizeBytes int64          `json:"file_size_bytes"`
	Reason        string         `json:"reason,omitempty"`
	Score         float64        `json:"score,omitempty"`
	DryRun        bool           `json:"dry_run"`
	Status        DeletionStatus `json:"status"`
	Actor         string         `json:"actor,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`

	DeletedFromServer      bool       `json:"deleted_from_server"`
	DeletedFromServerAt    *time.Time `json:"deleted_from_server_at,omitempty"`
	DeletedFromSonarr      bool       `json:"deleted_from_sonarr"`
	DeletedFromSonarrAt    *time.Time `json:"deleted_from_sonarr_at,omitempty"`
	DeletedFromRadarr      bool       `json:"deleted_from_radarr"`
	DeletedFromRadarrAt    *time.Time `json:"deleted_from_radarr_at,omitempty"`
	DeletedFromOverseerr   bool       `json:"deleted_from_overseerr"`
	DeletedFromOverseerrAt *time.Time `json:"deleted_from_overseerr_at,omitempty"`

	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
