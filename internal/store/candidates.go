package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"sweeparr/internal/models"
)

// DefaultMaxCandidates caps the candidate set a single evaluation may
// return.
const DefaultMaxCandidates = 10000

// CandidateQuery evaluates one rule against the mirror at a fixed
// instant.
type CandidateQuery struct {
	Rule          *models.DeletionRule
	Now           time.Time
	Limit         int              // preview page size; 0 means up to the cap
	KindFilter    models.MediaKind // optional
	MinSizeBytes  int64            // optional
	MaxCandidates int              // 0 means DefaultMaxCandidates
}

func (q *CandidateQuery) max() int {
	if q.MaxCandidates > 0 {
		return q.MaxCandidates
	}
	return DefaultMaxCandidates
}

// QueryCandidates returns the ranked candidate set for a rule: largest
// files first, then longest unwatched, then title. Rows the SQL
// predicate admits are still subject to the rule's genre and collection
// exclusions, which live in JSON columns and are filtered here. The
// scan stops once one row past the cap has been collected, so capped
// detection is exact without walking the whole table.
func (s *Store) QueryCandidates(ctx context.Context, userID int64, q CandidateQuery) ([]models.Candidate, bool, error) {
	rule := q.Rule
	graceCutoff := q.Now.Add(-time.Duration(rule.GracePeriodDays) * 24 * time.Hour)
	watchCutoff := q.Now.Add(-time.Duration(rule.InactivityThresholdDays) * 24 * time.Hour)

	var sb strings.Builder
	sb.WriteString(`SELECT ` + prefixColumns("m", mediaItemColumns) + `
		FROM media_items m
		JOIN servers s ON s.id = m.server_id
		WHERE s.user_id = ?`)
	args := []any{userID}

	if rule.RuleType == models.RuleBrokenFiles {
		sb.WriteString(` AND m.accessible = 0`)
	} else {
		sb.WriteString(` AND m.accessible IS NOT 0`)
	}

	sb.WriteString(` AND m.added_at IS NOT NULL AND m.added_at <= ?`)
	args = append(args, graceCutoff)
	sb.WriteString(` AND COALESCE(m.last_watched_at, m.added_at) <= ?`)
	args = append(args, watchCutoff)

	if rule.MinRating != nil {
		sb.WriteString(` AND (m.rating IS NULL OR m.rating < ?)`)
		args = append(args, *rule.MinRating)
	}
	if len(rule.ExcludedKinds) > 0 {
		sb.WriteString(` AND m.kind NOT IN (?` + strings.Repeat(",?", len(rule.ExcludedKinds)-1) + `)`)
		for _, k := range rule.ExcludedKinds {
			args = append(args, k)
		}
	}
	if len(rule.ExcludedLibraries) > 0 {
		sb.WriteString(` AND m.library_section NOT IN (?` + strings.Repeat(",?", len(rule.ExcludedLibraries)-1) + `)`)
		for _, l := range rule.ExcludedLibraries {
			args = append(args, l)
		}
	}
	if q.KindFilter != "" {
		sb.WriteString(` AND m.kind = ?`)
		args = append(args, q.KindFilter)
	}
	if q.MinSizeBytes > 0 {
		sb.WriteString(` AND m.file_size_bytes >= ?`)
		args = append(args, q.MinSizeBytes)
	}

	sb.WriteString(` ORDER BY m.file_size_bytes DESC, COALESCE(m.last_watched_at, m.added_at) ASC, m.title ASC`)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, false, fmt.Errorf("querying candidates: %w", err)
	}
	defer rows.Close()

	want := q.max()
	if q.Limit > 0 && q.Limit < want {
		want = q.Limit
	}

	var (
		candidates []models.Candidate
		capped     bool
	)
	for rows.Next() {
		m, err := scanMediaItem(rows)
		if err != nil {
			return nil, false, err
		}
		if overlaps(m.Genres, rule.ExcludedGenres) || overlaps(m.Collections, rule.ExcludedCollections) {
			continue
		}
		if len(candidates) == want {
			capped = true
			break
		}
		candidates = append(candidates, CandidateEvidence(m, rule, q.Now))
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return candidates, capped, nil
}

// CandidateEvidence derives the review fields for one mirror row: days
// idle, human-readable reason, and the staleness-weighted score. The
// cascade reuses it so audit rows carry the same evidence the admin
// approved.
func CandidateEvidence(m models.MediaItem, rule *models.DeletionRule, now time.Time) models.Candidate {
	sinceAdded := 0
	if m.AddedAt != nil {
		sinceAdded = int(now.Sub(*m.AddedAt).Hours() / 24)
	}
	lastActivity := m.AddedAt
	if m.LastWatchedAt != nil {
		lastActivity = m.LastWatchedAt
	}
	sinceWatched := 0
	if lastActivity != nil {
		sinceWatched = int(now.Sub(*lastActivity).Hours() / 24)
	}

	reason := fmt.Sprintf("unwatched for %d days", sinceWatched)
	if rule.RuleType == models.RuleBrokenFiles {
		reason = "file is no longer accessible"
	} else if m.LastWatchedAt == nil {
		reason = fmt.Sprintf("never watched in %d days since added", sinceAdded)
	}

	// Staleness-weighted size: a year unwatched doubles the weight.
	score := float64(m.FileSizeBytes) * (1 + float64(sinceWatched)/365)

	return models.Candidate{
		Item:             m,
		DaysSinceAdded:   sinceAdded,
		DaysSinceWatched: sinceWatched,
		Reason:           reason,
		Score:            score,
	}
}

func overlaps(have, excluded []string) bool {
	if len(have) == 0 || len(excluded) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(excluded))
	for _, e := range excluded {
		set[strings.ToLower(e)] = struct{}{}
	}
	for _, h := range have {
		if _, ok := set[strings.ToLower(h)]; ok {
			return true
		}
	}
	return false
}

// ShowCandidates aggregates the episode candidate rows of a rule by
// show. The admin reviews shows; execution expands each show back into
// its episode candidates.
func (s *Store) ShowCandidates(ctx context.Context, userID int64, q CandidateQuery) ([]models.ShowCandidate, error) {
	episodes, _, err := s.QueryCandidates(ctx, userID, CandidateQuery{
		Rule:          q.Rule,
		Now:           q.Now,
		KindFilter:    models.KindEpisode,
		MinSizeBytes:  q.MinSizeBytes,
		MaxCandidates: q.max(),
	})
	if err != nil {
		return nil, err
	}

	order := []string{}
	byShow := map[string]*models.ShowCandidate{}
	for _, c := range episodes {
		if c.Item.GrandparentTitle == nil {
			continue
		}
		title := *c.Item.GrandparentTitle
		sc, ok := byShow[title]
		if !ok {
			sc = &models.ShowCandidate{GrandparentTitle: title}
			byShow[title] = sc
			order = append(order, title)
		}
		sc.Episodes++
		sc.TotalBytes += c.Item.FileSizeBytes
		sc.EpisodeIDs = append(sc.EpisodeIDs, c.Item.ID)
		if c.Item.TotalPlayCount != nil {
			sc.TotalPlayCount += *c.Item.TotalPlayCount
		}
		if c.Item.LastWatchedAt != nil {
			if sc.LastWatchedAt == nil || c.Item.LastWatchedAt.After(*sc.LastWatchedAt) {
				sc.LastWatchedAt = c.Item.LastWatchedAt
			}
		}
	}

	shows := make([]models.ShowCandidate, 0, len(order))
	for _, title := range order {
		shows = append(shows, *byShow[title])
	}
	// Largest shows first, mirroring the episode ordering.
	sort.Slice(shows, func(i, j int) bool {
		if shows[i].TotalBytes != shows[j].TotalBytes {
			return shows[i].TotalBytes > shows[j].TotalBytes
		}
		return shows[i].GrandparentTitle < shows[j].GrandparentTitle
	})
	return shows, nil
}
