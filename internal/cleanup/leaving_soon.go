package cleanup

import (
	"context"
	"errors"
	"log"
	"time"

	"sweeparr/internal/clients"
	"sweeparr/internal/models"
	"sweeparr/internal/plex"
	"sweeparr/internal/store"
)

// ReconcileLeavingSoon updates the rule's display collection on every
// reachable server to hold exactly the rule's current candidates.
// Movies appear as themselves; episode candidates surface their show.
// Sections with no remaining candidates are emptied, not skipped, so a
// collection never shows stale entries after the library recovers.
func (e *Engine) ReconcileLeavingSoon(ctx context.Context, userID int64, rule *models.DeletionRule) (*models.LeavingSoonResult, error) {
	collection := rule.LeavingSoonCollection
	if collection == "" {
		collection = models.DefaultLeavingSoonCollection
	}

	all, _, err := e.st.QueryCandidates(ctx, userID, store.CandidateQuery{Rule: rule, Now: time.Now().UTC()})
	if err != nil {
		return nil, err
	}

	set, err := e.factory.ForOwner(ctx, userID)
	if err != nil {
		return nil, err
	}

	wanted, err := e.displayKeys(ctx, all)
	if err != nil {
		return nil, err
	}

	result := &models.LeavingSoonResult{Collection: collection, Candidates: len(all)}
	for _, sc := range set.Servers {
		srvResult := models.LeavingSoonServer{ServerID: sc.Server.ID, Name: sc.Server.Name}
		added, removed, err := reconcileServer(ctx, sc, collection, wanted[sc.Server.ID])
		srvResult.Added, srvResult.Removed = added, removed
		if err != nil {
			srvResult.Error = err.Error()
		}
		result.Servers = append(result.Servers, srvResult)
	}
	for _, ue := range set.Unreachable {
		result.Servers = append(result.Servers, models.LeavingSoonServer{
			ServerID: ue.Server.ID,
			Name:     ue.Server.Name,
			Error:    ue.Err.Error(),
		})
	}
	return result, nil
}

// displayKeys maps candidates to the rating keys each server's
// collection should hold, grouped by server then section title.
// Episodes collapse to their show row; episodes whose show is not
// mirrored are skipped.
func (e *Engine) displayKeys(ctx context.Context, candidates []models.Candidate) (map[int64]map[string][]string, error) {
	wanted := map[int64]map[string][]string{}
	seen := map[int64]map[string]bool{}

	add := func(serverID int64, section, key string) {
		if seen[serverID] == nil {
			seen[serverID] = map[string]bool{}
			wanted[serverID] = map[string][]string{}
		}
		if seen[serverID][key] {
			return
		}
		seen[serverID][key] = true
		wanted[serverID][section] = append(wanted[serverID][section], key)
	}

	for _, c := range candidates {
		switch c.Item.Kind {
		case models.KindMovie:
			add(c.Item.ServerID, c.Item.LibrarySection, c.Item.ExternalID)
		case models.KindEpisode:
			if c.Item.GrandparentTitle == nil {
				continue
			}
			show, err := e.st.GetShowByTitle(ctx, c.Item.ServerID, *c.Item.GrandparentTitle)
			if errors.Is(err, models.ErrNotFound) {
				log.Printf("[cleanup] show %q not mirrored, skipping collection entry", *c.Item.GrandparentTitle)
				continue
			}
			if err != nil {
				return nil, err
			}
			add(show.ServerID, show.LibrarySection, show.ExternalID)
		}
	}
	return wanted, nil
}

// reconcileServer walks every movie and show section, diffing the
// collection's membership against the wanted keys for that section.
// A nil wanted map still clears existing collections.
func reconcileServer(ctx context.Context, sc *clients.ServerClient, collection string, wanted map[string][]string) (added, removed int, err error) {
	sections, err := sc.Plex.Sections(ctx)
	if err != nil {
		return 0, 0, err
	}

	for _, section := range sections {
		var kind models.MediaKind
		switch section.Type {
		case "movie":
			kind = models.KindMovie
		case "show":
			kind = models.KindShow
		default:
			continue
		}

		a, r, err := reconcileSection(ctx, sc, section, collection, kind, wanted[section.Title])
		added += a
		removed += r
		if err != nil {
			return added, removed, err
		}
	}
	return added, removed, nil
}

func reconcileSection(ctx context.Context, sc *clients.ServerClient, section plex.Section, collection string, kind models.MediaKind, want []string) (added, removed int, err error) {
	key, err := sc.Plex.FindCollection(ctx, section.Key, collection)
	if err != nil {
		return 0, 0, err
	}

	if key == "" {
		if len(want) == 0 {
			return 0, 0, nil
		}
		if _, err := sc.Plex.CreateCollection(ctx, section.Key, collection, kind, sc.Server.MachineID, want); err != nil {
			return 0, 0, err
		}
		return len(want), 0, nil
	}

	current, err := sc.Plex.CollectionItems(ctx, key)
	if err != nil {
		return 0, 0, err
	}

	wantSet := make(map[string]bool, len(want))
	for _, k := range want {
		wantSet[k] = true
	}
	for _, k := range current {
		if wantSet[k] {
			continue
		}
		if err := sc.Plex.RemoveFromCollection(ctx, key, k); err != nil {
			return added, removed, err
		}
		removed++
	}

	currentSet := make(map[string]bool, len(current))
	for _, k := range current {
		currentSet[k] = true
	}
	var missing []string
	for _, k := range want {
		if !currentSet[k] {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		if err := sc.Plex.AddToCollection(ctx, key, sc.Server.MachineID, missing); err != nil {
			return added, removed, err
		}
		added += len(missing)
	}
	return added, removed, nil
}
