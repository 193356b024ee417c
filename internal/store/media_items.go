package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"sweeparr/internal/models"
)

const mediaItemColumns = `id, server_id, external_id, kind, title, sort_title, year, runtime_seconds, rating,
	tmdb_id, tvdb_id, imdb_id, sonarr_series_id, radarr_movie_id,
	library_section, grandparent_title, parent_title, season_number, episode_number,
	video_resolution, video_codec, audio_codec, container, bitrate_kbps,
	file_path, file_size_bytes, accessible, genres, collections,
	total_play_count, complete_play_count, partial_play_count, avg_percent_complete, last_watched_at, total_watch_time_seconds,
	added_at, updated_at, history_synced_at, created_at`

func scanMediaItem(scanner interface{ Scan(...any) error }) (models.MediaItem, error) {
	var (
		m          models.MediaItem
		sortTitle  sql.NullString
		year       sql.NullInt64
		runtime    sql.NullInt64
		rating     sql.NullFloat64
		tmdbID     sql.NullInt64
		tvdbID     sql.NullInt64
		imdbID     sql.NullString
		sonarrID   sql.NullInt64
		radarrID   sql.NullInt64
		gpTitle    sql.NullString
		pTitle     sql.NullString
		seasonNum  sql.NullInt64
		episodeNum sql.NullInt64
		vRes       sql.NullString
		vCodec     sql.NullString
		aCodec     sql.NullString
		container  sql.NullString
		bitrate    sql.NullInt64
		filePath   sql.NullString
		accessible sql.NullBool
		genres     sql.NullString
		colls      sql.NullString
		totalPlays sql.NullInt64
		fullPlays  sql.NullInt64
		partPlays  sql.NullInt64
		avgPct     sql.NullFloat64
		watchedAt  sql.NullTime
		watchSecs  sql.NullInt64
		addedAt    sql.NullTime
		histAt     sql.NullTime
	)

	err := scanner.Scan(&m.ID, &m.ServerID, &m.ExternalID, &m.Kind, &m.Title, &sortTitle, &year, &runtime, &rating,
		&tmdbID, &tvdbID, &imdbID, &sonarrID, &radarrID,
		&m.LibrarySection, &gpTitle, &pTitle, &seasonNum, &episodeNum,
		&vRes, &vCodec, &aCodec, &container, &bitrate,
		&filePath, &m.FileSizeBytes, &accessible, &genres, &colls,
		&totalPlays, &fullPlays, &partPlays, &avgPct, &watchedAt, &watchSecs,
		&addedAt, &m.UpdatedAt, &histAt, &m.CreatedAt)
	if err != nil {
		return m, err
	}

	if sortTitle.Valid {
		m.SortTitle = sortTitle.String
	}
	m.Year = intPtr(year)
	m.RuntimeSec = int64Ptr(runtime)
	m.Rating = floatPtr(rating)
	m.TMDBID = int64Ptr(tmdbID)
	m.TVDBID = int64Ptr(tvdbID)
	m.IMDBID = strPtr(imdbID)
	m.SonarrSeriesID = int64Ptr(sonarrID)
	m.RadarrMovieID = int64Ptr(radarrID)
	m.GrandparentTitle = strPtr(gpTitle)
	m.ParentTitle = strPtr(pTitle)
	m.SeasonNumber = intPtr(seasonNum)
	m.EpisodeNumber = intPtr(episodeNum)
	m.VideoResolution = strPtr(vRes)
	m.VideoCodec = strPtr(vCodec)
	m.AudioCodec = strPtr(aCodec)
	m.Container = strPtr(container)
	m.BitrateKbps = int64Ptr(bitrate)
	m.FilePath = strPtr(filePath)
	m.Accessible = boolPtr(accessible)
	m.Genres = decodeStrings(genres)
	m.Collections = decodeStrings(colls)
	m.TotalPlayCount = intPtr(totalPlays)
	m.CompletePlayCount = intPtr(fullPlays)
	m.PartialPlayCount = intPtr(partPlays)
	m.AvgPercentComplete = floatPtr(avgPct)
	m.LastWatchedAt = timePtr(watchedAt)
	m.TotalWatchTimeSeconds = int64Ptr(watchSecs)
	m.AddedAt = timePtr(addedAt)
	m.HistorySyncedAt = timePtr(histAt)
	return m, nil
}

// mergeCatalog applies a catalog patch to an existing row in place and
// reports whether anything changed. Quality and hierarchy fields are
// authoritative and overwrite; identity and provenance fields are
// preserved when the patch leaves them nil. Engagement fields are never
// touched here.
func mergeCatalog(m *models.MediaItem, p *models.MediaItemPatch) bool {
	changed := false

	set := func(cond bool, apply func()) {
		if cond {
			apply()
			changed = true
		}
	}

	set(m.Kind != p.Kind, func() { m.Kind = p.Kind })
	set(p.Title != "" && m.Title != p.Title, func() { m.Title = p.Title })
	set(p.SortTitle != nil && m.SortTitle != *p.SortTitle, func() { m.SortTitle = *p.SortTitle })
	set(p.LibrarySection != "" && m.LibrarySection != p.LibrarySection, func() { m.LibrarySection = p.LibrarySection })

	set(p.Year != nil && !eqPtr(m.Year, p.Year), func() { m.Year = p.Year })
	set(p.RuntimeSec != nil && !eqPtr(m.RuntimeSec, p.RuntimeSec), func() { m.RuntimeSec = p.RuntimeSec })
	set(p.Rating != nil && !eqPtr(m.Rating, p.Rating), func() { m.Rating = p.Rating })
	set(p.TMDBID != nil && !eqPtr(m.TMDBID, p.TMDBID), func() { m.TMDBID = p.TMDBID })
	set(p.TVDBID != nil && !eqPtr(m.TVDBID, p.TVDBID), func() { m.TVDBID = p.TVDBID })
	set(p.IMDBID != nil && !eqPtr(m.IMDBID, p.IMDBID), func() { m.IMDBID = p.IMDBID })
	set(p.SonarrSeriesID != nil && !eqPtr(m.SonarrSeriesID, p.SonarrSeriesID), func() { m.SonarrSeriesID = p.SonarrSeriesID })
	set(p.RadarrMovieID != nil && !eqPtr(m.RadarrMovieID, p.RadarrMovieID), func() { m.RadarrMovieID = p.RadarrMovieID })
	set(p.AddedAt != nil && !eqTimePtr(m.AddedAt, p.AddedAt), func() { m.AddedAt = p.AddedAt })

	// Hierarchy: overwrite wholesale for episode patches.
	if p.Kind == models.KindEpisode {
		set(!eqPtr(m.GrandparentTitle, p.GrandparentTitle), func() { m.GrandparentTitle = p.GrandparentTitle })
		set(!eqPtr(m.ParentTitle, p.ParentTitle), func() { m.ParentTitle = p.ParentTitle })
		set(!eqPtr(m.SeasonNumber, p.SeasonNumber), func() { m.SeasonNumber = p.SeasonNumber })
		set(!eqPtr(m.EpisodeNumber, p.EpisodeNumber), func() { m.EpisodeNumber = p.EpisodeNumber })
	}

	// Quality: the sync is authoritative for leaf items, including
	// clearing values the server no longer reports.
	if p.Kind.Leaf() {
		set(!eqPtr(m.VideoResolution, p.VideoResolution), func() { m.VideoResolution = p.VideoResolution })
		set(!eqPtr(m.VideoCodec, p.VideoCodec), func() { m.VideoCodec = p.VideoCodec })
		set(!eqPtr(m.AudioCodec, p.AudioCodec), func() { m.AudioCodec = p.AudioCodec })
		set(!eqPtr(m.Container, p.Container), func() { m.Container = p.Container })
		set(!eqPtr(m.BitrateKbps, p.BitrateKbps), func() { m.BitrateKbps = p.BitrateKbps })
	}

	set(p.FilePath != nil && !eqPtr(m.FilePath, p.FilePath), func() { m.FilePath = p.FilePath })
	set(p.FileSizeBytes != nil && m.FileSizeBytes != *p.FileSizeBytes, func() { m.FileSizeBytes = *p.FileSizeBytes })
	set(p.Accessible != nil && !eqPtr(m.Accessible, p.Accessible), func() { m.Accessible = p.Accessible })
	set(p.Genres != nil && !eqStrings(m.Genres, p.Genres), func() { m.Genres = p.Genres })
	set(p.Collections != nil && !eqStrings(m.Collections, p.Collections), func() { m.Collections = p.Collections })

	return changed
}

type txStmts struct {
	selectByExternal *sql.Stmt
	insert           *sql.Stmt
	update           *sql.Stmt
}

func prepareItemStmts(ctx context.Context, tx *sql.Tx) (*txStmts, error) {
	sel, err := tx.PrepareContext(ctx,
		`SELECT `+mediaItemColumns+` FROM media_items WHERE server_id = ? AND external_id = ?`)
	if err != nil {
		return nil, fmt.Errorf("prepare select: %w", err)
	}
	ins, err := tx.PrepareContext(ctx, `
		INSERT INTO media_items (server_id, external_id, kind, title, sort_title, year, runtime_seconds, rating,
			tmdb_id, tvdb_id, imdb_id, sonarr_series_id, radarr_movie_id,
			library_section, grandparent_title, parent_title, season_number, episode_number,
			video_resolution, video_codec, audio_codec, container, bitrate_kbps,
			file_path, file_size_bytes, accessible, genres, collections, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		sel.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	upd, err := tx.PrepareContext(ctx, `
		UPDATE media_items SET kind = ?, title = ?, sort_title = ?, year = ?, runtime_seconds = ?, rating = ?,
			tmdb_id = ?, tvdb_id = ?, imdb_id = ?, sonarr_series_id = ?, radarr_movie_id = ?,
			library_section = ?, grandparent_title = ?, parent_title = ?, season_number = ?, episode_number = ?,
			video_resolution = ?, video_codec = ?, audio_codec = ?, container = ?, bitrate_kbps = ?,
			file_path = ?, file_size_bytes = ?, accessible = ?, genres = ?, collections = ?, added_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`)
	if err != nil {
		sel.Close()
		ins.Close()
		return nil, fmt.Errorf("prepare update: %w", err)
	}
	return &txStmts{selectByExternal: sel, insert: ins, update: upd}, nil
}

func (st *txStmts) Close() {
	st.selectByExternal.Close()
	st.insert.Close()
	st.update.Close()
}

func insertArgs(serverID int64, m *models.MediaItem) []any {
	return []any{serverID, m.ExternalID, m.Kind, m.Title, m.SortTitle, intVal(m.Year), m.RuntimeSec, m.Rating,
		m.TMDBID, m.TVDBID, m.IMDBID, m.SonarrSeriesID, m.RadarrMovieID,
		m.LibrarySection, m.GrandparentTitle, m.ParentTitle, intVal(m.SeasonNumber), intVal(m.EpisodeNumber),
		m.VideoResolution, m.VideoCodec, m.AudioCodec, m.Container, m.BitrateKbps,
		m.FilePath, m.FileSizeBytes, m.Accessible, encodeStrings(m.Genres), encodeStrings(m.Collections), m.AddedAt}
}

func itemFromPatch(p *models.MediaItemPatch) models.MediaItem {
	m := models.MediaItem{
		ExternalID:       p.ExternalID,
		Kind:             p.Kind,
		Title:            p.Title,
		LibrarySection:   p.LibrarySection,
		Year:             p.Year,
		RuntimeSec:       p.RuntimeSec,
		Rating:           p.Rating,
		TMDBID:           p.TMDBID,
		TVDBID:           p.TVDBID,
		IMDBID:           p.IMDBID,
		SonarrSeriesID:   p.SonarrSeriesID,
		RadarrMovieID:    p.RadarrMovieID,
		GrandparentTitle: p.GrandparentTitle,
		ParentTitle:      p.ParentTitle,
		SeasonNumber:     p.SeasonNumber,
		EpisodeNumber:    p.EpisodeNumber,
		VideoResolution:  p.VideoResolution,
		VideoCodec:       p.VideoCodec,
		AudioCodec:       p.AudioCodec,
		Container:        p.Container,
		BitrateKbps:      p.BitrateKbps,
		FilePath:         p.FilePath,
		Accessible:       p.Accessible,
		Genres:           p.Genres,
		Collections:      p.Collections,
		AddedAt:          p.AddedAt,
	}
	if p.SortTitle != nil {
		m.SortTitle = *p.SortTitle
	}
	if p.FileSizeBytes != nil {
		m.FileSizeBytes = *p.FileSizeBytes
	}
	return m
}

// UpsertMediaItem merges one catalog patch. It returns whether the row
// was created and whether anything was written; an unchanged row is
// left untouched so repeated syncs are no-ops. Episode patches without
// full hierarchy are rejected with an IntegrityError.
func (s *Store) UpsertMediaItem(ctx context.Context, serverID int64, patch *models.MediaItemPatch) (created, changed bool, err error) {
	if !patch.HierarchyComplete() {
		return false, false, &models.IntegrityError{
			Reason: fmt.Sprintf("episode %q is missing show, season, or episode number", patch.Title),
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmts, err := prepareItemStmts(ctx, tx)
	if err != nil {
		return false, false, err
	}
	defer stmts.Close()

	created, changed, err = upsertOne(ctx, stmts, serverID, patch)
	if err != nil {
		return false, false, err
	}
	return created, changed, tx.Commit()
}

func upsertOne(ctx context.Context, stmts *txStmts, serverID int64, patch *models.MediaItemPatch) (created, changed bool, err error) {
	existing, err := scanMediaItem(stmts.selectByExternal.QueryRowContext(ctx, serverID, patch.ExternalID))
	if errors.Is(err, sql.ErrNoRows) {
		row := itemFromPatch(patch)
		if _, err := stmts.insert.ExecContext(ctx, insertArgs(serverID, &row)...); err != nil {
			return false, false, fmt.Errorf("insert item %s: %w", patch.ExternalID, err)
		}
		return true, true, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("read item %s: %w", patch.ExternalID, err)
	}

	if !mergeCatalog(&existing, patch) {
		return false, false, nil
	}

	args := []any{existing.Kind, existing.Title, existing.SortTitle, intVal(existing.Year), existing.RuntimeSec, existing.Rating,
		existing.TMDBID, existing.TVDBID, existing.IMDBID, existing.SonarrSeriesID, existing.RadarrMovieID,
		existing.LibrarySection, existing.GrandparentTitle, existing.ParentTitle, intVal(existing.SeasonNumber), intVal(existing.EpisodeNumber),
		existing.VideoResolution, existing.VideoCodec, existing.AudioCodec, existing.Container, existing.BitrateKbps,
		existing.FilePath, existing.FileSizeBytes, existing.Accessible, encodeStrings(existing.Genres), encodeStrings(existing.Collections), existing.AddedAt,
		existing.ID}
	if _, err := stmts.update.ExecContext(ctx, args...); err != nil {
		return false, false, fmt.Errorf("update item %s: %w", patch.ExternalID, err)
	}
	return false, true, nil
}

// BatchStats accumulates the outcome of batched catalog writes.
type BatchStats struct {
	Created   int
	Updated   int
	Unchanged int
	Failed    int
}

func (b *BatchStats) add(o BatchStats) {
	b.Created += o.Created
	b.Updated += o.Updated
	b.Unchanged += o.Unchanged
	b.Failed += o.Failed
}

const (
	batchSize        = 500
	batchRetryFirst  = 1 * time.Second
	batchRetrySecond = 4 * time.Second
)

// BatchUpsertMediaItems merges catalog patches in 500-row transactional
// chunks. A chunk that fails is retried twice with backoff; if it still
// fails its rows are counted as failed and the batch continues. Per-row
// integrity rejections never fail the chunk. onChunk, if set, runs
// after every chunk with its stats and any exhausted-retry error, so
// the sync can surface a warning. Only cancellation aborts the batch.
func (s *Store) BatchUpsertMediaItems(ctx context.Context, serverID int64, patches []*models.MediaItemPatch, onChunk func(BatchStats, error)) (BatchStats, error) {
	var total BatchStats

	for start := 0; start < len(patches); start += batchSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		end := start + batchSize
		if end > len(patches) {
			end = len(patches)
		}
		chunk := patches[start:end]

		stats, err := s.upsertChunkWithRetry(ctx, serverID, chunk)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return total, err
			}
			stats = BatchStats{Failed: len(chunk)}
		}
		total.add(stats)
		if onChunk != nil {
			onChunk(stats, err)
		}
	}
	return total, nil
}

func (s *Store) upsertChunkWithRetry(ctx context.Context, serverID int64, chunk []*models.MediaItemPatch) (BatchStats, error) {
	var lastErr error
	for _, delay := range []time.Duration{0, batchRetryFirst, batchRetrySecond} {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return BatchStats{}, ctx.Err()
			}
		}
		stats, err := s.upsertChunk(ctx, serverID, chunk)
		if err == nil {
			return stats, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return BatchStats{}, err
		}
		lastErr = err
	}
	return BatchStats{}, fmt.Errorf("batch of %d items failed after retries: %w", len(chunk), lastErr)
}

func (s *Store) upsertChunk(ctx context.Context, serverID int64, chunk []*models.MediaItemPatch) (BatchStats, error) {
	var stats BatchStats

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmts, err := prepareItemStmts(ctx, tx)
	if err != nil {
		return stats, err
	}
	defer stmts.Close()

	for _, patch := range chunk {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if !patch.HierarchyComplete() {
			stats.Failed++
			continue
		}
		created, changed, err := upsertOne(ctx, stmts, serverID, patch)
		if err != nil {
			return stats, err
		}
		switch {
		case created:
			stats.Created++
		case changed:
			stats.Updated++
		default:
			stats.Unchanged++
		}
	}

	if err := tx.Commit(); err != nil {
		return BatchStats{}, fmt.Errorf("commit batch: %w", err)
	}
	return stats, nil
}

// ApplyEngagement merges per-item watch statistics. Total plays are
// authoritative from the source; last_watched_at never moves backwards;
// complete/partial counts replace in cumulative mode and add above the
// watermark otherwise. Returns ErrNotFound when the item is not in the
// mirror so the caller can soft-resolve it.
func (s *Store) ApplyEngagement(ctx context.Context, serverID int64, patch *models.EngagementPatch, syncedAt time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanMediaItem(tx.QueryRowContext(ctx,
		`SELECT `+mediaItemColumns+` FROM media_items WHERE server_id = ? AND external_id = ?`,
		serverID, patch.ExternalID))
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("item %s: %w", patch.ExternalID, models.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("read item %s: %w", patch.ExternalID, err)
	}

	merged := mergeEngagement(&existing, patch)

	_, err = tx.ExecContext(ctx, `
		UPDATE media_items SET total_play_count = ?, complete_play_count = ?, partial_play_count = ?,
			avg_percent_complete = ?, last_watched_at = ?, total_watch_time_seconds = ?, history_synced_at = ?
		WHERE id = ?`,
		intVal(existing.TotalPlayCount), intVal(existing.CompletePlayCount), intVal(existing.PartialPlayCount),
		existing.AvgPercentComplete, existing.LastWatchedAt, existing.TotalWatchTimeSeconds, syncedAt,
		existing.ID)
	if err != nil {
		return false, fmt.Errorf("update engagement %s: %w", patch.ExternalID, err)
	}
	return merged, tx.Commit()
}

func mergeEngagement(m *models.MediaItem, p *models.EngagementPatch) bool {
	changed := false

	if p.TotalPlayCount != nil && !eqPtr(m.TotalPlayCount, p.TotalPlayCount) {
		m.TotalPlayCount = p.TotalPlayCount
		changed = true
	}
	if p.LastWatchedAt != nil && (m.LastWatchedAt == nil || p.LastWatchedAt.After(*m.LastWatchedAt)) {
		m.LastWatchedAt = p.LastWatchedAt
		changed = true
	}

	if p.Cumulative {
		if p.CompletePlayCount != nil && !eqPtr(m.CompletePlayCount, p.CompletePlayCount) {
			m.CompletePlayCount = p.CompletePlayCount
			changed = true
		}
		if p.PartialPlayCount != nil && !eqPtr(m.PartialPlayCount, p.PartialPlayCount) {
			m.PartialPlayCount = p.PartialPlayCount
			changed = true
		}
		if p.TotalWatchTimeSeconds != nil && !eqPtr(m.TotalWatchTimeSeconds, p.TotalWatchTimeSeconds) {
			m.TotalWatchTimeSeconds = p.TotalWatchTimeSeconds
			changed = true
		}
	} else {
		if p.CompletePlayCount != nil && *p.CompletePlayCount != 0 {
			v := *p.CompletePlayCount
			if m.CompletePlayCount != nil {
				v += *m.CompletePlayCount
			}
			m.CompletePlayCount = &v
			changed = true
		}
		if p.PartialPlayCount != nil && *p.PartialPlayCount != 0 {
			v := *p.PartialPlayCount
			if m.PartialPlayCount != nil {
				v += *m.PartialPlayCount
			}
			m.PartialPlayCount = &v
			changed = true
		}
		if p.TotalWatchTimeSeconds != nil && *p.TotalWatchTimeSeconds != 0 {
			v := *p.TotalWatchTimeSeconds
			if m.TotalWatchTimeSeconds != nil {
				v += *m.TotalWatchTimeSeconds
			}
			m.TotalWatchTimeSeconds = &v
			changed = true
		}
	}

	if p.AvgPercentComplete != nil && !eqPtr(m.AvgPercentComplete, p.AvgPercentComplete) {
		m.AvgPercentComplete = p.AvgPercentComplete
		changed = true
	}
	return changed
}

// RecordScrobble applies the immediate engagement patch a playback
// webhook carries: one more complete play, watched just now.
func (s *Store) RecordScrobble(ctx context.Context, serverID int64, externalID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE media_items SET
			total_play_count = COALESCE(total_play_count, 0) + 1,
			complete_play_count = COALESCE(complete_play_count, 0) + 1,
			last_watched_at = MAX(COALESCE(last_watched_at, ?), ?)
		WHERE server_id = ? AND external_id = ?`,
		at, at, serverID, externalID)
	if err != nil {
		return fmt.Errorf("recording scrobble: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("item %s: %w", externalID, models.ErrNotFound)
	}
	return nil
}

// EnsurePlaceholder inserts a minimal inaccessible row for an external
// id seen in history but missing from the catalog. Existing rows are
// left untouched.
func (s *Store) EnsurePlaceholder(ctx context.Context, serverID int64, externalID string, kind models.MediaKind, title string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO media_items (server_id, external_id, kind, title, accessible)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(server_id, external_id) DO NOTHING`,
		serverID, externalID, kind, title)
	if err != nil {
		return false, fmt.Errorf("creating placeholder %s: %w", externalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkAccessible flips the accessible flag on the given rows without
// touching anything else.
func (s *Store) MarkAccessible(ctx context.Context, ids []int64, accessible bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, accessible)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE media_items SET accessible = ? WHERE id IN (?`+strings.Repeat(",?", len(ids)-1)+`)`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("marking accessible: %w", err)
	}
	return res.RowsAffected()
}

// HardDeleteMediaItem removes a mirror row after the media server
// confirmed deletion. The audit event is written in the same
// transaction so the snapshot can never be lost.
func (s *Store) HardDeleteMediaItem(ctx context.Context, itemID int64, event *models.DeletionEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertDeletionEvent(ctx, tx, event); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM media_items WHERE id = ?`, itemID)
	if err != nil {
		return fmt.Errorf("deleting item %d: %w", itemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("item %d: %w", itemID, models.ErrNotFound)
	}
	return tx.Commit()
}

func (s *Store) GetMediaItem(ctx context.Context, id int64) (*models.MediaItem, error) {
	m, err := scanMediaItem(s.db.QueryRowContext(ctx,
		`SELECT `+mediaItemColumns+` FROM media_items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("media item %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get media item: %w", err)
	}
	return &m, nil
}

func (s *Store) GetMediaItemByExternalID(ctx context.Context, serverID int64, externalID string) (*models.MediaItem, error) {
	m, err := scanMediaItem(s.db.QueryRowContext(ctx,
		`SELECT `+mediaItemColumns+` FROM media_items WHERE server_id = ? AND external_id = ?`,
		serverID, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("media item %s: %w", externalID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get media item: %w", err)
	}
	return &m, nil
}

// ListOwnedMediaItems resolves ids to rows, verifying every row belongs
// to a server owned by the user. A foreign or missing id fails the
// whole call.
func (s *Store) ListOwnedMediaItems(ctx context.Context, userID int64, ids []int64) ([]models.MediaItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixColumns("m", mediaItemColumns)+` FROM media_items m
		 JOIN servers s ON s.id = m.server_id
		 WHERE s.user_id = ? AND m.id IN (?`+strings.Repeat(",?", len(ids)-1)+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]models.MediaItem, len(ids))
	for rows.Next() {
		m, err := scanMediaItem(rows)
		if err != nil {
			return nil, err
		}
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items := make([]models.MediaItem, 0, len(ids))
	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			return nil, &models.ValidationError{Field: "candidate_ids", Msg: fmt.Sprintf("item %d not found or not owned", id)}
		}
		items = append(items, m)
	}
	return items, nil
}

// GetShowByTitle looks up a server's show row by exact title, used to
// map episode candidates back to their show for collection display.
func (s *Store) GetShowByTitle(ctx context.Context, serverID int64, title string) (*models.MediaItem, error) {
	m, err := scanMediaItem(s.db.QueryRowContext(ctx,
		`SELECT `+mediaItemColumns+` FROM media_items WHERE server_id = ? AND kind = 'show' AND title = ?`,
		serverID, title))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("show %q: %w", title, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get show: %w", err)
	}
	return &m, nil
}

func (s *Store) CountMediaItems(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM media_items m JOIN servers s ON s.id = m.server_id WHERE s.user_id = ?`,
		userID).Scan(&count)
	return count, err
}

// prefixColumns qualifies a comma-separated column list with a table
// alias for use in joins.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
