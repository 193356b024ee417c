package store

import (
	"context"
	"fmt"

	"sweeparr/internal/models"
)

// StorageStats totals the owner's mirror and, when a capacity is
// configured, reports usage against it.
func (s *Store) StorageStats(ctx context.Context, userID int64) (*models.StorageStats, error) {
	stats := &models.StorageStats{ByKind: map[models.MediaKind]models.KindStats{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.kind, COUNT(*), COALESCE(SUM(m.file_size_bytes), 0)
		FROM media_items m
		JOIN servers s ON s.id = m.server_id
		WHERE s.user_id = ?
		GROUP BY m.kind`, userID)
	if err != nil {
		return nil, fmt.Errorf("storage stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind  models.MediaKind
			items int
			bytes int64
		)
		if err := rows.Scan(&kind, &items, &bytes); err != nil {
			return nil, err
		}
		stats.ByKind[kind] = models.KindStats{Items: items, Bytes: bytes}
		stats.TotalItems += items
		stats.TotalUsedBytes += bytes
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	capacity, err := s.GetStorageCapacity(ctx)
	if err != nil {
		return nil, err
	}
	if capacity != nil && capacity.TotalBytes > 0 {
		stats.CapacityBytes = &capacity.TotalBytes
		pct := float64(stats.TotalUsedBytes) / float64(capacity.TotalBytes) * 100
		stats.UsedPercent = &pct
	}
	return stats, nil
}

// QualityAnalysis groups the owner's leaf items by resolution bucket,
// best first.
func (s *Store) QualityAnalysis(ctx context.Context, userID int64) ([]models.QualityBucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(m.video_resolution, 'unknown'), COUNT(*),
			COALESCE(SUM(m.file_size_bytes), 0), COALESCE(AVG(m.bitrate_kbps), 0)
		FROM media_items m
		JOIN servers s ON s.id = m.server_id
		WHERE s.user_id = ? AND m.kind IN ('movie', 'episode')
		GROUP BY COALESCE(m.video_resolution, 'unknown')
		ORDER BY CASE COALESCE(m.video_resolution, 'unknown')
			WHEN '4k' THEN 0 WHEN '1080p' THEN 1 WHEN '720p' THEN 2
			WHEN '480p' THEN 3 WHEN 'sd' THEN 4 ELSE 5 END`, userID)
	if err != nil {
		return nil, fmt.Errorf("quality analysis: %w", err)
	}
	defer rows.Close()

	buckets := []models.QualityBucket{}
	for rows.Next() {
		var (
			b   models.QualityBucket
			avg float64
		)
		if err := rows.Scan(&b.VideoResolution, &b.Items, &b.Bytes, &avg); err != nil {
			return nil, err
		}
		b.AvgBitrateKbps = int64(avg)
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// InaccessibleFiles lists the owner's rows whose files went missing,
// largest first.
func (s *Store) InaccessibleFiles(ctx context.Context, userID int64, limit int) ([]models.InaccessibleFile, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.external_id, m.kind, m.title, COALESCE(m.file_path, ''), m.file_size_bytes, m.updated_at
		FROM media_items m
		JOIN servers s ON s.id = m.server_id
		WHERE s.user_id = ? AND m.accessible = 0
		ORDER BY m.file_size_bytes DESC, m.title ASC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("inaccessible files: %w", err)
	}
	defer rows.Close()

	files := []models.InaccessibleFile{}
	for rows.Next() {
		var f models.InaccessibleFile
		if err := rows.Scan(&f.ID, &f.ExternalID, &f.Kind, &f.Title, &f.FilePath, &f.FileSizeBytes, &f.UpdatedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
