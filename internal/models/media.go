package models

import "time"

// MediaItem is one row of the catalog mirror: identity, hierarchy,
// quality, storage, and engagement for a single addressable unit.
// Uniqueness is (server_id, external_id).
type MediaItem struct {
	ID         int64     `json:"id"`
	ServerID   int64     `json:"server_id"`
	ExternalID string    `json:"external_id"`
	Kind       MediaKind `json:"kind"`
	Title      string    `json:"title"`
	SortTitle  string    `json:"sort_title,omitempty"`
	Year       *int      `json:"year,omitempty"`
	RuntimeSec *int64    `json:"runtime_seconds,omitempty"`
	Rating     *float64  `json:"rating,omitempty"`

	TMDBID         *int64  `json:"tmdb_id,omitempty"`
	TVDBID         *int64  `json:"tvdb_id,omitempty"`
	IMDBID         *string `json:"imdb_id,omitempty"`
	SonarrSeriesID *int64  `json:"sonarr_series_id,omitempty"`
	RadarrMovieID  *int64  `json:"radarr_movie_id,omitempty"`

	LibrarySection   string  `json:"library_section"`
	GrandparentTitle *string `json:"grandparent_title,omitempty"`
	ParentTitle      *string `json:"parent_title,omitempty"`
	SeasonNumber     *int    `json:"season_number,omitempty"`
	EpisodeNumber    *int    `json:"episode_number,omitempty"`

	VideoResolution *string `json:"video_resolution,omitempty"`
	VideoCodec      *string `json:"video_codec,omitempty"`
	AudioCodec      *string `json:"audio_codec,omitempty"`
	Container       *string `json:"container,omitempty"`
	BitrateKbps     *int64  `json:"bitrate_kbps,omitempty"`

	FilePath      *string `json:"file_path,omitempty"`
	FileSizeBytes int64   `json:"file_size_bytes"`
	Accessible    *bool   `json:"accessible,omitempty"`

	Genres      []string `json:"genres,omitempty"`
	Collections []string `json:"collections,omitempty"`

	TotalPlayCount        *int       `json:"total_play_count,omitempty"`
	CompletePlayCount     *int       `json:"complete_play_count,omitempty"`
	PartialPlayCount      *int       `json:"partial_play_count,omitempty"`
	AvgPercentComplete    *float64   `json:"avg_percent_complete,omitempty"`
	LastWatchedAt         *time.Time `json:"last_watched_at,omitempty"`
	TotalWatchTimeSeconds *int64     `json:"total_watch_time_seconds,omitempty"`

	AddedAt         *time.Time `json:"added_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
	HistorySyncedAt *time.Time `json:"history_synced_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Episode returns true when the row must carry full hierarchy.
func (m *MediaItem) Episode() bool { return m.Kind == KindEpisode }

// MediaItemPatch is a partial catalog record produced by library sync.
// Nil fields are preserved on merge; quality and hierarchy fields
// always overwrite when set. Engagement fields are not part of a
// catalog patch; they arrive through EngagementPatch.
type MediaItemPatch struct {
	ExternalID string    `json:"external_id"`
	Kind       MediaKind `json:"kind"`
	Title      string    `json:"title"`
	SortTitle  *string   `json:"sort_title,omitempty"`
	Year       *int      `json:"year,omitempty"`
	RuntimeSec *int64    `json:"runtime_seconds,omitempty"`
	Rating     *float64  `json:"rating,omitempty"`

	TMDBID         *int64  `json:"tmdb_id,omitempty"`
	TVDBID         *int64  `json:"tvdb_id,omitempty"`
	IMDBID         *string `json:"imdb_id,omitempty"`
	SonarrSeriesID *int64  `json:"sonarr_series_id,omitempty"`
	RadarrMovieID  *int64  `json:"radarr_movie_id,omitempty"`

	LibrarySection   string  `json:"library_section"`
	GrandparentTitle *string `json:"grandparent_title,omitempty"`
	ParentTitle      *string `json:"parent_title,omitempty"`
	SeasonNumber     *int    `json:"season_number,omitempty"`
	EpisodeNumber    *int    `json:"episode_number,omitempty"`

	VideoResolution *string `json:"video_resolution,omitempty"`
	VideoCodec      *string `json:"video_codec,omitempty"`
	AudioCodec      *string `json:"audio_codec,omitempty"`
	Container       *string `json:"container,omitempty"`
	BitrateKbps     *int64  `json:"bitrate_kbps,omitempty"`

	FilePath      *string `json:"file_path,omitempty"`
	FileSizeBytes *int64  `json:"file_size_bytes,omitempty"`
	Accessible    *bool   `json:"accessible,omitempty"`

	Genres      []string `json:"genres,omitempty"`
	Collections []string `json:"collections,omitempty"`

	AddedAt *time.Time `json:"added_at,omitempty"`
}

// HierarchyComplete reports whether an episode patch carries the
// show title, season number, and episode number. Non-episode patches
// are always complete.
func (p *MediaItemPatch) HierarchyComplete() bool {
	if p.Kind != KindEpisode {
		return true
	}
	return p.GrandparentTitle != nil && *p.GrandparentTitle != "" &&
		p.SeasonNumber != nil && p.EpisodeNumber != nil
}

// EngagementPatch carries per-item watch statistics from history sync.
// Nil fields are preserved.
type EngagementPatch struct {
	ExternalID            string     `json:"external_id"`
	TotalPlayCount        *int       `json:"total_play_count,omitempty"`
	CompletePlayCount     *int       `json:"complete_play_count,omitempty"`
	PartialPlayCount      *int       `json:"partial_play_count,omitempty"`
	AvgPercentComplete    *float64   `json:"avg_percent_complete,omitempty"`
	LastWatchedAt         *time.Time `json:"last_watched_at,omitempty"`
	TotalWatchTimeSeconds *int64     `json:"total_watch_time_seconds,omitempty"`

	// Cumulative selects the merge mode: true replaces counts with
	// source totals, false adds deltas above the history watermark.
	Cumulative bool `json:"-"`
}

// StorageStats summarizes mirror usage for one owner.
type StorageStats struct {
	TotalItems     int                     `json:"total_items"`
	TotalUsedBytes int64                   `json:"total_used_bytes"`
	ByKind         map[MediaKind]KindStats `json:"by_kind"`
	CapacityBytes  *int64                  `json:"capacity_bytes,omitempty"`
	UsedPercent    *float64                `json:"used_percent,omitempty"`
}

type KindStats struct {
	Items int   `json:"items"`
	Bytes int64 `json:"bytes"`
}

// QualityBucket is one row of the quality analysis group-by.
type QualityBucket struct {
	VideoResolution string `json:"video_resolution"`
	Items           int    `json:"items"`
	Bytes           int64  `json:"bytes"`
	AvgBitrateKbps  int64  `json:"avg_bitrate_kbps"`
}

// InaccessibleFile is one mirror row whose file went missing.
type InaccessibleFile struct {
	ID            int64     `json:"id"`
	ExternalID    string    `json:"external_id"`
	Kind          MediaKind `json:"kind"`
	Title         string    `json:"title"`
	FilePath      string    `json:"file_path"`
	FileSizeBytes int64     `json:"file_size_bytes"`
	UpdatedAt     time.Time `json:"updated_at"`
}
