package store

import (
	"context"
	"database/sql"
	"fmt"

	"sweeparr/internal/models"
)

const deletionEventColumns = `id, user_id, server_id, rule_id, external_id, title, kind, file_path,
	file_size_bytes, reason, score, dry_run, status, actor, error_message,
	deleted_from_server, deleted_from_server_at, deleted_from_sonarr, deleted_from_sonarr_at,
	deleted_from_radarr, deleted_from_radarr_at, deleted_from_overseerr, deleted_from_overseerr_at,
	deleted_at, created_at`

func scanDeletionEvent(scanner interface{ Scan(...any) error }) (models.DeletionEvent, error) {
	var (
		e           models.DeletionEvent
		serverAt    sql.NullTime
		sonarrAt    sql.NullTime
		radarrAt    sql.NullTime
		overseerrAt sql.NullTime
		deletedAt   sql.NullTime
	)
	err := scanner.Scan(&e.ID, &e.UserID, &e.ServerID, &e.RuleID, &e.ExternalID, &e.Title, &e.Kind, &e.FilePath,
		&e.FileSizeBytes, &e.Reason, &e.Score, &e.DryRun, &e.Status, &e.Actor, &e.ErrorMessage,
		&e.DeletedFromServer, &serverAt, &e.DeletedFromSonarr, &sonarrAt,
		&e.DeletedFromRadarr, &radarrAt, &e.DeletedFromOverseerr, &overseerrAt,
		&deletedAt, &e.CreatedAt)
	if err != nil {
		return e, err
	}
	e.DeletedFromServerAt = timePtr(serverAt)
	e.DeletedFromSonarrAt = timePtr(sonarrAt)
	e.DeletedFromRadarrAt = timePtr(radarrAt)
	e.DeletedFromOverseerrAt = timePtr(overseerrAt)
	e.DeletedAt = timePtr(deletedAt)
	return e, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertDeletionEvent(ctx context.Context, q execer, e *models.DeletionEvent) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO deletion_events (user_id, server_id, rule_id, external_id, title, kind, file_path,
			file_size_bytes, reason, score, dry_run, status, actor, error_message,
			deleted_from_server, deleted_from_server_at, deleted_from_sonarr, deleted_from_sonarr_at,
			deleted_from_radarr, deleted_from_radarr_at, deleted_from_overseerr, deleted_from_overseerr_at,
			deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.ServerID, e.RuleID, e.ExternalID, e.Title, e.Kind, e.FilePath,
		e.FileSizeBytes, e.Reason, e.Score, e.DryRun, e.Status, e.Actor, e.ErrorMessage,
		e.DeletedFromServer, e.DeletedFromServerAt, e.DeletedFromSonarr, e.DeletedFromSonarrAt,
		e.DeletedFromRadarr, e.DeletedFromRadarrAt, e.DeletedFromOverseerr, e.DeletedFromOverseerrAt,
		e.DeletedAt)
	if err != nil {
		return fmt.Errorf("inserting deletion event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

// CreateDeletionEvent writes an audit row on its own. Candidates that
// reached the server delete use HardDeleteMediaItem instead, which
// writes the row in the same transaction as the mirror delete.
func (s *Store) CreateDeletionEvent(ctx context.Context, e *models.DeletionEvent) error {
	return insertDeletionEvent(ctx, s.db, e)
}

// ListDeletionEvents returns the owner's audit rows, newest first.
func (s *Store) ListDeletionEvents(ctx context.Context, userID int64, limit int) ([]models.DeletionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deletionEventColumns+` FROM deletion_events
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing deletion events: %w", err)
	}
	defer rows.Close()

	events := []models.DeletionEvent{}
	for rows.Next() {
		e, err := scanDeletionEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeletionEventsForRun returns one rule's audit rows, newest first,
// backing the rule_id filter on the deletions listing.
func (s *Store) DeletionEventsForRun(ctx context.Context, userID, ruleID int64, limit int) ([]models.DeletionEvent, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deletionEventColumns+` FROM deletion_events
		 WHERE user_id = ? AND rule_id = ? ORDER BY id DESC LIMIT ?`, userID, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing deletion events: %w", err)
	}
	defer rows.Close()

	events := []models.DeletionEvent{}
	for rows.Next() {
		e, err := scanDeletionEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
