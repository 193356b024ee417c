package store

import (
	"context"
	"fmt"

	"sweeparr/internal/models"
)

const syncEventColumns = `id, user_id, kind, trigger_source, status, items_processed, items_updated,
	items_created, items_failed, bytes_freed, source, error, started_at, finished_at`

func scanSyncEvent(scanner interface{ Scan(...any) error }) (models.SyncEvent, error) {
	var e models.SyncEvent
	err := scanner.Scan(&e.ID, &e.UserID, &e.Kind, &e.Trigger, &e.Status, &e.ItemsProcessed,
		&e.ItemsUpdated, &e.ItemsCreated, &e.ItemsFailed, &e.BytesFreed, &e.Source, &e.Error,
		&e.StartedAt, &e.FinishedAt)
	return e, err
}

func (s *Store) CreateSyncEvent(ctx context.Context, e *models.SyncEvent) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_events (user_id, kind, trigger_source, status, items_processed, items_updated,
			items_created, items_failed, bytes_freed, source, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Kind, e.Trigger, e.Status, e.ItemsProcessed, e.ItemsUpdated,
		e.ItemsCreated, e.ItemsFailed, e.BytesFreed, e.Source, e.Error, e.StartedAt, e.FinishedAt)
	if err != nil {
		return fmt.Errorf("creating sync event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

func (s *Store) ListSyncEvents(ctx context.Context, userID int64, limit int) ([]models.SyncEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+syncEventColumns+` FROM sync_events
		 WHERE user_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sync events: %w", err)
	}
	defer rows.Close()

	events := []models.SyncEvent{}
	for rows.Next() {
		e, err := scanSyncEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
