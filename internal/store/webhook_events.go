package store

import (
	"context"
	"fmt"

	"sweeparr/internal/models"
)

const webhookEventColumns = `id, user_id, service, event, payload_hash, payload_bytes,
	processing_status, actions_triggered, received_at`

func scanWebhookEvent(scanner interface{ Scan(...any) error }) (models.WebhookEvent, error) {
	var e models.WebhookEvent
	err := scanner.Scan(&e.ID, &e.UserID, &e.Service, &e.Event, &e.PayloadHash, &e.PayloadBytes,
		&e.ProcessingStatus, &e.ActionsTriggered, &e.ReceivedAt)
	return e, err
}

func (s *Store) CreateWebhookEvent(ctx context.Context, e *models.WebhookEvent) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (user_id, service, event, payload_hash, payload_bytes,
			processing_status, actions_triggered)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Service, e.Event, e.PayloadHash, e.PayloadBytes,
		e.ProcessingStatus, e.ActionsTriggered)
	if err != nil {
		return fmt.Errorf("creating webhook event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

func (s *Store) ListWebhookEvents(ctx context.Context, userID int64, limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+webhookEventColumns+` FROM webhook_events
		 WHERE user_id = ? ORDER BY received_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing webhook events: %w", err)
	}
	defer rows.Close()

	events := []models.WebhookEvent{}
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
