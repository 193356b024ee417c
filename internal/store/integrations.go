package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sweeparr/internal/models"
)

const integrationColumns = `id, user_id, server_id, service, name, base_url, api_key_encrypted,
	status, last_sync_at, last_error, failure_count, first_failure_at, created_at, updated_at`

// failureWindow is how long consecutive failures accumulate before the
// counter resets; three failures inside it flip the integration to
// error.
const (
	failureWindow    = 10 * time.Minute
	failureThreshold = 3
)

func scanIntegration(scanner interface{ Scan(...any) error }) (models.Integration, error) {
	var (
		in        models.Integration
		lastSync  sql.NullTime
		firstFail sql.NullTime
	)
	err := scanner.Scan(&in.ID, &in.UserID, &in.ServerID, &in.Service, &in.Name, &in.BaseURL,
		&in.APIKeyEncrypted, &in.Status, &lastSync, &in.LastError, &in.FailureCount,
		&firstFail, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return in, err
	}
	in.LastSyncAt = timePtr(lastSync)
	in.FirstFailureAt = timePtr(firstFail)
	return in, nil
}

func (s *Store) CreateIntegration(ctx context.Context, in *models.Integration, apiKey string) error {
	enc, err := s.encrypt(apiKey)
	if err != nil {
		return fmt.Errorf("encrypting api key: %w", err)
	}
	created, err := scanIntegration(s.db.QueryRowContext(ctx, `
		INSERT INTO integrations (user_id, server_id, service, name, base_url, api_key_encrypted, status)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING `+integrationColumns,
		in.UserID, in.ServerID, in.Service, in.Name, in.BaseURL, enc, models.IntegrationInactive))
	if err != nil {
		return fmt.Errorf("creating integration: %w", err)
	}
	*in = created
	return nil
}

func (s *Store) GetIntegration(ctx context.Context, id int64) (*models.Integration, error) {
	in, err := scanIntegration(s.db.QueryRowContext(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("integration %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting integration: %w", err)
	}
	return &in, nil
}

// GetIntegrationByService returns the owner's integration for one
// service, preferring non-errored rows when several are configured.
func (s *Store) GetIntegrationByService(ctx context.Context, userID int64, service models.IntegrationService) (*models.Integration, error) {
	in, err := scanIntegration(s.db.QueryRowContext(ctx, `
		SELECT `+integrationColumns+` FROM integrations
		WHERE user_id = ? AND service = ?
		ORDER BY CASE status WHEN 'active' THEN 0 WHEN 'inactive' THEN 1 ELSE 2 END, id
		LIMIT 1`, userID, service))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s integration: %w", service, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s integration: %w", service, err)
	}
	return &in, nil
}

func (s *Store) ListIntegrations(ctx context.Context, userID int64) ([]models.Integration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE user_id = ? ORDER BY service, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing integrations: %w", err)
	}
	defer rows.Close()

	ins := []models.Integration{}
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		ins = append(ins, in)
	}
	return ins, rows.Err()
}

// IntegrationAPIKey decrypts and returns the integration's stored key.
func (s *Store) IntegrationAPIKey(in *models.Integration) (string, error) {
	return s.decrypt(in.APIKeyEncrypted)
}

// RecordIntegrationSuccess moves the integration to active and clears
// the failure counters. inactive→active happens on the first success;
// error→active on any success.
func (s *Store) RecordIntegrationSuccess(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE integrations SET status = 'active', last_sync_at = ?, last_error = '',
			failure_count = 0, first_failure_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("recording integration success: %w", err)
	}
	return nil
}

// RecordIntegrationFailure counts a failure. Three consecutive
// failures within ten minutes flip an active integration to error;
// auth failures flip it immediately.
func (s *Store) RecordIntegrationFailure(ctx context.Context, id int64, msg string, at time.Time, fatal bool) (models.IntegrationStatus, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	in, err := scanIntegration(tx.QueryRowContext(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("integration %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return "", err
	}

	count := in.FailureCount + 1
	first := in.FirstFailureAt
	if first == nil || at.Sub(*first) > failureWindow {
		count = 1
		first = &at
	}

	status := in.Status
	if fatal || count >= failureThreshold {
		status = models.IntegrationError
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE integrations SET status = ?, last_error = ?, failure_count = ?, first_failure_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, status, msg, count, first, id)
	if err != nil {
		return "", fmt.Errorf("recording integration failure: %w", err)
	}
	return status, tx.Commit()
}

func (s *Store) DeleteIntegration(ctx context.Context, userID, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM integrations WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("deleting integration: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("integration %d: %w", id, models.ErrNotFound)
	}
	return nil
}
