package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"sweeparr/internal/models"
)

const configUpsert = `INSERT INTO system_config (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`

const (
	configKeyStorageCapacity = "storage_capacity"
	configKeyCryptoSalt      = "crypto_salt"
)

// GetConfig returns the raw value for a key, or "" when unset.
func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM system_config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting config %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, configUpsert, key, value); err != nil {
		return fmt.Errorf("setting config %s: %w", key, err)
	}
	return nil
}

// GetStorageCapacity returns the configured capacity, or nil when the
// operator has not set one.
func (s *Store) GetStorageCapacity(ctx context.Context) (*models.StorageCapacity, error) {
	raw, err := s.GetConfig(ctx, configKeyStorageCapacity)
	if err != nil || raw == "" {
		return nil, err
	}
	var cap models.StorageCapacity
	if err := json.Unmarshal([]byte(raw), &cap); err != nil {
		return nil, fmt.Errorf("parsing storage capacity: %w", err)
	}
	return &cap, nil
}

func (s *Store) SetStorageCapacity(ctx context.Context, cap *models.StorageCapacity) error {
	raw, err := json.Marshal(cap)
	if err != nil {
		return fmt.Errorf("encoding storage capacity: %w", err)
	}
	return s.SetConfig(ctx, configKeyStorageCapacity, string(raw))
}

// GetOrCreateCryptoSalt returns the per-database key-derivation salt,
// creating it on first use.
func (s *Store) GetOrCreateCryptoSalt(ctx context.Context, newSalt func() (string, error)) (string, error) {
	salt, err := s.GetConfig(ctx, configKeyCryptoSalt)
	if err != nil || salt != "" {
		return salt, err
	}
	salt, err = newSalt()
	if err != nil {
		return "", err
	}
	if err := s.SetConfig(ctx, configKeyCryptoSalt, salt); err != nil {
		return "", err
	}
	return salt, nil
}

// ListNotificationChannels returns the owner's channels, optionally
// only the enabled ones.
func (s *Store) ListNotificationChannels(ctx context.Context, userID int64, enabledOnly bool) ([]models.NotificationChannel, error) {
	query := `SELECT id, user_id, name, channel_type, config, enabled, created_at
		FROM notification_channels WHERE user_id = ?`
	if enabledOnly {
		query += ` AND enabled = 1`
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing notification channels: %w", err)
	}
	defer rows.Close()

	channels := []models.NotificationChannel{}
	for rows.Next() {
		var (
			ch  models.NotificationChannel
			cfg string
		)
		if err := rows.Scan(&ch.ID, &ch.UserID, &ch.Name, &ch.ChannelType, &cfg, &ch.Enabled, &ch.CreatedAt); err != nil {
			return nil, err
		}
		ch.Config = json.RawMessage(cfg)
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

func (s *Store) CreateNotificationChannel(ctx context.Context, ch *models.NotificationChannel) error {
	if len(ch.Config) == 0 {
		ch.Config = json.RawMessage("{}")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_channels (user_id, name, channel_type, config, enabled)
		VALUES (?, ?, ?, ?, ?)`,
		ch.UserID, ch.Name, ch.ChannelType, string(ch.Config), ch.Enabled)
	if err != nil {
		return fmt.Errorf("creating notification channel: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ch.ID = id
	return nil
}

func (s *Store) GetNotificationChannel(ctx context.Context, userID, id int64) (*models.NotificationChannel, error) {
	var (
		ch  models.NotificationChannel
		cfg string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, channel_type, config, enabled, created_at
		FROM notification_channels WHERE user_id = ? AND id = ?`, userID, id).
		Scan(&ch.ID, &ch.UserID, &ch.Name, &ch.ChannelType, &cfg, &ch.Enabled, &ch.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notification channel %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting notification channel: %w", err)
	}
	ch.Config = json.RawMessage(cfg)
	return &ch, nil
}

func (s *Store) DeleteNotificationChannel(ctx context.Context, userID, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notification_channels WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("deleting notification channel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("notification channel %d: %w", id, models.ErrNotFound)
	}
	return nil
}
