package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sweeparr/internal/models"
)

const serverColumns = `id, user_id, name, machine_id, platform, version, status, token_encrypted,
	preferred_connection_url, connection_latency_ms, connection_tested_at, webhook_secret,
	last_full_sync_at, created_at, updated_at`

func scanServer(scanner interface{ Scan(...any) error }) (models.Server, error) {
	var (
		srv      models.Server
		connURL  sql.NullString
		latency  sql.NullInt64
		testedAt sql.NullTime
		lastFull sql.NullTime
	)
	err := scanner.Scan(&srv.ID, &srv.UserID, &srv.Name, &srv.MachineID, &srv.Platform, &srv.Version,
		&srv.Status, &srv.TokenEncrypted, &connURL, &latency, &testedAt, &srv.WebhookSecret,
		&lastFull, &srv.CreatedAt, &srv.UpdatedAt)
	if err != nil {
		return srv, err
	}
	srv.PreferredConnectionURL = strPtr(connURL)
	srv.ConnectionLatencyMS = int64Ptr(latency)
	srv.ConnectionTestedAt = timePtr(testedAt)
	srv.LastFullSyncAt = timePtr(lastFull)
	return srv, nil
}

// CreateServer stores a new server, encrypting the token when the
// store has an encryptor.
func (s *Store) CreateServer(ctx context.Context, srv *models.Server, token string) error {
	if srv.Status == "" {
		srv.Status = models.ServerOffline
	}
	enc, err := s.encrypt(token)
	if err != nil {
		return fmt.Errorf("encrypting token: %w", err)
	}
	created, err := scanServer(s.db.QueryRowContext(ctx, `
		INSERT INTO servers (user_id, name, machine_id, platform, version, status, token_encrypted, webhook_secret)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING `+serverColumns,
		srv.UserID, srv.Name, srv.MachineID, srv.Platform, srv.Version, srv.Status, enc, srv.WebhookSecret))
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	*srv = created
	return nil
}

func (s *Store) GetServer(ctx context.Context, id int64) (*models.Server, error) {
	srv, err := scanServer(s.db.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("server %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting server: %w", err)
	}
	return &srv, nil
}

// ListServers returns the owner's servers, oldest first.
func (s *Store) ListServers(ctx context.Context, userID int64) ([]models.Server, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}
	defer rows.Close()

	servers := []models.Server{}
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}

// ListAllServers returns every server; used by the notification
// listener at startup.
func (s *Store) ListAllServers(ctx context.Context) ([]models.Server, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}
	defer rows.Close()

	servers := []models.Server{}
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}

// ServerToken decrypts and returns the server's stored token.
func (s *Store) ServerToken(srv *models.Server) (string, error) {
	return s.decrypt(srv.TokenEncrypted)
}

// UpdateServerConnection caches the probed connection on the server
// row.
func (s *Store) UpdateServerConnection(ctx context.Context, id int64, url string, latencyMS int64, testedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE servers SET preferred_connection_url = ?, connection_latency_ms = ?, connection_tested_at = ?,
			status = 'online', updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, url, latencyMS, testedAt, id)
	if err != nil {
		return fmt.Errorf("updating server connection: %w", err)
	}
	return requireRow(res, id)
}

// ClearServerConnection drops the cached URL so the next call
// re-probes.
func (s *Store) ClearServerConnection(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE servers SET preferred_connection_url = NULL, connection_tested_at = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("clearing server connection: %w", err)
	}
	return nil
}

func (s *Store) SetServerStatus(ctx context.Context, id int64, status models.ServerStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE servers SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("setting server status: %w", err)
	}
	return requireRow(res, id)
}

// SetServerInfo records the identity details a probe returned.
func (s *Store) SetServerInfo(ctx context.Context, id int64, platform, version string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE servers SET platform = ?, version = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		platform, version, id)
	if err != nil {
		return fmt.Errorf("setting server info: %w", err)
	}
	return nil
}

func (s *Store) UpdateServerLastFullSync(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE servers SET last_full_sync_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("updating last full sync: %w", err)
	}
	return requireRow(res, id)
}

func (s *Store) DeleteServer(ctx context.Context, userID, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM servers WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("deleting server: %w", err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("server %d: %w", id, models.ErrNotFound)
	}
	return nil
}
