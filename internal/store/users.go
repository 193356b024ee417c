package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sweeparr/internal/models"
)

const userColumns = `id, email, name, role, created_at`

func scanUser(scanner interface{ Scan(...any) error }) (models.User, error) {
	var u models.User
	err := scanner.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.CreatedAt)
	return u, err
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	created, err := scanUser(s.db.QueryRowContext(ctx,
		`INSERT INTO users (email, name, role) VALUES (?, ?, ?) RETURNING `+userColumns,
		u.Email, u.Name, u.Role))
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	*u = created
	return nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", email, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return &u, nil
}

// CreateSession stores an opaque session token issued by the identity
// layer.
func (s *Store) CreateSession(ctx context.Context, token string, userID int64, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)`,
		token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetSessionUser resolves a session token to its user, rejecting
// expired sessions and touching last_used_at on success.
func (s *Store) GetSessionUser(ctx context.Context, token string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.name, u.role, u.created_at
		FROM sessions se
		JOIN users u ON u.id = se.user_id
		WHERE se.token = ? AND se.expires_at > CURRENT_TIMESTAMP`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving session: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET last_used_at = CURRENT_TIMESTAMP WHERE token = ?`, token)
	if err != nil {
		return nil, fmt.Errorf("touching session: %w", err)
	}
	return &u, nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions is run periodically by the scheduler loop.
func (s *Store) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= CURRENT_TIMESTAMP`)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	return res.RowsAffected()
}
