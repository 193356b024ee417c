package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sweeparr/internal/models"
)

const scheduleColumns = `id, user_id, kind, interval_hours, enabled, last_run_at, last_status,
	last_error, run_count, next_run_at, created_at, updated_at`

func scanSchedule(scanner interface{ Scan(...any) error }) (models.SyncSchedule, error) {
	var (
		sc      models.SyncSchedule
		lastRun sql.NullTime
		nextRun sql.NullTime
	)
	err := scanner.Scan(&sc.ID, &sc.UserID, &sc.Kind, &sc.IntervalHours, &sc.Enabled, &lastRun,
		&sc.LastStatus, &sc.LastError, &sc.RunCount, &nextRun, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return sc, err
	}
	sc.LastRunAt = timePtr(lastRun)
	sc.NextRunAt = timePtr(nextRun)
	return sc, nil
}

// UpsertSchedule creates or replaces the owner's schedule for one job
// kind. A fresh or re-enabled schedule becomes due immediately.
func (s *Store) UpsertSchedule(ctx context.Context, userID int64, in *models.ScheduleInput) (*models.SyncSchedule, error) {
	if err := in.Validate(); err != nil {
		return nil, &models.ValidationError{Field: "schedule", Msg: err.Error()}
	}
	now := time.Now().UTC()
	sc, err := scanSchedule(s.db.QueryRowContext(ctx, `
		INSERT INTO sync_schedules (user_id, kind, interval_hours, enabled, next_run_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, kind) DO UPDATE SET
			interval_hours = excluded.interval_hours,
			enabled = excluded.enabled,
			next_run_at = excluded.next_run_at,
			updated_at = CURRENT_TIMESTAMP
		RETURNING `+scheduleColumns,
		userID, in.Kind, in.IntervalHours, in.Enabled, now))
	if err != nil {
		return nil, fmt.Errorf("upserting schedule: %w", err)
	}
	return &sc, nil
}

func (s *Store) ListSchedules(ctx context.Context, userID int64) ([]models.SyncSchedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM sync_schedules WHERE user_id = ? ORDER BY kind`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}
	defer rows.Close()

	schedules := []models.SyncSchedule{}
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sc)
	}
	return schedules, rows.Err()
}

// DueSchedules returns every enabled schedule whose next_run_at has
// passed, across all owners.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]models.SyncSchedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM sync_schedules
		 WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		 ORDER BY next_run_at`, now)
	if err != nil {
		return nil, fmt.Errorf("listing due schedules: %w", err)
	}
	defer rows.Close()

	schedules := []models.SyncSchedule{}
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sc)
	}
	return schedules, rows.Err()
}

// MarkScheduleStarted records a launch and pushes next_run_at forward
// so the next tick does not double-start a slow job.
func (s *Store) MarkScheduleStarted(ctx context.Context, id int64, at time.Time, interval time.Duration) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_schedules SET last_run_at = ?, run_count = run_count + 1,
			next_run_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, at, at.Add(interval), id)
	if err != nil {
		return fmt.Errorf("marking schedule started: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("schedule %d: %w", id, models.ErrNotFound)
	}
	return nil
}

// CompleteScheduleRun records the outcome and recomputes next_run_at
// from the completion time, with no backfill of missed intervals.
func (s *Store) CompleteScheduleRun(ctx context.Context, id int64, status models.JobStatus, errMsg string, finishedAt time.Time) error {
	sc, err := scanSchedule(s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM sync_schedules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("schedule %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return err
	}

	next := finishedAt.Add(time.Duration(sc.IntervalHours) * time.Hour)
	_, err = s.db.ExecContext(ctx, `
		UPDATE sync_schedules SET last_status = ?, last_error = ?, next_run_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, status, errMsg, next, id)
	if err != nil {
		return fmt.Errorf("completing schedule run: %w", err)
	}
	return nil
}
