package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sweeparr/internal/models"
)

const ruleColumns = `id, user_id, name, enabled, dry_run_mode, rule_type, select_shows,
	grace_period_days, inactivity_threshold_days, min_rating,
	excluded_kinds, excluded_libraries, excluded_genres, excluded_collections,
	leaving_soon_collection, created_by, last_run_at, created_at, updated_at`

func scanRule(scanner interface{ Scan(...any) error }) (models.DeletionRule, error) {
	var (
		r         models.DeletionRule
		minRating sql.NullFloat64
		kinds     sql.NullString
		libs      sql.NullString
		genres    sql.NullString
		colls     sql.NullString
		lastRun   sql.NullTime
	)
	err := scanner.Scan(&r.ID, &r.UserID, &r.Name, &r.Enabled, &r.DryRunMode, &r.RuleType, &r.SelectShows,
		&r.GracePeriodDays, &r.InactivityThresholdDays, &minRating,
		&kinds, &libs, &genres, &colls,
		&r.LeavingSoonCollection, &r.CreatedBy, &lastRun, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return r, err
	}
	r.MinRating = floatPtr(minRating)
	r.ExcludedKinds = decodeStrings(kinds)
	r.ExcludedLibraries = decodeStrings(libs)
	r.ExcludedGenres = decodeStrings(genres)
	r.ExcludedCollections = decodeStrings(colls)
	r.LastRunAt = timePtr(lastRun)
	return r, nil
}

func (s *Store) CreateDeletionRule(ctx context.Context, r *models.DeletionRule) error {
	if err := r.Validate(); err != nil {
		return &models.ValidationError{Field: "rule", Msg: err.Error()}
	}
	created, err := scanRule(s.db.QueryRowContext(ctx, `
		INSERT INTO deletion_rules (user_id, name, enabled, dry_run_mode, rule_type, select_shows,
			grace_period_days, inactivity_threshold_days, min_rating,
			excluded_kinds, excluded_libraries, excluded_genres, excluded_collections,
			leaving_soon_collection, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING `+ruleColumns,
		r.UserID, r.Name, r.Enabled, r.DryRunMode, r.RuleType, r.SelectShows,
		r.GracePeriodDays, r.InactivityThresholdDays, r.MinRating,
		encodeStrings(r.ExcludedKinds), encodeStrings(r.ExcludedLibraries),
		encodeStrings(r.ExcludedGenres), encodeStrings(r.ExcludedCollections),
		r.LeavingSoonCollection, r.CreatedBy))
	if err != nil {
		return fmt.Errorf("creating rule: %w", err)
	}
	*r = created
	return nil
}

// GetDeletionRule returns the rule only when it belongs to the user.
func (s *Store) GetDeletionRule(ctx context.Context, userID, id int64) (*models.DeletionRule, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM deletion_rules WHERE id = ? AND user_id = ?`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting rule: %w", err)
	}
	return &r, nil
}

func (s *Store) ListDeletionRules(ctx context.Context, userID int64) ([]models.DeletionRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM deletion_rules WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	defer rows.Close()

	rules := []models.DeletionRule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *Store) TouchRuleLastRun(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deletion_rules SET last_run_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("touching rule: %w", err)
	}
	return nil
}
