package repository

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore implements Store over premium_overrides, user_subscriptions, seen_activities and favorites.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a segment store that uses the given db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const activeSubscription = `status = 'active' AND (expires_at IS NULL OR expires_at > now())`

// IsPremium implements Store.
func (s *PostgresStore) IsPremium(ctx context.Context, userID int64) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `SELECT
		EXISTS (SELECT 1 FROM premium_overrides WHERE user_id = $1 AND is_premium)
		OR EXISTS (SELECT 1 FROM user_subscriptions WHERE user_id = $1 AND `+activeSubscription+`)`,
		userID).Scan(&ok)
	return ok, err
}

// HasActiveSubscription implements Store.
func (s *PostgresStore) HasActiveSubscription(ctx context.Context, userID int64) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_subscriptions WHERE user_id = $1 AND `+activeSubscription+`)`,
		userID).Scan(&ok)
	return ok, err
}

// ActiveSubscribers implements Store.
func (s *PostgresStore) ActiveSubscribers(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM user_subscriptions WHERE `+activeSubscription+` ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ActivateSubscription implements Store.
func (s *PostgresStore) ActivateSubscription(ctx context.Context, userID int64, expiresAt *time.Time) error {
	var exp sql.NullTime
	if expiresAt != nil {
		exp = sql.NullTime{Time: *expiresAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_subscriptions (user_id, status, activated_at, expires_at)
		VALUES ($1, 'active', now(), $2)
		ON CONFLICT (user_id) DO UPDATE SET status = 'active', activated_at = now(), expires_at = EXCLUDED.expires_at`,
		userID, exp)
	return err
}

// SetPremiumOverride implements Store.
func (s *PostgresStore) SetPremiumOverride(ctx context.Context, userID int64, premium bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO premium_overrides (user_id, is_premium, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET is_premium = EXCLUDED.is_premium, updated_at = now()`,
		userID, premium)
	return err
}

// DeepViewCount implements Store.
func (s *PostgresStore) DeepViewCount(ctx context.Context, userID int64, level string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT activity_id) FROM seen_activities WHERE user_id = $1 AND level = $2`,
		userID, level).Scan(&n)
	return n, err
}

// RecordView implements Store.
func (s *PostgresStore) RecordView(ctx context.Context, userID int64, activityID, level string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seen_activities (user_id, activity_id, level) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`, userID, activityID, level)
	return err
}

// FavoritesCount implements Store.
func (s *PostgresStore) FavoritesCount(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT activity_id) FROM favorites WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

// AddFavorite implements Store.
func (s *PostgresStore) AddFavorite(ctx context.Context, userID int64, activityID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO favorites (user_id, activity_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, userID, activityID)
	return err
}
