package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"retention-notifier/internal/session/domain"
)

// PostgresRepository stores session snapshots in user_sessions.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert implements Repository. first_event and source keep the value of the first snapshot.
func (r *PostgresRepository) Upsert(ctx context.Context, s *domain.Session) error {
	filters, err := json.Marshal(s.Filters)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO user_sessions (
			session_id, user_id, started_at, last_seen, ended_at, duration_seconds, filters,
			actions_count, favorites_count, first_event, last_event, source, device_info, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (session_id) DO UPDATE SET
			last_seen        = EXCLUDED.last_seen,
			ended_at         = EXCLUDED.ended_at,
			duration_seconds = EXCLUDED.duration_seconds,
			filters          = EXCLUDED.filters,
			actions_count    = EXCLUDED.actions_count,
			favorites_count  = EXCLUDED.favorites_count,
			last_event       = EXCLUDED.last_event,
			device_info      = COALESCE(NULLIF(EXCLUDED.device_info, ''), user_sessions.device_info),
			updated_at       = NOW()`,
		s.ID, s.UserID, s.StartedAt, s.LastSeenAt, timeToNullTime(s.EndedAt), int64(s.Duration().Seconds()),
		string(filters), s.ActionsCount, s.FavoritesCount, s.FirstEvent, s.LastEvent, s.Source, s.DeviceInfo)
	return err
}

// CountByUser implements Repository.
func (r *PostgresRepository) CountByUser(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_sessions WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

// FirstStartedAt implements Repository.
func (r *PostgresRepository) FirstStartedAt(ctx context.Context, userID int64) (*time.Time, error) {
	var t sql.NullTime
	err := r.db.QueryRowContext(ctx, `SELECT MIN(started_at) FROM user_sessions WHERE user_id = $1`, userID).Scan(&t)
	if err != nil {
		return nil, err
	}
	if !t.Valid {
		return nil, nil
	}
	out := t.Time.UTC()
	return &out, nil
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
