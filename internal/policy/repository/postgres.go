package repository

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresSource reads policy documents from the feature_flags table.
type PostgresSource struct {
	db *sql.DB
}

// NewPostgresSource returns a Source backed by feature_flags(key, value_json).
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// Get returns the document for key, or nil if the row is missing.
func (s *PostgresSource) Get(ctx context.Context, key string) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT value_json FROM feature_flags WHERE key = $1`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return raw, nil
}

// PutIfAbsent inserts the document unless the key already exists.
func (s *PostgresSource) PutIfAbsent(ctx context.Context, key string, doc []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO feature_flags (key, value_json) VALUES ($1, $2::jsonb) ON CONFLICT (key) DO NOTHING`,
		key, string(doc))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
