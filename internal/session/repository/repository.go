// Package repository persists session snapshots (the user_sessions table).
package repository

import (
	"context"
	"time"

	"retention-notifier/internal/session/domain"
)

// Repository defines persistence for session snapshots.
type Repository interface {
	// Upsert writes the snapshot keyed by session ID, replacing any earlier snapshot.
	Upsert(ctx context.Context, s *domain.Session) error
	// CountByUser returns the number of sessions recorded for the user.
	CountByUser(ctx context.Context, userID int64) (int, error)
	// FirstStartedAt returns the start of the user's earliest session, or nil if none.
	FirstStartedAt(ctx context.Context, userID int64) (*time.Time, error)
}
