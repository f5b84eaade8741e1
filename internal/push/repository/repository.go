// Package repository persists push jobs (the push_queue table).
package repository

import (
	"context"
	"time"

	"retention-notifier/internal/push/domain"
)

// ChainInsert describes one chain scheduling request. The repository applies it atomically per (user, type).
type ChainInsert struct {
	UserID int64
	Type   domain.Type
	Jobs   []*domain.Job
	// Supersedes lists types whose pending rows are deleted first, whether or not the chain is inserted.
	Supersedes []domain.Type
	// BlockedBy lists types whose pending rows suppress the insert.
	BlockedBy []domain.Type
}

// Repository defines persistence for push jobs.
type Repository interface {
	// InsertChain inserts the chain unless a pending row of the same type (or a blocking type) exists.
	// Returns the number of rows inserted; 0 means the chain was deduplicated.
	InsertChain(ctx context.Context, in ChainInsert) (int, error)
	// InsertOnce inserts job unless a row of the same (user, type) ever existed. Returns false when skipped.
	InsertOnce(ctx context.Context, job *domain.Job) (bool, error)
	// ReplacePending deletes pending rows of job's (user, type) and inserts job.
	ReplacePending(ctx context.Context, job *domain.Job) error
	// ListDue returns up to limit pending jobs with scheduled_at <= now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)
	// ListByUser returns every job of the user, oldest first.
	ListByUser(ctx context.Context, userID int64) ([]*domain.Job, error)
	// MarkSent moves a pending job to sent.
	MarkSent(ctx context.Context, id int64, at time.Time) error
	// MarkFailed moves a pending job to failed.
	MarkFailed(ctx context.Context, id int64, at time.Time, reason string) error
	// Reschedule keeps a job pending with a new scheduled_at after a failed attempt.
	Reschedule(ctx context.Context, id int64, at time.Time, attempts int, reason string) error
	// CountSentBetween counts sent jobs with sent_at in [from, to).
	CountSentBetween(ctx context.Context, from, to time.Time) (int, error)
	// DeletePending removes the user's pending rows of the given types.
	DeletePending(ctx context.Context, userID int64, types ...domain.Type) (int64, error)
	// DeletePendingExcept removes the user's pending rows of every type not listed in keep.
	DeletePendingExcept(ctx context.Context, userID int64, keep ...domain.Type) (int64, error)
}
