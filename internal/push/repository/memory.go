package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"retention-notifier/internal/push/domain"
)

// MemoryRepository is an in-process Repository used when no database is configured and in tests.
// A single mutex makes every operation atomic, which gives the same dedup guarantees as the
// Postgres transactions.
type MemoryRepository struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*domain.Job
	nowF   func() time.Time
}

// NewMemoryRepository returns an empty in-memory job store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs: make(map[int64]*domain.Job),
		nowF: time.Now,
	}
}

// InsertChain implements Repository.
func (r *MemoryRepository) InsertChain(ctx context.Context, in ChainInsert) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletePendingLocked(in.UserID, func(t domain.Type) bool { return containsType(in.Supersedes, t) })
	for _, j := range r.jobs {
		if j.UserID == in.UserID && j.Status == domain.StatusPending &&
			(j.Type == in.Type || containsType(in.BlockedBy, j.Type)) {
			return 0, nil
		}
	}
	for _, j := range in.Jobs {
		r.insertLocked(j)
	}
	return len(in.Jobs), nil
}

// InsertOnce implements Repository.
func (r *MemoryRepository) InsertOnce(ctx context.Context, job *domain.Job) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.UserID == job.UserID && j.Type == job.Type {
			return false, nil
		}
	}
	r.insertLocked(job)
	return true, nil
}

// ReplacePending implements Repository.
func (r *MemoryRepository) ReplacePending(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletePendingLocked(job.UserID, func(t domain.Type) bool { return t == job.Type })
	r.insertLocked(job)
	return nil
}

// ListDue implements Repository.
func (r *MemoryRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.filterLocked(func(j *domain.Job) bool { return j.Due(now) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListByUser implements Repository.
func (r *MemoryRepository) ListByUser(ctx context.Context, userID int64) ([]*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filterLocked(func(j *domain.Job) bool { return j.UserID == userID }), nil
}

// MarkSent implements Repository.
func (r *MemoryRepository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	return r.finish(id, domain.StatusSent, at, "")
}

// MarkFailed implements Repository.
func (r *MemoryRepository) MarkFailed(ctx context.Context, id int64, at time.Time, reason string) error {
	return r.finish(id, domain.StatusFailed, at, reason)
}

// Reschedule implements Repository.
func (r *MemoryRepository) Reschedule(ctx context.Context, id int64, at time.Time, attempts int, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok && j.Status == domain.StatusPending {
		j.ScheduledAt = at
		j.Attempts = attempts
		j.LastError = reason
	}
	return nil
}

// CountSentBetween implements Repository.
func (r *MemoryRepository) CountSentBetween(ctx context.Context, from, to time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, j := range r.jobs {
		if j.Status == domain.StatusSent && j.SentAt != nil && !j.SentAt.Before(from) && j.SentAt.Before(to) {
			n++
		}
	}
	return n, nil
}

// DeletePending implements Repository.
func (r *MemoryRepository) DeletePending(ctx context.Context, userID int64, types ...domain.Type) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deletePendingLocked(userID, func(t domain.Type) bool { return containsType(types, t) }), nil
}

// DeletePendingExcept implements Repository.
func (r *MemoryRepository) DeletePendingExcept(ctx context.Context, userID int64, keep ...domain.Type) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deletePendingLocked(userID, func(t domain.Type) bool { return !containsType(keep, t) }), nil
}

func (r *MemoryRepository) finish(id int64, status domain.Status, at time.Time, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok && j.Status == domain.StatusPending {
		j.Status = status
		t := at
		j.SentAt = &t
		j.Attempts++
		j.LastError = reason
	}
	return nil
}

func (r *MemoryRepository) insertLocked(job *domain.Job) {
	r.nextID++
	job.ID = r.nextID
	job.Status = domain.StatusPending
	job.CreatedAt = r.nowF()
	stored := *job
	r.jobs[job.ID] = &stored
}

func (r *MemoryRepository) deletePendingLocked(userID int64, match func(domain.Type) bool) int64 {
	var n int64
	for id, j := range r.jobs {
		if j.UserID == userID && j.Status == domain.StatusPending && match(j.Type) {
			delete(r.jobs, id)
			n++
		}
	}
	return n
}

// filterLocked returns copies ordered by scheduled_at, then id.
func (r *MemoryRepository) filterLocked(keep func(*domain.Job) bool) []*domain.Job {
	var out []*domain.Job
	for _, j := range r.jobs {
		if keep(j) {
			c := *j
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].ScheduledAt.Equal(out[b].ScheduledAt) {
			return out[a].ScheduledAt.Before(out[b].ScheduledAt)
		}
		return out[a].ID < out[b].ID
	})
	return out
}

func containsType(types []domain.Type, t domain.Type) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}
