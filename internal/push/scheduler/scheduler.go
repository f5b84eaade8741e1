// Package scheduler turns campaign decisions into push_queue rows.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	policydomain "retention-notifier/internal/policy/domain"
	"retention-notifier/internal/push/domain"
	"retention-notifier/internal/push/repository"
)

var (
	// ErrNoSubscription is returned by ScheduleRecurring when the user has no active subscription.
	ErrNoSubscription = errors.New("scheduler: no active subscription")
	// ErrUnsupportedType is returned when a type is scheduled through the wrong operation.
	ErrUnsupportedType = errors.New("scheduler: unsupported type for this operation")
)

// supersedes lists, per chain type, the pending chains it replaces.
var supersedes = map[domain.Type][]domain.Type{
	domain.TypePaywallFollowup: {domain.TypeRetentionNudge},
}

// blockedBy lists, per chain type, the pending chains that suppress it.
var blockedBy = map[domain.Type][]domain.Type{
	domain.TypeRetentionNudge: {domain.TypePaywallFollowup},
}

// PolicySource supplies the retention policy.
type PolicySource interface {
	Retention(ctx context.Context) policydomain.RetentionPolicy
}

// SubscriptionChecker answers whether a user currently pays.
type SubscriptionChecker interface {
	HasActiveSubscription(ctx context.Context, userID int64) (bool, error)
}

// Scheduler computes job timestamps from policy and writes them through the repository.
type Scheduler struct {
	jobs   repository.Repository
	subs   SubscriptionChecker
	policy PolicySource
	nowF   func() time.Time
}

// New returns a Scheduler.
func New(jobs repository.Repository, subs SubscriptionChecker, policy PolicySource) *Scheduler {
	return &Scheduler{
		jobs:   jobs,
		subs:   subs,
		policy: policy,
		nowF:   time.Now,
	}
}

// ScheduleChain enqueues the chain for typ unless one is already pending. Every row carries
// base plus its 1-based step. Returns the inserted jobs, or nil when the chain was deduplicated.
func (s *Scheduler) ScheduleChain(ctx context.Context, userID int64, typ domain.Type, base domain.Payload) ([]*domain.Job, error) {
	if !typ.IsChain() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, typ)
	}
	pol := s.policy.Retention(ctx)
	delays, unit := pol.Delays(string(typ))
	offsets := CumulativeOffsets(delays, unit)

	now := s.nowF()
	jobs := make([]*domain.Job, len(offsets))
	for i, off := range offsets {
		payload := base
		payload.Step = i + 1
		jobs[i] = &domain.Job{
			UserID:      userID,
			Type:        typ,
			ScheduledAt: now.Add(off),
			Payload:     payload,
		}
	}

	n, err := s.jobs.InsertChain(ctx, repository.ChainInsert{
		UserID:     userID,
		Type:       typ,
		Jobs:       jobs,
		Supersedes: supersedes[typ],
		BlockedBy:  blockedBy[typ],
	})
	if err != nil {
		return nil, fmt.Errorf("schedule %s for user %d: %w", typ, userID, err)
	}
	if n == 0 {
		return nil, nil
	}
	return jobs, nil
}

// ScheduleRecurring replaces the user's pending premium_ritual with the next weekly occurrence.
// In test mode the next occurrence is a fixed number of seconds away.
func (s *Scheduler) ScheduleRecurring(ctx context.Context, userID int64, typ domain.Type) (*domain.Job, error) {
	if typ != domain.TypePremiumRitual {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, typ)
	}
	active, err := s.subs.HasActiveSubscription(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("subscription for user %d: %w", userID, err)
	}
	if !active {
		return nil, ErrNoSubscription
	}

	pol := s.policy.Retention(ctx)
	now := s.nowF()
	var at time.Time
	if pol.TestMode() || pol.PremiumRitual.TestMode {
		at = now.Add(time.Duration(pol.PremiumRitual.TestSeconds) * time.Second)
	} else {
		at = NextWeekly(now, time.Weekday(pol.PremiumRitual.Weekday), pol.PremiumRitual.Hour, pol.TZOffsetHours)
	}

	job := &domain.Job{
		UserID:      userID,
		Type:        typ,
		ScheduledAt: at,
		Payload:     domain.Payload{Weekly: true},
	}
	if err := s.jobs.ReplacePending(ctx, job); err != nil {
		return nil, fmt.Errorf("schedule %s for user %d: %w", typ, userID, err)
	}
	return job, nil
}

// ScheduleOnce enqueues a one-shot job due now unless the user ever had one of that type.
// Returns nil when the job already existed.
func (s *Scheduler) ScheduleOnce(ctx context.Context, userID int64, typ domain.Type, payload domain.Payload) (*domain.Job, error) {
	if !typ.IsOnce() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, typ)
	}
	job := &domain.Job{
		UserID:      userID,
		Type:        typ,
		ScheduledAt: s.nowF(),
		Payload:     payload,
	}
	ok, err := s.jobs.InsertOnce(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("schedule %s for user %d: %w", typ, userID, err)
	}
	if !ok {
		return nil, nil
	}
	return job, nil
}

// CancelChains drops every pending chain of the user. Used on subscription activation, when the
// segment that scheduled them no longer applies.
func (s *Scheduler) CancelChains(ctx context.Context, userID int64) (int64, error) {
	return s.jobs.DeletePending(ctx, userID, domain.ChainTypes...)
}
