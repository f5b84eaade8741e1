package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	policydomain "retention-notifier/internal/policy/domain"
	"retention-notifier/internal/push/domain"
	segmentdomain "retention-notifier/internal/segment/domain"
	sessiondomain "retention-notifier/internal/session/domain"
	"retention-notifier/internal/telemetry"
	telemetrydomain "retention-notifier/internal/telemetry/domain"
)

// SegmentResolver classifies users at session close.
type SegmentResolver interface {
	Resolve(ctx context.Context, userID int64) (segmentdomain.Segment, error)
	InterviewEligible(ctx context.Context, userID int64) (bool, error)
}

// SubscriptionStore records activations and lists active subscribers.
type SubscriptionStore interface {
	ActivateSubscription(ctx context.Context, userID int64, expiresAt *time.Time) error
	ActiveSubscribers(ctx context.Context) ([]int64, error)
}

// InvitePolicySource supplies the interview invite policy.
type InvitePolicySource interface {
	InterviewInvite(ctx context.Context) policydomain.InterviewInvitePolicy
}

// Planner picks the campaign for a lifecycle event and hands it to the Scheduler.
type Planner struct {
	sched    *Scheduler
	segments SegmentResolver
	subs     SubscriptionStore
	invites  InvitePolicySource
	emitter  telemetry.EventEmitter
}

// NewPlanner returns a Planner. emitter may be nil.
func NewPlanner(sched *Scheduler, segments SegmentResolver, subs SubscriptionStore, invites InvitePolicySource, emitter telemetry.EventEmitter) *Planner {
	return &Planner{sched: sched, segments: segments, subs: subs, invites: invites, emitter: emitter}
}

// OnSessionClosed schedules the follow-up chain for the user's segment.
func (p *Planner) OnSessionClosed(ctx context.Context, closed sessiondomain.Closed) error {
	seg, err := p.segments.Resolve(ctx, closed.UserID)
	if err != nil {
		return fmt.Errorf("resolve segment for user %d: %w", closed.UserID, err)
	}

	switch seg {
	case segmentdomain.FreeLimited:
		reason := closed.BlockReason
		if reason == "" {
			reason = sessiondomain.DefaultBlockReason
		}
		_, err = p.sched.ScheduleChain(ctx, closed.UserID, domain.TypePaywallFollowup, domain.Payload{Reason: reason})
		return err

	case segmentdomain.Premium:
		if _, err := p.sched.ScheduleChain(ctx, closed.UserID, domain.TypeRetentionNudgeSubscribers, domain.Payload{}); err != nil {
			return err
		}
		p.offerInterview(ctx, closed.UserID)
		return nil

	default:
		_, err = p.sched.ScheduleChain(ctx, closed.UserID, domain.TypeRetentionNudge, domain.Payload{})
		return err
	}
}

// offerInterview schedules the one-shot invite when the user qualifies. Failures are logged
// and never affect the subscriber chain.
func (p *Planner) offerInterview(ctx context.Context, userID int64) {
	ok, err := p.segments.InterviewEligible(ctx, userID)
	if err != nil {
		log.Printf("scheduler: interview eligibility user=%d: %v", userID, err)
		return
	}
	if !ok {
		return
	}
	payload := domain.Payload{PhotoURL: p.invites.InterviewInvite(ctx).PhotoURL}
	if _, err := p.sched.ScheduleOnce(ctx, userID, domain.TypeInterviewInvite, payload); err != nil {
		log.Printf("scheduler: interview invite user=%d: %v", userID, err)
	}
}

// OnSubscriptionActivated records the subscription, drops the free-tier chains, and schedules the
// welcome message and the first weekly ritual.
func (p *Planner) OnSubscriptionActivated(ctx context.Context, userID int64, expiresAt *time.Time) error {
	if err := p.subs.ActivateSubscription(ctx, userID, expiresAt); err != nil {
		return fmt.Errorf("activate subscription for user %d: %w", userID, err)
	}
	if n, err := p.sched.CancelChains(ctx, userID); err != nil {
		return fmt.Errorf("cancel chains for user %d: %w", userID, err)
	} else if n > 0 {
		log.Printf("scheduler: user=%d activation cancelled %d pending chain jobs", userID, n)
	}
	if _, err := p.sched.ScheduleOnce(ctx, userID, domain.TypePremiumWelcome, domain.Payload{}); err != nil {
		return err
	}
	if _, err := p.sched.ScheduleRecurring(ctx, userID, domain.TypePremiumRitual); err != nil {
		return err
	}
	telemetry.EmitAsync(p.emitter, ctx, telemetrydomain.New(userID, telemetrydomain.EventSubscribed, nil))
	return nil
}

// RestoreRituals re-derives the pending premium_ritual of every active subscriber. Run at boot.
// Per-user failures are logged and skipped.
func (p *Planner) RestoreRituals(ctx context.Context) (int, error) {
	users, err := p.subs.ActiveSubscribers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list subscribers: %w", err)
	}
	restored := 0
	for _, uid := range users {
		if ctx.Err() != nil {
			return restored, ctx.Err()
		}
		if _, err := p.sched.ScheduleRecurring(ctx, uid, domain.TypePremiumRitual); err != nil {
			if !errors.Is(err, ErrNoSubscription) {
				log.Printf("scheduler: restore ritual user=%d: %v", uid, err)
			}
			continue
		}
		restored++
	}
	return restored, nil
}
