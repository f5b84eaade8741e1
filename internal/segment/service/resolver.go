// Package service derives a user's segment at session close.
package service

import (
	"context"
	"fmt"
	"time"

	policydomain "retention-notifier/internal/policy/domain"
	"retention-notifier/internal/segment/domain"
	"retention-notifier/internal/segment/repository"
)

// PolicySource supplies the paywall and interview policies.
type PolicySource interface {
	Paywall(ctx context.Context) policydomain.PaywallRules
	InterviewInvite(ctx context.Context) policydomain.InterviewInvitePolicy
}

// SessionHistory answers questions about the user's past sessions.
type SessionHistory interface {
	CountByUser(ctx context.Context, userID int64) (int, error)
	FirstStartedAt(ctx context.Context, userID int64) (*time.Time, error)
}

// Resolver combines the segment store, session history and policy into segment decisions.
type Resolver struct {
	store    repository.Store
	sessions SessionHistory
	policy   PolicySource
	nowF     func() time.Time
}

// NewResolver returns a Resolver.
func NewResolver(store repository.Store, sessions SessionHistory, policy PolicySource) *Resolver {
	return &Resolver{store: store, sessions: sessions, policy: policy, nowF: time.Now}
}

// IsPremium reports whether the user has premium access.
func (r *Resolver) IsPremium(ctx context.Context, userID int64) (bool, error) {
	return r.store.IsPremium(ctx, userID)
}

// IsUsageLimited reports whether a free user has exhausted the deep-view allowance.
// Users whose first session is younger than the trial window are exempt.
func (r *Resolver) IsUsageLimited(ctx context.Context, userID int64) (bool, error) {
	rules := r.policy.Paywall(ctx)
	if !rules.Enabled {
		return false, nil
	}
	premium, err := r.store.IsPremium(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("premium lookup: %w", err)
	}
	if premium {
		return false, nil
	}
	views, err := r.store.DeepViewCount(ctx, userID, domain.DeepViewLevel)
	if err != nil {
		return false, fmt.Errorf("deep view count: %w", err)
	}
	if views < rules.DeepViewLimit {
		return false, nil
	}
	if rules.TrialHours > 0 {
		first, err := r.sessions.FirstStartedAt(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("first session: %w", err)
		}
		if first != nil && r.nowF().Sub(*first) < time.Duration(rules.TrialHours)*time.Hour {
			return false, nil
		}
	}
	return true, nil
}

// Resolve classifies the user. The usage limit is checked before premium status.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (domain.Segment, error) {
	limited, err := r.IsUsageLimited(ctx, userID)
	if err != nil {
		return "", err
	}
	if limited {
		return domain.FreeLimited, nil
	}
	premium, err := r.store.IsPremium(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("premium lookup: %w", err)
	}
	if premium {
		return domain.Premium, nil
	}
	return domain.FreeUnlimited, nil
}

// InterviewEligible reports whether the interview invite may be offered to the user.
func (r *Resolver) InterviewEligible(ctx context.Context, userID int64) (bool, error) {
	pol := r.policy.InterviewInvite(ctx)
	if !pol.Enabled {
		return false, nil
	}
	n, err := r.sessions.CountByUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("session count: %w", err)
	}
	if n < pol.MinSessions {
		return false, nil
	}
	if pol.RequireDeepView {
		views, err := r.store.DeepViewCount(ctx, userID, domain.DeepViewLevel)
		if err != nil {
			return false, fmt.Errorf("deep view count: %w", err)
		}
		if views == 0 {
			return false, nil
		}
	}
	return true, nil
}
