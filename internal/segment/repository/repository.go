// Package repository reads and writes the user facts that decide a segment:
// premium overrides, subscriptions, deep views and favorites.
package repository

import (
	"context"
	"time"
)

// Store defines persistence for segment facts.
type Store interface {
	// IsPremium reports whether the user has a premium override or an active subscription.
	IsPremium(ctx context.Context, userID int64) (bool, error)
	// HasActiveSubscription reports whether the user's subscription is active and unexpired.
	HasActiveSubscription(ctx context.Context, userID int64) (bool, error)
	// ActiveSubscribers lists users with an active, unexpired subscription.
	ActiveSubscribers(ctx context.Context) ([]int64, error)
	// ActivateSubscription marks the subscription active. expiresAt nil means open-ended.
	ActivateSubscription(ctx context.Context, userID int64, expiresAt *time.Time) error
	// SetPremiumOverride sets or clears the manual premium flag.
	SetPremiumOverride(ctx context.Context, userID int64, premium bool) error
	// DeepViewCount counts distinct activities the user opened at the given level.
	DeepViewCount(ctx context.Context, userID int64, level string) (int, error)
	// RecordView records that the user opened an activity at the given level. Repeats are ignored.
	RecordView(ctx context.Context, userID int64, activityID, level string) error
	// FavoritesCount counts the user's distinct favorites.
	FavoritesCount(ctx context.Context, userID int64) (int, error)
	// AddFavorite saves an activity. Repeats are ignored.
	AddFavorite(ctx context.Context, userID int64, activityID string) error
}
