// Package domain defines user segments used to pick a campaign.
package domain

// Segment classifies a user at session close.
type Segment string

const (
	// Premium users have an active subscription or a manual override.
	Premium Segment = "premium"
	// FreeLimited users exhausted the free allowance and saw the paywall.
	FreeLimited Segment = "free_limited"
	// FreeUnlimited users are free and still within the allowance.
	FreeUnlimited Segment = "free_unlimited"
)

// DeepViewLevel is the seen_activities level counted against the free allowance.
const DeepViewLevel = "l1"
