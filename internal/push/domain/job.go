// Package domain defines push jobs and their types.
package domain

import "time"

// Type is a push campaign type.
type Type string

const (
	TypeRetentionNudge            Type = "retention_nudge"
	TypeRetentionNudgeSubscribers Type = "retention_nudge_subscribers"
	TypePaywallFollowup           Type = "paywall_followup"
	TypePremiumWelcome            Type = "premium_welcome"
	TypePremiumRitual             Type = "premium_ritual"
	TypeInterviewInvite           Type = "interview_invite"
)

// ChainTypes are scheduled as ordered groups from a delay list.
var ChainTypes = []Type{TypeRetentionNudge, TypeRetentionNudgeSubscribers, TypePaywallFollowup}

// OnceTypes are inserted at most once per user, whatever their status.
var OnceTypes = []Type{TypePremiumWelcome, TypeInterviewInvite}

// IsChain reports whether t is scheduled as a chain.
func (t Type) IsChain() bool {
	for _, c := range ChainTypes {
		if c == t {
			return true
		}
	}
	return false
}

// IsOnce reports whether t is a one-shot type.
func (t Type) IsOnce() bool {
	for _, c := range OnceTypes {
		if c == t {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a job. Sent and failed are terminal.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Payload is the structured data stored with a job.
type Payload struct {
	Step     int    `json:"step,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Weekly   bool   `json:"weekly,omitempty"`
	PhotoURL string `json:"photo_url,omitempty"`
}

// Job is one scheduled notification.
type Job struct {
	ID          int64
	UserID      int64
	Type        Type
	Status      Status
	ScheduledAt time.Time
	SentAt      *time.Time // nil until the job reaches a terminal state
	Payload     Payload
	Attempts    int
	LastError   string
	CreatedAt   time.Time
}

// Due reports whether a pending job may be dispatched at now.
func (j *Job) Due(now time.Time) bool {
	return j.Status == StatusPending && !j.ScheduledAt.After(now)
}
