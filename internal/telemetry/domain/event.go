// Package domain defines product analytics events.
package domain

import "time"

// Event names emitted by the service.
const (
	EventSessionStart = "session_start"
	EventSessionEnd   = "session_end"
	EventPushSent     = "push_sent"
	EventPushFailed   = "push_failed"
	EventPushSkipped  = "push_skipped"
	EventPaywallBlock = "paywall_block"
	EventSubscribed   = "subscription_activated"
	EventHTTPRequest  = "http_request"
)

// Event is one analytics event about a user.
type Event struct {
	UserID     int64
	Name       string
	SessionID  string
	Properties map[string]any
	CreatedAt  time.Time
}

// New returns an event stamped with the current UTC time.
func New(userID int64, name string, props map[string]any) *Event {
	return &Event{
		UserID:     userID,
		Name:       name,
		Properties: props,
		CreatedAt:  time.Now().UTC(),
	}
}
