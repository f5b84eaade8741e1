// Package domain holds the typed policy documents read from the config source.
//
// Documents are JSON objects. Parsing starts from the defaults and overlays whatever the stored
// document provides, so a missing or malformed field falls back on its own without discarding
// the rest of the document.
package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// Keys of the policy documents in the config source.
const (
	KeyRetention       = "retention_policy"
	KeySession         = "session_policy"
	KeyInterviewInvite = "interview_invite"
	KeyPaywall         = "paywall_rules"
)

// Push environment modes. Test mode schedules chains in seconds instead of hours.
const (
	ModeProd = "prod"
	ModeTest = "test"
)

// Keys is every policy document the service reads, in seeding order.
var Keys = []string{KeyRetention, KeySession, KeyInterviewInvite, KeyPaywall}

// QuietHours is a local hour-of-day window [Start, End). Start > End wraps past midnight; Start == End disables it.
type QuietHours struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether the local hour falls inside the window.
func (q QuietHours) Contains(hour int) bool {
	switch {
	case q.Start == q.End:
		return false
	case q.Start < q.End:
		return hour >= q.Start && hour < q.End
	default:
		return hour >= q.Start || hour < q.End
	}
}

// RitualSchedule places the weekly premium ritual.
type RitualSchedule struct {
	Weekday     int  `json:"weekday"` // 0 = Sunday
	Hour        int  `json:"hour"`
	TestMode    bool `json:"test_mode"`
	TestSeconds int  `json:"test_seconds"`
}

// RetentionPolicy drives campaign scheduling and dispatch throttling.
type RetentionPolicy struct {
	Mode              string           `json:"mode"`
	DelaysHours       map[string][]int `json:"delays_hours"`
	DelaysTestSeconds map[string][]int `json:"delays_test_seconds"`
	QuietHours        QuietHours       `json:"quiet_hours"`
	TZOffsetHours     int              `json:"tz_offset_hours"`
	GlobalDailyCap    int              `json:"global_daily_cap"`
	BypassTypes       []string         `json:"bypass_types"`
	PremiumRitual     RitualSchedule   `json:"premium_ritual"`
}

// TestMode reports whether chains are scheduled in seconds.
func (p RetentionPolicy) TestMode() bool {
	return p.Mode == ModeTest
}

// Delays returns the configured delay list for a chain type and the unit its entries are in.
func (p RetentionPolicy) Delays(chainType string) ([]int, time.Duration) {
	if p.TestMode() {
		return p.DelaysTestSeconds[chainType], time.Second
	}
	return p.DelaysHours[chainType], time.Hour
}

// Bypasses reports whether the type skips quiet hours and the daily cap.
func (p RetentionPolicy) Bypasses(pushType string) bool {
	for _, t := range p.BypassTypes {
		if t == pushType {
			return true
		}
	}
	return false
}

// Location returns the fixed zone for TZOffsetHours.
func (p RetentionPolicy) Location() *time.Location {
	return time.FixedZone("UTC"+strconv.Itoa(p.TZOffsetHours), p.TZOffsetHours*3600)
}

// SessionPolicy controls session liveness.
type SessionPolicy struct {
	TimeoutMinutes      int            `json:"timeout_minutes"`
	UserTimeoutMinutes  map[string]int `json:"user_timeout_minutes"`
	SyncIntervalSeconds int            `json:"sync_interval_seconds"`
	EvictAfterHours     int            `json:"evict_after_hours"`
}

// IdleTimeout resolves the timeout for a user: a positive per-user override wins over the default.
func (p SessionPolicy) IdleTimeout(userID int64) time.Duration {
	if m, ok := p.UserTimeoutMinutes[strconv.FormatInt(userID, 10)]; ok && m > 0 {
		return time.Duration(m) * time.Minute
	}
	return time.Duration(p.TimeoutMinutes) * time.Minute
}

// SyncInterval is the period of the session sync loop.
func (p SessionPolicy) SyncInterval() time.Duration {
	return time.Duration(p.SyncIntervalSeconds) * time.Second
}

// EvictAfter is how long a closed session stays in memory.
func (p SessionPolicy) EvictAfter() time.Duration {
	return time.Duration(p.EvictAfterHours) * time.Hour
}

// InterviewInvitePolicy gates the one-shot interview invite for subscribers.
type InterviewInvitePolicy struct {
	Enabled         bool   `json:"enabled"`
	MinSessions     int    `json:"min_sessions"`
	RequireDeepView bool   `json:"require_deep_view"`
	PhotoURL        string `json:"photo_url"`
}

// PaywallRules defines the free-tier allowance.
type PaywallRules struct {
	Enabled       bool `json:"enabled"`
	DeepViewLimit int  `json:"deep_view_limit"`
	TrialHours    int  `json:"trial_hours"`
}

// DefaultRetention returns the production defaults.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{
		Mode: ModeProd,
		DelaysHours: map[string][]int{
			"retention_nudge":             {24, 72, 168, 336},
			"paywall_followup":            {24, 72, 120, 240},
			"retention_nudge_subscribers": {48, 240},
		},
		DelaysTestSeconds: map[string][]int{
			// Accumulated into offsets of 20s, 40s, 60s and 80s.
			"retention_nudge":             {20, 20, 20, 20},
			"paywall_followup":            {20, 20, 20, 20},
			"retention_nudge_subscribers": {20, 20},
		},
		QuietHours:     QuietHours{Start: 22, End: 9},
		TZOffsetHours:  3,
		GlobalDailyCap: 100,
		BypassTypes:    []string{"premium_welcome"},
		PremiumRitual:  RitualSchedule{Weekday: int(time.Friday), Hour: 13, TestSeconds: 50},
	}
}

// DefaultSession returns a 30 minute idle timeout synced every 30 seconds.
func DefaultSession() SessionPolicy {
	return SessionPolicy{
		TimeoutMinutes:      30,
		UserTimeoutMinutes:  map[string]int{},
		SyncIntervalSeconds: 30,
		EvictAfterHours:     24,
	}
}

// DefaultInterviewInvite returns a disabled invite.
func DefaultInterviewInvite() InterviewInvitePolicy {
	return InterviewInvitePolicy{
		Enabled:         false,
		MinSessions:     3,
		RequireDeepView: true,
	}
}

// DefaultPaywall returns the free-tier allowance of five deep views.
func DefaultPaywall() PaywallRules {
	return PaywallRules{Enabled: true, DeepViewLimit: 5}
}

// ParseRetention overlays raw on the defaults. The returned error is informational: the policy is always usable.
func ParseRetention(raw []byte) (RetentionPolicy, error) {
	p := DefaultRetention()
	err := overlay(raw, &p)
	return MergeRetentionWithDefaults(p), err
}

// ParseSession overlays raw on the defaults.
func ParseSession(raw []byte) (SessionPolicy, error) {
	p := DefaultSession()
	err := overlay(raw, &p)
	return MergeSessionWithDefaults(p), err
}

// ParseInterviewInvite overlays raw on the defaults.
func ParseInterviewInvite(raw []byte) (InterviewInvitePolicy, error) {
	p := DefaultInterviewInvite()
	err := overlay(raw, &p)
	if p.MinSessions < 0 {
		p.MinSessions = DefaultInterviewInvite().MinSessions
	}
	return p, err
}

// ParsePaywall overlays raw on the defaults.
func ParsePaywall(raw []byte) (PaywallRules, error) {
	p := DefaultPaywall()
	err := overlay(raw, &p)
	if p.DeepViewLimit <= 0 {
		p.DeepViewLimit = DefaultPaywall().DeepViewLimit
	}
	if p.TrialHours < 0 {
		p.TrialHours = 0
	}
	return p, err
}

// MergeRetentionWithDefaults replaces out-of-range fields with their defaults, one field at a time.
func MergeRetentionWithDefaults(p RetentionPolicy) RetentionPolicy {
	def := DefaultRetention()
	if p.Mode != ModeProd && p.Mode != ModeTest {
		p.Mode = def.Mode
	}
	if p.DelaysHours == nil {
		p.DelaysHours = def.DelaysHours
	}
	if p.DelaysTestSeconds == nil {
		p.DelaysTestSeconds = def.DelaysTestSeconds
	}
	for k, v := range def.DelaysHours {
		if _, ok := p.DelaysHours[k]; !ok {
			p.DelaysHours[k] = v
		}
	}
	for k, v := range def.DelaysTestSeconds {
		if _, ok := p.DelaysTestSeconds[k]; !ok {
			p.DelaysTestSeconds[k] = v
		}
	}
	if !validHour(p.QuietHours.Start) || !validHour(p.QuietHours.End) {
		p.QuietHours = def.QuietHours
	}
	if p.TZOffsetHours < -12 || p.TZOffsetHours > 14 {
		p.TZOffsetHours = def.TZOffsetHours
	}
	if p.GlobalDailyCap < 0 {
		p.GlobalDailyCap = def.GlobalDailyCap
	}
	if p.BypassTypes == nil {
		p.BypassTypes = def.BypassTypes
	}
	if p.PremiumRitual.Weekday < 0 || p.PremiumRitual.Weekday > 6 {
		p.PremiumRitual.Weekday = def.PremiumRitual.Weekday
	}
	if !validHour(p.PremiumRitual.Hour) {
		p.PremiumRitual.Hour = def.PremiumRitual.Hour
	}
	if p.PremiumRitual.TestSeconds <= 0 {
		p.PremiumRitual.TestSeconds = def.PremiumRitual.TestSeconds
	}
	return p
}

// MergeSessionWithDefaults replaces non-positive durations with their defaults.
func MergeSessionWithDefaults(p SessionPolicy) SessionPolicy {
	def := DefaultSession()
	if p.TimeoutMinutes <= 0 {
		p.TimeoutMinutes = def.TimeoutMinutes
	}
	if p.UserTimeoutMinutes == nil {
		p.UserTimeoutMinutes = def.UserTimeoutMinutes
	}
	if p.SyncIntervalSeconds <= 0 {
		p.SyncIntervalSeconds = def.SyncIntervalSeconds
	}
	if p.EvictAfterHours <= 0 {
		p.EvictAfterHours = def.EvictAfterHours
	}
	return p
}

// overlay decodes raw into dst in place. json.Unmarshal keeps fields absent from raw and skips
// fields of the wrong type, so a partial document never clobbers defaults.
func overlay(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func validHour(h int) bool { return h >= 0 && h <= 23 }
