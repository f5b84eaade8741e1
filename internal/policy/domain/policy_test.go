package domain

import (
	"reflect"
	"testing"
	"time"
)

func TestParseRetention_EmptyReturnsDefaults(t *testing.T) {
	got, err := ParseRetention(nil)
	if err != nil {
		t.Fatalf("ParseRetention(nil): %v", err)
	}
	if !reflect.DeepEqual(got, DefaultRetention()) {
		t.Errorf("ParseRetention(nil) = %+v, want defaults", got)
	}
}

func TestParseRetention_PartialDocumentKeepsOtherDefaults(t *testing.T) {
	got, err := ParseRetention([]byte(`{"global_daily_cap": 7, "delays_hours": {"retention_nudge": [1, 2]}}`))
	if err != nil {
		t.Fatalf("ParseRetention: %v", err)
	}
	if got.GlobalDailyCap != 7 {
		t.Errorf("GlobalDailyCap = %d, want 7", got.GlobalDailyCap)
	}
	if want := []int{1, 2}; !reflect.DeepEqual(got.DelaysHours["retention_nudge"], want) {
		t.Errorf("retention_nudge delays = %v, want %v", got.DelaysHours["retention_nudge"], want)
	}
	if want := []int{24, 72, 120, 240}; !reflect.DeepEqual(got.DelaysHours["paywall_followup"], want) {
		t.Errorf("paywall_followup delays = %v, want default %v", got.DelaysHours["paywall_followup"], want)
	}
	if got.QuietHours != (QuietHours{Start: 22, End: 9}) {
		t.Errorf("QuietHours = %+v, want default", got.QuietHours)
	}
	if got.TZOffsetHours != 3 {
		t.Errorf("TZOffsetHours = %d, want 3", got.TZOffsetHours)
	}
}

func TestParseRetention_WrongTypeFallsBackPerField(t *testing.T) {
	got, err := ParseRetention([]byte(`{"global_daily_cap": "lots", "tz_offset_hours": 5}`))
	if err == nil {
		t.Error("ParseRetention should report the type error")
	}
	if got.GlobalDailyCap != 100 {
		t.Errorf("GlobalDailyCap = %d, want default 100", got.GlobalDailyCap)
	}
	if got.TZOffsetHours != 5 {
		t.Errorf("TZOffsetHours = %d, want 5", got.TZOffsetHours)
	}
}

func TestParseRetention_OutOfRangeValues(t *testing.T) {
	got, _ := ParseRetention([]byte(`{
		"mode": "staging",
		"quiet_hours": {"start": 25, "end": 9},
		"tz_offset_hours": 40,
		"global_daily_cap": -1,
		"premium_ritual": {"weekday": 9, "hour": 30, "test_seconds": 0}
	}`))
	def := DefaultRetention()
	if got.Mode != def.Mode {
		t.Errorf("Mode = %q, want %q", got.Mode, def.Mode)
	}
	if got.QuietHours != def.QuietHours {
		t.Errorf("QuietHours = %+v, want %+v", got.QuietHours, def.QuietHours)
	}
	if got.TZOffsetHours != def.TZOffsetHours {
		t.Errorf("TZOffsetHours = %d, want %d", got.TZOffsetHours, def.TZOffsetHours)
	}
	if got.GlobalDailyCap != def.GlobalDailyCap {
		t.Errorf("GlobalDailyCap = %d, want %d", got.GlobalDailyCap, def.GlobalDailyCap)
	}
	if got.PremiumRitual != def.PremiumRitual {
		t.Errorf("PremiumRitual = %+v, want %+v", got.PremiumRitual, def.PremiumRitual)
	}
}

func TestParseRetention_DoesNotShareDefaultMaps(t *testing.T) {
	a, _ := ParseRetention([]byte(`{"delays_hours": {"retention_nudge": [1]}}`))
	b, _ := ParseRetention(nil)
	if reflect.DeepEqual(a.DelaysHours["retention_nudge"], b.DelaysHours["retention_nudge"]) {
		t.Error("parsed documents must not share default maps")
	}
}

func TestRetentionPolicy_Delays(t *testing.T) {
	p := DefaultRetention()
	delays, unit := p.Delays("retention_nudge")
	if unit != time.Hour || !reflect.DeepEqual(delays, []int{24, 72, 168, 336}) {
		t.Errorf("prod Delays = %v %v, want [24 72 168 336] 1h", delays, unit)
	}
	p.Mode = ModeTest
	delays, unit = p.Delays("retention_nudge")
	if unit != time.Second || !reflect.DeepEqual(delays, []int{20, 20, 20, 20}) {
		t.Errorf("test Delays = %v %v, want [20 20 20 20] 1s", delays, unit)
	}
}

func TestQuietHours_Contains(t *testing.T) {
	cases := []struct {
		q    QuietHours
		hour int
		want bool
	}{
		{QuietHours{22, 9}, 23, true},
		{QuietHours{22, 9}, 22, true},
		{QuietHours{22, 9}, 0, true},
		{QuietHours{22, 9}, 8, true},
		{QuietHours{22, 9}, 9, false},
		{QuietHours{22, 9}, 21, false},
		{QuietHours{1, 5}, 1, true},
		{QuietHours{1, 5}, 5, false},
		{QuietHours{1, 5}, 0, false},
		{QuietHours{7, 7}, 7, false},
	}
	for _, tc := range cases {
		if got := tc.q.Contains(tc.hour); got != tc.want {
			t.Errorf("%+v.Contains(%d) = %v, want %v", tc.q, tc.hour, got, tc.want)
		}
	}
}

func TestSessionPolicy_IdleTimeout(t *testing.T) {
	p, err := ParseSession([]byte(`{"user_timeout_minutes": {"42": 5, "43": 0}}`))
	if err != nil {
		t.Fatalf("ParseSession: %v", err)
	}
	if got := p.IdleTimeout(42); got != 5*time.Minute {
		t.Errorf("IdleTimeout(42) = %v, want 5m", got)
	}
	if got := p.IdleTimeout(43); got != 30*time.Minute {
		t.Errorf("IdleTimeout(43) = %v, want default 30m", got)
	}
	if got := p.IdleTimeout(7); got != 30*time.Minute {
		t.Errorf("IdleTimeout(7) = %v, want 30m", got)
	}
	if got := p.SyncInterval(); got != 30*time.Second {
		t.Errorf("SyncInterval = %v, want 30s", got)
	}
}

func TestParseSession_NonPositiveFallsBack(t *testing.T) {
	p, _ := ParseSession([]byte(`{"timeout_minutes": 0, "sync_interval_seconds": -3, "user_timeout_minutes": null}`))
	if !reflect.DeepEqual(p, DefaultSession()) {
		t.Errorf("ParseSession = %+v, want defaults", p)
	}
}

func TestParseInterviewInviteAndPaywall(t *testing.T) {
	inv, err := ParseInterviewInvite([]byte(`{"enabled": true, "photo_url": "https://example.com/p.jpg"}`))
	if err != nil {
		t.Fatalf("ParseInterviewInvite: %v", err)
	}
	if !inv.Enabled || inv.MinSessions != 3 || !inv.RequireDeepView || inv.PhotoURL == "" {
		t.Errorf("ParseInterviewInvite = %+v", inv)
	}
	pw, err := ParsePaywall([]byte(`{"deep_view_limit": 0, "trial_hours": 48}`))
	if err != nil {
		t.Fatalf("ParsePaywall: %v", err)
	}
	if !pw.Enabled || pw.DeepViewLimit != 5 || pw.TrialHours != 48 {
		t.Errorf("ParsePaywall = %+v", pw)
	}
}
