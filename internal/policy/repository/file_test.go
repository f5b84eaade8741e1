package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"retention-notifier/internal/policy/domain"
)

const samplePolicies = `
retention_policy:
  mode: test
  global_daily_cap: 20
  quiet_hours:
    start: 23
    end: 7
session_policy:
  timeout_minutes: 5
  user_timeout_minutes:
    "42": 1
`

func writePolicyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write policy file: %v", err)
	}
	return path
}

func TestFileSource_Get(t *testing.T) {
	src := NewFileSource(writePolicyFile(t, samplePolicies))
	ctx := context.Background()

	raw, err := src.Get(ctx, domain.KeyRetention)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p, err := domain.ParseRetention(raw)
	if err != nil {
		t.Fatalf("ParseRetention: %v", err)
	}
	if !p.TestMode() {
		t.Errorf("Mode = %q, want test", p.Mode)
	}
	if p.GlobalDailyCap != 20 {
		t.Errorf("GlobalDailyCap = %d, want 20", p.GlobalDailyCap)
	}
	if p.QuietHours != (domain.QuietHours{Start: 23, End: 7}) {
		t.Errorf("QuietHours = %+v, want 23-7", p.QuietHours)
	}

	raw, err = src.Get(ctx, domain.KeySession)
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	sp, _ := domain.ParseSession(raw)
	if got := sp.IdleTimeout(42).Minutes(); got != 1 {
		t.Errorf("IdleTimeout(42) = %vm, want 1m", got)
	}
}

func TestFileSource_MissingKey(t *testing.T) {
	src := NewFileSource(writePolicyFile(t, samplePolicies))
	raw, err := src.Get(context.Background(), domain.KeyPaywall)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if raw != nil {
		t.Errorf("Get(missing) = %s, want nil", raw)
	}
}

func TestFileSource_Errors(t *testing.T) {
	if _, err := NewFileSource(filepath.Join(t.TempDir(), "nope.yaml")).Get(context.Background(), domain.KeyRetention); err == nil {
		t.Error("Get on missing file should return error")
	}
	bad := NewFileSource(writePolicyFile(t, "retention_policy: [unclosed"))
	if _, err := bad.Get(context.Background(), domain.KeyRetention); err == nil {
		t.Error("Get on malformed YAML should return error")
	}
}
