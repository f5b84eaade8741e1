package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.HTTPAddr != ":8081" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8081")
	}
	if cfg.GRPCAddr != ":8080" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":8080")
	}
	if cfg.PolicyBackend != PolicyBackendPostgres {
		t.Errorf("PolicyBackend = %q, want %q", cfg.PolicyBackend, PolicyBackendPostgres)
	}
	if cfg.SendMaxAttempts != 1 {
		t.Errorf("SendMaxAttempts = %d, want 1", cfg.SendMaxAttempts)
	}
	if cfg.DispatchBatchSize != 10 {
		t.Errorf("DispatchBatchSize = %d, want 10", cfg.DispatchBatchSize)
	}
	if cfg.PushLocale != "ru" {
		t.Errorf("PushLocale = %q, want %q", cfg.PushLocale, "ru")
	}
	if cfg.TelemetryKafkaTopic != "retention-telemetry" {
		t.Errorf("TelemetryKafkaTopic = %q, want default", cfg.TelemetryKafkaTopic)
	}
	if cfg.KafkaGroupID != "retention-telemetry-relay" {
		t.Errorf("KafkaGroupID = %q, want default", cfg.KafkaGroupID)
	}
	if cfg.ServiceName != "retention-notifier" {
		t.Errorf("ServiceName = %q, want default", cfg.ServiceName)
	}
	if !cfg.InMemory() {
		t.Error("InMemory should be true without DATABASE_URL")
	}
	if got := cfg.SendTimeoutDuration(); got != 10*time.Second {
		t.Errorf("SendTimeoutDuration = %v, want 10s", got)
	}
	if got := cfg.DispatchIntervalDuration(); got != 5*time.Second {
		t.Errorf("DispatchIntervalDuration = %v, want 5s", got)
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":9091")
	os.Setenv("DATABASE_URL", "postgres://localhost/retention")
	os.Setenv("SEND_MAX_ATTEMPTS", "3")
	os.Setenv("SEND_RETRY_BACKOFF", "2m")
	os.Setenv("POLICY_BACKEND", "FILE")
	os.Setenv("POLICY_FILE", "policies.yaml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9091" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9091")
	}
	if cfg.InMemory() {
		t.Error("InMemory should be false with DATABASE_URL")
	}
	if cfg.SendMaxAttempts != 3 {
		t.Errorf("SendMaxAttempts = %d, want 3", cfg.SendMaxAttempts)
	}
	if got := cfg.SendRetryBackoffDuration(); got != 2*time.Minute {
		t.Errorf("SendRetryBackoffDuration = %v, want 2m", got)
	}
	if cfg.PolicyBackend != PolicyBackendFile {
		t.Errorf("PolicyBackend = %q, want %q", cfg.PolicyBackend, PolicyBackendFile)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"zero attempts", map[string]string{"SEND_MAX_ATTEMPTS": "0"}},
		{"redis without url", map[string]string{"POLICY_BACKEND": "redis"}},
		{"file without path", map[string]string{"POLICY_BACKEND": "file"}},
		{"unknown backend", map[string]string{"POLICY_BACKEND": "etcd"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tc.env {
				os.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Load should return error")
			}
		})
	}
}

func TestDurationFallbacks(t *testing.T) {
	cfg := &Config{SendTimeout: "bogus", DispatchInterval: "-1s", PolicyCacheTTL: "", SendRetryBackoff: "0s"}
	if got := cfg.SendTimeoutDuration(); got != 10*time.Second {
		t.Errorf("SendTimeoutDuration = %v, want 10s", got)
	}
	if got := cfg.DispatchIntervalDuration(); got != 5*time.Second {
		t.Errorf("DispatchIntervalDuration = %v, want 5s", got)
	}
	if got := cfg.PolicyCacheTTLDuration(); got != 30*time.Second {
		t.Errorf("PolicyCacheTTLDuration = %v, want 30s", got)
	}
	if got := cfg.SendRetryBackoffDuration(); got != 5*time.Minute {
		t.Errorf("SendRetryBackoffDuration = %v, want 5m", got)
	}
}

func TestKafkaBrokersList(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a:9092", []string{"a:9092"}},
		{" a:9092, ,b:9092 ", []string{"a:9092", "b:9092"}},
	}
	for _, tc := range cases {
		cfg := &Config{KafkaBrokers: tc.in}
		got := cfg.KafkaBrokersList()
		if len(got) == 0 && len(tc.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("KafkaBrokersList(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
