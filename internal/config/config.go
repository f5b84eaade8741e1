// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Policy backends accepted by POLICY_BACKEND.
const (
	PolicyBackendPostgres = "postgres"
	PolicyBackendRedis    = "redis"
	PolicyBackendFile     = "file"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the ingress HTTP server listens on (e.g. :8081).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the gRPC health server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. When empty the process runs on in-memory stores.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// PolicyBackend selects where policy documents are read from: postgres, redis or file.
	PolicyBackend string `mapstructure:"POLICY_BACKEND"`
	// PolicyFile is the YAML file with policy documents when PolicyBackend is file.
	PolicyFile string `mapstructure:"POLICY_FILE"`
	// PolicyCacheTTL is how long a fetched policy document is reused (e.g. "30s").
	PolicyCacheTTL string `mapstructure:"POLICY_CACHE_TTL"`
	// RedisURL is the redis:// URL used when PolicyBackend is redis.
	RedisURL string `mapstructure:"REDIS_URL"`

	// TelegramBotToken authenticates the Bot API. When empty, messages are logged instead of sent.
	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	// TelegramAPIURL is the Bot API base URL.
	TelegramAPIURL string `mapstructure:"TELEGRAM_API_URL"`
	// SendTimeout bounds a single channel send (e.g. "10s").
	SendTimeout string `mapstructure:"SEND_TIMEOUT"`
	// SendRatePerSecond limits outbound sends per second.
	SendRatePerSecond float64 `mapstructure:"SEND_RATE_PER_SECOND"`
	// SendMaxAttempts is the number of send attempts per job; 1 disables retry.
	SendMaxAttempts int `mapstructure:"SEND_MAX_ATTEMPTS"`
	// SendRetryBackoff is the base delay before the first retry, doubled on every further attempt.
	SendRetryBackoff string `mapstructure:"SEND_RETRY_BACKOFF"`
	// DispatchInterval is the poll interval of the dispatch worker (e.g. "5s").
	DispatchInterval string `mapstructure:"DISPATCH_INTERVAL"`
	// DispatchBatchSize caps the number of due jobs fetched per poll.
	DispatchBatchSize int `mapstructure:"DISPATCH_BATCH_SIZE"`
	// PushLocale selects the message catalog language (ru or en).
	PushLocale string `mapstructure:"PUSH_LOCALE"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses for the telemetry topic.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for telemetry events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group of the telemetry relay worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// AmplitudeAPIKey enables the Amplitude sink when set.
	AmplitudeAPIKey string `mapstructure:"AMPLITUDE_API_KEY"`
	// AmplitudeURL is the Amplitude HTTP API endpoint.
	AmplitudeURL string `mapstructure:"AMPLITUDE_URL"`

	// OTLPEndpoint is the collector endpoint for traces, metrics and logs; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces a plaintext gRPC connection to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is reported as service.name on exported telemetry.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8081")
	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("POLICY_BACKEND", PolicyBackendPostgres)
	v.SetDefault("POLICY_FILE", "")
	v.SetDefault("POLICY_CACHE_TTL", "30s")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("TELEGRAM_BOT_TOKEN", "")
	v.SetDefault("TELEGRAM_API_URL", "https://api.telegram.org")
	v.SetDefault("SEND_TIMEOUT", "10s")
	v.SetDefault("SEND_RATE_PER_SECOND", 25)
	v.SetDefault("SEND_MAX_ATTEMPTS", 1)
	v.SetDefault("SEND_RETRY_BACKOFF", "5m")
	v.SetDefault("DISPATCH_INTERVAL", "5s")
	v.SetDefault("DISPATCH_BATCH_SIZE", 10)
	v.SetDefault("PUSH_LOCALE", "ru")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "retention-telemetry")
	v.SetDefault("KAFKA_GROUP_ID", "retention-telemetry-relay")
	v.SetDefault("AMPLITUDE_API_KEY", "")
	v.SetDefault("AMPLITUDE_URL", "https://api2.amplitude.com/2/httpapi")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "retention-notifier")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}
	if cfg.SendMaxAttempts < 1 {
		return nil, errors.New("config: SEND_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.DispatchBatchSize <= 0 {
		cfg.DispatchBatchSize = 10
	}

	cfg.PolicyBackend = strings.ToLower(strings.TrimSpace(cfg.PolicyBackend))
	switch cfg.PolicyBackend {
	case PolicyBackendPostgres:
	case PolicyBackendRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("config: REDIS_URL must be set when POLICY_BACKEND=redis")
		}
	case PolicyBackendFile:
		if cfg.PolicyFile == "" {
			return nil, errors.New("config: POLICY_FILE must be set when POLICY_BACKEND=file")
		}
	default:
		return nil, errors.New("config: POLICY_BACKEND must be postgres, redis or file")
	}

	return &cfg, nil
}

// SendTimeoutDuration parses SendTimeout. Returns 10s if unset or invalid.
func (c *Config) SendTimeoutDuration() time.Duration {
	return parseDuration(c.SendTimeout, 10*time.Second)
}

// SendRetryBackoffDuration parses SendRetryBackoff. Returns 5m if unset or invalid.
func (c *Config) SendRetryBackoffDuration() time.Duration {
	return parseDuration(c.SendRetryBackoff, 5*time.Minute)
}

// DispatchIntervalDuration parses DispatchInterval. Returns 5s if unset or invalid.
func (c *Config) DispatchIntervalDuration() time.Duration {
	return parseDuration(c.DispatchInterval, 5*time.Second)
}

// PolicyCacheTTLDuration parses PolicyCacheTTL. Returns 30s if unset or invalid.
func (c *Config) PolicyCacheTTLDuration() time.Duration {
	return parseDuration(c.PolicyCacheTTL, 30*time.Second)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables the Kafka telemetry sink.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// InMemory reports whether no database is configured.
func (c *Config) InMemory() bool {
	return strings.TrimSpace(c.DatabaseURL) == ""
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
