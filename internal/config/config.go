// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8780).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL selects the Redis session backend when set (e.g. redis://localhost:6379/0).
	// Empty means sessions are stored in Postgres.
	RedisURL string `mapstructure:"REDIS_URL"`
	// SessionWebTTL is the lifetime of "web" sessions (e.g. "720h").
	SessionWebTTL string `mapstructure:"SESSION_WEB_TTL"`
	// SessionAPITTL is the lifetime of "api" sessions (e.g. "8760h").
	SessionAPITTL string `mapstructure:"SESSION_API_TTL"`
	// HighSecurityWindow is how long a step-up elevation lasts (e.g. "15m").
	HighSecurityWindow string `mapstructure:"HIGH_SECURITY_WINDOW"`
	// HighSecuritySigningKey signs high-security capability tokens (HS256). Required.
	HighSecuritySigningKey string `mapstructure:"HISEC_SIGNING_KEY"`
	// CSRFSecret keys the anti-forgery token HMAC. Required.
	CSRFSecret string `mapstructure:"CSRF_SECRET"`
	// BcryptCost is the bcrypt cost factor (4-31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// Audit event streaming (optional). When Kafka brokers are set, audit events are
	// also emitted to Kafka in addition to the database sink.
	// AuditKafkaBrokers is a comma-separated list of Kafka broker addresses.
	AuditKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuditKafkaTopic is the Kafka topic for audit events (default collabforge-audit).
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the audit worker to push events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the audit worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// OTLPEndpoint enables OpenTelemetry export when set (e.g. http://localhost:4317).
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP export even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8780")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("SESSION_WEB_TTL", "720h")   // 30d
	v.SetDefault("SESSION_API_TTL", "8760h")  // 1y
	v.SetDefault("HIGH_SECURITY_WINDOW", "15m")
	v.SetDefault("HISEC_SIGNING_KEY", "")
	v.SetDefault("CSRF_SECRET", "")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "collabforge-audit")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "collabforge-audit-worker")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if cfg.Env == "production" {
		if cfg.HighSecuritySigningKey == "" {
			return nil, errors.New("config: HISEC_SIGNING_KEY must be set when APP_ENV=production")
		}
		if cfg.CSRFSecret == "" {
			return nil, errors.New("config: CSRF_SECRET must be set when APP_ENV=production")
		}
	}
	if cfg.HighSecuritySigningKey == "" {
		cfg.HighSecuritySigningKey = "collabforge-dev-hisec-key"
	}
	if cfg.CSRFSecret == "" {
		cfg.CSRFSecret = "collabforge-dev-csrf-key"
	}

	return &cfg, nil
}

// SessionTTLs returns the per-session-type lifetimes keyed by session type tag.
// Unset or invalid durations fall back to 720h (web) and 8760h (api).
func (c *Config) SessionTTLs() map[string]time.Duration {
	return map[string]time.Duration{
		"web": parseDuration(c.SessionWebTTL, 720*time.Hour),
		"api": parseDuration(c.SessionAPITTL, 8760*time.Hour),
	}
}

// HisecWindow parses HighSecurityWindow as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) HisecWindow() time.Duration {
	return parseDuration(c.HighSecurityWindow, 15*time.Minute)
}

// AuditKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if audit streaming is enabled (non-empty list) and to create the producer.
func (c *Config) AuditKafkaBrokersList() []string {
	if c == nil || c.AuditKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.AuditKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
