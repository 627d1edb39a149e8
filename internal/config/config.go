// SPDX-License-Identifier: MIT

// Package config loads the daemon configuration from the environment.
// Precedence is environment over defaults; there is no config file — the
// service is deployed as a single container with env-driven settings.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full daemon configuration.
type Config struct {
	// Server
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	DataDir    string `env:"DATA_DIR" envDefault:"/var/lib/lowroll"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	// Store
	StoreBackend string `env:"STORE_BACKEND" envDefault:"file"` // file|document
	StorePrefix  string `env:"STORE_PREFIX" envDefault:"lowroll"`

	// Identity
	AuthMode          string `env:"AUTH_MODE" envDefault:"auto"` // strict|legacy|auto
	LegacyTokenSecret string `env:"LEGACY_TOKEN_SECRET" envDefault:""`
	StrictIssuer      string `env:"STRICT_ISSUER" envDefault:""`
	StrictAudience    string `env:"STRICT_AUDIENCE" envDefault:""`
	StrictSecret      string `env:"STRICT_SECRET" envDefault:""`

	// Admin
	AdminAccessMode string `env:"ADMIN_ACCESS_MODE" envDefault:"token"` // token|role|hybrid|open|disabled
	AdminToken      string `env:"ADMIN_TOKEN" envDefault:""`

	// Gameplay timing (milliseconds on the wire, durations in code)
	TurnTimeoutMS        int64 `env:"TURN_TIMEOUT_MS" envDefault:"30000"`
	HeartbeatLivenessMS  int64 `env:"HEARTBEAT_LIVENESS_MS" envDefault:"45000"`
	RoomInactivityMS     int64 `env:"ROOM_INACTIVITY_MS" envDefault:"300000"`
	QueueNextDelayMS     int64 `env:"QUEUE_NEXT_DELAY_MS" envDefault:"60000"`
	MaxInstances         int   `env:"MAX_INSTANCES" envDefault:"1"` // advisory, current model is single-instance
	AuditRetentionHours  int   `env:"AUDIT_RETENTION_HOURS" envDefault:"720"`
	ShutdownDrainSeconds int   `env:"SHUTDOWN_DRAIN_SECONDS" envDefault:"10"`

	// Moderation
	TermsFile     string `env:"MODERATION_TERMS_FILE" envDefault:""`
	MuteThreshold int    `env:"MODERATION_MUTE_THRESHOLD" envDefault:"3"`
	BanThreshold  int    `env:"MODERATION_BAN_THRESHOLD" envDefault:"6"`
	MuteWindowMS  int64  `env:"MODERATION_MUTE_WINDOW_MS" envDefault:"300000"`

	// Leaderboard cache (optional)
	RedisAddr     string `env:"REDIS_ADDR" envDefault:""`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Rate limiting
	RateLimitRPS   int `env:"RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst int `env:"RATE_LIMIT_BURST" envDefault:"100"`

	// Tracing (optional)
	OTelEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTelExporter   string  `env:"OTEL_EXPORTER" envDefault:"grpc"` // grpc|http
	OTelEndpoint   string  `env:"OTEL_ENDPOINT" envDefault:"localhost:4317"`
	OTelSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
	Environment    string  `env:"DEPLOY_ENV" envDefault:"production"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enumerations and ranges. A validation error is a startup
// configuration error (exit code 1).
func (c Config) Validate() error {
	switch c.StoreBackend {
	case "file", "document":
	default:
		return fmt.Errorf("STORE_BACKEND must be file or document, got %q", c.StoreBackend)
	}
	switch c.AuthMode {
	case "strict", "legacy", "auto":
	default:
		return fmt.Errorf("AUTH_MODE must be strict, legacy or auto, got %q", c.AuthMode)
	}
	switch c.AdminAccessMode {
	case "token", "role", "hybrid", "open", "disabled":
	default:
		return fmt.Errorf("ADMIN_ACCESS_MODE must be token, role, hybrid, open or disabled, got %q", c.AdminAccessMode)
	}
	if (c.AdminAccessMode == "token" || c.AdminAccessMode == "hybrid") && c.AdminToken == "" {
		return fmt.Errorf("ADMIN_TOKEN is required when ADMIN_ACCESS_MODE=%s", c.AdminAccessMode)
	}
	if c.AuthMode != "strict" && c.LegacyTokenSecret == "" {
		return fmt.Errorf("LEGACY_TOKEN_SECRET is required when AUTH_MODE=%s", c.AuthMode)
	}
	if c.TurnTimeoutMS <= 0 || c.HeartbeatLivenessMS <= 0 || c.RoomInactivityMS <= 0 || c.QueueNextDelayMS < 0 {
		return fmt.Errorf("gameplay timing values must be positive")
	}
	if c.MaxInstances != 1 {
		return fmt.Errorf("MAX_INSTANCES must be 1: room ownership is in-process and cannot be shared")
	}
	if c.OTelEnabled {
		switch c.OTelExporter {
		case "grpc", "http":
		default:
			return fmt.Errorf("OTEL_EXPORTER must be grpc or http, got %q", c.OTelExporter)
		}
	}
	return nil
}

// Duration accessors.

func (c Config) TurnTimeout() time.Duration       { return time.Duration(c.TurnTimeoutMS) * time.Millisecond }
func (c Config) HeartbeatLiveness() time.Duration { return time.Duration(c.HeartbeatLivenessMS) * time.Millisecond }
func (c Config) RoomInactivity() time.Duration    { return time.Duration(c.RoomInactivityMS) * time.Millisecond }
func (c Config) QueueNextDelay() time.Duration    { return time.Duration(c.QueueNextDelayMS) * time.Millisecond }
func (c Config) MuteWindow() time.Duration        { return time.Duration(c.MuteWindowMS) * time.Millisecond }
func (c Config) AuditRetention() time.Duration    { return time.Duration(c.AuditRetentionHours) * time.Hour }
func (c Config) ShutdownDrain() time.Duration     { return time.Duration(c.ShutdownDrainSeconds) * time.Second }

// Redacted returns a copy safe for logging.
func (c Config) Redacted() Config {
	if c.AdminToken != "" {
		c.AdminToken = "[redacted]"
	}
	if c.LegacyTokenSecret != "" {
		c.LegacyTokenSecret = "[redacted]"
	}
	if c.StrictSecret != "" {
		c.StrictSecret = "[redacted]"
	}
	if c.RedisPassword != "" {
		c.RedisPassword = "[redacted]"
	}
	return c
}
