// Package config provides configuration management for the mail
// receiver.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"
)

// ListenerMode defines the operational mode for a listener.
type ListenerMode string

const (
	// ModeSmtp is standard SMTP on port 25, with STARTTLS when a
	// certificate is configured.
	ModeSmtp ListenerMode = "smtp"
	// ModeSmtps is implicit TLS on port 465.
	ModeSmtps ListenerMode = "smtps"
)

// FileConfig is the top-level wrapper for the configuration file, so
// the receiver's settings live under their own table.
type FileConfig struct {
	Mailhookd Config `toml:"mailhookd"`
}

// Config holds the complete receiver configuration.
type Config struct {
	Hostname  string           `toml:"hostname"`
	LogLevel  string           `toml:"log_level"`
	LogFormat string           `toml:"log_format"`
	Listeners []ListenerConfig `toml:"listeners"`
	TLS       TLSConfig        `toml:"tls"`
	Limits    LimitsConfig     `toml:"limits"`
	Timeouts  TimeoutsConfig   `toml:"timeouts"`
	RateLimit RateLimitConfig  `toml:"rate_limit"`
	Domains   DomainsConfig    `toml:"domains"`
	Storage   StorageConfig    `toml:"storage"`
	Retention RetentionConfig  `toml:"retention"`
	Greylist  GreylistConfig   `toml:"greylist"`
	DKIM      DKIMConfig       `toml:"dkim"`
	Metrics   MetricsConfig    `toml:"metrics"`
}

// ListenerConfig defines settings for a single listener.
type ListenerConfig struct {
	Address string       `toml:"address"`
	Mode    ListenerMode `toml:"mode"`
}

// TLSConfig holds TLS certificate and version settings.
type TLSConfig struct {
	CertFile   string `toml:"cert_file"`
	KeyFile    string `toml:"key_file"`
	MinVersion string `toml:"min_version"`
}

// LimitsConfig defines resource limits for the server.
type LimitsConfig struct {
	MaxMessageSize int `toml:"max_message_size"`
	MaxRecipients  int `toml:"max_recipients"`
	MaxConnections int `toml:"max_connections"`
}

// TimeoutsConfig defines timeout durations.
type TimeoutsConfig struct {
	Connection string `toml:"connection"`
	Command    string `toml:"command"`
	Session    string `toml:"session"`
}

// RateLimitConfig defines the per-IP connection rate limit.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	ConnectionsPerMin float64 `toml:"connections_per_min"`
	Burst             int     `toml:"burst"`
}

// DomainsConfig lists the domains the receiver accepts mail for and
// how sub-addressed locals are folded.
type DomainsConfig struct {
	Names        []string `toml:"names"`
	TagSeparator string   `toml:"tag_separator"`
	KeepTags     bool     `toml:"keep_tags"`
}

// StorageConfig selects the backing store.
type StorageConfig struct {
	// Driver is one of "memory", "sqlite", "postgres".
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// RetentionConfig controls message expiry.
type RetentionConfig struct {
	// DefaultExpiry applies to mailboxes with no expiry of their own.
	// Empty or "0" means messages are kept forever.
	DefaultExpiry string `toml:"default_expiry"`
	SweepInterval string `toml:"sweep_interval"`
}

// GreylistConfig controls greylisting of unknown delivery triples.
type GreylistConfig struct {
	Enabled bool   `toml:"enabled"`
	Delay   string `toml:"delay"`
	Window  string `toml:"window"`
	// RedisAddr selects the Redis backend when set; empty keeps the
	// greylist in process memory.
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

// DKIMConfig controls DKIM verification.
type DKIMConfig struct {
	// Mode is "off", "log" or "enforce".
	Mode string `toml:"mode"`
}

// MetricsConfig holds configuration for Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Path    string `toml:"path"`
}

// Default returns a Config with sensible default values.
func Default() Config {
	return Config{
		Hostname:  "localhost",
		LogLevel:  "info",
		LogFormat: "text",
		Listeners: []ListenerConfig{
			{Address: ":25", Mode: ModeSmtp},
		},
		TLS: TLSConfig{
			MinVersion: "1.2",
		},
		Limits: LimitsConfig{
			MaxMessageSize: 10485760, // 10 MiB
			MaxRecipients:  100,
			MaxConnections: 200,
		},
		Timeouts: TimeoutsConfig{
			Connection: "5m",
			Command:    "1m",
			Session:    "10m",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			ConnectionsPerMin: 60,
			Burst:             10,
		},
		Domains: DomainsConfig{
			TagSeparator: "+",
		},
		Storage: StorageConfig{
			Driver: "memory",
		},
		Retention: RetentionConfig{
			DefaultExpiry: "0",
			SweepInterval: "1h",
		},
		Greylist: GreylistConfig{
			Delay:  "5m",
			Window: "36h",
		},
		DKIM: DKIMConfig{
			Mode: "off",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9100",
			Path:    "/metrics",
		},
	}
}

// Validate checks that the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.Hostname == "" {
		return errors.New("hostname is required")
	}

	if len(c.Listeners) == 0 {
		return errors.New("at least one listener is required")
	}

	var needsTLS bool
	for i, l := range c.Listeners {
		if l.Address == "" {
			return fmt.Errorf("listener %d: address is required", i)
		}
		if !isValidMode(l.Mode) {
			return fmt.Errorf("listener %d: invalid mode %q", i, l.Mode)
		}
		if l.Mode == ModeSmtps {
			needsTLS = true
		}
	}

	if needsTLS && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return errors.New("smtps listeners require tls cert_file and key_file")
	}

	if len(c.Domains.Names) == 0 {
		return errors.New("at least one domain is required")
	}

	if c.Limits.MaxMessageSize <= 0 {
		return errors.New("max_message_size must be positive")
	}

	if c.Limits.MaxRecipients <= 0 {
		return errors.New("max_recipients must be positive")
	}

	for name, v := range map[string]string{
		"connection timeout":       c.Timeouts.Connection,
		"command timeout":          c.Timeouts.Command,
		"session timeout":          c.Timeouts.Session,
		"retention default_expiry": c.Retention.DefaultExpiry,
		"retention sweep_interval": c.Retention.SweepInterval,
		"greylist delay":           c.Greylist.Delay,
		"greylist window":          c.Greylist.Window,
	} {
		if v == "" || v == "0" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if c.TLS.MinVersion != "" {
		if _, ok := minTLSVersions[c.TLS.MinVersion]; !ok {
			return fmt.Errorf("invalid TLS min_version %q (valid: 1.0, 1.1, 1.2, 1.3)", c.TLS.MinVersion)
		}
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage driver %q requires a dsn", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("invalid storage driver %q (valid: memory, sqlite, postgres)", c.Storage.Driver)
	}

	switch c.DKIM.Mode {
	case "", "off", "log", "enforce":
	default:
		return fmt.Errorf("invalid dkim mode %q (valid: off, log, enforce)", c.DKIM.Mode)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.New("metrics address is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			return errors.New("metrics path is required when metrics are enabled")
		}
	}

	return nil
}

// MinTLSVersion returns the crypto/tls constant for the configured minimum TLS version.
// Returns tls.VersionTLS12 if not configured or invalid.
func (c *TLSConfig) MinTLSVersion() uint16 {
	if v, ok := minTLSVersions[c.MinVersion]; ok {
		return v
	}
	return tls.VersionTLS12
}

// ConnectionTimeout returns the connection timeout as a time.Duration.
// Returns 5 minutes if not configured or invalid.
func (c *TimeoutsConfig) ConnectionTimeout() time.Duration {
	return durationOr(c.Connection, 5*time.Minute)
}

// CommandTimeout returns the command timeout as a time.Duration.
// Returns 1 minute if not configured or invalid.
func (c *TimeoutsConfig) CommandTimeout() time.Duration {
	return durationOr(c.Command, 1*time.Minute)
}

// SessionTimeout returns the absolute session deadline as a
// time.Duration. Returns 10 minutes if not configured or invalid.
func (c *TimeoutsConfig) SessionTimeout() time.Duration {
	return durationOr(c.Session, 10*time.Minute)
}

// ExpiryDuration returns the default message lifetime. Zero means
// messages never expire.
func (c *RetentionConfig) ExpiryDuration() time.Duration {
	if c.DefaultExpiry == "" || c.DefaultExpiry == "0" {
		return 0
	}
	d, err := time.ParseDuration(c.DefaultExpiry)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// SweepEvery returns how often expired messages are purged.
func (c *RetentionConfig) SweepEvery() time.Duration {
	return durationOr(c.SweepInterval, time.Hour)
}

// DelayDuration returns the greylist delay.
func (c *GreylistConfig) DelayDuration() time.Duration {
	return durationOr(c.Delay, 5*time.Minute)
}

// WindowDuration returns the greylist tracking window.
func (c *GreylistConfig) WindowDuration() time.Duration {
	return durationOr(c.Window, 36*time.Hour)
}

func durationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

var minTLSVersions = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

func isValidMode(m ListenerMode) bool {
	switch m {
	case ModeSmtp, ModeSmtps:
		return true
	default:
		return false
	}
}
