package config

import (
	"os"
	"strconv"
)

// ApplyEnv applies environment variable overrides to the configuration.
// Environment variables take precedence over the TOML config but are
// overridden by command-line flags.
func ApplyEnv(cfg Config) Config {
	if v := os.Getenv("MAILHOOKD_HOSTNAME"); v != "" {
		cfg.Hostname = v
	}
	if v := os.Getenv("MAILHOOKD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MAILHOOKD_BIND_ADDR"); v != "" {
		cfg.Listeners = []ListenerConfig{
			{Address: v, Mode: ModeSmtp},
		}
	}
	if v := os.Getenv("MAILHOOKD_TLS_BIND_ADDR"); v != "" {
		cfg.Listeners = append(cfg.Listeners, ListenerConfig{
			Address: v, Mode: ModeSmtps,
		})
	}
	if v := os.Getenv("MAILHOOKD_TLS_CERT_FILE"); v != "" {
		cfg.TLS.CertFile = v
	}
	if v := os.Getenv("MAILHOOKD_TLS_KEY_FILE"); v != "" {
		cfg.TLS.KeyFile = v
	}
	if v := os.Getenv("MAILHOOKD_DOMAINS"); v != "" {
		cfg.Domains.Names = splitList(v)
	}
	if v := os.Getenv("MAILHOOKD_MAX_EMAIL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Limits.MaxMessageSize = n
		}
	}
	if v := os.Getenv("MAILHOOKD_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("MAILHOOKD_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("MAILHOOKD_REDIS_ADDR"); v != "" {
		cfg.Greylist.RedisAddr = v
	}
	if v := os.Getenv("MAILHOOKD_DKIM_MODE"); v != "" {
		cfg.DKIM.Mode = v
	}

	return cfg
}
