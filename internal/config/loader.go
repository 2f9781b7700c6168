package config

import (
	"flag"
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Flags holds command-line flag values.
type Flags struct {
	ConfigPath     string
	Hostname       string
	LogLevel       string
	Listen         string
	TLSCert        string
	TLSKey         string
	Domains        string
	MaxMessageSize int
	MaxRecipients  int
	StorageDriver  string
	StorageDSN     string
}

// ParseFlags parses command-line flags and returns a Flags struct.
func ParseFlags() *Flags {
	f := &Flags{}

	flag.StringVar(&f.ConfigPath, "config", "./mailhookd.toml", "Path to configuration file")
	flag.StringVar(&f.Hostname, "hostname", "", "Server hostname")
	flag.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&f.Listen, "listen", "", "Listen address (replaces all config listeners)")
	flag.StringVar(&f.TLSCert, "tls-cert", "", "TLS certificate file path")
	flag.StringVar(&f.TLSKey, "tls-key", "", "TLS key file path")
	flag.StringVar(&f.Domains, "domains", "", "Comma-separated accepted domains")
	flag.IntVar(&f.MaxMessageSize, "max-message-size", 0, "Maximum message size in bytes")
	flag.IntVar(&f.MaxRecipients, "max-recipients", 0, "Maximum recipients per message")
	flag.StringVar(&f.StorageDriver, "storage-driver", "", "Storage driver (memory, sqlite, postgres)")
	flag.StringVar(&f.StorageDSN, "storage-dsn", "", "Storage data source name")

	flag.Parse()
	return f
}

// Load parses a TOML configuration file and returns the Config.
// If the file does not exist, returns the default configuration.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig FileConfig
	if err := toml.Unmarshal(data, &fileConfig); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	// Merge file config into defaults
	cfg = mergeConfig(cfg, fileConfig.Mailhookd)

	return cfg, nil
}

// ApplyFlags merges command-line flag values into the config.
// Non-zero/non-empty flag values override config file values.
func ApplyFlags(cfg Config, f *Flags) Config {
	if f.Hostname != "" {
		cfg.Hostname = f.Hostname
	}

	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}

	if f.Listen != "" {
		// -listen replaces ALL listeners with a single plain listener
		cfg.Listeners = []ListenerConfig{
			{Address: f.Listen, Mode: ModeSmtp},
		}
	}

	if f.TLSCert != "" {
		cfg.TLS.CertFile = f.TLSCert
	}

	if f.TLSKey != "" {
		cfg.TLS.KeyFile = f.TLSKey
	}

	if f.Domains != "" {
		cfg.Domains.Names = splitList(f.Domains)
	}

	if f.MaxMessageSize > 0 {
		cfg.Limits.MaxMessageSize = f.MaxMessageSize
	}

	if f.MaxRecipients > 0 {
		cfg.Limits.MaxRecipients = f.MaxRecipients
	}

	if f.StorageDriver != "" {
		cfg.Storage.Driver = f.StorageDriver
	}

	if f.StorageDSN != "" {
		cfg.Storage.DSN = f.StorageDSN
	}

	return cfg
}

// LoadWithFlags loads configuration from the path specified in flags,
// applies environment overrides, then applies flag overrides.
func LoadWithFlags(f *Flags) (Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	cfg = ApplyEnv(cfg)
	return ApplyFlags(cfg, f), nil
}

// mergeConfig merges non-zero values from src into dst.
func mergeConfig(dst, src Config) Config {
	if src.Hostname != "" {
		dst.Hostname = src.Hostname
	}

	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}

	if src.LogFormat != "" {
		dst.LogFormat = src.LogFormat
	}

	if len(src.Listeners) > 0 {
		dst.Listeners = src.Listeners
	}

	if src.TLS.CertFile != "" {
		dst.TLS.CertFile = src.TLS.CertFile
	}

	if src.TLS.KeyFile != "" {
		dst.TLS.KeyFile = src.TLS.KeyFile
	}

	if src.TLS.MinVersion != "" {
		dst.TLS.MinVersion = src.TLS.MinVersion
	}

	if src.Limits.MaxMessageSize > 0 {
		dst.Limits.MaxMessageSize = src.Limits.MaxMessageSize
	}

	if src.Limits.MaxRecipients > 0 {
		dst.Limits.MaxRecipients = src.Limits.MaxRecipients
	}

	if src.Limits.MaxConnections > 0 {
		dst.Limits.MaxConnections = src.Limits.MaxConnections
	}

	if src.Timeouts.Connection != "" {
		dst.Timeouts.Connection = src.Timeouts.Connection
	}

	if src.Timeouts.Command != "" {
		dst.Timeouts.Command = src.Timeouts.Command
	}

	if src.Timeouts.Session != "" {
		dst.Timeouts.Session = src.Timeouts.Session
	}

	// Booleans merge only when set in the file; a false in the file is
	// indistinguishable from absent, so defaults win there.
	if src.RateLimit.Enabled {
		dst.RateLimit.Enabled = true
	}

	if src.RateLimit.ConnectionsPerMin > 0 {
		dst.RateLimit.ConnectionsPerMin = src.RateLimit.ConnectionsPerMin
	}

	if src.RateLimit.Burst > 0 {
		dst.RateLimit.Burst = src.RateLimit.Burst
	}

	if len(src.Domains.Names) > 0 {
		dst.Domains.Names = src.Domains.Names
	}

	if src.Domains.TagSeparator != "" {
		dst.Domains.TagSeparator = src.Domains.TagSeparator
	}

	if src.Domains.KeepTags {
		dst.Domains.KeepTags = true
	}

	if src.Storage.Driver != "" {
		dst.Storage.Driver = src.Storage.Driver
	}

	if src.Storage.DSN != "" {
		dst.Storage.DSN = src.Storage.DSN
	}

	if src.Retention.DefaultExpiry != "" {
		dst.Retention.DefaultExpiry = src.Retention.DefaultExpiry
	}

	if src.Retention.SweepInterval != "" {
		dst.Retention.SweepInterval = src.Retention.SweepInterval
	}

	if src.Greylist.Enabled {
		dst.Greylist.Enabled = true
	}

	if src.Greylist.Delay != "" {
		dst.Greylist.Delay = src.Greylist.Delay
	}

	if src.Greylist.Window != "" {
		dst.Greylist.Window = src.Greylist.Window
	}

	if src.Greylist.RedisAddr != "" {
		dst.Greylist.RedisAddr = src.Greylist.RedisAddr
	}

	if src.Greylist.RedisPassword != "" {
		dst.Greylist.RedisPassword = src.Greylist.RedisPassword
	}

	if src.Greylist.RedisDB != 0 {
		dst.Greylist.RedisDB = src.Greylist.RedisDB
	}

	if src.DKIM.Mode != "" {
		dst.DKIM.Mode = src.DKIM.Mode
	}

	if src.Metrics.Enabled {
		dst.Metrics.Enabled = true
	}

	if src.Metrics.Address != "" {
		dst.Metrics.Address = src.Metrics.Address
	}

	if src.Metrics.Path != "" {
		dst.Metrics.Path = src.Metrics.Path
	}

	return dst
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
