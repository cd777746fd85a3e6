// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

// Package config loads hsgmembers settings. Values come from built-in
// defaults, then an optional YAML file, then command line flags the user
// actually set. DATABASE_URL fills the database URL when nothing else does.
package config

import (
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/hackerspacesg/hsgmembers/internal/auth"
	"github.com/hackerspacesg/hsgmembers/internal/logging"
	"github.com/hackerspacesg/hsgmembers/internal/mail"
	"github.com/hackerspacesg/hsgmembers/internal/throttle"
)

// DatabaseURLEnv is read when no database URL is configured.
const DatabaseURLEnv = "DATABASE_URL"

// HTTPConfig configures the public API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// TrustedProxies may set the client IP through X-Forwarded-For.
	TrustedProxies []string `koanf:"trusted_proxies"`
}

// MetricsConfig configures the observability listener. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig selects the log format and level.
type LogConfig struct {
	Format string `koanf:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL      string `koanf:"url"`
	MaxConns int32  `koanf:"max_conns"`
	// AutoMigrate applies pending migrations before serving.
	AutoMigrate bool `koanf:"auto_migrate"`
}

// ThrottleConfig configures the public endpoint throttle.
type ThrottleConfig struct {
	Window time.Duration `koanf:"window"`
	Limit  int           `koanf:"limit"`
}

// AuthConfig tunes token lifetimes, anti-enumeration jitter and hashing.
type AuthConfig struct {
	SessionTTL      time.Duration `koanf:"session_ttl"`
	ResetTTL        time.Duration `koanf:"reset_ttl"`
	VerificationTTL time.Duration `koanf:"verification_ttl"`
	JitterMin       time.Duration `koanf:"jitter_min"`
	JitterMax       time.Duration `koanf:"jitter_max"`
	// HashConcurrency bounds concurrent argon2id computations. Zero means GOMAXPROCS.
	HashConcurrency int `koanf:"hash_concurrency"`
}

// Config is the complete service configuration.
type Config struct {
	HTTP     HTTPConfig      `koanf:"http"`
	Metrics  MetricsConfig   `koanf:"metrics"`
	Log      LogConfig       `koanf:"log"`
	Database DatabaseConfig  `koanf:"database"`
	SMTP     mail.SMTPConfig `koanf:"smtp"`
	Throttle ThrottleConfig  `koanf:"throttle"`
	Auth     AuthConfig      `koanf:"auth"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:     LogConfig{Format: logging.FormatJSON, Level: "info"},
		SMTP:    mail.SMTPConfig{Port: 587, FromName: "HackerspaceSG"},
		Throttle: ThrottleConfig{
			Window: throttle.DefaultWindow,
			Limit:  throttle.DefaultLimit,
		},
		Auth: AuthConfig{
			SessionTTL:      auth.DefaultSessionTTL,
			ResetTTL:        auth.DefaultResetTTL,
			VerificationTTL: auth.DefaultVerificationTTL,
			JitterMin:       auth.DefaultJitterMin,
			JitterMax:       auth.DefaultJitterMax,
		},
	}
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"http-addr":        "http.addr",
	"metrics-addr":     "metrics.addr",
	"log-format":       "log.format",
	"log-level":        "log.level",
	"database-url":     "database.url",
	"auto-migrate":     "database.auto_migrate",
	"smtp-host":        "smtp.host",
	"smtp-port":        "smtp.port",
	"throttle-window":  "throttle.window",
	"throttle-limit":   "throttle.limit",
	"hash-concurrency": "auth.hash_concurrency",
}

// RegisterFlags adds the flags that may override file settings. Their
// defaults mirror Default.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("http-addr", d.HTTP.Addr, "public API listen address")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics and health listen address (empty to disable)")
	fs.String("log-format", d.Log.Format, "log format (json, text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("database-url", "", "PostgreSQL connection URL (defaults to $"+DatabaseURLEnv+")")
	fs.Bool("auto-migrate", false, "apply pending migrations on startup")
	fs.String("smtp-host", "", "SMTP host (empty logs mail instead of sending)")
	fs.Int("smtp-port", d.SMTP.Port, "SMTP port")
	fs.Duration("throttle-window", d.Throttle.Window, "throttle window")
	fs.Int("throttle-limit", d.Throttle.Limit, "requests admitted per client within the throttle window")
	fs.Int("hash-concurrency", 0, "concurrent password hash computations (0 for GOMAXPROCS)")
}

// Load builds a Config. path may be empty; fs may be nil.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		fp := file.Provider(path)
		raw, err := fp.ReadBytes()
		if err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateFile(raw); err != nil {
			return Config{}, oops.With("path", path).Wrap(err)
		}
		if err := k.Load(fp, yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv(DatabaseURLEnv)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the service cannot run with.
func (c Config) Validate() error {
	if c.HTTP.Addr == "" {
		return oops.Code("CONFIG_INVALID").With("key", "http.addr").Errorf("http address is required")
	}
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").With("key", "database.url").
			Errorf("database url is required (set database.url, --database-url or %s)", DatabaseURLEnv)
	}
	if c.Database.MaxConns < 0 {
		return oops.Code("CONFIG_INVALID").With("key", "database.max_conns").Errorf("max_conns must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "log.level").Wrap(err)
	}
	if c.Log.Format != logging.FormatJSON && c.Log.Format != logging.FormatText {
		return oops.Code("CONFIG_INVALID").With("key", "log.format").Errorf("log format must be json or text, got %q", c.Log.Format)
	}
	if c.Throttle.Window <= 0 || c.Throttle.Limit <= 0 {
		return oops.Code("CONFIG_INVALID").With("key", "throttle").Errorf("throttle window and limit must be positive")
	}
	if c.Auth.SessionTTL <= 0 || c.Auth.ResetTTL <= 0 || c.Auth.VerificationTTL <= 0 {
		return oops.Code("CONFIG_INVALID").With("key", "auth").Errorf("token lifetimes must be positive")
	}
	if c.Auth.JitterMin < 0 || c.Auth.JitterMax < c.Auth.JitterMin {
		return oops.Code("CONFIG_INVALID").With("key", "auth.jitter").
			Errorf("jitter range [%s, %s] is invalid", c.Auth.JitterMin, c.Auth.JitterMax)
	}
	if c.Auth.HashConcurrency < 0 {
		return oops.Code("CONFIG_INVALID").With("key", "auth.hash_concurrency").Errorf("hash concurrency must not be negative")
	}
	if c.SMTP.Enabled() && (c.SMTP.Port <= 0 || c.SMTP.From == "") {
		return oops.Code("CONFIG_INVALID").With("key", "smtp").Errorf("smtp port and from address are required when a host is set")
	}
	return nil
}
