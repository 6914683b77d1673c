// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads authd configuration from defaults, a YAML file,
// AUTHD_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment overrides. AUTHD_SMTP_FROM sets
// smtp.from; the first underscore after the prefix separates the section.
const EnvPrefix = "AUTHD_"

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// minSecretLength matches the token issuer's requirement.
const minSecretLength = 32

// Config is the complete authd configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Storage  StorageConfig  `koanf:"storage"`
	Database DatabaseConfig `koanf:"database"`
	SQLite   SQLiteConfig   `koanf:"sqlite"`
	Redis    RedisConfig    `koanf:"redis"`
	JWT      JWTConfig      `koanf:"jwt"`
	Session  SessionConfig  `koanf:"session"`
	Reset    ResetConfig    `koanf:"reset"`
	SMTP     SMTPConfig     `koanf:"smtp"`
	Hasher   HasherConfig   `koanf:"hasher"`
	Password PasswordConfig `koanf:"password"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// MetricsConfig configures the observability listener. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	Driver string `koanf:"driver"`
}

// DatabaseConfig configures PostgreSQL.
type DatabaseConfig struct {
	URL      string `koanf:"url"`
	MaxConns int32  `koanf:"max_conns"`
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// RedisConfig configures the shared session denylist. Empty Addr keeps
// the denylist in process memory.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// JWTConfig configures token signing.
type JWTConfig struct {
	Secret string `koanf:"secret"`
	Issuer string `koanf:"issuer"`
}

// SessionConfig configures session tokens.
type SessionConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// ResetConfig configures password reset tokens.
type ResetConfig struct {
	TTL           time.Duration `koanf:"ttl"`
	BaseURL       string        `koanf:"base_url"`
	PurgeInterval time.Duration `koanf:"purge_interval"`
}

// SMTPConfig configures reset email delivery. Empty Host logs links instead.
type SMTPConfig struct {
	Host     string        `koanf:"host"`
	Port     int           `koanf:"port"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	From     string        `koanf:"from"`
	TLS      string        `koanf:"tls"`
	Timeout  time.Duration `koanf:"timeout"`
	Attempts uint64        `koanf:"attempts"`
}

// HasherConfig holds argon2id cost parameters.
type HasherConfig struct {
	Memory      uint32 `koanf:"memory"`
	Iterations  uint32 `koanf:"iterations"`
	Parallelism uint8  `koanf:"parallelism"`
}

// PasswordConfig holds the password policy.
type PasswordConfig struct {
	MinLength         int  `koanf:"min_length"`
	RequireComplexity bool `koanf:"require_complexity"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		HTTP:     HTTPConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Metrics:  MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:      LogConfig{Format: "json", Level: "info"},
		Storage:  StorageConfig{Driver: DriverPostgres},
		SQLite:   SQLiteConfig{Path: "authd.db"},
		JWT:      JWTConfig{Issuer: "authd"},
		Session:  SessionConfig{TTL: time.Hour},
		Reset:    ResetConfig{TTL: 15 * time.Minute, BaseURL: "http://localhost:3000/reset-password", PurgeInterval: 10 * time.Minute},
		SMTP:     SMTPConfig{Port: 587, TLS: "starttls", Timeout: 30 * time.Second, Attempts: 3},
		Hasher:   HasherConfig{Memory: 64 * 1024, Iterations: 1, Parallelism: 4},
		Password: PasswordConfig{MinLength: 8, RequireComplexity: true},
	}
}

// Load builds the configuration. path may be empty; flags may be nil.
// Flags override only when set explicitly.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, flagKey(flags)), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "decode").Wrap(err)
	}
	return &cfg, nil
}

// envKey maps AUTHD_RESET_BASE_URL to reset.base_url.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(key, "_", ".", 1)
}

// flagKey maps --reset-base-url to reset.base_url. Flags without a section
// (such as --config) are ignored.
func flagKey(fs *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		section, rest, ok := strings.Cut(f.Name, "-")
		if !ok {
			return "", nil
		}
		return section + "." + strings.ReplaceAll(rest, "-", "_"), posflag.FlagVal(fs, f)
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	switch {
	case c.HTTP.Addr == "":
		return invalid("http.addr", "is required")
	case !slices.Contains([]string{"json", "text"}, c.Log.Format):
		return invalid("log.format", "must be 'json' or 'text'")
	case !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level):
		return invalid("log.level", "must be one of debug, info, warn, error")
	case c.JWT.Secret == "":
		return invalid("jwt.secret", "is required")
	case len(c.JWT.Secret) < minSecretLength:
		return invalid("jwt.secret", "must be at least 32 bytes")
	case c.Session.TTL <= 0 || c.Reset.TTL <= 0:
		return invalid("session.ttl", "token lifetimes must be positive")
	case c.Reset.TTL >= c.Session.TTL:
		return invalid("reset.ttl", "must be shorter than session.ttl")
	case c.Hasher.Memory == 0 || c.Hasher.Iterations == 0 || c.Hasher.Parallelism == 0:
		return invalid("hasher", "memory, iterations and parallelism must be positive")
	case c.Password.MinLength < 1:
		return invalid("password.min_length", "must be positive")
	}

	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateReset(); err != nil {
		return err
	}
	return c.validateSMTP()
}

func (c *Config) validateStorage() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return invalid("database.url", "is required for the postgres driver")
		}
	case DriverSQLite:
		if c.SQLite.Path == "" {
			return invalid("sqlite.path", "is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return invalid("storage.driver", "must be postgres, sqlite or memory")
	}
	return nil
}

func (c *Config) validateReset() error {
	u, err := url.Parse(c.Reset.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("reset.base_url", "must be an absolute URL")
	}
	return nil
}

func (c *Config) validateSMTP() error {
	if c.SMTP.Host == "" {
		return nil
	}
	switch {
	case c.SMTP.From == "":
		return invalid("smtp.from", "is required when smtp.host is set")
	case c.SMTP.TLS != "implicit" && c.SMTP.TLS != "starttls":
		return invalid("smtp.tls", "must be 'implicit' or 'starttls'")
	case c.SMTP.Attempts == 0:
		return invalid("smtp.attempts", "must be positive")
	}
	return nil
}

func invalid(key, msg string) error {
	return oops.Code("CONFIG_INVALID").With("key", key).Errorf("%s %s", key, msg)
}
