// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/pkg/errutil"
)

const testSecret = "config-test-secret-0123456789abcdef"

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "authd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("config", "", "")
	fs.String("http-addr", ":8080", "")
	fs.String("log-format", "json", "")
	fs.String("storage-driver", config.DriverPostgres, "")
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), *cfg)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.Equal(t, 15*time.Minute, cfg.Reset.TTL)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
http:
  addr: ":9000"
storage:
  driver: sqlite
sqlite:
  path: /var/lib/authd/authd.db
jwt:
  secret: `+testSecret+`
session:
  ttl: 2h
reset:
  ttl: 30m
  base_url: https://app.example.com/reset
hasher:
  memory: 19456
  iterations: 2
  parallelism: 1
`)

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, config.DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "/var/lib/authd/authd.db", cfg.SQLite.Path)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 30*time.Minute, cfg.Reset.TTL)
	assert.Equal(t, "https://app.example.com/reset", cfg.Reset.BaseURL)
	assert.Equal(t, uint32(19456), cfg.Hasher.Memory)
	assert.Equal(t, uint8(1), cfg.Hasher.Parallelism)
	// Untouched keys keep their defaults.
	assert.Equal(t, "json", cfg.Log.Format)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "smtp:\n  from: file@example.com\n")
	t.Setenv("AUTHD_SMTP_FROM", "env@example.com")
	t.Setenv("AUTHD_RESET_BASE_URL", "https://env.example.com/reset")
	t.Setenv("AUTHD_REDIS_DB", "3")

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "env@example.com", cfg.SMTP.From)
	assert.Equal(t, "https://env.example.com/reset", cfg.Reset.BaseURL)
	assert.Equal(t, 3, cfg.Redis.DB)
}

func TestLoad_Flags(t *testing.T) {
	t.Run("explicit flag overrides env", func(t *testing.T) {
		t.Setenv("AUTHD_HTTP_ADDR", ":7000")
		fs := testFlags()
		require.NoError(t, fs.Parse([]string{"--http-addr", ":6000"}))

		cfg, err := config.Load("", fs)
		require.NoError(t, err)
		assert.Equal(t, ":6000", cfg.HTTP.Addr)
	})

	t.Run("unset flag does not clobber file", func(t *testing.T) {
		path := writeFile(t, "log:\n  format: text\n")
		fs := testFlags()
		require.NoError(t, fs.Parse(nil))

		cfg, err := config.Load(path, fs)
		require.NoError(t, err)
		assert.Equal(t, "text", cfg.Log.Format)
	})

	t.Run("unsectioned flags are ignored", func(t *testing.T) {
		fs := testFlags()
		require.NoError(t, fs.Parse([]string{"--config", "x.yaml"}))

		cfg, err := config.Load("", fs)
		require.NoError(t, err)
		assert.Equal(t, config.Default().HTTP, cfg.HTTP)
	})
}

func validConfig() config.Config {
	cfg := config.Default()
	cfg.JWT.Secret = testSecret
	cfg.Database.URL = "postgres://authd@localhost/authd"
	return cfg
}

func TestValidate(t *testing.T) {
	require.NoError(t, func() error { c := validConfig(); return c.Validate() }())

	tests := []struct {
		name   string
		mutate func(*config.Config)
		key    string
	}{
		{"missing secret", func(c *config.Config) { c.JWT.Secret = "" }, "jwt.secret"},
		{"short secret", func(c *config.Config) { c.JWT.Secret = "short" }, "jwt.secret"},
		{"reset ttl not shorter", func(c *config.Config) { c.Reset.TTL = c.Session.TTL }, "reset.ttl"},
		{"zero ttl", func(c *config.Config) { c.Session.TTL = 0 }, "session.ttl"},
		{"unknown driver", func(c *config.Config) { c.Storage.Driver = "mysql" }, "storage.driver"},
		{"postgres without url", func(c *config.Config) { c.Database.URL = "" }, "database.url"},
		{"sqlite without path", func(c *config.Config) {
			c.Storage.Driver = config.DriverSQLite
			c.SQLite.Path = ""
		}, "sqlite.path"},
		{"bad log format", func(c *config.Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad log level", func(c *config.Config) { c.Log.Level = "trace" }, "log.level"},
		{"relative base url", func(c *config.Config) { c.Reset.BaseURL = "/reset" }, "reset.base_url"},
		{"zero hasher memory", func(c *config.Config) { c.Hasher.Memory = 0 }, "hasher"},
		{"zero min length", func(c *config.Config) { c.Password.MinLength = 0 }, "password.min_length"},
		{"smtp without from", func(c *config.Config) { c.SMTP.Host = "smtp.example.com" }, "smtp.from"},
		{"smtp bad tls", func(c *config.Config) {
			c.SMTP.Host = "smtp.example.com"
			c.SMTP.From = "authd@example.com"
			c.SMTP.TLS = "none"
		}, "smtp.tls"},
		{"empty http addr", func(c *config.Config) { c.HTTP.Addr = "" }, "http.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			errutil.AssertErrorContext(t, err, "key", tt.key)
		})
	}

	t.Run("memory driver needs no connection settings", func(t *testing.T) {
		cfg := validConfig()
		cfg.Storage.Driver = config.DriverMemory
		cfg.Database.URL = ""
		assert.NoError(t, cfg.Validate())
	})
}
