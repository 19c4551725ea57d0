package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/gatekeeper/internal/errors"
)

func TestDefault(t *testing.T) {
	t.Setenv("GATEKEEPER_HOME", "/tmp/gk-home")
	cfg := Default()

	assert.Equal(t, "http://localhost:8899", cfg.APIBaseURL)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 5*time.Minute, cfg.TokenRefreshThreshold)
	assert.Equal(t, BackendFile, cfg.Store.Backend)
	assert.Equal(t, filepath.Join("/tmp/gk-home", "session.json"), cfg.Store.Path)
	assert.False(t, cfg.Demo.Enabled)
	assert.Equal(t, "admin", cfg.Demo.Sentinel)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.False(t, cfg.Breaker.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("GATEKEEPER_HOME", dir)

		cfg, err := Load(filepath.Join(dir, "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("GATEKEEPER_HOME", dir)
		path := filepath.Join(dir, "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
api_base_url: https://api.example.com
http_timeout: 3s
store:
  backend: sqlite
  path: /var/lib/gk/session.db
demo:
  enabled: true
log:
  level: debug
  format: json
`), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "https://api.example.com", cfg.APIBaseURL)
		assert.Equal(t, 3*time.Second, cfg.HTTPTimeout)
		assert.Equal(t, BackendSQLite, cfg.Store.Backend)
		assert.Equal(t, "/var/lib/gk/session.db", cfg.Store.Path)
		assert.True(t, cfg.Demo.Enabled)
		assert.Equal(t, "admin", cfg.Demo.Sentinel, "unset keys keep their defaults")
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, 5*time.Minute, cfg.TokenRefreshThreshold)
	})

	t.Run("environment wins over file", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("GATEKEEPER_HOME", dir)
		path := filepath.Join(dir, "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("api_base_url: https://file.example.com\n"), 0o600))

		t.Setenv("GATEKEEPER_API_BASE_URL", "https://env.example.com")
		t.Setenv("GATEKEEPER_STORE_BACKEND", "redis")
		t.Setenv("GATEKEEPER_STORE_URL", "redis://localhost:6379/0")
		t.Setenv("GATEKEEPER_BREAKER_ENABLED", "true")
		t.Setenv("GATEKEEPER_BREAKER_OPEN_TIMEOUT", "1m")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "https://env.example.com", cfg.APIBaseURL)
		assert.Equal(t, BackendRedis, cfg.Store.Backend)
		assert.Equal(t, "redis://localhost:6379/0", cfg.Store.URL)
		assert.True(t, cfg.Breaker.Enabled)
		assert.Equal(t, time.Minute, cfg.Breaker.OpenTimeout)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("malformed env value", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("GATEKEEPER_HOME", dir)
		t.Setenv("GATEKEEPER_HTTP_TIMEOUT", "soon")

		_, err := Load(filepath.Join(dir, "config.yaml"))
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeConfigInvalid))
	})

	t.Run("malformed yaml", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("GATEKEEPER_HOME", dir)
		path := filepath.Join(dir, "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("store: [unterminated"), 0o600))

		_, err := Load(path)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeConfigRead))
	})
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GATEKEEPER_HOME", dir)
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := Default()
	cfg.APIBaseURL = "https://saved.example.com"
	cfg.Store.Backend = BackendMemory
	require.NoError(t, Save(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "relative url", mutate: func(c *Config) { c.APIBaseURL = "/api" }, wantErr: true},
		{name: "ftp url", mutate: func(c *Config) { c.APIBaseURL = "ftp://example.com" }, wantErr: true},
		{name: "zero timeout", mutate: func(c *Config) { c.HTTPTimeout = 0 }, wantErr: true},
		{name: "negative threshold", mutate: func(c *Config) { c.TokenRefreshThreshold = -time.Second }, wantErr: true},
		{name: "zero threshold disables refresh", mutate: func(c *Config) { c.TokenRefreshThreshold = 0 }},
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "etcd" }, wantErr: true},
		{name: "sqlite without path", mutate: func(c *Config) { c.Store.Backend = BackendSQLite; c.Store.Path = "" }, wantErr: true},
		{name: "redis without url", mutate: func(c *Config) { c.Store.Backend = BackendRedis }, wantErr: true},
		{name: "memory needs nothing", mutate: func(c *Config) { c.Store.Backend = BackendMemory; c.Store.Path = "" }},
		{name: "demo without sentinel", mutate: func(c *Config) { c.Demo.Enabled = true; c.Demo.Sentinel = " " }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "verbose" }, wantErr: true},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: true},
		{name: "breaker without threshold", mutate: func(c *Config) { c.Breaker.Enabled = true; c.Breaker.ConsecutiveFailures = 0 }, wantErr: true},
		{name: "disabled breaker ignores settings", mutate: func(c *Config) { c.Breaker.OpenTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeConfigInvalid, errors.CodeOf(err))
		})
	}
}
