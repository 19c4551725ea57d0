// Package config loads gatekeeper settings from ~/.gatekeeper/config.yaml and
// GATEKEEPER_* environment variables, in that order of precedence.
package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/gatekeeper/internal/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GATEKEEPER_"

// Store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config is the complete runtime configuration.
type Config struct {
	APIBaseURL            string        `yaml:"api_base_url" env:"API_BASE_URL"`
	HTTPTimeout           time.Duration `yaml:"http_timeout" env:"HTTP_TIMEOUT"`
	TokenRefreshThreshold time.Duration `yaml:"token_refresh_threshold" env:"TOKEN_REFRESH_THRESHOLD"`
	RoutesFile            string        `yaml:"routes_file,omitempty" env:"ROUTES_FILE"`
	// MetricsTextfile, when set, receives the command's Prometheus metrics
	// on exit. Without it the CLI collects no metrics.
	MetricsTextfile string `yaml:"metrics_textfile,omitempty" env:"METRICS_TEXTFILE"`

	Store   StoreConfig   `yaml:"store" envPrefix:"STORE_"`
	Demo    DemoConfig    `yaml:"demo" envPrefix:"DEMO_"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
	Breaker BreakerConfig `yaml:"breaker" envPrefix:"BREAKER_"`
}

// StoreConfig selects the session persistence backend.
type StoreConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"`
	// Path is used by the file and sqlite backends.
	Path string `yaml:"path,omitempty" env:"PATH"`
	// URL and Prefix are used by the redis backend.
	URL    string `yaml:"url,omitempty" env:"URL"`
	Prefix string `yaml:"prefix,omitempty" env:"PREFIX"`
}

// DemoConfig controls the offline demo credential resolver.
type DemoConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Sentinel string `yaml:"sentinel" env:"SENTINEL"`
}

// LogConfig mirrors log.Config in serialisable form.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// BreakerConfig wraps outbound requests in a circuit breaker when enabled.
type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled" env:"ENABLED"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" env:"CONSECUTIVE_FAILURES"`
	OpenTimeout         time.Duration `yaml:"open_timeout" env:"OPEN_TIMEOUT"`
}

// Default returns the built-in defaults. Paths are rooted at Dir().
func Default() Config {
	dir := Dir()
	return Config{
		APIBaseURL:            "http://localhost:8899",
		HTTPTimeout:           10 * time.Second,
		TokenRefreshThreshold: 5 * time.Minute,
		Store: StoreConfig{
			Backend: BackendFile,
			Path:    filepath.Join(dir, "session.json"),
			Prefix:  "gatekeeper:",
		},
		Demo: DemoConfig{Sentinel: "admin"},
		Log:  LogConfig{Level: "info", Format: "text"},
		Breaker: BreakerConfig{
			ConsecutiveFailures: 5,
			OpenTimeout:         30 * time.Second,
		},
	}
}

// Dir returns the configuration directory, ~/.gatekeeper, or
// $GATEKEEPER_HOME when set.
func Dir() string {
	if dir := os.Getenv(EnvPrefix + "HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gatekeeper"
	}
	return filepath.Join(home, ".gatekeeper")
}

// Path returns the default configuration file path.
func Path() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Load reads path (Path() when empty) over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	if path == "" {
		path = Path()
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case stderrors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, errors.Wrap(errors.ErrCodeConfigRead, "read config file", err).
			WithSuggestion("Check permissions on " + path)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrap(errors.ErrCodeConfigRead, "parse config file "+path, err)
		}
	}

	if err := ParseEnv(&cfg); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeConfigInvalid, "apply environment overrides", err)
	}
	cfg.Store.Path = expandHome(cfg.Store.Path)
	cfg.RoutesFile = expandHome(cfg.RoutesFile)
	cfg.MetricsTextfile = expandHome(cfg.MetricsTextfile)
	return cfg, nil
}

// ParseEnv overlays GATEKEEPER_* variables onto target.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Save writes cfg to path as YAML with owner-only permissions.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigInvalid, "encode config", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrap(errors.ErrCodeConfigRead, "create config directory", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(errors.ErrCodeConfigRead, "write config file", err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.NewConfigInvalidError(fmt.Sprintf("api_base_url %q is not an absolute URL", c.APIBaseURL))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.NewConfigInvalidError(fmt.Sprintf("api_base_url scheme %q is not http or https", u.Scheme))
	}
	if c.HTTPTimeout <= 0 {
		return errors.NewConfigInvalidError("http_timeout must be positive")
	}
	if c.TokenRefreshThreshold < 0 {
		return errors.NewConfigInvalidError("token_refresh_threshold must not be negative")
	}

	switch c.Store.Backend {
	case BackendFile, BackendSQLite:
		if c.Store.Path == "" {
			return errors.NewConfigInvalidError("store.path is required for the " + c.Store.Backend + " backend")
		}
	case BackendRedis:
		if c.Store.URL == "" {
			return errors.NewConfigInvalidError("store.url is required for the redis backend")
		}
	case BackendMemory:
	default:
		return errors.NewConfigInvalidError(fmt.Sprintf("unknown store.backend %q (want file, sqlite, redis or memory)", c.Store.Backend))
	}

	if c.Demo.Enabled && strings.TrimSpace(c.Demo.Sentinel) == "" {
		return errors.NewConfigInvalidError("demo.sentinel must not be empty when demo is enabled")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.NewConfigInvalidError(fmt.Sprintf("unknown log.level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return errors.NewConfigInvalidError(fmt.Sprintf("unknown log.format %q", c.Log.Format))
	}

	if c.Breaker.Enabled {
		if c.Breaker.ConsecutiveFailures == 0 {
			return errors.NewConfigInvalidError("breaker.consecutive_failures must be at least 1")
		}
		if c.Breaker.OpenTimeout <= 0 {
			return errors.NewConfigInvalidError("breaker.open_timeout must be positive")
		}
	}
	return nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
