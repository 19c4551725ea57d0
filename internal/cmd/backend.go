package cmd

import (
	"context"
	"net/http"

	"github.com/felixgeelhaar/gatekeeper/internal/config"
	"github.com/felixgeelhaar/gatekeeper/internal/httpclient"
	"github.com/felixgeelhaar/gatekeeper/internal/log"
	"github.com/felixgeelhaar/gatekeeper/internal/metrics"
	"github.com/felixgeelhaar/gatekeeper/internal/store"
)

// openStore opens the configured backend. A backend that cannot be opened
// degrades to an in-memory store: the session then lasts for this process
// only, which is logged rather than treated as fatal.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *log.Logger) (store.Store, func() error) {
	switch cfg.Backend {
	case config.BackendFile:
		fs := store.NewFileStore(cfg.Path, logger)
		return fs, fs.Close
	case config.BackendSQLite:
		s, err := store.OpenSQLite(cfg.Path)
		if err != nil {
			logger.WithError(err).Warn("sqlite store unavailable; session will not persist", "path", cfg.Path)
			return store.NewMemoryStore(), nil
		}
		return s, s.Close
	case config.BackendRedis:
		s, err := store.OpenRedis(ctx, cfg.URL, cfg.Prefix, logger)
		if err != nil {
			logger.WithError(err).Warn("redis store unavailable; session will not persist")
			return store.NewMemoryStore(), nil
		}
		return s, s.Close
	default:
		return store.NewMemoryStore(), nil
	}
}

// newClient builds the identity API client, optionally behind a circuit
// breaker.
func newClient(cfg config.Config, logger *log.Logger, m *metrics.Metrics) *httpclient.Client {
	opts := []httpclient.Option{
		httpclient.WithTimeout(cfg.HTTPTimeout),
		httpclient.WithLogger(logger),
		httpclient.WithMetrics(m),
		httpclient.WithDefaultHeader("User-Agent", "gatekeeper-cli"),
	}
	if cfg.Breaker.Enabled {
		opts = append(opts, httpclient.WithDoer(httpclient.NewBreakerDoer(&http.Client{}, httpclient.BreakerSettings{
			ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
			OpenTimeout:         cfg.Breaker.OpenTimeout,
		}, logger)))
	}
	return httpclient.New(cfg.APIBaseURL, opts...)
}
