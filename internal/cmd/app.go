package cmd

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/felixgeelhaar/gatekeeper/internal/config"
	"github.com/felixgeelhaar/gatekeeper/internal/events"
	"github.com/felixgeelhaar/gatekeeper/internal/guard"
	"github.com/felixgeelhaar/gatekeeper/internal/httpclient"
	"github.com/felixgeelhaar/gatekeeper/internal/log"
	"github.com/felixgeelhaar/gatekeeper/internal/metrics"
	"github.com/felixgeelhaar/gatekeeper/internal/session"
	"github.com/felixgeelhaar/gatekeeper/internal/tui"
	"github.com/felixgeelhaar/gatekeeper/internal/version"
)

// app carries the per-invocation wiring shared by every command. Heavy
// collaborators are built on first use so `version` and `config path` never
// touch the network or the session store.
type app struct {
	flags globalFlags

	out    io.Writer
	errOut io.Writer
	styles tui.Styles

	cfg      config.Config
	logger   *log.Logger
	metrics  *metrics.Metrics
	registry *prometheus.Registry

	sessionOnce sync.Once
	manager     *session.Manager
	client      *httpclient.Client
	closers     []func() error
}

type globalFlags struct {
	configFile string
	apiURL     string
	storeKind  string
	demo       bool
	logLevel   string
	logFormat  string
	routesFile string
}

func newApp(out, errOut io.Writer) *app {
	return &app{out: out, errOut: errOut, styles: tui.DefaultStyles()}
}

// setup loads and validates configuration, applies command-line overrides
// and configures logging and metrics.
func (a *app) setup(changed func(string) bool) error {
	return a.configure(changed, true)
}

// setupRaw is setup without validation, for commands that inspect or
// repair the configuration itself.
func (a *app) setupRaw(changed func(string) bool) error {
	return a.configure(changed, false)
}

func (a *app) configure(changed func(string) bool, validate bool) error {
	cfg, err := config.Load(a.flags.configFile)
	if err != nil {
		return err
	}
	if changed("api-url") {
		cfg.APIBaseURL = a.flags.apiURL
	}
	if changed("store") {
		cfg.Store.Backend = a.flags.storeKind
	}
	if changed("demo") {
		cfg.Demo.Enabled = a.flags.demo
	}
	if changed("log-level") {
		cfg.Log.Level = a.flags.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = a.flags.logFormat
	}
	if changed("routes") {
		cfg.RoutesFile = a.flags.routesFile
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg

	a.logger = log.New(log.Config{
		Level:  log.ParseLevel(cfg.Log.Level),
		Format: log.ParseFormat(cfg.Log.Format),
		Output: a.errOut,
	}).With("version", version.GetInfo().Version)
	log.SetDefaultLogger(a.logger)
	if cfg.MetricsTextfile != "" {
		a.registry, a.metrics = metrics.NewRegistry()
	}
	return nil
}

// session returns the bootstrapped session manager.
func (a *app) session(ctx context.Context) *session.Manager {
	a.sessionOnce.Do(func() {
		st, closeStore := openStore(ctx, a.cfg.Store, a.logger)
		if closeStore != nil {
			a.closers = append(a.closers, closeStore)
		}

		a.client = newClient(a.cfg, a.logger, a.metrics)
		var resolver session.CredentialResolver
		if a.cfg.Demo.Enabled {
			policy := session.DefaultRegistrationPolicy()
			policy.SentinelName = a.cfg.Demo.Sentinel
			resolver = session.NewDemoResolver(
				session.NewRemoteResolver(a.client),
				session.WithRegistrationPolicy(policy),
			)
			a.logger.Warn("demo credential resolver enabled; canned accounts bypass the identity server")
		}

		a.manager = session.NewManager(a.client, st, events.NewBus(), resolver,
			session.WithLogger(a.logger),
			session.WithMetrics(a.metrics),
			session.WithRefreshThreshold(a.cfg.TokenRefreshThreshold),
		)
		a.manager.Bootstrap(ctx)
		a.closers = append(a.closers, func() error { a.manager.Close(); return nil })
	})
	return a.manager
}

// routes loads the configured route table, or the built-in one.
func (a *app) routes() (*guard.Routes, error) {
	if a.cfg.RoutesFile == "" {
		return guard.DefaultRoutes(), nil
	}
	return guard.LoadRoutes(a.cfg.RoutesFile)
}

// close releases collaborators in reverse order of creation and then
// exports metrics when a textfile is configured.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.WithError(err).Debug("close failed")
		}
	}
	a.closers = nil

	if a.registry != nil {
		if err := metrics.WriteTextfile(a.registry, a.cfg.MetricsTextfile); err != nil {
			a.logger.WithError(err).Warn("writing metrics textfile failed", "path", a.cfg.MetricsTextfile)
		}
		a.registry = nil
	}
}

func stdApp() *app {
	return newApp(os.Stdout, os.Stderr)
}
