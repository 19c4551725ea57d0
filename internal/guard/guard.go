package guard

import (
	"encoding/json"
	"net/http"

	gkerrors "github.com/felixgeelhaar/gatekeeper/internal/errors"
	"github.com/felixgeelhaar/gatekeeper/internal/log"
	"github.com/felixgeelhaar/gatekeeper/internal/metrics"
	"github.com/felixgeelhaar/gatekeeper/internal/session"
)

// SnapshotSource yields the live session state. *session.Manager satisfies
// it.
type SnapshotSource interface {
	Snapshot() session.Snapshot
}

// Verdict is the result of checking one path.
type Verdict struct {
	Path     string
	Route    Route
	Matched  bool
	Params   map[string]string
	Decision Decision
}

// Err converts a non-allow verdict into a coded error, or nil.
func (v Verdict) Err() error {
	switch v.Decision {
	case DecisionAllow:
		return nil
	case DecisionPending:
		return gkerrors.New(gkerrors.ErrCodeGuardPending, "session is still being restored")
	case DecisionRedirectToLogin:
		return gkerrors.NewLoginRequiredError(v.Path)
	default:
		return gkerrors.NewForbiddenError(v.Path)
	}
}

// Guard evaluates paths against a route table using the live session.
type Guard struct {
	routes  *Routes
	source  SnapshotSource
	logger  *log.Logger
	metrics *metrics.Metrics
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithMetrics counts decisions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// New creates a Guard. A nil routes table means DefaultRoutes.
func New(routes *Routes, source SnapshotSource, opts ...Option) *Guard {
	if routes == nil {
		routes = DefaultRoutes()
	}
	g := &Guard{routes: routes, source: source, logger: log.DefaultLogger()}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "guard")
	return g
}

// Routes returns the route table.
func (g *Guard) Routes() *Routes {
	return g.routes
}

// Check evaluates path. Paths matching no route carry no requirements:
// they are pending while the session restores and allowed afterwards.
func (g *Guard) Check(path string) Verdict {
	route, params, ok := g.routes.Match(path)
	v := Verdict{Path: path, Route: route, Matched: ok, Params: params}
	v.Decision = Evaluate(route.Requirements, g.source.Snapshot())
	g.metrics.RecordGuardDecision(v.Decision.Hint())
	g.logger.Debug("route checked", "path", path, "route", route.Name, "decision", v.Decision.Hint())
	return v
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Middleware enforces the guard on incoming requests: pending sessions get
// 503 with Retry-After, anonymous users are redirected to the login path,
// and insufficient privileges get 403.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := g.Check(r.URL.Path)
		switch v.Decision {
		case DecisionAllow:
			next.ServeHTTP(w, r)
		case DecisionPending:
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, "pending", "session is still being restored")
		case DecisionRedirectToLogin:
			http.Redirect(w, r, g.routes.LoginPath, http.StatusFound)
		default:
			writeError(w, http.StatusForbidden, "forbidden", "you do not have permission to access this page")
		}
	})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: code, Message: message})
}
