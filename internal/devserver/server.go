// Package devserver is a self-contained identity API for local development
// and tests. It implements the /auth endpoints the session manager talks to,
// issuing HS256 JWTs for an in-memory user directory.
package devserver

import (
	"context"
	"crypto/rand"
	"encoding/json"
	stderrors "errors"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/felixgeelhaar/gatekeeper/internal/log"
	"github.com/felixgeelhaar/gatekeeper/internal/metrics"
	"github.com/felixgeelhaar/gatekeeper/internal/session"
)

// DefaultTokenTTL is the lifetime of issued access tokens.
const DefaultTokenTTL = 15 * time.Minute

// Server serves the identity API.
type Server struct {
	logger   *log.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	clock    clockwork.Clock
	policy   session.RegistrationPolicy

	users  *directory
	tokens *tokenIssuer
	router chi.Router

	inShutdown atomic.Bool
}

type options struct {
	logger   *log.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	clock    clockwork.Clock
	key      []byte
	ttl      time.Duration
	cost     int
	accounts []Account
	policy   session.RegistrationPolicy
}

// Option configures a Server.
type Option func(*options)

// WithLogger sets the request logger.
func WithLogger(l *log.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics records request metrics into m and serves reg on /metrics.
func WithMetrics(reg prometheus.Gatherer, m *metrics.Metrics) Option {
	return func(o *options) {
		o.gatherer = reg
		o.metrics = m
	}
}

// WithClock overrides the clock used for token timestamps.
func WithClock(c clockwork.Clock) Option { return func(o *options) { o.clock = c } }

// WithSigningKey fixes the HMAC key. A random key is generated otherwise.
func WithSigningKey(key []byte) Option { return func(o *options) { o.key = key } }

// WithTokenTTL sets the access token lifetime.
func WithTokenTTL(d time.Duration) Option { return func(o *options) { o.ttl = d } }

// WithAccounts replaces the seeded accounts.
func WithAccounts(accounts ...Account) Option {
	return func(o *options) { o.accounts = accounts }
}

// WithBcryptCost sets the password hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option { return func(o *options) { o.cost = cost } }

// WithRegistrationPolicy decides roles for new registrations.
func WithRegistrationPolicy(p session.RegistrationPolicy) Option {
	return func(o *options) { o.policy = p }
}

// New builds a server with its accounts seeded.
func New(opts ...Option) (*Server, error) {
	o := options{
		clock:    clockwork.NewRealClock(),
		ttl:      DefaultTokenTTL,
		cost:     bcrypt.DefaultCost,
		accounts: DefaultAccounts(),
		policy:   session.DefaultRegistrationPolicy(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.DefaultLogger()
	}
	if len(o.key) == 0 {
		o.key = make([]byte, 32)
		if _, err := rand.Read(o.key); err != nil {
			return nil, err
		}
	}

	s := &Server{
		logger:   o.logger.With("component", "devserver"),
		metrics:  o.metrics,
		gatherer: o.gatherer,
		clock:    o.clock,
		policy:   o.policy,
		users:    newDirectory(o.cost),
		tokens:   newTokenIssuer(o.key, "gatekeeper-devserver", o.ttl, o.clock),
	}
	for _, a := range o.accounts {
		if _, err := s.users.add(a); err != nil {
			return nil, err
		}
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the HTTP handler, for httptest or embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleReady)
	r.Get("/health/live", s.handleLive)
	r.Get("/health/ready", s.handleReady)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.HandlerFor(s.gatherer))
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/register", s.handleRegister)
		r.Post("/logout", s.handleLogout)
		r.Group(func(r chi.Router) {
			r.Use(s.requireBearer)
			r.Post("/refresh", s.handleRefresh)
			r.Get("/profile", s.handleProfile)
		})
	})
	return r
}

// Run listens on addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string, grace time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, grace)
}

// Serve accepts connections on ln until ctx is cancelled, then fails
// readiness, stops keep-alives and drains in-flight requests for up to
// grace.
func (s *Server) Serve(ctx context.Context, ln net.Listener, grace time.Duration) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("identity server listening", "addr", ln.Addr().String(), "accounts", s.users.len())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.inShutdown.Store(true)
	srv.SetKeepAlivesEnabled(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("identity server stopped")
	return nil
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := s.clock.Since(start)
		s.metrics.RecordHTTPRequest(r.Method, ww.Status(), elapsed)
		s.logger.Debug("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.inShutdown.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type grantResponse struct {
	Token string              `json:"token"`
	User  *session.UserRecord `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds session.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Request body must be JSON")
		return
	}
	if creds.Identifier == "" || creds.Secret == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "Email and password are required")
		return
	}

	acct, err := s.users.authenticate(creds.Identifier, creds.Secret)
	if err != nil {
		s.logger.Info("login rejected", "email", creds.Identifier)
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
		return
	}
	s.grant(w, http.StatusOK, acct)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var profile session.Profile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Request body must be JSON")
		return
	}
	if err := profile.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	acct, err := s.users.add(Account{
		Email:    profile.Email,
		Password: profile.Password,
		Name:     profile.Name,
		Role:     s.policy.RoleFor(profile.Name),
	})
	switch {
	case stderrors.Is(err, errEmailTaken):
		writeError(w, http.StatusConflict, "email_taken", "Email is already registered")
		return
	case err != nil:
		s.logger.WithError(err).Error("registration failed")
		writeError(w, http.StatusInternalServerError, "internal_server_error", "Registration failed")
		return
	}
	s.logger.Info("account registered", "user_id", acct.user.ID, "role", acct.user.Role)
	s.grant(w, http.StatusCreated, acct)
}

// handleLogout revokes the presented token if it is valid. Logging out
// without a usable token still succeeds.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if raw := bearer(r); raw != "" {
		if claims, err := s.tokens.validate(raw); err == nil {
			s.tokens.revoke(claims)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	c := claimsFrom(r.Context())
	acct, err := s.users.lookup(c.Subject)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Session is no longer valid")
		return
	}
	s.tokens.revoke(c)
	s.grant(w, http.StatusOK, acct)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	acct, err := s.users.lookup(claimsFrom(r.Context()).Subject)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Session is no longer valid")
		return
	}
	user := acct.user
	writeJSON(w, http.StatusOK, map[string]any{"user": &user})
}

func (s *Server) grant(w http.ResponseWriter, status int, acct *account) {
	token, err := s.tokens.issue(acct)
	if err != nil {
		s.logger.WithError(err).Error("token signing failed")
		writeError(w, http.StatusInternalServerError, "internal_server_error", "Token signing failed")
		return
	}
	user := acct.user
	writeJSON(w, status, grantResponse{Token: token, User: &user})
}

type claimsKey struct{}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearer(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Missing bearer token")
			return
		}
		claims, err := s.tokens.validate(raw)
		if err != nil {
			s.logger.Debug("bearer rejected", "token", log.Fingerprint(raw), "reason", err.Error())
			writeError(w, http.StatusUnauthorized, "unauthorized", "Token is invalid or expired")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func claimsFrom(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
