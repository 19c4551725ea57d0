// Package session owns the authenticated identity of the running client:
// it restores it from the persistent store, exchanges credentials through a
// CredentialResolver, persists the result, and clears it on logout or when
// the identity API rejects the token.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	gkerrors "github.com/felixgeelhaar/gatekeeper/internal/errors"
	"github.com/felixgeelhaar/gatekeeper/internal/events"
	"github.com/felixgeelhaar/gatekeeper/internal/httpclient"
	"github.com/felixgeelhaar/gatekeeper/internal/log"
	"github.com/felixgeelhaar/gatekeeper/internal/metrics"
	"github.com/felixgeelhaar/gatekeeper/internal/store"
)

// Persistent store keys. KeyAuthContext holds the token and user as one
// value; the separate keys are kept for readers that know only those.
const (
	KeyToken       = "app_token"
	KeyUser        = "app_user"
	KeyAuthContext = "app_auth_context"
)

// authContext is the value stored under KeyAuthContext.
type authContext struct {
	Token string      `json:"token"`
	User  *UserRecord `json:"user"`
}

// DefaultRefreshThreshold is how close to expiry a JWT must be before
// RefreshIfNeeded renews it.
const DefaultRefreshThreshold = 5 * time.Minute

// Manager is the single owner of session state. Create one per process with
// NewManager and call Bootstrap before use.
type Manager struct {
	client    *httpclient.Client
	store     store.Store
	bus       *events.Bus
	resolver  CredentialResolver
	logger    *log.Logger
	metrics   *metrics.Metrics
	clock     clockwork.Clock
	threshold time.Duration

	mu    sync.RWMutex
	state Snapshot

	// ops is a one-slot queue serializing state-changing operations.
	ops chan struct{}

	bootOnce sync.Once
	cancels  []func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records operation outcomes.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock replaces the clock used for refresh decisions.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithRefreshThreshold overrides DefaultRefreshThreshold.
func WithRefreshThreshold(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.threshold = d
		}
	}
}

// NewManager wires a Manager. resolver may be nil, in which case logins go
// to the identity API through client.
func NewManager(client *httpclient.Client, st store.Store, bus *events.Bus, resolver CredentialResolver, opts ...Option) *Manager {
	if resolver == nil {
		resolver = NewRemoteResolver(client)
	}
	m := &Manager{
		client:    client,
		store:     st,
		bus:       bus,
		resolver:  resolver,
		logger:    log.DefaultLogger(),
		clock:     clockwork.NewRealClock(),
		threshold: DefaultRefreshThreshold,
		state:     Snapshot{Phase: PhaseUninitialized},
		ops:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "session")
	return m
}

// Bootstrap installs the client interceptors, restores any persisted
// session and starts listening for invalidations and external store
// changes. Only the first call has an effect.
func (m *Manager) Bootstrap(ctx context.Context) {
	m.bootOnce.Do(func() {
		m.client.AddRequestInterceptor(httpclient.BearerToken(m.bearerToken))
		m.client.AddResponseInterceptor(httpclient.UnauthorizedNotifier(m.bus))
		m.client.AddResponseInterceptor(httpclient.LogFailures(m.logger))

		m.mu.Lock()
		m.state.Phase = PhaseRestoring
		m.mu.Unlock()

		m.restore(ctx)

		m.cancels = append(m.cancels, m.bus.Subscribe(events.TopicSessionInvalidated, m.onInvalidated))
		if w, ok := m.store.(store.Watcher); ok {
			// The user key is not watched: writers store it before the
			// token, so a token change already sees the matching user.
			for _, key := range []string{KeyAuthContext, KeyToken} {
				m.cancels = append(m.cancels, w.OnExternalChange(key, m.onExternalChange))
			}
		}
	})
}

// Close stops the subscriptions started by Bootstrap.
func (m *Manager) Close() {
	m.mu.Lock()
	cancels := m.cancels
	m.cancels = nil
	m.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.state
	s.User = s.User.clone()
	return s
}

// IsAuthenticated reports whether a token and user are present.
func (m *Manager) IsAuthenticated() bool { return m.Snapshot().IsAuthenticated() }

// HasRole reports whether the current user has role.
func (m *Manager) HasRole(role string) bool { return m.Snapshot().HasRole(role) }

// HasAnyRole reports whether the current user has one of roles.
func (m *Manager) HasAnyRole(roles ...string) bool { return m.Snapshot().HasAnyRole(roles...) }

// HasPermission reports whether the current user holds permission.
func (m *Manager) HasPermission(permission string) bool {
	return m.Snapshot().HasPermission(permission)
}

// HasAnyPermission reports whether the current user holds one of perms.
func (m *Manager) HasAnyPermission(perms ...string) bool {
	return m.Snapshot().HasAnyPermission(perms...)
}

func (m *Manager) UserID() string   { return m.Snapshot().UserID() }
func (m *Manager) UserName() string { return m.Snapshot().UserName() }
func (m *Manager) UserRole() string { return m.Snapshot().UserRole() }

// Login exchanges credentials for a session. On failure the previous
// session, if any, is left as it was.
func (m *Manager) Login(ctx context.Context, identifier, secret string) Result {
	if err := m.acquire(ctx); err != nil {
		return Result{Err: cancelled(err)}
	}
	defer m.release()

	m.setStatus(Loading())
	grant, err := m.resolver.Login(ctx, Credentials{Identifier: identifier, Secret: secret})
	return m.complete(ctx, "login", grant, err)
}

// Register creates an account and logs into it.
func (m *Manager) Register(ctx context.Context, profile Profile) Result {
	if err := m.acquire(ctx); err != nil {
		return Result{Err: cancelled(err)}
	}
	defer m.release()

	m.setStatus(Loading())
	grant, err := m.resolver.Register(ctx, profile)
	return m.complete(ctx, "register", grant, err)
}

func (m *Manager) complete(ctx context.Context, op string, grant Grant, err error) Result {
	if err == nil && (grant.Token == "" || !grant.User.valid()) {
		err = malformedGrant(nil)
	}
	if err != nil {
		ae := classify(err, op+" failed")
		m.setStatus(Failed(ae.Message))
		m.metrics.RecordSessionOperation(op, false)
		m.metrics.RecordError(string(ae.Code), "session")
		m.logger.WithError(ae).Info(op + " rejected")
		return Result{Err: ae}
	}

	user := grant.User.clone()
	m.mu.Lock()
	m.state = Snapshot{Phase: PhaseAuthenticated, Status: Idle(), Token: grant.Token, User: user}
	m.mu.Unlock()
	m.persist(ctx, grant.Token, user)

	m.metrics.RecordSessionOperation(op, true)
	m.logger.Info(op+" succeeded", "user_id", user.ID, "role", user.Role, "token", log.Fingerprint(grant.Token))
	return Result{User: user.clone()}
}

// Logout ends the session. The remote call is best-effort; local state and
// the store are always cleared. Calling it while anonymous is a no-op.
func (m *Manager) Logout(ctx context.Context) {
	m.ops <- struct{}{}
	defer m.release()

	m.mu.RLock()
	token := m.state.Token
	m.mu.RUnlock()

	if token != "" {
		if _, err := m.client.Post(ctx, PathLogout, map[string]any{}); err != nil {
			m.logger.Debug("remote logout failed", "reason", httpclient.MessageOf(err))
		}
	}

	m.mu.Lock()
	m.state = Snapshot{Phase: PhaseAnonymous, Status: Idle()}
	m.mu.Unlock()
	m.wipe(ctx)

	m.metrics.RecordSessionOperation("logout", true)
	if token != "" {
		m.logger.Info("logged out", "token", log.Fingerprint(token))
	}
}

// Refresh exchanges the current token for a new one via /auth/refresh.
func (m *Manager) Refresh(ctx context.Context) error {
	if err := m.acquire(ctx); err != nil {
		return cancelled(err)
	}
	defer m.release()

	m.mu.RLock()
	token := m.state.Token
	m.mu.RUnlock()
	if token == "" {
		return gkerrors.NewNotAuthenticatedError()
	}

	data, err := m.client.Post(ctx, PathRefresh, map[string]any{})
	if err != nil {
		ae := classify(err, "refresh failed")
		m.metrics.RecordSessionOperation("refresh", false)
		return ae
	}
	var body grantBody
	if err := httpclient.Bind(data, &body); err != nil || body.Token == "" {
		m.metrics.RecordSessionOperation("refresh", false)
		return malformedGrant(err)
	}

	m.mu.Lock()
	if m.state.Token != token {
		// Invalidated while the request was in flight.
		m.mu.Unlock()
		m.metrics.RecordSessionOperation("refresh", false)
		return gkerrors.NewNotAuthenticatedError()
	}
	m.state.Token = body.Token
	if body.User.valid() {
		m.state.User = body.User.clone()
	}
	user := m.state.User.clone()
	m.mu.Unlock()
	m.persist(ctx, body.Token, user)

	m.metrics.RecordSessionOperation("refresh", true)
	m.logger.Debug("token refreshed", "token", log.Fingerprint(body.Token))
	return nil
}

// RefreshIfNeeded refreshes when the token is a JWT expiring within the
// refresh threshold. Opaque tokens are never refreshed here.
func (m *Manager) RefreshIfNeeded(ctx context.Context) (bool, error) {
	m.mu.RLock()
	token := m.state.Token
	m.mu.RUnlock()
	if token == "" || !needsRefresh(token, m.clock.Now(), m.threshold) {
		return false, nil
	}
	if err := m.Refresh(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ReloadProfile fetches /auth/profile and replaces the stored user record.
func (m *Manager) ReloadProfile(ctx context.Context) (*UserRecord, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, cancelled(err)
	}
	defer m.release()

	m.mu.RLock()
	token := m.state.Token
	m.mu.RUnlock()
	if token == "" {
		return nil, gkerrors.NewNotAuthenticatedError()
	}

	data, err := m.client.Get(ctx, PathProfile, nil)
	if err != nil {
		m.metrics.RecordSessionOperation("profile", false)
		return nil, classify(err, "profile request failed")
	}
	user, err := profileFrom(data)
	if err != nil {
		m.metrics.RecordSessionOperation("profile", false)
		return nil, err
	}

	m.mu.Lock()
	if m.state.Token != token {
		m.mu.Unlock()
		return nil, gkerrors.NewNotAuthenticatedError()
	}
	m.state.User = user.clone()
	m.mu.Unlock()
	m.persist(ctx, token, user)

	m.metrics.RecordSessionOperation("profile", true)
	return user.clone(), nil
}

// profileFrom accepts either a bare user object or {"user": {...}}.
func profileFrom(data any) (*UserRecord, error) {
	if m, ok := data.(map[string]any); ok {
		if inner, ok := m["user"]; ok {
			data = inner
		}
	}
	var user UserRecord
	if err := httpclient.Bind(data, &user); err != nil || !user.valid() {
		return nil, malformedGrant(err)
	}
	return &user, nil
}

func (m *Manager) acquire(ctx context.Context) error {
	select {
	case m.ops <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) release() {
	<-m.ops
}

func cancelled(err error) *AuthError {
	return &AuthError{
		Code:    gkerrors.ErrCodeSessionBusy,
		Message: "operation cancelled while waiting for another session operation",
		Cause:   err,
	}
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.state.Status = s
	m.mu.Unlock()
}

// bearerToken prefers the persisted token so that a login performed by
// another process is picked up; memory covers a failing store.
func (m *Manager) bearerToken(ctx context.Context) string {
	if ac, ok := store.GetJSON[authContext](ctx, m.store, KeyAuthContext); ok && ac.Token != "" {
		return ac.Token
	}
	if token, ok := store.GetJSON[string](ctx, m.store, KeyToken); ok && token != "" {
		return token
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Token
}

func (m *Manager) restore(ctx context.Context) {
	token, user := m.load(ctx)

	m.mu.Lock()
	status := m.state.Status
	if token != "" && user != nil {
		m.state = Snapshot{Phase: PhaseAuthenticated, Status: status, Token: token, User: user}
	} else {
		m.state = Snapshot{Phase: PhaseAnonymous, Status: status}
	}
	phase := m.state.Phase
	m.mu.Unlock()

	m.logger.Debug("session restored", "phase", phase.String())
}

// load reads the persisted pair. The combined record wins; the separate
// keys are consulted only when it is absent or malformed.
func (m *Manager) load(ctx context.Context) (string, *UserRecord) {
	if ac, ok := store.GetJSON[authContext](ctx, m.store, KeyAuthContext); ok {
		if ac.Token != "" && ac.User.valid() {
			return ac.Token, ac.User
		}
		return "", nil
	}
	token, tokenOK := store.GetJSON[string](ctx, m.store, KeyToken)
	user, userOK := store.GetJSON[UserRecord](ctx, m.store, KeyUser)
	if !tokenOK || token == "" || !userOK || !user.valid() {
		return "", nil
	}
	return token, &user
}

// persist writes the user before the token and the combined record last,
// so a watcher woken by any of the watched keys reads a matching pair.
func (m *Manager) persist(ctx context.Context, token string, user *UserRecord) {
	if err := store.SetJSON(ctx, m.store, KeyUser, user); err != nil {
		m.logger.WithError(err).Warn("persisting user failed; continuing in memory")
	}
	if err := store.SetJSON(ctx, m.store, KeyToken, token); err != nil {
		m.logger.WithError(err).Warn("persisting token failed; continuing in memory")
	}
	if err := store.SetJSON(ctx, m.store, KeyAuthContext, authContext{Token: token, User: user}); err != nil {
		m.logger.WithError(err).Warn("persisting session failed; continuing in memory")
	}
}

// wipe removes the combined record first and the user last, mirroring
// persist.
func (m *Manager) wipe(ctx context.Context) {
	for _, key := range []string{KeyAuthContext, KeyToken, KeyUser} {
		if err := m.store.Remove(ctx, key); err != nil {
			m.logger.WithError(err).Warn("clearing persisted session failed", "key", key)
		}
	}
}

// onInvalidated handles a 401 from the identity API. It takes only the
// state lock, so it is safe while an operation holds the queue slot.
func (m *Manager) onInvalidated(ctx context.Context, ev events.Event) {
	if ev.Meta[httpclient.MetaCredentialExchange] != "" {
		return
	}

	m.mu.Lock()
	hadSession := m.state.Token != ""
	m.state.Phase = PhaseAnonymous
	m.state.Token = ""
	m.state.User = nil
	m.mu.Unlock()

	m.wipe(ctx)
	if hadSession {
		m.metrics.RecordInvalidation()
		m.logger.Info("session invalidated by identity API", "method", ev.Method, "url", ev.URL)
	}
}

func (m *Manager) onExternalChange(key string) {
	m.logger.Debug("persisted session changed externally", "key", key)
	m.restore(context.Background())
}
