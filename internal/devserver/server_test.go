package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/felixgeelhaar/gatekeeper/internal/events"
	"github.com/felixgeelhaar/gatekeeper/internal/httpclient"
	"github.com/felixgeelhaar/gatekeeper/internal/log"
	"github.com/felixgeelhaar/gatekeeper/internal/metrics"
	"github.com/felixgeelhaar/gatekeeper/internal/session"
	"github.com/felixgeelhaar/gatekeeper/internal/store"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	base := []Option{
		WithLogger(log.Discard()),
		WithBcryptCost(bcrypt.MinCost),
		WithSigningKey([]byte("test-signing-key")),
	}
	s, err := New(append(base, opts...)...)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func call(t *testing.T, ts *httptest.Server, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func login(t *testing.T, ts *httptest.Server, email, password string) string {
	t.Helper()
	status, body := call(t, ts, http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, status, "body: %v", body)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestLogin(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantRole   string
		wantMsg    string
	}{
		{
			name:       "seeded admin",
			body:       map[string]string{"email": "admin@qq.com", "password": "password"},
			wantStatus: http.StatusOK,
			wantRole:   "admin",
		},
		{
			name:       "email is case-insensitive",
			body:       map[string]string{"email": "USER@example.com", "password": "password"},
			wantStatus: http.StatusOK,
			wantRole:   "user",
		},
		{
			name:       "wrong password",
			body:       map[string]string{"email": "admin@qq.com", "password": "nope"},
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "Invalid email or password",
		},
		{
			name:       "unknown email",
			body:       map[string]string{"email": "ghost@example.com", "password": "password"},
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "Invalid email or password",
		},
		{
			name:       "missing fields",
			body:       map[string]string{"email": "admin@qq.com"},
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Email and password are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := call(t, ts, http.MethodPost, "/auth/login", "", tt.body)
			assert.Equal(t, tt.wantStatus, status)
			if tt.wantRole != "" {
				user, ok := body["user"].(map[string]any)
				require.True(t, ok, "user object expected: %v", body)
				assert.Equal(t, tt.wantRole, user["role"])
				assert.NotEmpty(t, user["id"])
				assert.NotEmpty(t, body["token"])
			}
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, body["message"])
			}
		})
	}
}

func TestRegister(t *testing.T) {
	_, ts := newTestServer(t)

	t.Run("sentinel name is elevated", func(t *testing.T) {
		status, body := call(t, ts, http.MethodPost, "/auth/register", "", map[string]string{
			"name": "admin", "email": "root@example.com", "password": "secret1",
		})
		require.Equal(t, http.StatusCreated, status)
		user := body["user"].(map[string]any)
		assert.Equal(t, "admin", user["role"])
	})

	t.Run("everyone else is a user", func(t *testing.T) {
		status, body := call(t, ts, http.MethodPost, "/auth/register", "", map[string]string{
			"name": "alice_01", "email": "alice@example.com", "password": "secret1",
		})
		require.Equal(t, http.StatusCreated, status)
		user := body["user"].(map[string]any)
		assert.Equal(t, "user", user["role"])
		assert.Equal(t, "alice@example.com", user["email"])

		login(t, ts, "alice@example.com", "secret1")
	})

	t.Run("duplicate email", func(t *testing.T) {
		status, body := call(t, ts, http.MethodPost, "/auth/register", "", map[string]string{
			"name": "another", "email": "admin@qq.com", "password": "secret1",
		})
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "email_taken", body["error"])
	})

	t.Run("short password", func(t *testing.T) {
		status, body := call(t, ts, http.MethodPost, "/auth/register", "", map[string]string{
			"name": "bob_42", "email": "bob@example.com", "password": "123",
		})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "password must be at least 6 characters", body["message"])
	})
}

func TestProfileAndRefresh(t *testing.T) {
	_, ts := newTestServer(t)
	token := login(t, ts, "user@example.com", "password")

	status, body := call(t, ts, http.MethodGet, "/auth/profile", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "user@example.com", body["user"].(map[string]any)["email"])

	status, body = call(t, ts, http.MethodPost, "/auth/refresh", token, nil)
	require.Equal(t, http.StatusOK, status)
	fresh := body["token"].(string)
	assert.NotEqual(t, token, fresh)

	status, _ = call(t, ts, http.MethodGet, "/auth/profile", token, nil)
	assert.Equal(t, http.StatusUnauthorized, status, "refreshed token is revoked")

	status, _ = call(t, ts, http.MethodGet, "/auth/profile", fresh, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestBearerRejections(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	_, ts := newTestServer(t, WithClock(clock), WithTokenTTL(time.Minute))
	token := login(t, ts, "user@example.com", "password")

	other, err := New(WithLogger(log.Discard()), WithBcryptCost(bcrypt.MinCost), WithSigningKey([]byte("other-key")), WithClock(clock))
	require.NoError(t, err)
	foreign, err := other.tokens.issue(&account{user: session.UserRecord{ID: "x", Role: "admin"}})
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing", token: ""},
		{name: "garbage", token: "not-a-jwt"},
		{name: "wrong key", token: foreign},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := call(t, ts, http.MethodGet, "/auth/profile", tt.token, nil)
			assert.Equal(t, http.StatusUnauthorized, status)
			assert.Equal(t, "unauthorized", body["error"])
		})
	}

	t.Run("expired", func(t *testing.T) {
		clock.Advance(2 * time.Minute)
		status, _ := call(t, ts, http.MethodGet, "/auth/profile", token, nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})
}

func TestLogoutRevokes(t *testing.T) {
	_, ts := newTestServer(t)
	token := login(t, ts, "admin@qq.com", "password")

	status, _ := call(t, ts, http.MethodPost, "/auth/logout", token, map[string]any{})
	assert.Equal(t, http.StatusOK, status)

	status, _ = call(t, ts, http.MethodGet, "/auth/profile", token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = call(t, ts, http.MethodPost, "/auth/logout", "", map[string]any{})
	assert.Equal(t, http.StatusOK, status, "anonymous logout succeeds")
}

func TestHealthAndMetrics(t *testing.T) {
	reg, m := metrics.NewRegistry()
	s, ts := newTestServer(t, WithMetrics(reg, m))

	status, body := call(t, ts, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body["status"])

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	s.inShutdown.Store(true)
	status, _ = call(t, ts, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	status, _ = call(t, ts, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestServeUntilCancelled(t *testing.T) {
	s, err := New(WithLogger(log.Discard()), WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln, time.Second) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.True(t, s.inShutdown.Load())
}

// The session manager, HTTP client and store work end to end against the
// dev server.
func TestSessionManagerAgainstServer(t *testing.T) {
	_, ts := newTestServer(t)
	ctx := context.Background()

	client := httpclient.New(ts.URL, httpclient.WithLogger(log.Discard()))
	st := store.NewMemoryStore()
	m := session.NewManager(client, st, events.NewBus(), nil, session.WithLogger(log.Discard()))
	m.Bootstrap(ctx)
	t.Cleanup(m.Close)

	res := m.Login(ctx, "admin@qq.com", "wrong")
	require.False(t, res.OK())
	assert.Equal(t, "Invalid email or password", res.Err.Message)
	assert.False(t, m.IsAuthenticated())

	res = m.Login(ctx, "admin@qq.com", "password")
	require.True(t, res.OK(), "login failed: %v", res.Err)
	assert.True(t, m.HasRole("admin"))
	assert.True(t, m.HasPermission("manage_system"))

	user, err := m.ReloadProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "admin@qq.com", user.Email)

	before := m.Snapshot().Token
	require.NoError(t, m.Refresh(ctx))
	assert.NotEqual(t, before, m.Snapshot().Token)

	m.Logout(ctx)
	assert.False(t, m.IsAuthenticated())
	_, err = st.Get(ctx, session.KeyToken)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
