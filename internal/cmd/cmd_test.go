package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/felixgeelhaar/gatekeeper/internal/devserver"
	"github.com/felixgeelhaar/gatekeeper/internal/exitcode"
	"github.com/felixgeelhaar/gatekeeper/internal/guard"
	"github.com/felixgeelhaar/gatekeeper/internal/log"
)

type result struct {
	out    string
	errOut string
	err    error
}

func (r result) code() int {
	return exitcode.DetermineExitCode(r.err)
}

// sandbox isolates configuration and session storage in a temp directory
// and disables interactive prompts.
func sandbox(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("GATEKEEPER_HOME", dir)
	t.Setenv("CI", "true")
	return dir
}

func identityServer(t *testing.T) string {
	t.Helper()
	srv, err := devserver.New(
		devserver.WithLogger(log.Discard()),
		devserver.WithBcryptCost(bcrypt.MinCost),
	)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func unreachableURL(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return "http://" + addr
}

func run(t *testing.T, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	a := newApp(&out, &errOut)
	root := NewRootCmd(a)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	a.close()
	return result{out: out.String(), errOut: errOut.String(), err: err}
}

func statusJSON(t *testing.T, args ...string) statusReport {
	t.Helper()
	r := run(t, append([]string{"status", "--json"}, args...)...)
	require.NoError(t, r.err)
	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(r.out), &report))
	return report
}

func TestSessionLifecycle(t *testing.T) {
	sandbox(t)
	api := "--api-url=" + identityServer(t)

	report := statusJSON(t, api)
	assert.False(t, report.Authenticated)
	assert.Equal(t, "anonymous", report.Phase)

	r := run(t, "login", api, "--email", "user@example.com", "--password", "password")
	require.NoError(t, r.err, r.errOut)
	assert.Contains(t, r.out, "Logged in as Test User (User)")

	// A fresh invocation restores the persisted session.
	report = statusJSON(t, api)
	assert.True(t, report.Authenticated)
	require.NotNil(t, report.User)
	assert.Equal(t, "user", report.User.Role)
	assert.Len(t, report.TokenFingerprint, 12)
	assert.Contains(t, report.Permissions, "create_question")

	r = run(t, "whoami", api)
	require.NoError(t, r.err)
	assert.Contains(t, r.out, "user@example.com")

	r = run(t, "check", api, "/chanxueyan/qa/42")
	require.NoError(t, r.err)
	assert.Contains(t, r.out, "allow")

	r = run(t, "check", api, "/chanxueyan/admin/users")
	require.Error(t, r.err)
	assert.Equal(t, exitcode.Forbidden, r.code())
	assert.Contains(t, r.out, "forbidden")

	r = run(t, "refresh", api)
	require.NoError(t, r.err)
	assert.Contains(t, r.out, "Token refreshed")

	r = run(t, "logout", api)
	require.NoError(t, r.err)
	assert.Contains(t, r.out, "Logged out")

	assert.False(t, statusJSON(t, api).Authenticated)

	r = run(t, "logout", api)
	require.NoError(t, r.err)
	assert.Contains(t, r.out, "Not logged in.")
}

func TestLoginFailures(t *testing.T) {
	sandbox(t)

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantMsg  string
	}{
		{
			name:     "rejected credentials",
			args:     []string{"login", "--api-url", identityServer(t), "--email", "user@example.com", "--password", "wrong!"},
			wantCode: exitcode.AuthError,
			wantMsg:  "Invalid email or password",
		},
		{
			name:     "server unreachable",
			args:     []string{"login", "--api-url", unreachableURL(t), "--email", "user@example.com", "--password", "password"},
			wantCode: exitcode.NetworkError,
			wantMsg:  "network error",
		},
		{
			name:     "missing flags without a terminal",
			args:     []string{"login", "--email", "user@example.com"},
			wantCode: exitcode.GeneralError,
			wantMsg:  "required when not running interactively",
		},
		{
			name:     "invalid configuration",
			args:     []string{"login", "--store", "etcd"},
			wantCode: exitcode.ConfigError,
			wantMsg:  "unknown store.backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := run(t, tt.args...)
			require.Error(t, r.err)
			assert.Equal(t, tt.wantCode, r.code())
			assert.Contains(t, r.err.Error(), tt.wantMsg)
		})
	}

	assert.False(t, statusJSON(t).Authenticated, "failed logins leave no session behind")
}

func TestCheckAnonymous(t *testing.T) {
	sandbox(t)

	tests := []struct {
		path     string
		wantCode int
		contains string
	}{
		{path: "/chanxueyan/auth/login", wantCode: exitcode.Success, contains: "allow"},
		{path: "/chanxueyan/qa/7", wantCode: exitcode.Forbidden, contains: "/chanxueyan/auth/login"},
		{path: "/chanxueyan/admin", wantCode: exitcode.Forbidden, contains: "redirect"},
		{path: "/no/such/page", wantCode: exitcode.Success, contains: "not-found"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			r := run(t, "check", "--store", "memory", tt.path)
			assert.Equal(t, tt.wantCode, r.code())
			assert.Contains(t, r.out, tt.contains)
		})
	}

	r := run(t, "check", "--store", "memory", "--quiet", "/chanxueyan/admin")
	assert.Equal(t, exitcode.Forbidden, r.code())
	assert.Empty(t, r.out)
}

func TestDemoModeWorksOffline(t *testing.T) {
	sandbox(t)
	offline := "--api-url=" + unreachableURL(t)

	r := run(t, "register", offline, "--demo", "--name", "admin", "--email", "boss@example.com", "--password", "Secret1!")
	require.NoError(t, r.err, r.errOut)
	assert.Contains(t, r.out, "Administrator")

	r = run(t, "check", offline, "/chanxueyan/admin/settings")
	require.NoError(t, r.err)

	r = run(t, "login", offline, "--demo", "--email", "user", "--password", "password")
	require.NoError(t, r.err)
	assert.Contains(t, r.out, "Test User")

	r = run(t, "check", offline, "/chanxueyan/admin/settings")
	assert.Equal(t, exitcode.Forbidden, r.code())
}

func TestRegisterValidation(t *testing.T) {
	sandbox(t)

	r := run(t, "register", "--name", "x", "--email", "x@example.com", "--password", "secret1")
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "username must be 3-20")
}

func TestSQLiteBackendPersists(t *testing.T) {
	dir := sandbox(t)
	api := "--api-url=" + identityServer(t)
	db := "GATEKEEPER_STORE_PATH"
	t.Setenv(db, filepath.Join(dir, "state", "session.db"))
	t.Setenv("GATEKEEPER_STORE_BACKEND", "sqlite")

	r := run(t, "login", api, "--email", "admin@qq.com", "--password", "password")
	require.NoError(t, r.err, r.errOut)

	report := statusJSON(t, api)
	assert.True(t, report.Authenticated)
	assert.Equal(t, "admin", report.User.Role)
}

func TestRoutesCommand(t *testing.T) {
	sandbox(t)

	r := run(t, "routes", "--yaml")
	require.NoError(t, r.err)
	parsed, err := guard.ParseRoutes([]byte(r.out))
	require.NoError(t, err)
	assert.Equal(t, guard.DefaultRoutes().LoginPath, parsed.LoginPath)
	assert.Len(t, parsed.Routes, len(guard.DefaultRoutes().Routes))

	r = run(t, "routes")
	require.NoError(t, r.err)
	assert.Contains(t, r.out, "admin-users")
}

func TestConfigCommands(t *testing.T) {
	dir := sandbox(t)

	r := run(t, "config", "path")
	require.NoError(t, r.err)
	assert.Equal(t, filepath.Join(dir, "config.yaml")+"\n", r.out)

	r = run(t, "config", "init")
	require.NoError(t, r.err)
	r = run(t, "config", "init")
	require.Error(t, r.err, "init refuses to overwrite")

	t.Setenv("GATEKEEPER_STORE_BACKEND", "etcd")
	r = run(t, "config", "view")
	require.NoError(t, r.err, "view works even when the configuration is invalid")
	assert.Contains(t, r.out, "backend: etcd")
	assert.Contains(t, r.errOut, "unknown store.backend")
}

func TestVersionCommand(t *testing.T) {
	sandbox(t)

	r := run(t, "version", "--json")
	require.NoError(t, r.err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(r.out), &info))
	assert.NotEmpty(t, info["go_version"])
}

func TestDoctor(t *testing.T) {
	sandbox(t)

	r := run(t, "doctor", "--json", "--api-url", identityServer(t))
	require.NoError(t, r.err, r.out)
	var report DoctorReport
	require.NoError(t, json.Unmarshal([]byte(r.out), &report))
	assert.True(t, report.Healthy)
	require.Len(t, report.Checks, 4)
	assert.Equal(t, "Identity API", report.Checks[3].Name)
	assert.Equal(t, checkOK, report.Checks[3].Status)

	r = run(t, "doctor", "--api-url", unreachableURL(t))
	require.Error(t, r.err)
	assert.Contains(t, r.out, "Some checks failed")

	r = run(t, "doctor", "--store", "etcd")
	require.Error(t, r.err, "invalid configuration is reported, not fatal to the command")
	assert.Contains(t, r.out, "unknown store.backend")
}

func TestCompletion(t *testing.T) {
	sandbox(t)

	r := run(t, "completion", "bash")
	require.NoError(t, r.err)
	assert.Contains(t, r.out, "gatekeeper")

	r = run(t, "completion", "tcsh")
	require.Error(t, r.err)
	assert.Equal(t, exitcode.UsageError, r.code())
}

func TestMetricsTextfile(t *testing.T) {
	dir := sandbox(t)

	t.Run("disabled by default", func(t *testing.T) {
		var out, errOut bytes.Buffer
		a := newApp(&out, &errOut)
		root := NewRootCmd(a)
		root.SetArgs([]string{"check", "--store", "memory", "--quiet", "/chanxueyan/auth/login"})
		require.NoError(t, root.ExecuteContext(context.Background()))
		assert.Nil(t, a.metrics)
		assert.Nil(t, a.registry)
		a.close()
	})

	t.Run("written on exit when configured", func(t *testing.T) {
		path := filepath.Join(dir, "gatekeeper.prom")
		t.Setenv("GATEKEEPER_METRICS_TEXTFILE", path)

		r := run(t, "check", "--store", "memory", "/chanxueyan/admin")
		assert.Equal(t, exitcode.Forbidden, r.code())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `gatekeeper_guard_decisions_total{decision="redirect"} 1`)
	})
}
