package exitcode

import (
	"context"
	"errors"
	"os"
	"strings"

	gkerrors "github.com/felixgeelhaar/gatekeeper/internal/errors"
	"github.com/felixgeelhaar/gatekeeper/internal/httpclient"
	"github.com/felixgeelhaar/gatekeeper/internal/session"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates successful execution
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage (bad flags, missing args, etc.)
	UsageError = 2

	// ConfigError indicates an invalid or unreadable configuration
	ConfigError = 3

	// AuthError indicates credentials were rejected or no session exists
	AuthError = 5

	// NetworkError indicates the identity server could not be reached
	NetworkError = 6

	// Forbidden indicates a route guard did not allow navigation
	Forbidden = 7

	// Interrupted indicates the user cancelled with Ctrl+C
	Interrupted = 130
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	Exit(DetermineExitCode(err))
}

// DetermineExitCode maps an error chain to an exit code. Typed errors are
// inspected first; cobra's untyped usage errors fall back to message matching.
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	if errors.Is(err, context.Canceled) {
		return Interrupted
	}

	var ne *httpclient.NetworkError
	if errors.As(err, &ne) {
		return NetworkError
	}

	var ae *session.AuthError
	if errors.As(err, &ae) {
		if ae.Code == gkerrors.ErrCodeSessionUnavailable {
			return NetworkError
		}
		return AuthError
	}

	switch gkerrors.CodeOf(err) {
	case gkerrors.ErrCodeGuardForbidden, gkerrors.ErrCodeGuardLoginNeeded, gkerrors.ErrCodeGuardPending:
		return Forbidden
	case gkerrors.ErrCodeSessionNotAuthenticated, gkerrors.ErrCodeSessionInvalidCredentials:
		return AuthError
	case gkerrors.ErrCodeSessionUnavailable, gkerrors.ErrCodeHTTPNetwork:
		return NetworkError
	case gkerrors.ErrCodeConfigInvalid, gkerrors.ErrCodeConfigRead, gkerrors.ErrCodeGuardRoutes:
		return ConfigError
	}

	var he *httpclient.HTTPError
	if errors.As(err, &he) && (he.Status == 401 || he.Status == 403) {
		return AuthError
	}

	errMsg := strings.ToLower(err.Error())
	for _, marker := range []string{"unknown command", "unknown flag", "unknown shorthand flag", "required flag", "accepts ", "invalid argument"} {
		if strings.Contains(errMsg, marker) {
			return UsageError
		}
	}

	return GeneralError
}

// GetExitCodeDescription returns a human-readable description of an exit code
func GetExitCodeDescription(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case UsageError:
		return "Usage error (invalid flags or arguments)"
	case ConfigError:
		return "Configuration error"
	case AuthError:
		return "Authentication error"
	case NetworkError:
		return "Network error"
	case Forbidden:
		return "Navigation not allowed"
	case Interrupted:
		return "Interrupted"
	default:
		return "Unknown error"
	}
}
