package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// HTTP client errors (HTTP-001 to HTTP-099)
	ErrCodeHTTPNetwork     ErrorCode = "HTTP-001"
	ErrCodeHTTPStatus      ErrorCode = "HTTP-002"
	ErrCodeHTTPDecode      ErrorCode = "HTTP-003"
	ErrCodeHTTPEncode      ErrorCode = "HTTP-004"
	ErrCodeHTTPInterceptor ErrorCode = "HTTP-005"
	ErrCodeHTTPMethod      ErrorCode = "HTTP-006"

	// Session errors (SESSION-001 to SESSION-099)
	ErrCodeSessionInvalidCredentials ErrorCode = "SESSION-001"
	ErrCodeSessionRejected           ErrorCode = "SESSION-002"
	ErrCodeSessionUnavailable        ErrorCode = "SESSION-003"
	ErrCodeSessionMalformedResponse  ErrorCode = "SESSION-004"
	ErrCodeSessionNotAuthenticated   ErrorCode = "SESSION-005"
	ErrCodeSessionBusy               ErrorCode = "SESSION-006"

	// Persistent store errors (STORE-001 to STORE-099)
	ErrCodeStoreNotFound    ErrorCode = "STORE-001"
	ErrCodeStoreRead        ErrorCode = "STORE-002"
	ErrCodeStoreWrite       ErrorCode = "STORE-003"
	ErrCodeStoreUnavailable ErrorCode = "STORE-004"

	// Configuration errors (CONFIG-001 to CONFIG-099)
	ErrCodeConfigInvalid ErrorCode = "CONFIG-001"
	ErrCodeConfigRead    ErrorCode = "CONFIG-002"

	// Guard errors (GUARD-001 to GUARD-099)
	ErrCodeGuardForbidden   ErrorCode = "GUARD-001"
	ErrCodeGuardLoginNeeded ErrorCode = "GUARD-002"
	ErrCodeGuardPending     ErrorCode = "GUARD-003"
	ErrCodeGuardRoutes      ErrorCode = "GUARD-004"
)

// GatekeeperError represents an error with a code and optional suggestions
type GatekeeperError struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	Cause       error
}

// Error implements the error interface
func (e *GatekeeperError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *GatekeeperError) Unwrap() error {
	return e.Cause
}

// New creates a new GatekeeperError
func New(code ErrorCode, message string) *GatekeeperError {
	return &GatekeeperError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new GatekeeperError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *GatekeeperError {
	return &GatekeeperError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *GatekeeperError) WithSuggestion(suggestion string) *GatekeeperError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *GatekeeperError) WithSuggestions(suggestions ...string) *GatekeeperError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// CodeOf returns the code of the first GatekeeperError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var gkErr *GatekeeperError
	if stderrors.As(err, &gkErr) {
		return gkErr.Code
	}
	return ""
}

// HasCode reports whether err's chain carries the given code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var gkErr *GatekeeperError
		if !stderrors.As(err, &gkErr) {
			return false
		}
		if gkErr.Code == code {
			return true
		}
		err = gkErr.Cause
	}
	return false
}

// Common error constructors

// NewNotAuthenticatedError is returned by operations that need a session.
func NewNotAuthenticatedError() *GatekeeperError {
	return New(ErrCodeSessionNotAuthenticated, "not logged in").
		WithSuggestion("Run 'gatekeeper login' to authenticate")
}

// NewConfigInvalidError creates a configuration validation error
func NewConfigInvalidError(details string) *GatekeeperError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", details)).
		WithSuggestion("Run 'gatekeeper config view' to inspect the effective configuration").
		WithSuggestion("Check GATEKEEPER_* environment variables")
}

// NewForbiddenError creates a guard rejection for a route.
func NewForbiddenError(path string) *GatekeeperError {
	return New(ErrCodeGuardForbidden, fmt.Sprintf("access to %s is forbidden for the current session", path)).
		WithSuggestion("Log in with an account that has the required role or permission")
}

// NewLoginRequiredError creates a guard redirect for a route.
func NewLoginRequiredError(path string) *GatekeeperError {
	return New(ErrCodeGuardLoginNeeded, fmt.Sprintf("%s requires an authenticated session", path)).
		WithSuggestion("Run 'gatekeeper login' first")
}
