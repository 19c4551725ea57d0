package session

import (
	"errors"
	"fmt"

	gkerrors "github.com/felixgeelhaar/gatekeeper/internal/errors"
	"github.com/felixgeelhaar/gatekeeper/internal/httpclient"
)

// AuthError is the failure half of a Result. Message is always suitable for
// display.
type AuthError struct {
	Code    gkerrors.ErrorCode
	Message string
	Cause   error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}

// Result is what Login and Register return; exactly one of User and Err is
// set.
type Result struct {
	User *UserRecord
	Err  *AuthError
}

// OK reports success.
func (r Result) OK() bool {
	return r.Err == nil && r.User != nil
}

// classify turns any resolver or transport failure into an AuthError.
func classify(err error, fallback string) *AuthError {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case httpclient.IsHTTP(err):
		code := gkerrors.ErrCodeSessionRejected
		if httpclient.StatusOf(err) == 401 {
			code = gkerrors.ErrCodeSessionInvalidCredentials
		}
		return &AuthError{Code: code, Message: httpclient.MessageOf(err), Cause: err}
	case httpclient.IsNetwork(err):
		return &AuthError{Code: gkerrors.ErrCodeSessionUnavailable, Message: httpclient.MessageOf(err), Cause: err}
	case httpclient.IsDecode(err):
		return &AuthError{Code: gkerrors.ErrCodeSessionMalformedResponse, Message: httpclient.MessageOf(err), Cause: err}
	}
	msg := fallback
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return &AuthError{Code: gkerrors.ErrCodeSessionRejected, Message: msg, Cause: err}
}

func malformedGrant(cause error) *AuthError {
	return &AuthError{
		Code:    gkerrors.ErrCodeSessionMalformedResponse,
		Message: "Invalid response from server",
		Cause:   cause,
	}
}
