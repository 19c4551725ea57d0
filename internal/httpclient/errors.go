package httpclient

import (
	"errors"
	"fmt"
	"net/http"
)

// NetworkError means no HTTP response was received: DNS or connection
// failure, timeout, cancellation, or an open circuit breaker.
type NetworkError struct {
	Op      string
	URL     string
	Timeout bool
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s %s: request timed out", e.Op, e.URL)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a response outside 2xx. Body holds the decoded payload and
// Message the server-provided explanation, falling back to the status text.
type HTTPError struct {
	Status  int
	Body    any
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// DecodeError is a 2xx response whose declared JSON body failed to parse.
type DecodeError struct {
	ContentType string
	Err         error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s response: %v", e.ContentType, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsNetwork reports whether err is (or wraps) a NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsHTTP reports whether err is (or wraps) an HTTPError.
func IsHTTP(err error) bool {
	var he *HTTPError
	return errors.As(err, &he)
}

// IsDecode reports whether err is (or wraps) a DecodeError.
func IsDecode(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}

// MessageOf returns a human-readable explanation suitable for display.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var (
		he *HTTPError
		ne *NetworkError
		de *DecodeError
	)
	switch {
	case errors.As(err, &he):
		return he.Message
	case errors.As(err, &ne):
		if ne.Timeout {
			return "request timed out"
		}
		return "network error: unable to reach the server"
	case errors.As(err, &de):
		return "malformed response from server"
	}
	return err.Error()
}

// messageFromBody pulls "message" (or "error") out of a decoded JSON body.
func messageFromBody(body any, status int) string {
	if m, ok := body.(map[string]any); ok {
		for _, field := range []string{"message", "error"} {
			if s, ok := m[field].(string); ok && s != "" {
				return s
			}
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("request failed with status %d", status)
}
