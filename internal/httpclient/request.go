package httpclient

import (
	"context"
	"maps"
	"net/http"
	"time"
)

// Meta keys recognised by the built-in interceptors and the session manager.
const (
	// MetaCredentialExchange marks login/register calls. A 401 on such a call
	// means "wrong credentials", not "session expired".
	MetaCredentialExchange = "credential_exchange"
)

// RequestConfig is the draft of an outgoing request. Request interceptors
// receive a copy and return the (possibly modified) config to use.
type RequestConfig struct {
	Method  Method
	URL     string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
	// Meta travels with the request through the pipeline and into events.
	// It is never sent on the wire.
	Meta map[string]string
}

// Clone returns a deep copy.
func (c RequestConfig) Clone() RequestConfig {
	out := c
	out.Header = c.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	if c.Body != nil {
		out.Body = append([]byte(nil), c.Body...)
	}
	out.Meta = maps.Clone(c.Meta)
	return out
}

// Response is the envelope handed to response interceptors for successful and
// failed calls alike. Err is nil for a 2xx response that decoded cleanly.
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Data       any
	Raw        []byte
	Request    RequestConfig
	Err        error
}

// RequestInterceptor transforms the request before dispatch. Returning an
// error aborts the call.
type RequestInterceptor func(ctx context.Context, cfg RequestConfig) (RequestConfig, error)

// ResponseInterceptor observes or replaces the response envelope. Returning a
// nil *Response keeps the current one; returning an error aborts the chain.
type ResponseInterceptor func(ctx context.Context, resp *Response) (*Response, error)

// RequestOption adjusts a single call.
type RequestOption func(*RequestConfig)

// WithRequestTimeout overrides the client timeout for one call.
func WithRequestTimeout(d time.Duration) RequestOption {
	return func(c *RequestConfig) {
		c.Timeout = d
	}
}

// WithHeader sets a header for one call.
func WithHeader(key, value string) RequestOption {
	return func(c *RequestConfig) {
		c.Header.Set(key, value)
	}
}

// WithMeta attaches pipeline metadata to one call.
func WithMeta(key, value string) RequestOption {
	return func(c *RequestConfig) {
		if c.Meta == nil {
			c.Meta = make(map[string]string)
		}
		c.Meta[key] = value
	}
}
