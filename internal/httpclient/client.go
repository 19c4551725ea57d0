// Package httpclient is the JSON client used to talk to the identity API.
// Every call flows through an ordered pipeline of request interceptors,
// the network, and response interceptors; failures are classified into
// NetworkError, HTTPError or DecodeError.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	gkerrors "github.com/felixgeelhaar/gatekeeper/internal/errors"
	"github.com/felixgeelhaar/gatekeeper/internal/log"
	"github.com/felixgeelhaar/gatekeeper/internal/metrics"
)

// DefaultTimeout applies when neither the client nor the call sets one.
const DefaultTimeout = 10 * time.Second

// Doer is the network primitive. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DoerFunc adapts a function to Doer.
type DoerFunc func(req *http.Request) (*http.Response, error)

func (f DoerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

// Client issues JSON requests against a base URL.
type Client struct {
	baseURL string
	timeout time.Duration
	doer    Doer
	logger  *log.Logger
	metrics *metrics.Metrics
	headers http.Header

	mu       sync.RWMutex
	requests []RequestInterceptor
	replies  []ResponseInterceptor
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the default per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDoer replaces the network primitive.
func WithDoer(d Doer) Option {
	return func(c *Client) {
		if d != nil {
			c.doer = d
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records request counts and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithDefaultHeader adds a header to every request.
func WithDefaultHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// New creates a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: DefaultTimeout,
		doer:    &http.Client{},
		logger:  log.DefaultLogger(),
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "httpclient")
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AddRequestInterceptor appends fn to the request pipeline. Interceptors run
// in registration order; duplicates run once per registration.
func (c *Client) AddRequestInterceptor(fn RequestInterceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, fn)
}

// AddResponseInterceptor appends fn to the response pipeline.
func (c *Client) AddResponseInterceptor(fn ResponseInterceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, fn)
}

func (c *Client) pipeline() ([]RequestInterceptor, []ResponseInterceptor) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]RequestInterceptor(nil), c.requests...), append([]ResponseInterceptor(nil), c.replies...)
}

// Get issues a GET with payload encoded into the query string.
func (c *Client) Get(ctx context.Context, path string, payload any, opts ...RequestOption) (any, error) {
	return c.Do(ctx, MethodGet, path, payload, opts...)
}

// Post issues a POST with payload as JSON body.
func (c *Client) Post(ctx context.Context, path string, payload any, opts ...RequestOption) (any, error) {
	return c.Do(ctx, MethodPost, path, payload, opts...)
}

// Put issues a PUT with payload as JSON body.
func (c *Client) Put(ctx context.Context, path string, payload any, opts ...RequestOption) (any, error) {
	return c.Do(ctx, MethodPut, path, payload, opts...)
}

// Patch issues a PATCH with payload as JSON body.
func (c *Client) Patch(ctx context.Context, path string, payload any, opts ...RequestOption) (any, error) {
	return c.Do(ctx, MethodPatch, path, payload, opts...)
}

// Delete issues a DELETE with payload encoded into the query string.
func (c *Client) Delete(ctx context.Context, path string, payload any, opts ...RequestOption) (any, error) {
	return c.Do(ctx, MethodDelete, path, payload, opts...)
}

// Do performs one call and returns the decoded body: a JSON value for
// application/json responses, otherwise the body as a string. Errors are
// *NetworkError, *HTTPError or *DecodeError unless an interceptor failed.
func (c *Client) Do(ctx context.Context, method Method, path string, payload any, opts ...RequestOption) (any, error) {
	if !method.Valid() {
		return nil, gkerrors.New(gkerrors.ErrCodeHTTPMethod, "unsupported method "+method.String())
	}

	cfg, err := c.build(method, path, payload, opts)
	if err != nil {
		return nil, err
	}

	reqs, replies := c.pipeline()
	for _, fn := range reqs {
		next, err := fn(ctx, cfg.Clone())
		if err != nil {
			return nil, gkerrors.Wrap(gkerrors.ErrCodeHTTPInterceptor, "request interceptor failed", err)
		}
		cfg = next
	}

	resp := c.dispatch(ctx, cfg)

	for _, fn := range replies {
		next, err := fn(ctx, resp)
		if err != nil {
			return nil, gkerrors.Wrap(gkerrors.ErrCodeHTTPInterceptor, "response interceptor failed", err)
		}
		if next != nil {
			resp = next
		}
	}

	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Data, nil
}

func (c *Client) build(method Method, path string, payload any, opts []RequestOption) (RequestConfig, error) {
	cfg := RequestConfig{
		Method:  method,
		URL:     c.baseURL + path,
		Header:  c.headers.Clone(),
		Timeout: c.timeout,
	}
	cfg.Header.Set("Content-Type", "application/json")
	cfg.Header.Set("Accept", "application/json")
	for _, opt := range opts {
		opt(&cfg)
	}

	if method.HasBody() {
		if payload != nil {
			body, err := json.Marshal(payload)
			if err != nil {
				return cfg, gkerrors.Wrap(gkerrors.ErrCodeHTTPEncode, "failed to marshal request body", err)
			}
			cfg.Body = body
		}
		return cfg, nil
	}

	query, err := encodeQuery(payload)
	if err != nil {
		return cfg, gkerrors.Wrap(gkerrors.ErrCodeHTTPEncode, "failed to encode query", err)
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(cfg.URL, "?") {
			sep = "&"
		}
		cfg.URL += sep + query.Encode()
	}
	return cfg, nil
}

// dispatch sends cfg and always returns an envelope; failures are recorded
// in Response.Err.
func (c *Client) dispatch(ctx context.Context, cfg RequestConfig) *Response {
	resp := &Response{Request: cfg}
	start := time.Now()
	defer func() {
		c.metrics.RecordHTTPRequest(cfg.Method.String(), resp.Status, time.Since(start))
	}()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var body io.Reader
	if cfg.Body != nil {
		body = bytes.NewReader(cfg.Body)
	}
	req, err := http.NewRequestWithContext(ctx, cfg.Method.String(), cfg.URL, body)
	if err != nil {
		resp.Err = &NetworkError{Op: cfg.Method.String(), URL: cfg.URL, Err: err}
		return resp
	}
	req.Header = cfg.Header.Clone()

	httpResp, err := c.doer.Do(req)
	if err != nil {
		resp.Err = &NetworkError{Op: cfg.Method.String(), URL: cfg.URL, Timeout: isTimeout(ctx, err), Err: err}
		c.logger.Debug("request failed", "method", cfg.Method.String(), "url", cfg.URL, "error", err.Error())
		return resp
	}
	defer httpResp.Body.Close()

	resp.Status = httpResp.StatusCode
	resp.StatusText = http.StatusText(httpResp.StatusCode)
	resp.Header = httpResp.Header

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		resp.Err = &NetworkError{Op: cfg.Method.String(), URL: cfg.URL, Timeout: isTimeout(ctx, err), Err: err}
		return resp
	}
	resp.Raw = raw

	contentType := httpResp.Header.Get("Content-Type")
	data, decodeErr := decodeBody(contentType, raw)
	ok := httpResp.StatusCode >= 200 && httpResp.StatusCode < 300

	switch {
	case !ok:
		if decodeErr != nil {
			data = string(raw)
		}
		resp.Data = data
		resp.Err = &HTTPError{
			Status:  httpResp.StatusCode,
			Body:    data,
			Message: messageFromBody(data, httpResp.StatusCode),
		}
	case decodeErr != nil:
		resp.Data = string(raw)
		resp.Err = &DecodeError{ContentType: contentType, Err: decodeErr}
	default:
		resp.Data = data
	}

	c.logger.Debug("request completed",
		"method", cfg.Method.String(),
		"url", cfg.URL,
		"status", resp.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp
}

func decodeBody(contentType string, raw []byte) (any, error) {
	if !isJSON(contentType) {
		return string(raw), nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
