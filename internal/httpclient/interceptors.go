package httpclient

import (
	"context"
	"net/http"

	"github.com/felixgeelhaar/gatekeeper/internal/events"
	"github.com/felixgeelhaar/gatekeeper/internal/log"
	"github.com/felixgeelhaar/gatekeeper/internal/store"
)

// TokenSource yields the current bearer token, or "" when there is none.
type TokenSource func(ctx context.Context) string

// StoreToken reads a JSON-encoded token string from s under key.
func StoreToken(s store.Store, key string) TokenSource {
	return func(ctx context.Context) string {
		token, _ := store.GetJSON[string](ctx, s, key)
		return token
	}
}

// BearerToken attaches "Authorization: Bearer <token>" when a token is
// available and the request does not already carry credentials.
func BearerToken(source TokenSource) RequestInterceptor {
	return func(ctx context.Context, cfg RequestConfig) (RequestConfig, error) {
		if cfg.Header.Get("Authorization") != "" {
			return cfg, nil
		}
		if token := source(ctx); token != "" {
			cfg.Header.Set("Authorization", "Bearer "+token)
		}
		return cfg, nil
	}
}

// UnauthorizedNotifier publishes TopicSessionInvalidated once for every 401
// response. It only signals; clearing state is left to subscribers.
func UnauthorizedNotifier(bus *events.Bus) ResponseInterceptor {
	return func(ctx context.Context, resp *Response) (*Response, error) {
		if resp.Status != http.StatusUnauthorized {
			return resp, nil
		}
		bus.Publish(ctx, events.Event{
			Topic:  events.TopicSessionInvalidated,
			Status: resp.Status,
			Method: resp.Request.Method.String(),
			URL:    resp.Request.URL,
			Meta:   resp.Request.Meta,
		})
		return resp, nil
	}
}

// LogFailures logs every failed call at warn level (debug for 401, which is
// routine once a session expires).
func LogFailures(logger *log.Logger) ResponseInterceptor {
	return func(ctx context.Context, resp *Response) (*Response, error) {
		if resp.Err == nil {
			return resp, nil
		}
		attrs := []any{
			"method", resp.Request.Method.String(),
			"url", resp.Request.URL,
			"status", resp.Status,
			"reason", MessageOf(resp.Err),
		}
		if resp.Status == http.StatusUnauthorized {
			logger.DebugContext(ctx, "request unauthorized", attrs...)
			return resp, nil
		}
		logger.WarnContext(ctx, "request failed", attrs...)
		return resp, nil
	}
}
