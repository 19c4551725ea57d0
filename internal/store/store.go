// Package store implements the best-effort persistent key-value store that
// keeps a session alive across process restarts.
//
// Callers treat every backend as synchronous and always available: read
// failures degrade to "absent" and write failures are reported to the caller
// to log, never to abort.
package store

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/felixgeelhaar/gatekeeper/internal/errors"
	"github.com/felixgeelhaar/gatekeeper/internal/log"
)

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = errors.New(errors.ErrCodeStoreNotFound, "key not found")

// Store is a byte-oriented key-value store.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// Watcher is implemented by stores that can report changes made by another
// handle or process to the same underlying data.
type Watcher interface {
	// OnExternalChange calls fn whenever key is changed by someone other than
	// this handle. The returned function cancels the subscription.
	OnExternalChange(key string, fn func(key string)) (cancel func())
}

// GetJSON loads key and decodes it into a T. Missing keys, read failures and
// malformed data all report ok=false; the latter two are logged.
func GetJSON[T any](ctx context.Context, s Store, key string) (value T, ok bool) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		if !stderrors.Is(err, ErrNotFound) {
			log.DefaultLogger().WithError(err).Warn("store read failed", "key", key)
		}
		return value, false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		log.DefaultLogger().Warn("discarding malformed stored value", "key", key, "error", err.Error())
		var zero T
		return zero, false
	}
	return value, true
}

// SetJSON encodes v as JSON and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWrite, "encode value for "+key, err)
	}
	return s.Set(ctx, key, raw)
}
