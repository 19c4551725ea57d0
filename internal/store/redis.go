package store

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/gatekeeper/internal/errors"
	"github.com/felixgeelhaar/gatekeeper/internal/log"
)

const changeSeparator = "\x00"

// RedisStore keeps values in Redis under a key prefix and announces writes on
// a pub/sub channel so other handles can implement Watcher.
type RedisStore struct {
	rdb      *goredis.Client
	prefix   string
	instance string
	logger   *log.Logger

	mu       sync.Mutex
	pubsub   *goredis.PubSub
	watchers map[string]map[uint64]func(string)
	nextID   uint64
}

// NewRedisStore wraps an existing client. prefix namespaces every key.
func NewRedisStore(rdb *goredis.Client, prefix string, logger *log.Logger) *RedisStore {
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &RedisStore{
		rdb:      rdb,
		prefix:   prefix,
		instance: uuid.NewString(),
		logger:   logger.With("store", "redis"),
		watchers: make(map[string]map[uint64]func(string)),
	}
}

// OpenRedis parses a redis:// URL and connects.
func OpenRedis(ctx context.Context, url, prefix string, logger *log.Logger) (*RedisStore, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreUnavailable, "parse redis url", err)
	}
	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(errors.ErrCodeStoreUnavailable, "ping redis", err)
	}
	return NewRedisStore(rdb, prefix, logger), nil
}

func (r *RedisStore) channel() string {
	return r.prefix + "changes"
}

// Get returns the stored value or ErrNotFound.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if stderrors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreRead, "redis get "+key, err)
	}
	return v, nil
}

// Set stores value and publishes a change notice.
func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := r.rdb.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWrite, "redis set "+key, err)
	}
	r.announce(ctx, key)
	return nil
}

// Remove deletes key and publishes a change notice.
func (r *RedisStore) Remove(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWrite, "redis del "+key, err)
	}
	r.announce(ctx, key)
	return nil
}

func (r *RedisStore) announce(ctx context.Context, key string) {
	if err := r.rdb.Publish(ctx, r.channel(), r.instance+changeSeparator+key).Err(); err != nil {
		r.logger.Warn("publish change notice failed", "key", key, "error", err.Error())
	}
}

// OnExternalChange implements Watcher. Notices published by this handle are
// ignored.
func (r *RedisStore) OnExternalChange(key string, fn func(string)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pubsub == nil {
		r.pubsub = r.rdb.Subscribe(context.Background(), r.channel())
		go r.listen(r.pubsub.Channel())
	}
	r.nextID++
	id := r.nextID
	if r.watchers[key] == nil {
		r.watchers[key] = make(map[uint64]func(string))
	}
	r.watchers[key][id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.watchers[key], id)
	}
}

func (r *RedisStore) listen(ch <-chan *goredis.Message) {
	for msg := range ch {
		origin, key, ok := strings.Cut(msg.Payload, changeSeparator)
		if !ok || origin == r.instance {
			continue
		}
		r.mu.Lock()
		fns := make([]func(string), 0, len(r.watchers[key]))
		for _, fn := range r.watchers[key] {
			fns = append(fns, fn)
		}
		r.mu.Unlock()
		for _, fn := range fns {
			fn(key)
		}
	}
}

// Close stops the subscription and closes the client.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	ps := r.pubsub
	r.pubsub = nil
	r.mu.Unlock()
	if ps != nil {
		_ = ps.Close()
	}
	return r.rdb.Close()
}
