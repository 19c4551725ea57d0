package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/gatekeeper/internal/log"
)

type backend struct {
	name string
	open func(t *testing.T) Store
}

func backends() []backend {
	return []backend{
		{name: "memory", open: func(t *testing.T) Store { return NewMemoryStore() }},
		{name: "file", open: func(t *testing.T) Store {
			return NewFileStore(filepath.Join(t.TempDir(), "session.json"), log.Discard())
		}},
		{name: "sqlite", open: func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "session.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
	}
}

func TestStore_GetSetRemove(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)

			_, err := s.Get(ctx, "app_token")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set(ctx, "app_token", []byte(`"abc"`)))
			got, err := s.Get(ctx, "app_token")
			require.NoError(t, err)
			assert.Equal(t, `"abc"`, string(got))

			require.NoError(t, s.Set(ctx, "app_token", []byte(`"def"`)))
			got, err = s.Get(ctx, "app_token")
			require.NoError(t, err)
			assert.Equal(t, `"def"`, string(got))

			require.NoError(t, s.Remove(ctx, "app_token"))
			_, err = s.Get(ctx, "app_token")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Remove(ctx, "never-set"))
		})
	}
}

func TestGetJSON_MalformedIsAbsent(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)

			require.NoError(t, s.Set(ctx, "app_user", []byte("{not json")))
			_, ok := GetJSON[map[string]any](ctx, s, "app_user")
			assert.False(t, ok)

			_, ok = GetJSON[string](ctx, s, "missing")
			assert.False(t, ok)
		})
	}
}

func TestSetJSON_Unencodable(t *testing.T) {
	err := SetJSON(context.Background(), NewMemoryStore(), "k", func() {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE-003")
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	value := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", value))
	value[0] = 'x'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
	got[1] = 'y'

	again, _ := s.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_ExternalChange(t *testing.T) {
	ctx := context.Background()
	tabA := NewMemoryStore()
	tabB := tabA.Handle()

	var seen []string
	cancel := tabA.OnExternalChange("app_token", func(key string) { seen = append(seen, key) })

	require.NoError(t, tabA.Set(ctx, "app_token", []byte("own write")))
	assert.Empty(t, seen, "own writes are not external")

	require.NoError(t, tabB.Set(ctx, "app_token", []byte("other")))
	require.NoError(t, tabB.Set(ctx, "app_user", []byte("other")))
	require.NoError(t, tabB.Remove(ctx, "app_token"))
	assert.Equal(t, []string{"app_token", "app_token"}, seen)

	cancel()
	require.NoError(t, tabB.Set(ctx, "app_token", []byte("again")))
	assert.Len(t, seen, 2)
}

func TestFileStore_PersistsAcrossHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	first := NewFileStore(path, log.Discard())
	require.NoError(t, first.Set(ctx, "app_token", []byte(`"t1"`)))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second := NewFileStore(path, log.Discard())
	got, err := second.Get(ctx, "app_token")
	require.NoError(t, err)
	assert.Equal(t, `"t1"`, string(got))
}

func TestFileStore_CorruptFileIsReplacedOnWrite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

	s := NewFileStore(path, log.Discard())
	_, err := s.Get(ctx, "app_token")
	require.Error(t, err)

	_, ok := GetJSON[string](ctx, s, "app_token")
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "app_token", []byte(`"fresh"`)))
	token, ok := GetJSON[string](ctx, s, "app_token")
	require.True(t, ok)
	assert.Equal(t, "fresh", token)
}

func TestFileStore_ExternalChange(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")

	watched := NewFileStore(path, log.Discard())
	t.Cleanup(func() { _ = watched.Close() })
	other := NewFileStore(path, log.Discard())

	changes := make(chan string, 8)
	watched.OnExternalChange("app_token", func(key string) { changes <- key })

	require.NoError(t, other.Set(ctx, "app_token", []byte(`"from-other-process"`)))

	select {
	case key := <-changes:
		assert.Equal(t, "app_token", key)
	case <-time.After(5 * time.Second):
		t.Fatal("expected an external change notification")
	}
}
