package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/felixgeelhaar/gatekeeper/internal/errors"
	"github.com/felixgeelhaar/gatekeeper/internal/log"
)

// FileStore persists all keys in a single JSON document. Writes go through a
// temp file and rename so readers in other processes never see a torn file.
type FileStore struct {
	path   string
	logger *log.Logger

	mu    sync.Mutex
	known map[string]string // baseline for change detection: own writes and dispatched changes

	watchMu  sync.Mutex
	watcher  *fsnotify.Watcher
	watchers map[string][]*fileWatch
	done     chan struct{}
}

type fileWatch struct {
	fn func(string)
}

// NewFileStore creates a store backed by the file at path. The parent
// directory is created on first write.
func NewFileStore(path string, logger *log.Logger) *FileStore {
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &FileStore{
		path:     filepath.Clean(path),
		logger:   logger.With("store", "file", "path", path),
		watchers: make(map[string][]*fileWatch),
	}
}

// Path returns the backing file path.
func (f *FileStore) Path() string {
	return f.path
}

// Get returns the stored value or ErrNotFound.
func (f *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return nil, err
	}
	v, ok := doc[key]
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(v), nil
}

// Set stores value under key.
func (f *FileStore) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		// An unreadable document is replaced rather than blocking writes.
		f.logger.WithError(err).Warn("replacing unreadable session file")
		doc = make(map[string]string)
	}
	doc[key] = string(value)
	return f.write(doc)
}

// Remove deletes key.
func (f *FileStore) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		f.logger.WithError(err).Warn("replacing unreadable session file")
		doc = make(map[string]string)
	}
	if _, ok := doc[key]; !ok && err == nil {
		return nil
	}
	delete(doc, key)
	return f.write(doc)
}

func (f *FileStore) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if stderrors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreRead, "read session file", err)
	}
	if len(data) == 0 {
		return make(map[string]string), nil
	}
	doc := make(map[string]string)
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreRead, "parse session file", err)
	}
	return doc, nil
}

func (f *FileStore) write(doc map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWrite, "create session directory", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWrite, "encode session file", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".gatekeeper-*.tmp")
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWrite, "create temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(errors.ErrCodeStoreWrite, "write temp file", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(errors.ErrCodeStoreWrite, "chmod temp file", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(errors.ErrCodeStoreWrite, "close temp file", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(errors.ErrCodeStoreWrite, "replace session file", err)
	}

	f.known = doc
	return nil
}

// OnExternalChange implements Watcher using fsnotify on the parent
// directory. The watcher starts on first use; Close stops it.
func (f *FileStore) OnExternalChange(key string, fn func(string)) func() {
	f.watchMu.Lock()
	defer f.watchMu.Unlock()

	if f.watcher == nil {
		if err := f.startWatching(); err != nil {
			f.logger.WithError(err).Warn("external change notification unavailable")
			return func() {}
		}
	}

	w := &fileWatch{fn: fn}
	f.watchers[key] = append(f.watchers[key], w)

	return func() {
		f.watchMu.Lock()
		defer f.watchMu.Unlock()
		list := f.watchers[key]
		for i, candidate := range list {
			if candidate == w {
				f.watchers[key] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	}
}

func (f *FileStore) startWatching() error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	// Prime the baseline so the first event diffs against current contents.
	f.mu.Lock()
	if doc, err := f.read(); err == nil {
		f.known = doc
	}
	f.mu.Unlock()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}
	f.watcher = w
	f.done = make(chan struct{})
	go f.watchLoop(w, f.done)
	return nil
}

func (f *FileStore) watchLoop(w *fsnotify.Watcher, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			f.dispatchChanges()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			f.logger.Warn("file watcher error", "error", err.Error())
		}
	}
}

func (f *FileStore) dispatchChanges() {
	f.mu.Lock()
	previous := f.known
	current, err := f.read()
	if err != nil {
		f.mu.Unlock()
		return
	}
	f.known = current
	f.mu.Unlock()

	changed := make(map[string]bool)
	for k, v := range current {
		if old, ok := previous[k]; !ok || old != v {
			changed[k] = true
		}
	}
	for k := range previous {
		if _, ok := current[k]; !ok {
			changed[k] = true
		}
	}

	f.watchMu.Lock()
	var calls []func()
	for key := range changed {
		for _, w := range f.watchers[key] {
			fn, k := w.fn, key
			calls = append(calls, func() { fn(k) })
		}
	}
	f.watchMu.Unlock()

	for _, call := range calls {
		call()
	}
}

// Close stops the change watcher, if running.
func (f *FileStore) Close() error {
	f.watchMu.Lock()
	defer f.watchMu.Unlock()
	if f.watcher == nil {
		return nil
	}
	close(f.done)
	err := f.watcher.Close()
	f.watcher = nil
	return err
}
