package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// FileStore keeps one JSON file per URL under dir, fronted by an in-memory LRU.
type FileStore struct {
	dir    string
	window time.Duration
	now    func() time.Time
	memory *lru.Cache[string, Entry]
}

// FileOption customises a FileStore.
type FileOption func(*FileStore)

// WithClock overrides the time source used for capture and freshness checks.
func WithClock(now func() time.Time) FileOption {
	return func(fs *FileStore) {
		if now != nil {
			fs.now = now
		}
	}
}

// NewFileStore creates dir if needed. memoryEntries <= 0 disables the LRU front.
func NewFileStore(dir string, window time.Duration, memoryEntries int, opts ...FileOption) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory %q: %w", dir, err)
	}
	if window <= 0 {
		window = DefaultFreshness
	}

	fs := &FileStore{
		dir:    dir,
		window: window,
		now:    time.Now,
	}
	if memoryEntries > 0 {
		memory, err := lru.New[string, Entry](memoryEntries)
		if err != nil {
			return nil, fmt.Errorf("create memory cache: %w", err)
		}
		fs.memory = memory
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs, nil
}

// Path returns the file backing url.
func (fs *FileStore) Path(url string) string {
	return filepath.Join(fs.dir, Key(url)+".json")
}

// Lookup returns the cached body for url if it is still fresh.
func (fs *FileStore) Lookup(_ context.Context, url string) (string, bool) {
	key := Key(url)
	if fs.memory != nil {
		if entry, ok := fs.memory.Get(key); ok {
			if entry.Fresh(fs.now(), fs.window) {
				return entry.RawBody, true
			}
			return "", false
		}
	}

	data, err := os.ReadFile(fs.Path(url))
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Debug("cache read failed", slog.String("url", url), slog.Any("error", err))
		}
		return "", false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		slog.Debug("cache entry unreadable", slog.String("url", url), slog.Any("error", err))
		return "", false
	}
	if fs.memory != nil {
		fs.memory.Add(key, entry)
	}
	if !entry.Fresh(fs.now(), fs.window) {
		return "", false
	}
	return entry.RawBody, true
}

// Store writes or overwrites the entry for url, stamped with the current time.
func (fs *FileStore) Store(_ context.Context, url, body string) error {
	entry := Entry{URL: url, CapturedAt: fs.now(), RawBody: body}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	target := fs.Path(url)
	tmp, err := os.CreateTemp(fs.dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create cache temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace cache entry: %w", err)
	}

	if fs.memory != nil {
		fs.memory.Add(Key(url), entry)
	}
	return nil
}
