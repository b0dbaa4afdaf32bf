package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ChangeFunc is called with the previous and the newly loaded config.
type ChangeFunc func(old, new *Config)

// Watcher polls a config file and calls a [ChangeFunc] whenever the file's
// content changes and the new content is valid. Invalid edits are logged and
// ignored; the last valid config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	// checkMu serialises reloads so onChange never runs concurrently.
	checkMu sync.Mutex

	mu        sync.Mutex
	current   *Config
	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and returns a watcher for it. Polling
// starts with [Watcher.Run].
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, mtime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.lastHash, w.lastMtime = cfg, hash, mtime
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(false)
		}
	}
}

// Reload re-reads the file immediately, ignoring the modification time. It
// reports whether a changed, valid config was applied.
func (w *Watcher) Reload() bool {
	return w.check(true)
}

func (w *Watcher) check(force bool) bool {
	w.checkMu.Lock()
	defer w.checkMu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
			return false
		}
		w.mu.Lock()
		unchanged := info.ModTime().Equal(w.lastMtime)
		w.mu.Unlock()
		if unchanged {
			return false
		}
	}

	cfg, hash, mtime, err := w.read()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return false
	}

	w.mu.Lock()
	w.lastMtime = mtime
	if hash == w.lastHash {
		// Touched, not edited.
		w.mu.Unlock()
		return false
	}
	old := w.current
	w.current, w.lastHash = cfg, hash
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true
}

// read parses and validates the file and returns it with the SHA-256 of its
// content and its modification time.
func (w *Watcher) read() (*Config, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
