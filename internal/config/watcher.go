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

// Watcher polls a config file and reports each new valid version to a
// callback. A version is new when the file's content hash changes; a bare
// mtime bump is not a change. Invalid edits are logged and skipped, and the
// last valid config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	log      *slog.Logger

	mu      sync.Mutex
	current *Config
	mtime   time.Time
	sum     [sha256.Size]byte
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

// WithWatcherLogger sets the logger. The default is slog.Default().
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path once and returns a watcher primed with it. Polling
// starts with [Watcher.Run].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.mtime, w.sum = snap.cfg, snap.mtime, snap.sum
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done. It always returns nil so it can sit in an
// errgroup next to the workers it reconfigures.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := w.Check(); err != nil {
				w.log.Warn("config: reload skipped", "path", w.path, "err", err)
			}
		}
	}
}

// Check polls the file once. It reports whether a new valid config was
// applied; an error means the file could not be read or did not validate.
// onChange runs on the caller's goroutine, outside the lock.
func (w *Watcher) Check() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}
	w.mu.Lock()
	seen := info.ModTime().Equal(w.mtime)
	w.mu.Unlock()
	if seen {
		return false, nil
	}

	snap, err := w.read()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	w.mtime = snap.mtime
	if snap.sum == w.sum {
		w.mu.Unlock()
		return false, nil
	}
	old := w.current
	w.current, w.sum = snap.cfg, snap.sum
	w.mu.Unlock()

	w.log.Info("config: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, snap.cfg)
	}
	return true, nil
}

type snapshot struct {
	cfg   *Config
	mtime time.Time
	sum   [sha256.Size]byte
}

// read loads and validates the file, returning it with its mtime and hash.
func (w *Watcher) read() (snapshot, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
