package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Watcher polls a config file and reports each new valid revision to a
// callback. Edits that fail to parse or validate are reported through the
// error hook and otherwise ignored, so [Watcher.Current] only ever returns a
// config that passed validation.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	onError  func(error)

	current atomic.Pointer[Config]

	// mu serialises checks; seen guards against reparsing an unchanged file.
	mu   sync.Mutex
	seen revision

	cancel context.CancelFunc
	done   chan struct{}
}

// revision identifies one state of the file on disk.
type revision struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling period. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithErrorHandler receives errors from background polls. The default logs
// a warning.
func WithErrorHandler(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onError = fn }
}

// NewWatcher loads path, failing if it is missing or invalid, then polls it
// until [Watcher.Stop]. onChange may be nil; it runs while the watcher holds
// its check lock, so it must not call [Watcher.Reload].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	w.onError = func(err error) {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, rev, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current.Store(cfg)
	w.seen = rev

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)
	return w, nil
}

// Current returns the latest valid config.
func (w *Watcher) Current() *Config { return w.current.Load() }

// Stop ends polling and waits for it to finish. Repeated calls are no-ops.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

// Reload rereads the file now, even if its mtime has not moved, and reports
// whether a new revision was applied.
func (w *Watcher) Reload() (bool, error) { return w.check(true) }

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := w.check(false); err != nil && w.onError != nil {
				w.onError(err)
			}
		}
	}
}

func (w *Watcher) check(force bool) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return false, fmt.Errorf("config: stat %q: %w", w.path, err)
		}
		if info.ModTime().Equal(w.seen.mtime) {
			return false, nil
		}
	}

	cfg, rev, err := w.load()
	if err != nil {
		return false, err
	}
	sameContent := rev.sum == w.seen.sum
	w.seen = rev
	if sameContent {
		return false, nil
	}

	old := w.current.Swap(cfg)
	slog.Info("config watcher: configuration reloaded", "path", w.path, "providers", len(cfg.Providers))
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true, nil
}

func (w *Watcher) load() (*Config, revision, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, revision{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, revision{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, revision{}, fmt.Errorf("config: parse %q: %w", w.path, err)
	}
	return cfg, revision{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
