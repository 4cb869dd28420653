package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// defaultPollInterval is how often the watcher re-checks the file when
// [WithInterval] is not given.
const defaultPollInterval = 5 * time.Second

// snapshot is the last observed file state, used to skip reparsing a file
// that has not actually changed.
type snapshot struct {
	modTime time.Time
	sum     [sha256.Size]byte
}

// Watcher polls a config file and reports each valid change through a
// callback. Polling keeps the dependency surface flat; a config file edit
// is not latency-sensitive.
//
// An edit that fails to parse or validate is logged and ignored: the
// previous config stays in force until the file is valid again.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu   sync.Mutex
	cfg  *Config
	seen snapshot

	stop     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides the polling interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and starts polling it for changes.
// The initial load must succeed; after that the watcher survives transient
// bad states of the file.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultPollInterval,
		onChange: onChange,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, seen, err := w.reload()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.cfg = cfg
	w.seen = seen

	go w.run()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// Stop ends polling. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Watcher) run() {
	tick := time.NewTicker(w.interval)
	defer tick.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-tick.C:
			w.check()
		}
	}
}

// check re-reads the file when its mtime moved and swaps in the new config
// when the content hash differs and the file parses.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: stat failed", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.seen.modTime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	cfg, seen, err := w.reload()
	if err != nil {
		slog.Warn("config watcher: reload failed, keeping previous config",
			"path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if seen.sum == w.seen.sum {
		// Touched, same content.
		w.seen.modTime = seen.modTime
		w.mu.Unlock()
		return
	}
	old := w.cfg
	w.cfg = cfg
	w.seen = seen
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)

	// Callback runs unlocked so it may call Current().
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// reload reads, parses, and validates the file, returning the config with
// the file state it was read at.
func (w *Watcher) reload() (*Config, snapshot, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, snapshot{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, snapshot{}, err
	}
	return cfg, snapshot{modTime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
