package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// defaultPollInterval is how often the watcher re-reads the config file.
const defaultPollInterval = 10 * time.Second

// Watcher polls the config file and invokes a callback when its content
// parses to a new configuration. The file is re-read on an interval rather
// than through filesystem notifications so it also works on mounts that do
// not deliver events, such as Kubernetes ConfigMap volumes.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, updated *Config)

	mu  sync.RWMutex
	cfg *Config
	raw []byte

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption adjusts a Watcher.
type WatcherOption func(*Watcher)

// WithInterval overrides the poll interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and starts polling it for changes.
// onChange runs on the watcher goroutine with the previous and the new
// config whenever the file bytes change and the new content still
// validates. A rewrite that fails to parse keeps the previous config and
// logs a warning.
func NewWatcher(path string, onChange func(old, updated *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultPollInterval,
		onChange: onChange,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	raw, cfg, err := w.load()
	if err != nil {
		return nil, err
	}
	w.raw = raw
	w.cfg = cfg

	go w.run()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Stop ends polling and waits for the watcher goroutine to exit. Safe to
// call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	<-w.done
}

func (w *Watcher) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.quit:
			return
		case <-ticker.C:
			w.reload()
		}
	}
}

// reload re-reads the file and swaps the config when the bytes differ from
// the last successful load. A touch that leaves the content identical is a
// no-op.
func (w *Watcher) reload() {
	raw, cfg, err := w.load()
	if err != nil {
		slog.Warn("config reload failed; keeping previous configuration",
			"path", w.path,
			"err", err,
		)
		return
	}

	w.mu.Lock()
	if bytes.Equal(raw, w.raw) {
		w.mu.Unlock()
		return
	}
	old := w.cfg
	w.raw = raw
	w.cfg = cfg
	w.mu.Unlock()

	slog.Info("configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// load reads and validates the file, returning the raw bytes alongside the
// parsed config so reload can compare content.
func (w *Watcher) load() ([]byte, *Config, error) {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: read %q: %w", w.path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("config: parse %q: %w", w.path, err)
	}
	return raw, cfg, nil
}
