package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ChangeFunc receives the previous and the newly loaded configuration.
type ChangeFunc func(old, new *Config)

// Watcher keeps a config file's latest valid content. It polls the file
// every interval and also reloads on demand through [Watcher.Reload], which
// the CLI calls on SIGHUP. Edits that fail to parse or validate are logged
// and ignored; the previous configuration stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc
	log      *slog.Logger

	// checkMu serialises checks so the callback never runs concurrently
	// with itself.
	checkMu sync.Mutex
	raw     []byte
	missing bool

	mu      sync.Mutex
	current *Config

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the logger for reload messages.
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path and starts polling it. The initial load must
// succeed. onChange may be nil.
//
// onChange runs on the watcher's goroutine (or the caller of Reload) and
// must not call [Watcher.Stop].
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		log:      slog.Default(),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	raw, cfg, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.raw = raw
	w.current = cfg

	go w.loop()
	return w, nil
}

// Current returns the latest valid configuration.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload checks the file now. It reports whether a new configuration was
// applied.
func (w *Watcher) Reload() bool {
	return w.check()
}

// Stop ends polling and waits for a running check to finish. It is safe to
// call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.stopped
}

func (w *Watcher) loop() {
	defer close(w.stopped)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			w.check()
		}
	}
}

func (w *Watcher) check() bool {
	w.checkMu.Lock()
	defer w.checkMu.Unlock()

	raw, cfg, err := w.read()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if !w.missing {
			w.log.Warn("config: file disappeared, keeping current config", "path", w.path)
			w.missing = true
		}
		return false
	case err != nil:
		// Parse errors are reported once per distinct content.
		if !bytes.Equal(raw, w.raw) {
			w.log.Warn("config: reload rejected, keeping current config", "path", w.path, "err", err)
			w.raw = raw
		}
		return false
	}
	w.missing = false
	if bytes.Equal(raw, w.raw) {
		return false
	}
	w.raw = raw

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	w.log.Info("config: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true
}

// read returns the file's bytes and, when they are valid, the parsed config.
func (w *Watcher) read() ([]byte, *Config, error) {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(raw))
	return raw, cfg, err
}
