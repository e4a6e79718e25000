package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lightforgemedia/go-actioncable/pkg/client"
)

// DefaultDebounce is how long a file must stay quiet before it is reloaded.
const DefaultDebounce = 300 * time.Millisecond

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(logger *slog.Logger) WatchOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// Watcher reloads a config file whenever it changes and hands the new
// config to its callbacks. Files that fail to load are logged and skipped;
// the previous config stays current.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration

	mu        sync.RWMutex
	current   *Config
	callbacks []func(*Config)

	changedAt time.Time
	changeMu  sync.Mutex

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher loads path and prepares a watcher for it. Call Start to begin.
func NewWatcher(path string, opts ...WatchOption) (*Watcher, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	w := &Watcher{
		path:     filepath.Clean(path),
		watcher:  fw,
		logger:   slog.Default(),
		debounce: DefaultDebounce,
		current:  cfg,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Current returns the most recently loaded config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange adds a callback run after every successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Bind pushes reloaded headers into cli. They apply from the next connect.
func (w *Watcher) Bind(cli *client.Client) {
	w.OnChange(func(cfg *Config) {
		cli.SetHeaders(cfg.Headers)
		w.logger.Info("Config: headers reloaded", "client_id", cli.ID(), "count", len(cfg.Headers))
	})
}

// Start watches the file's directory so editors that replace the file are
// still seen.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.path)
	w.logger.Info("Watching config file", "path", w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}
	go w.watchLoop()
	return nil
}

// Stop ends the watch. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) watchLoop() {
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.changeMu.Lock()
				w.changedAt = time.Now()
				w.changeMu.Unlock()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watcher error", "error", err)
		case <-ticker.C:
			w.processChange()
		}
	}
}

func (w *Watcher) processChange() {
	w.changeMu.Lock()
	pending := !w.changedAt.IsZero() && time.Since(w.changedAt) >= w.debounce
	if pending {
		w.changedAt = time.Time{}
	}
	w.changeMu.Unlock()
	if pending {
		w.Reload()
	}
}

// Reload reads the file now and notifies callbacks on success.
func (w *Watcher) Reload() error {
	cfg, err := LoadFile(w.path)
	if err != nil {
		w.logger.Error("Config reload failed, keeping previous config", "path", w.path, "error", err)
		return err
	}
	w.mu.Lock()
	w.current = cfg
	callbacks := slices.Clone(w.callbacks)
	w.mu.Unlock()

	w.logger.Info("Config file changed", "path", w.path)
	for _, fn := range callbacks {
		fn(cfg)
	}
	return nil
}
