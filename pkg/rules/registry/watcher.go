package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Paths are the rule files or directories to watch.
	Paths []string

	// Debounce is the quiet period after the last change before a reload
	// runs (default: 200ms).
	Debounce time.Duration

	// Extensions are the file extensions that trigger reloads.
	Extensions []string
}

// DefaultWatcherConfig returns the default watcher configuration.
func DefaultWatcherConfig(paths ...string) WatcherConfig {
	return WatcherConfig{
		Paths:      paths,
		Debounce:   200 * time.Millisecond,
		Extensions: []string{".yaml", ".yml"},
	}
}

// Watcher reloads a Registry when its rule files change on disk.
type Watcher struct {
	registry *Registry
	cfg      WatcherConfig
	logger   *slog.Logger
	fs       *fsnotify.Watcher
	debounce *Debouncer
}

// NewWatcher creates a watcher for the registry.
func NewWatcher(registry *Registry, cfg WatcherConfig, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Paths) == 0 {
		return nil, fmt.Errorf("watcher needs at least one path")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultWatcherConfig().Debounce
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultWatcherConfig().Extensions
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		fs:       fs,
		debounce: NewDebouncer(cfg.Debounce),
	}, nil
}

// Run watches until ctx is cancelled. Reload failures are logged and the
// previous snapshot stays published.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		w.debounce.Stop()
		w.fs.Close()
	}()

	for _, path := range w.cfg.Paths {
		if err := w.add(path); err != nil {
			return fmt.Errorf("failed to watch %q: %w", path, err)
		}
	}

	w.logger.Info("rule watcher started",
		"paths", w.cfg.Paths,
		"debounce_ms", w.cfg.Debounce.Milliseconds(),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("rule watcher stopped")
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("rule file changed", "path", event.Name, "op", event.Op.String())
			w.debounce.Trigger(func() {
				if _, err := w.registry.Reload(ctx); err != nil {
					w.logger.Error("rule reload failed, keeping previous snapshot", "error", err)
				}
			})

		case err, ok := <-w.fs.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("rule watcher error", "error", err)
		}
	}
}

func (w *Watcher) add(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		// Watch the parent so editors that replace files are still seen.
		return w.fs.Add(filepath.Dir(path))
	}
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != path && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fs.Add(p)
	})
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	for _, want := range w.cfg.Extensions {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}

// Debouncer collapses bursts of events into one callback that runs after a
// quiet period.
type Debouncer struct {
	interval time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Trigger schedules fn, replacing any callback still waiting.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		stopped := d.stopped
		d.mu.Unlock()
		if !stopped {
			fn()
		}
	})
}

// Stop cancels any pending callback. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
