// Package watcher reloads the template catalog when its directory changes.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/scribe/internal/catalog"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches a template directory and swaps a freshly loaded catalog
// into the store after changes settle. An edit that fails to load is logged
// and the catalog in effect stays.
type Watcher struct {
	dir      string
	store    *catalog.Store
	load     func(dir string) (*catalog.Catalog, error)
	onReload func(*catalog.Catalog, error)
	debounce time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	timer    *time.Timer
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long the directory must stay quiet before a reload.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithOnReload is called after every reload attempt with the new catalog or
// the load error.
func WithOnReload(fn func(*catalog.Catalog, error)) Option {
	return func(w *Watcher) { w.onReload = fn }
}

// New returns a watcher for dir that publishes into store.
func New(dir string, store *catalog.Store, opts ...Option) *Watcher {
	w := &Watcher{
		dir:      filepath.Clean(dir),
		store:    store,
		load:     catalog.LoadDir,
		debounce: defaultDebounce,
		logger:   zap.NewNop(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start starts watching. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if _, err := os.Stat(w.dir); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw
	w.started = true
	w.logger.Debug("template watcher starting", zap.String("dir", w.dir))
	go w.run(ctx, fw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("template watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !catalog.IsTemplateFile(ev.Name) || ev.Op == fsnotify.Chmod {
		return
	}
	w.logger.Debug("template watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	w.schedule()
}

// schedule restarts the debounce timer; bursts of writes cause one reload.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.Reload)
}

// Reload loads the directory and swaps the result in when it is valid.
func (w *Watcher) Reload() {
	cat, err := w.load(w.dir)
	if err != nil {
		w.logger.Warn("template reload failed; keeping current catalog", zap.String("dir", w.dir), zap.Error(err))
	} else {
		w.store.Swap(cat)
		w.logger.Info("templates reloaded", zap.String("dir", w.dir), zap.Int("templates", len(cat.Types())))
	}
	if w.onReload != nil {
		w.onReload(cat, err)
	}
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
