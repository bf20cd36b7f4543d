// Package watch reloads plugins when files under their directories change.
//
// Events are grouped per plugin and debounced, so an editor saving several
// files produces one reload.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period before a reload runs.
const DefaultDebounce = 250 * time.Millisecond

// ErrWatcherClosed is returned when using a closed watcher.
var ErrWatcherClosed = errors.New("watcher is closed")

// Reloader is the part of the plugin manager the watcher drives.
type Reloader interface {
	Reload(ctx context.Context, id string) error
	PluginIDForPath(path string) (string, bool)
}

// Stats contains watcher statistics.
type Stats struct {
	WatchedPaths int
	Events       int64
	Reloads      int64
	Failures     int64
}

// Watcher watches a plugin root.
type Watcher struct {
	mu sync.Mutex

	watcher  *fsnotify.Watcher
	root     string
	reloader Reloader
	logger   *zap.Logger
	debounce time.Duration

	// Watched directories
	paths map[string]bool

	// Pending reloads by plugin id
	timers map[string]*time.Timer

	events   atomic.Int64
	reloads  atomic.Int64
	failures atomic.Int64

	ctx      context.Context
	cancel   context.CancelFunc
	closed   bool
	closedWg sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a watcher for root. Nothing is watched until Start.
func New(root string, r Reloader, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher:  fsw,
		root:     abs,
		reloader: r,
		logger:   zap.NewNop(),
		debounce: DefaultDebounce,
		paths:    make(map[string]bool),
		timers:   make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named("watch")
	w.ctx, w.cancel = context.WithCancel(context.Background())
	return w, nil
}

// Start watches the root and every plugin directory below it, then
// processes events until ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	if err := w.watchTree(w.root); err != nil {
		return err
	}

	w.closedWg.Add(1)
	go w.processLoop()

	w.logger.Info("watching plugin root", zap.String("root", w.root))
	return nil
}

// watchTree adds dir and its non-hidden subdirectories.
func (w *Watcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && isHidden(p) {
			return filepath.SkipDir
		}
		w.add(p)
		return nil
	})
}

func (w *Watcher) add(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.paths[path] {
		return
	}
	if err := w.watcher.Add(path); err != nil {
		w.logger.Warn("failed to watch directory", zap.String("path", path), zap.Error(err))
		return
	}
	w.paths[path] = true
}

func (w *Watcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

// handle maps one filesystem event to a pending plugin reload.
func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod || isHidden(ev.Name) {
		return
	}
	w.events.Add(1)

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.watchTree(ev.Name)
		}
	}

	id, ok := w.reloader.PluginIDForPath(ev.Name)
	if !ok {
		w.logger.Debug("change outside known plugins", zap.String("path", ev.Name))
		return
	}
	w.schedule(id)
}

// schedule (re)starts the debounce timer for id.
func (w *Watcher) schedule(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if t, ok := w.timers[id]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[id] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, id)
		w.mu.Unlock()
		w.reload(id)
	})
}

func (w *Watcher) reload(id string) {
	if w.ctx.Err() != nil {
		return
	}
	w.reloads.Add(1)
	if err := w.reloader.Reload(w.ctx, id); err != nil {
		w.failures.Add(1)
		w.logger.Warn("plugin reload failed", zap.String("plugin", id), zap.Error(err))
		return
	}
	w.logger.Info("plugin reloaded after change", zap.String("plugin", id))
}

// Pending returns the number of reloads waiting for their quiet period.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.timers)
}

// Stats returns watcher statistics.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		WatchedPaths: len(w.paths),
		Events:       w.events.Load(),
		Reloads:      w.reloads.Load(),
		Failures:     w.failures.Load(),
	}
}

// Close stops the watcher. Pending reloads are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for id, t := range w.timers {
		t.Stop()
		delete(w.timers, id)
	}
	w.mu.Unlock()

	w.cancel()
	w.closedWg.Wait()
	return w.watcher.Close()
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
