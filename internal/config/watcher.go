package config

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vyrodovalexey/avapiclient/internal/observability"
)

// settleDelay is how long the file must stay quiet before it is reloaded.
// Editors often write a file in several steps.
const settleDelay = 100 * time.Millisecond

var errWatcherStarted = errors.New("config watcher already started")

// ChangeFunc applies a configuration that loaded and validated after a
// change on disk. previous is the configuration currently in effect. If
// ChangeFunc returns an error, next is discarded and previous stays in
// effect for the following change.
type ChangeFunc func(ctx context.Context, previous, next *Config) error

// ErrorCallback is called when the file cannot be watched or reloaded.
type ErrorCallback func(error)

// Watcher reloads a configuration file when it changes and hands each
// valid revision to a ChangeFunc together with the one it replaces.
type Watcher struct {
	path     string
	fs       *fsnotify.Watcher
	onChange ChangeFunc
	onError  ErrorCallback
	logger   observability.Logger

	mu      sync.Mutex
	current *Config

	started  atomic.Bool
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the logger for the watcher.
func WithLogger(logger observability.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithErrorCallback sets the callback for load and watch errors.
func WithErrorCallback(callback ErrorCallback) WatcherOption {
	return func(w *Watcher) {
		w.onError = callback
	}
}

// NewWatcher creates a watcher for path. initial is the configuration in
// effect; when nil it is loaded from path.
func NewWatcher(path string, initial *Config, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	if onChange == nil {
		return nil, errors.New("config watcher needs a change callback")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	if initial == nil {
		if initial, err = LoadConfig(absPath); err != nil {
			return nil, err
		}
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     absPath,
		fs:       fsWatcher,
		onChange: onChange,
		logger:   observability.NopLogger(),
		current:  initial,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. A watcher can be started once.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errWatcherStarted
	}

	// Editors replace the file on save, so the directory is watched.
	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		close(w.done)
		return err
	}

	w.logger.Info("watching configuration file", observability.String("path", w.path))
	go w.loop(ctx)
	return nil
}

// Stop ends the watch and releases the underlying notifier. It is safe to
// call more than once and before Start.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.quit)
		if w.started.Load() {
			<-w.done
		}
		w.stopErr = w.fs.Close()
	})
	return w.stopErr
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) == w.path && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				settle = time.After(settleDelay)
			}
		case <-settle:
			settle = nil
			w.reload(ctx)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.report("config watcher error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	next, err := LoadConfig(w.path)
	if err != nil {
		w.report("failed to reload configuration, keeping the previous one", err)
		return
	}

	w.mu.Lock()
	previous := w.current
	w.mu.Unlock()

	if err := w.onChange(ctx, previous, next); err != nil {
		w.logger.Error("configuration change rejected, keeping the previous one",
			observability.Error(err),
		)
		return
	}

	w.mu.Lock()
	w.current = next
	w.mu.Unlock()
	w.logger.Info("configuration reloaded", observability.String("path", w.path))
}

func (w *Watcher) report(msg string, err error) {
	w.logger.Error(msg, observability.Error(err))
	if w.onError != nil {
		w.onError(err)
	}
}
