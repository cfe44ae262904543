// Package watch re-validates a configuration file whenever it changes on
// disk, debouncing editor save storms into a single run.
package watch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentwarden/agentwarden/internal/config"
	"github.com/agentwarden/agentwarden/internal/logger"
	"github.com/agentwarden/agentwarden/internal/validation"
)

var log = logger.New("watch")

const defaultDebounce = 500 * time.Millisecond

// Watcher re-runs validation on a single configuration file after each
// change. Results are delivered through the OnResult callback.
type Watcher struct {
	engine  *validation.Engine
	path    string
	opts    validation.Options
	watcher *fsnotify.Watcher

	// OnResult receives every validation outcome, including the initial run.
	// Nil means results are only logged.
	OnResult func(validation.Result)

	debounce     time.Duration
	timerMu      sync.Mutex
	pendingTimer *time.Timer

	wg sync.WaitGroup
}

// NewWatcher creates a watcher over one configuration file.
func NewWatcher(engine *validation.Engine, path string, opts validation.Options) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		engine:   engine,
		path:     path,
		opts:     opts,
		watcher:  fsWatcher,
		debounce: defaultDebounce,
	}, nil
}

// Run validates once, then blocks re-validating on changes until ctx is
// cancelled. Watching the parent directory instead of the file survives the
// rename-and-replace dance editors do on save.
func (w *Watcher) Run(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	log.Info("watching %s", w.path)

	w.revalidate(ctx)

	w.wg.Add(1)
	go w.loop(ctx)
	w.wg.Wait()

	w.timerMu.Lock()
	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.timerMu.Unlock()

	return w.watcher.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("watch error: %v", err)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	log.Debug("%s changed (%s)", filepath.Base(event.Name), event.Op)
	w.scheduleRevalidate(ctx)
}

func (w *Watcher) scheduleRevalidate(ctx context.Context) {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.pendingTimer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.revalidate(ctx)
	})
}

func (w *Watcher) revalidate(ctx context.Context) {
	cfg, err := config.Load(w.path)
	if err != nil {
		log.Error("reload %s: %v", w.path, err)
		return
	}

	// A changed file means the previous result is stale regardless of hash
	// collisions with older content.
	opts := w.opts
	opts.SkipCache = true

	result := w.engine.Validate(ctx, cfg, opts)
	if result.IsValid {
		log.Info("%s: valid (%d rules, %.1fms)", filepath.Base(w.path),
			result.Performance.RulesProcessed, result.Performance.ElapsedMs)
	} else {
		log.Warn("%s: INVALID, %d errors", filepath.Base(w.path), len(result.Errors))
	}
	if w.OnResult != nil {
		w.OnResult(result)
	}
}
