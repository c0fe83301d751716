package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/petabytecl/cronhost/config"
	"github.com/petabytecl/cronhost/worker"
)

// DefaultDebounce is how long the watcher waits after the last change
// notification before triggering a reload. Editors and atomic temp-file
// renames produce bursts of events for a single logical write.
const DefaultDebounce = 800 * time.Millisecond

// ReloadFunc rebuilds the catalog from the current config source. A failed
// rebuild returns an error and leaves the previous catalog in force; the
// watcher only logs it.
type ReloadFunc func() error

// Watcher observes the configuration source and triggers debounced catalog
// rebuilds. It implements the worker lifecycle contract so it can be
// registered with a worker.Manager alongside the scheduler loop.
type Watcher struct {
	source   config.Watcher
	reload   ReloadFunc
	debounce time.Duration
	logger   *slog.Logger

	events chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher wires a config backend's change notifications to a reload
// function. The source is typically the viper backend, which watches the
// config file through fsnotify.
func NewWatcher(source config.Watcher, reload ReloadFunc, logger *slog.Logger) *Watcher {
	return &Watcher{
		source:   source,
		reload:   reload,
		debounce: DefaultDebounce,
		logger:   logger.With(slog.String("component", "catalog.Watcher")),
		events:   make(chan struct{}, 1),
	}
}

// SetDebounce overrides the debounce window. Must be called before OnStart.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Name implements the worker contract.
func (w *Watcher) Name() string {
	return "config-watcher"
}

// OnStart registers the change callback and launches the debounce loop.
func (w *Watcher) OnStart(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	w.source.OnConfigChange(func(event any) {
		// Coalesce: a pending notification already covers this event.
		select {
		case w.events <- struct{}{}:
		default:
		}
	})
	w.source.WatchConfig()

	go w.run(runCtx)
	return nil
}

// OnStop signals the debounce loop to exit and waits for it.
func (w *Watcher) OnStop(ctx context.Context) error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	ctx, cancelWait := worker.StopContext(ctx, 5*time.Second)
	defer cancelWait()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			if pending && !timer.Stop() {
				<-timer.C
			}
			return

		case <-w.events:
			// Restart the window on every notification so a burst of
			// writes produces a single reload.
			if pending && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
			pending = true

		case <-timer.C:
			pending = false
			w.logger.Info("configuration change detected, reloading")
			if err := w.reload(); err != nil {
				w.logger.Error("reload failed, keeping previous catalog",
					slog.String("error", err.Error()))
			}
		}
	}
}
