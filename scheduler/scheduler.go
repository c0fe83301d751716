// Package scheduler drives the poll/dispatch loop: it examines the active
// catalog every tick, dispatches due jobs through the concurrency gate
// without blocking, advances each job's next-run pointer, and maintains the
// heartbeat the health surface derives liveness from.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petabytecl/cronhost/catalog"
	"github.com/petabytecl/cronhost/clock"
	"github.com/petabytecl/cronhost/gate"
	"github.com/petabytecl/cronhost/recorder"
	"github.com/petabytecl/cronhost/worker"
)

// DefaultPollInterval is how often the loop examines the catalog.
const DefaultPollInterval = 5 * time.Second

// criticalLoopErrors is the consecutive-error count at which the loop
// escalates its log severity.
const criticalLoopErrors = 3

// Runner executes one job and returns its event. Implemented by
// executor.Supervisor.
type Runner interface {
	Run(ctx context.Context, job *catalog.Job) recorder.Event
}

// History receives execution events and serves the snapshot readers.
// Implemented by recorder.Recorder.
type History interface {
	Record(e recorder.Event)
	Recent(limit int) []recorder.Event
	Failures() map[string]int
}

// Options tune a Loop.
type Options struct {
	// PollInterval is the tick period. Values below one second (including
	// zero) fall back to DefaultPollInterval.
	PollInterval time.Duration

	// Version is reported in health snapshots.
	Version string
}

// Loop is the single serial iterator at the heart of the host. It never
// waits on a job execution; dispatches run in tracked goroutines so OnStop
// can await quiescence.
type Loop struct {
	store   *catalog.Store
	gate    *gate.Gate
	runner  Runner
	history History
	clock   clock.Clock
	logger  *slog.Logger
	poll    time.Duration
	version string

	mu          sync.Mutex
	heartbeat   time.Time
	loopErrors  int
	lastCatalog *catalog.Catalog
	nextRun     map[string]time.Time
	loggedOnce  map[string]struct{}

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	dispatchWG  sync.WaitGroup
}

// New assembles a Loop. A nil clk uses the system clock.
func New(store *catalog.Store, g *gate.Gate, runner Runner, history History, clk clock.Clock, logger *slog.Logger, opts Options) *Loop {
	if clk == nil {
		clk = clock.System()
	}
	poll := opts.PollInterval
	if poll < time.Second {
		poll = DefaultPollInterval
	}
	return &Loop{
		store:      store,
		gate:       g,
		runner:     runner,
		history:    history,
		clock:      clk,
		logger:     logger.With(slog.String("component", "scheduler.Loop")),
		poll:       poll,
		version:    opts.Version,
		nextRun:    make(map[string]time.Time),
		loggedOnce: make(map[string]struct{}),
	}
}

// Name implements the worker contract.
func (l *Loop) Name() string {
	return "scheduler-loop"
}

// OnStart launches the poll loop.
func (l *Loop) OnStart(ctx context.Context) error {
	l.lifecycleMu.Lock()
	defer l.lifecycleMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	go l.run(runCtx)
	return nil
}

// stopGrace bounds how long OnStop waits for in-flight executions to record
// their events after the kill signal went out.
const stopGrace = 30 * time.Second

// OnStop cancels the loop and every in-flight execution, then waits for the
// loop to exit and all dispatch goroutines to record their events.
func (l *Loop) OnStop(ctx context.Context) error {
	l.lifecycleMu.Lock()
	cancel, done := l.cancel, l.done
	l.lifecycleMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	ctx, cancelWait := worker.StopContext(ctx, stopGrace)
	defer cancelWait()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	quiet := make(chan struct{})
	go func() {
		l.dispatchWG.Wait()
		close(quiet)
	}()
	select {
	case <-quiet:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	for {
		delay := l.poll

		if err := l.iterate(ctx); err != nil {
			count := l.noteError()
			delay = backoffDelay(count)
			l.logger.Error("scheduler iteration failed",
				slog.String("error", err.Error()),
				slog.Int("consecutive_errors", count),
				slog.Duration("backoff", delay),
			)
			if count >= criticalLoopErrors {
				l.logger.Error("scheduler repeatedly failing, still retrying",
					slog.Int("consecutive_errors", count),
				)
			}
		} else {
			l.clearErrors()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// iterate performs one tick. Panics are converted to errors so a bad tick
// can never take the loop down.
func (l *Loop) iterate(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("iteration panic: %v", p)
		}
	}()

	now := l.clock.Now()

	l.mu.Lock()
	l.heartbeat = now

	cat := l.store.Load()
	if cat != l.lastCatalog {
		// Catalog swap: rebuild the next-run map and the log-once memory
		// so fixed crons fire and persisting problems are reported again.
		l.lastCatalog = cat
		l.nextRun = make(map[string]time.Time, cat.Len())
		l.loggedOnce = make(map[string]struct{})
	}

	var due []*catalog.Job
	for _, job := range cat.Jobs() {
		if !job.Enabled {
			continue
		}
		if job.Expression == nil {
			l.logOnceLocked(job.ID, func() {
				l.logger.Error("invalid cron expression, command will not run",
					slog.String("id", job.ID),
					slog.String("reason", job.InvalidReason),
				)
			})
			continue
		}

		next, known := l.nextRun[job.ID]
		if !known {
			next = l.computeNext(job, now)
			l.nextRun[job.ID] = next
		}
		if next.IsZero() {
			// Terminal cron: stays in the catalog, never dispatched.
			continue
		}
		if next.After(now) {
			continue
		}

		due = append(due, job)
		// Advance past the due instant before dispatching so this tick
		// cannot double-fire and the sequence stays strictly increasing.
		l.nextRun[job.ID] = l.computeNext(job, next.Add(time.Second))
	}
	l.mu.Unlock()

	// Resolve acquisitions in catalog order. The try never waits, so an
	// earlier holder cannot delay the rest of the tick; only a saturated
	// global cap defers a job to a waiting goroutine.
	for _, job := range due {
		outcome, release := l.gate.TryAcquire(job.ConcurrencyKey, !job.AllowParallel)
		switch outcome {
		case gate.Acquired:
			l.spawnRun(ctx, job, release)
		case gate.SkippedConflict:
			l.recordSkip(job)
		case gate.Saturated:
			l.spawnWaitAndRun(ctx, job)
		}
	}
	return nil
}

// computeNext evaluates the job's expression; the zero time means no
// further occurrence. Must be called with l.mu held (it writes the log-once
// memory).
func (l *Loop) computeNext(job *catalog.Job, after time.Time) time.Time {
	next, ok := job.Expression.NextAfter(after, job.Location)
	if !ok {
		l.logOnceLocked("quiescent:"+job.ID, func() {
			l.logger.Warn("cron expression has no future occurrence",
				slog.String("id", job.ID),
				slog.String("cron", job.Cron),
			)
		})
		return time.Time{}
	}
	return next
}

func (l *Loop) logOnceLocked(key string, emit func()) {
	if _, seen := l.loggedOnce[key]; seen {
		return
	}
	l.loggedOnce[key] = struct{}{}
	emit()
}

// spawnRun executes a job whose permits are already held.
func (l *Loop) spawnRun(ctx context.Context, job *catalog.Job, release gate.Release) {
	l.dispatchWG.Add(1)
	go func() {
		defer l.dispatchWG.Done()
		defer release()
		defer l.recoverDispatch(job)

		l.history.Record(l.runner.Run(ctx, job))
	}()
}

// spawnWaitAndRun handles the saturated-cap case: the goroutine awaits a
// global permit, then applies the same key try-acquire.
func (l *Loop) spawnWaitAndRun(ctx context.Context, job *catalog.Job) {
	l.dispatchWG.Add(1)
	go func() {
		defer l.dispatchWG.Done()
		defer l.recoverDispatch(job)

		outcome, release, err := l.gate.Acquire(ctx, job.ConcurrencyKey, !job.AllowParallel)
		if err != nil {
			// Shutdown fired while waiting for a permit; nothing ran.
			return
		}
		if outcome == gate.SkippedConflict {
			l.recordSkip(job)
			return
		}
		defer release()

		l.history.Record(l.runner.Run(ctx, job))
	}()
}

// recordSkip notes an attempt dropped at the gate. No process was spawned;
// the event is non-failing with zero duration.
func (l *Loop) recordSkip(job *catalog.Job) {
	now := l.clock.Now()
	l.history.Record(recorder.Event{
		CommandID:      job.ID,
		Command:        job.Command,
		StartUTC:       now,
		EndUTC:         now,
		Success:        true,
		Skipped:        true,
		AlertOnFailure: job.AlertOnFail,
		CustomMessage:  job.CustomAlertMessage,
	})
	l.logger.Info("execution skipped, concurrency key busy",
		slog.String("id", job.ID),
		slog.String("key", job.ConcurrencyKey),
	)
}

func (l *Loop) recoverDispatch(job *catalog.Job) {
	if p := recover(); p != nil {
		l.logger.Error("dispatch panicked",
			slog.String("id", job.ID),
			slog.Any("panic", p),
		)
	}
}

func (l *Loop) noteError() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loopErrors++
	return l.loopErrors
}

func (l *Loop) clearErrors() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loopErrors = 0
}

// backoffDelay is min(60s, 10s * 2^(min(errors-1, 3))).
func backoffDelay(errors int) time.Duration {
	if errors < 1 {
		errors = 1
	}
	exp := errors - 1
	if exp > 3 {
		exp = 3
	}
	d := 10 * time.Second << uint(exp)
	if d > time.Minute {
		d = time.Minute
	}
	return d
}
