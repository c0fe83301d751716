package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"
)

// Restart pacing. A crashed worker restarts after a jittered delay that
// doubles per consecutive crash; surviving stableRunPeriod resets the
// pacing. After maxConsecutiveCrashes the worker is abandoned.
const (
	restartBaseDelay      = time.Second
	restartMaxDelay       = time.Minute
	stableRunPeriod       = 30 * time.Second
	maxConsecutiveCrashes = 5
)

// ErrAlreadyRunning is returned by Register once Start has been called.
var ErrAlreadyRunning = errors.New("worker: manager already running")

// Option configures one registration.
type Option func(*registration)

// WithCritical marks a worker whose permanent failure must shut the host
// down. The scheduler loop is registered this way: a host that cannot
// schedule has no reason to keep running.
func WithCritical() Option {
	return func(r *registration) {
		r.critical = true
	}
}

type registration struct {
	worker   Worker
	critical bool
}

// Manager owns the registered workers. Register everything before Start;
// Stop cancels the shared run context and waits for every worker to drain.
type Manager struct {
	logger *slog.Logger

	mu      sync.Mutex
	regs    []registration
	names   map[string]struct{}
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	onCriticalFail func()
}

// NewManager returns an empty Manager logging through logger.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger: logger.With(slog.String("component", "worker.Manager")),
		names:  make(map[string]struct{}),
	}
}

// SetCriticalFailHandler installs the callback fired when a critical worker
// is abandoned. The host wires this to its shutdown cancel.
func (m *Manager) SetCriticalFailHandler(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCriticalFail = fn
}

// Register adds a worker. Duplicate names and registration after Start are
// rejected.
func (m *Manager) Register(w Worker, opts ...Option) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrAlreadyRunning
	}
	name := w.Name()
	if _, dup := m.names[name]; dup {
		return fmt.Errorf("worker: duplicate worker name %q", name)
	}
	m.names[name] = struct{}{}

	reg := registration{worker: w}
	for _, opt := range opts {
		opt(&reg)
	}
	m.regs = append(m.regs, reg)
	return nil
}

// Start launches every registered worker under its own supervision
// goroutine and returns immediately. Idempotent.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	m.running = true

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.logger.Info("starting workers", slog.Int("count", len(m.regs)))
	for _, reg := range m.regs {
		m.wg.Add(1)
		go m.supervise(runCtx, reg)
	}
	return nil
}

// Stop cancels the run context and waits for every worker to finish its
// OnStop drain.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	m.logger.Info("stopping workers")
	cancel()
	m.wg.Wait()
	m.logger.Info("all workers stopped")
	return nil
}

// supervise runs one worker until shutdown, restarting it after crashes.
func (m *Manager) supervise(ctx context.Context, reg registration) {
	defer m.wg.Done()
	log := m.logger.With(slog.String("worker", reg.worker.Name()))

	delay := restartBaseDelay
	crashes := 0

	for {
		began := time.Now()
		crashErr := m.runOnce(ctx, reg.worker, log)

		if crashErr == nil || ctx.Err() != nil {
			log.Info("worker stopped")
			return
		}

		if time.Since(began) >= stableRunPeriod {
			// A long healthy run forgives earlier crashes.
			crashes = 0
			delay = restartBaseDelay
		}
		crashes++
		if crashes >= maxConsecutiveCrashes {
			log.Error("worker crashed repeatedly, abandoning",
				slog.Int("crashes", crashes),
				slog.String("error", crashErr.Error()),
			)
			if reg.critical {
				m.criticalFail(log)
			}
			return
		}

		// Half-to-full jitter keeps repeated crashers from thundering in
		// lockstep with the scheduler tick.
		wait := delay/2 + rand.N(delay/2)
		log.Warn("worker crashed, restarting",
			slog.String("error", crashErr.Error()),
			slog.Int("crashes", crashes),
			slog.Duration("delay", wait),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if delay *= 2; delay > restartMaxDelay {
			delay = restartMaxDelay
		}
	}
}

// runOnce drives one start→wait→stop cycle. It returns nil for a clean
// shutdown and the crash cause when OnStart failed or panicked.
func (m *Manager) runOnce(ctx context.Context, w Worker, log *slog.Logger) (crashErr error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("worker panicked",
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
			)
			crashErr = fmt.Errorf("panic: %v", p)
		}
	}()

	if err := w.OnStart(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	<-ctx.Done()

	if err := w.OnStop(ctx); err != nil {
		// Drain problems are logged, not retried; the host is exiting.
		log.Warn("worker stop error", slog.String("error", err.Error()))
	}
	return nil
}

func (m *Manager) criticalFail(log *slog.Logger) {
	m.mu.Lock()
	fn := m.onCriticalFail
	m.mu.Unlock()

	if fn != nil {
		log.Error("critical worker lost, shutting the host down")
		fn()
	}
}
