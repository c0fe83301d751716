package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petabytecl/cronhost/alert"
)

// DefaultCapacity is the ring buffer size: the newest 5000 events are kept.
const DefaultCapacity = 5000

// DefaultConsecutiveFailureThreshold is how many failures in a row trigger
// the escalation alert.
const DefaultConsecutiveFailureThreshold = 3

// Options tune a Recorder. The zero value is usable.
type Options struct {
	// Capacity bounds the ring buffer. Defaults to DefaultCapacity.
	Capacity int

	// SlowRunThreshold emits a "Slow run" alert for successful executions
	// at or above this duration. Zero disables slow-run alerts.
	SlowRunThreshold time.Duration

	// ConsecutiveFailureThreshold emits an escalation alert when a
	// command's failure streak reaches this length. Defaults to
	// DefaultConsecutiveFailureThreshold.
	ConsecutiveFailureThreshold int

	// Templates provide the alert wording; empty fields fall back to the
	// built-in defaults.
	Templates Templates
}

// Recorder owns the recent-events ring and the failure counters. Record is
// called from supervisor completion goroutines; snapshot readers come from
// the monitoring surface. All state is guarded by one mutex.
type Recorder struct {
	sink     alert.Sink
	logger   *slog.Logger
	opts     Options
	template Templates

	mu       sync.Mutex
	ring     []Event
	next     int
	size     int
	failures map[string]int

	// notifyWG tracks in-flight sink calls so tests (and shutdown) can
	// wait for quiescence.
	notifyWG sync.WaitGroup
}

// New returns a Recorder delivering alerts through sink. A nil sink
// discards them.
func New(sink alert.Sink, logger *slog.Logger, opts Options) *Recorder {
	if sink == nil {
		sink = alert.Discard()
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.ConsecutiveFailureThreshold <= 0 {
		opts.ConsecutiveFailureThreshold = DefaultConsecutiveFailureThreshold
	}
	return &Recorder{
		sink:     sink,
		logger:   logger.With(slog.String("component", "recorder.Recorder")),
		opts:     opts,
		template: opts.Templates.orDefaults(),
		ring:     make([]Event, opts.Capacity),
		failures: make(map[string]int),
	}
}

// Record appends the event and applies counter and alert policy. It never
// blocks on alert delivery and never panics into the caller.
func (r *Recorder) Record(e Event) {
	r.mu.Lock()

	r.ring[r.next] = e
	r.next = (r.next + 1) % len(r.ring)
	if r.size < len(r.ring) {
		r.size++
	}

	if e.Skipped {
		r.mu.Unlock()
		return
	}

	if e.Success {
		delete(r.failures, e.CommandID)
		slow := r.opts.SlowRunThreshold > 0 &&
			time.Duration(e.DurationMS())*time.Millisecond >= r.opts.SlowRunThreshold
		r.mu.Unlock()

		if slow {
			r.notify("Slow run", e, 0)
		}
		return
	}

	r.failures[e.CommandID]++
	n := r.failures[e.CommandID]
	r.mu.Unlock()

	if e.AlertOnFailure {
		r.notify("Failure", e, n)
	}
	if n == r.opts.ConsecutiveFailureThreshold {
		r.notify(fmt.Sprintf("Consecutive failures (%d)", n), e, n)
	}
}

// Recent returns up to limit events, newest first. limit <= 0 returns all
// retained events.
func (r *Recorder) Recent(limit int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.ring)) % len(r.ring)
		out = append(out, r.ring[idx])
	}
	return out
}

// Failures returns a copy of the consecutive-failure counters.
func (r *Recorder) Failures() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]int, len(r.failures))
	for k, v := range r.failures {
		out[k] = v
	}
	return out
}

// FailureCount returns the streak length for one command id.
func (r *Recorder) FailureCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[id]
}

// Drain waits until all in-flight alert deliveries have finished. Used at
// shutdown and in tests; new Record calls may start further deliveries.
func (r *Recorder) Drain() {
	r.notifyWG.Wait()
}

// notify renders and delivers one alert in its own goroutine. Sink panics
// are contained here.
func (r *Recorder) notify(alertType string, e Event, consecutive int) {
	subject, body := r.template.render(alertType, e, consecutive)

	r.notifyWG.Add(1)
	go func() {
		defer r.notifyWG.Done()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("alert sink panicked",
					slog.Any("panic", p),
					slog.String("subject", subject),
				)
			}
		}()
		r.sink(context.Background(), subject, body)
	}()
}
