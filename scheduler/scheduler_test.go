package scheduler

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petabytecl/cronhost/catalog"
	"github.com/petabytecl/cronhost/clock"
	"github.com/petabytecl/cronhost/gate"
	"github.com/petabytecl/cronhost/recorder"
)

// stepClock is a settable clock owned by the test.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock(t time.Time) *stepClock {
	return &stepClock{t: t.UTC()}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t.UTC()
}

// fakeRunner records run invocations and can block until released.
type fakeRunner struct {
	clk clock.Clock

	mu    sync.Mutex
	runs  []string
	block chan struct{}
	panic bool
}

func (r *fakeRunner) Run(ctx context.Context, job *catalog.Job) recorder.Event {
	r.mu.Lock()
	r.runs = append(r.runs, job.ID)
	block := r.block
	shouldPanic := r.panic
	r.mu.Unlock()

	if shouldPanic {
		panic("runner exploded")
	}

	start := r.clk.Now()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	code := 0
	return recorder.Event{
		CommandID: job.ID,
		Command:   job.Command,
		StartUTC:  start,
		EndUTC:    r.clk.Now(),
		ExitCode:  &code,
		Success:   true,
	}
}

func (r *fakeRunner) ranIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.runs...)
}

type loopFixture struct {
	loop   *Loop
	clk    *stepClock
	runner *fakeRunner
	store  *catalog.Store
	hist   *recorder.Recorder
	gate   *gate.Gate
	loader *catalog.Loader
	logBuf *bytes.Buffer
}

var testEpoch = time.Date(2024, 6, 1, 12, 0, 30, 0, time.UTC)

func newFixture(t *testing.T, maxParallelism int, specs ...catalog.Spec) *loopFixture {
	t.Helper()

	clk := newStepClock(testEpoch)
	runner := &fakeRunner{clk: clk}
	store := catalog.NewStore()
	loader := catalog.NewLoader(clock.NewResolver(), catalog.Defaults{TimeZone: "UTC"})
	cat, _ := loader.Load(specs)
	store.Swap(cat)

	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	hist := recorder.New(nil, logger, recorder.Options{Capacity: 100})
	g := gate.New(maxParallelism)

	loop := New(store, g, runner, hist, clk, logger, Options{Version: "test"})
	return &loopFixture{
		loop: loop, clk: clk, runner: runner,
		store: store, hist: hist, gate: g,
		loader: loader, logBuf: &logBuf,
	}
}

// tick runs one iteration. It does not wait for the dispatches it started;
// use waitQuiescent for that.
func (f *loopFixture) tick(t *testing.T) {
	t.Helper()
	require.NoError(t, f.loop.iterate(context.Background()))
}

func (f *loopFixture) waitQuiescent(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		f.loop.dispatchWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatches did not finish")
	}
}

func TestIterateDispatchesWhenDue(t *testing.T) {
	f := newFixture(t, 2, catalog.Spec{ID: "minutely", Command: "true", Cron: "* * * * *"})

	// First tick computes the next run; nothing is due yet.
	f.tick(t)
	f.waitQuiescent(t)
	assert.Empty(t, f.runner.ranIDs())

	snap := f.loop.Snapshot()
	require.Len(t, snap.Schedule, 1)
	require.NotNil(t, snap.Schedule[0].NextRunUTC)
	next := *snap.Schedule[0].NextRunUTC
	assert.Equal(t, time.Date(2024, 6, 1, 12, 1, 0, 0, time.UTC), next)

	// Advance to the due instant: the job fires once and the pointer moves
	// strictly forward.
	f.clk.Set(next)
	f.tick(t)
	f.waitQuiescent(t)
	assert.Equal(t, []string{"minutely"}, f.runner.ranIDs())

	snap = f.loop.Snapshot()
	require.NotNil(t, snap.Schedule[0].NextRunUTC)
	assert.True(t, snap.Schedule[0].NextRunUTC.After(next), "next-run advances past the dispatched instant")
}

func TestSingleFirePerInstant(t *testing.T) {
	f := newFixture(t, 2, catalog.Spec{ID: "j", Command: "true", Cron: "* * * * *"})

	f.tick(t)
	f.clk.Set(time.Date(2024, 6, 1, 12, 1, 0, 0, time.UTC))

	// Several ticks at the same instant produce exactly one execution.
	f.tick(t)
	f.tick(t)
	f.tick(t)
	f.waitQuiescent(t)

	assert.Equal(t, []string{"j"}, f.runner.ranIDs())
}

func TestDispatchedInstantsStrictlyIncrease(t *testing.T) {
	f := newFixture(t, 2, catalog.Spec{ID: "j", Command: "true", Cron: "* * * * *"})

	f.tick(t)
	var prev time.Time
	for i := 1; i <= 5; i++ {
		due := testEpoch.Truncate(time.Minute).Add(time.Duration(i) * time.Minute)
		require.True(t, due.After(prev))
		prev = due

		f.clk.Set(due)
		f.tick(t)
		// Let the run finish so the job's key is free for the next instant.
		f.waitQuiescent(t)
	}
	assert.Len(t, f.runner.ranIDs(), 5)
}

// Two exclusive jobs sharing a key, both due in the same tick: the first in
// catalog order runs, the second is recorded as a conflict skip with zero
// duration and no counter movement.
func TestSameTickKeyConflictSkipsLaterJob(t *testing.T) {
	f := newFixture(t, 2,
		catalog.Spec{ID: "A", Command: "true", Cron: "* * * * *", ConcurrencyKey: "db"},
		catalog.Spec{ID: "B", Command: "true", Cron: "* * * * *", ConcurrencyKey: "db"},
	)
	f.runner.block = make(chan struct{})

	f.tick(t)
	f.clk.Set(time.Date(2024, 6, 1, 12, 1, 0, 0, time.UTC))
	f.tick(t)

	// A holds the key and is still running; B's skip is already recorded.
	assert.Eventually(t, func() bool {
		ids := f.runner.ranIDs()
		return len(ids) == 1 && ids[0] == "A"
	}, time.Second, 5*time.Millisecond)
	recent := f.hist.Recent(0)
	require.Len(t, recent, 1)
	skip := recent[0]
	assert.Equal(t, "B", skip.CommandID)
	assert.True(t, skip.Skipped)
	assert.True(t, skip.Success)
	assert.Zero(t, skip.DurationMS())
	assert.Zero(t, f.hist.FailureCount("B"), "skip leaves the failure counter alone")

	close(f.runner.block)
	f.waitQuiescent(t)
	assert.Len(t, f.hist.Recent(0), 2)
	assert.Zero(t, f.gate.InUse(), "all permits returned at quiescence")
}

func TestParallelJobsShareKeyWhenAllowed(t *testing.T) {
	f := newFixture(t, 4,
		catalog.Spec{ID: "A", Command: "true", Cron: "* * * * *", ConcurrencyKey: "db", AllowParallel: true},
		catalog.Spec{ID: "B", Command: "true", Cron: "* * * * *", ConcurrencyKey: "db", AllowParallel: true},
	)

	f.tick(t)
	f.clk.Set(time.Date(2024, 6, 1, 12, 1, 0, 0, time.UTC))
	f.tick(t)
	f.waitQuiescent(t)

	assert.ElementsMatch(t, []string{"A", "B"}, f.runner.ranIDs())
	for _, e := range f.hist.Recent(0) {
		assert.False(t, e.Skipped)
	}
}

func TestSaturatedCapDefersButStillRuns(t *testing.T) {
	f := newFixture(t, 1,
		catalog.Spec{ID: "A", Command: "true", Cron: "* * * * *"},
		catalog.Spec{ID: "B", Command: "true", Cron: "* * * * *"},
	)
	f.runner.block = make(chan struct{})

	f.tick(t)
	f.clk.Set(time.Date(2024, 6, 1, 12, 1, 0, 0, time.UTC))
	f.tick(t)

	// Only A can hold the single permit; B waits in its goroutine.
	assert.Eventually(t, func() bool {
		return len(f.runner.ranIDs()) == 1
	}, time.Second, 5*time.Millisecond)

	close(f.runner.block)
	f.waitQuiescent(t)
	assert.ElementsMatch(t, []string{"A", "B"}, f.runner.ranIDs())
	assert.Zero(t, f.gate.InUse())
}

func TestInvalidCronIsolatedAndLoggedOnce(t *testing.T) {
	f := newFixture(t, 2,
		catalog.Spec{ID: "X", Command: "true", Cron: "not a cron"},
		catalog.Spec{ID: "Y", Command: "true", Cron: "* * * * *"},
	)

	f.tick(t)
	f.clk.Set(time.Date(2024, 6, 1, 12, 1, 0, 0, time.UTC))
	f.tick(t)
	f.tick(t)
	f.waitQuiescent(t)

	assert.Equal(t, []string{"Y"}, f.runner.ranIDs(), "X never dispatches, Y is unaffected")
	assert.Equal(t, 1, strings.Count(f.logBuf.String(), "invalid cron expression"),
		"the invalid cron is reported once, not per tick")

	// Reload with X fixed: X begins firing and the dedup memory is gone.
	cat, _ := f.loader.Load([]catalog.Spec{
		{ID: "X", Command: "true", Cron: "* * * * *"},
		{ID: "Y", Command: "true", Cron: "* * * * *"},
	})
	f.store.Swap(cat)

	f.tick(t)
	f.clk.Set(time.Date(2024, 6, 1, 12, 2, 0, 0, time.UTC))
	f.tick(t)
	f.waitQuiescent(t)
	assert.Contains(t, f.runner.ranIDs(), "X")
}

func TestTerminalCronGoesQuiescent(t *testing.T) {
	f := newFixture(t, 2, catalog.Spec{ID: "never", Command: "true", Cron: "0 0 30 2 *"})

	f.tick(t)
	f.tick(t)
	f.waitQuiescent(t)

	assert.Empty(t, f.runner.ranIDs())
	snap := f.loop.Snapshot()
	require.Len(t, snap.Schedule, 1)
	assert.Nil(t, snap.Schedule[0].NextRunUTC)
	assert.Equal(t, 1, strings.Count(f.logBuf.String(), "no future occurrence"))
}

func TestDisabledJobNeverDispatches(t *testing.T) {
	off := false
	f := newFixture(t, 2, catalog.Spec{ID: "off", Command: "true", Cron: "* * * * *", Enabled: &off})

	f.tick(t)
	f.clk.Set(time.Date(2024, 6, 1, 12, 1, 0, 0, time.UTC))
	f.tick(t)
	f.waitQuiescent(t)

	assert.Empty(t, f.runner.ranIDs())
}

func TestCatalogSwapRebuildsNextRuns(t *testing.T) {
	f := newFixture(t, 2, catalog.Spec{ID: "j", Command: "true", Cron: "* * * * *"})

	f.tick(t)
	snap := f.loop.Snapshot()
	require.NotNil(t, snap.Schedule[0].NextRunUTC)

	// Swap in an hourly schedule for the same id: the pointer is recomputed
	// against the new expression, not carried over.
	cat, _ := f.loader.Load([]catalog.Spec{{ID: "j", Command: "true", Cron: "0 * * * *"}})
	f.store.Swap(cat)
	f.tick(t)

	snap = f.loop.Snapshot()
	require.NotNil(t, snap.Schedule[0].NextRunUTC)
	assert.Equal(t, time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC), *snap.Schedule[0].NextRunUTC)
}

func TestRunnerPanicReleasesPermits(t *testing.T) {
	f := newFixture(t, 2, catalog.Spec{ID: "boom", Command: "true", Cron: "* * * * *"})
	f.runner.panic = true

	f.tick(t)
	f.clk.Set(time.Date(2024, 6, 1, 12, 1, 0, 0, time.UTC))
	f.tick(t)
	f.waitQuiescent(t)

	assert.Zero(t, f.gate.InUse(), "panicked dispatch still releases its permits")
	assert.Contains(t, f.logBuf.String(), "dispatch panicked")
}

func TestIterateConvertsPanicToError(t *testing.T) {
	f := newFixture(t, 2, catalog.Spec{ID: "j", Command: "true", Cron: "* * * * *"})
	f.loop.gate = nil // poison the dispatch path

	f.tick(t) // only computes the next run, no gate access yet
	f.clk.Set(time.Date(2024, 6, 1, 12, 1, 0, 0, time.UTC))

	err := f.loop.iterate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

func TestSnapshotHealth(t *testing.T) {
	f := newFixture(t, 2, catalog.Spec{ID: "j", Command: "true", Cron: "* * * * *"})

	// No heartbeat yet: unhealthy.
	assert.False(t, f.loop.Snapshot().Scheduler.Healthy)

	f.tick(t)
	snap := f.loop.Snapshot()
	assert.True(t, snap.Scheduler.Healthy)
	assert.Equal(t, testEpoch, snap.Scheduler.LastHeartbeat)
	assert.Zero(t, snap.Scheduler.ConsecutiveErrors)
	assert.Equal(t, 5, snap.Scheduler.PollIntervalSeconds)
	assert.Equal(t, "test", snap.Version)

	// A stale heartbeat (≥ 3 poll intervals) flips healthy off.
	f.clk.Set(testEpoch.Add(16 * time.Second))
	assert.False(t, f.loop.Snapshot().Scheduler.Healthy)

	// Errors flip healthy off even with a fresh heartbeat.
	f.clk.Set(testEpoch)
	f.loop.noteError()
	snap = f.loop.Snapshot()
	assert.False(t, snap.Scheduler.Healthy)
	assert.Equal(t, 1, snap.Scheduler.ConsecutiveErrors)

	f.loop.clearErrors()
	assert.True(t, f.loop.Snapshot().Scheduler.Healthy)
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		errors int
		want   time.Duration
	}{
		{errors: 0, want: 10 * time.Second},
		{errors: 1, want: 10 * time.Second},
		{errors: 2, want: 20 * time.Second},
		{errors: 3, want: 40 * time.Second},
		{errors: 4, want: 60 * time.Second},
		{errors: 10, want: 60 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, backoffDelay(tt.errors), "errors=%d", tt.errors)
	}
}

func TestLoopLifecycle(t *testing.T) {
	f := newFixture(t, 2, catalog.Spec{ID: "j", Command: "true", Cron: "* * * * *"})

	require.NoError(t, f.loop.OnStart(context.Background()))

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.loop.OnStop(stopCtx))

	// Stopping a never-started loop is a no-op.
	idle := newFixture(t, 1).loop
	require.NoError(t, idle.OnStop(context.Background()))
}
