// Package executor supervises child shell processes: spawn, optional stream
// capture, runtime deadline, and shutdown-aware termination. It produces one
// recorder.Event per run and distinguishes a timeout kill (a failure) from a
// shutdown kill (not a failure).
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/petabytecl/cronhost/catalog"
	"github.com/petabytecl/cronhost/clock"
	"github.com/petabytecl/cronhost/recorder"
)

// DefaultCaptureLimit bounds how much of each captured stream is retained
// for logging.
const DefaultCaptureLimit = 64 * 1024

// Options tune a Supervisor.
type Options struct {
	// StderrImpliesFailure marks a zero-exit run as failed when the
	// captured stderr stream is non-empty. Only applies to jobs with
	// CaptureOutput set.
	StderrImpliesFailure bool

	// CaptureLimit bounds the bytes retained per captured stream.
	// Defaults to DefaultCaptureLimit.
	CaptureLimit int
}

// DefaultOptions returns the compatibility defaults: stderr output on an
// otherwise clean exit counts as a failure.
func DefaultOptions() Options {
	return Options{
		StderrImpliesFailure: true,
		CaptureLimit:         DefaultCaptureLimit,
	}
}

// Supervisor runs catalog jobs as child processes of the host shell. It is
// stateless across runs and safe for concurrent use.
type Supervisor struct {
	clock  clock.Clock
	logger *slog.Logger
	opts   Options
}

// New returns a Supervisor. A nil clk uses the system clock.
func New(clk clock.Clock, logger *slog.Logger, opts Options) *Supervisor {
	if clk == nil {
		clk = clock.System()
	}
	if opts.CaptureLimit <= 0 {
		opts.CaptureLimit = DefaultCaptureLimit
	}
	return &Supervisor{
		clock:  clk,
		logger: logger.With(slog.String("component", "executor.Supervisor")),
		opts:   opts,
	}
}

// Run executes the job's command through the platform shell and blocks until
// it terminates. ctx is the host shutdown signal: when it fires, the child's
// process tree is killed and the event is recorded as non-failing. A
// MaxRuntime deadline kills the tree and records a failure with
// error="timeout". Exactly one event is returned on every path.
func (s *Supervisor) Run(ctx context.Context, job *catalog.Job) recorder.Event {
	ev := recorder.Event{
		CommandID:      job.ID,
		Command:        job.Command,
		StartUTC:       s.clock.Now(),
		AlertOnFailure: job.AlertOnFail,
		CustomMessage:  job.CustomAlertMessage,
	}

	shell, flag := shellCommand()
	cmd := exec.Command(shell, flag, job.Command)
	isolateProcessGroup(cmd)

	var stdout, stderr *boundedBuffer
	if job.CaptureOutput {
		stdout = newBoundedBuffer(s.opts.CaptureLimit)
		stderr = newBoundedBuffer(s.opts.CaptureLimit)
		cmd.Stdout = stdout
		cmd.Stderr = stderr
	}
	// With CaptureOutput unset the streams stay nil and the child inherits
	// the null device, so an ignored chatty command builds no pipe pressure.

	if !job.QuietStart {
		s.logger.Info("command started",
			slog.String("id", job.ID),
			slog.String("command", job.Command),
		)
	}

	if err := cmd.Start(); err != nil {
		ev.EndUTC = s.clock.Now()
		ev.Error = fmt.Sprintf("spawn: %v", err)
		s.logger.Error("command failed to start",
			slog.String("id", job.ID),
			slog.String("error", err.Error()),
		)
		return ev
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var deadline <-chan time.Time
	if job.MaxRuntime > 0 {
		timer := time.NewTimer(job.MaxRuntime)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case waitErr := <-waitDone:
		s.finishNormal(&ev, job, waitErr, stderr)

	case <-ctx.Done():
		killTree(cmd)
		<-waitDone
		s.finishShutdown(&ev, job)

	case <-deadline:
		killTree(cmd)
		<-waitDone
		if ctx.Err() != nil {
			// Shutdown raced the deadline; shutdown semantics win.
			s.finishShutdown(&ev, job)
		} else {
			s.finishTimeout(&ev, job)
		}
	}

	s.logCapture(job, stdout, stderr)
	return ev
}

func (s *Supervisor) finishNormal(ev *recorder.Event, job *catalog.Job, waitErr error, stderr *boundedBuffer) {
	ev.EndUTC = s.clock.Now()

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		code := 0
		ev.ExitCode = &code
	case errors.As(waitErr, &exitErr):
		code := exitErr.ExitCode()
		ev.ExitCode = &code
	default:
		ev.Error = waitErr.Error()
		s.logFailure(ev, job)
		return
	}

	switch {
	case *ev.ExitCode != 0:
		ev.Error = fmt.Sprintf("exit status %d", *ev.ExitCode)
	case job.CaptureOutput && s.opts.StderrImpliesFailure && stderr.Len() > 0:
		ev.Error = "stderr not empty"
	default:
		ev.Success = true
	}

	if !ev.Success {
		s.logFailure(ev, job)
	}
}

func (s *Supervisor) finishTimeout(ev *recorder.Event, job *catalog.Job) {
	ev.EndUTC = s.clock.Now()
	ev.Error = "timeout"
	s.logger.Warn("command killed after exceeding max runtime",
		slog.String("id", job.ID),
		slog.Duration("max_runtime", job.MaxRuntime),
	)
}

func (s *Supervisor) finishShutdown(ev *recorder.Event, job *catalog.Job) {
	ev.EndUTC = s.clock.Now()
	ev.Success = true
	s.logger.Info("command terminated by host shutdown",
		slog.String("id", job.ID),
	)
}

// logFailure writes the concise summary that is emitted even when streams
// are not captured.
func (s *Supervisor) logFailure(ev *recorder.Event, job *catalog.Job) {
	attrs := []any{
		slog.String("id", job.ID),
		slog.String("cause", ev.Error),
	}
	if ev.ExitCode != nil {
		attrs = append(attrs, slog.Int("exit_code", *ev.ExitCode))
	}
	s.logger.Error("command failed", attrs...)
}

func (s *Supervisor) logCapture(job *catalog.Job, stdout, stderr *boundedBuffer) {
	if !job.CaptureOutput {
		return
	}
	if out := stdout.String(); out != "" {
		s.logger.Info("command stdout",
			slog.String("id", job.ID),
			slog.String("output", out),
		)
	}
	if errOut := stderr.String(); errOut != "" {
		s.logger.Error("command stderr",
			slog.String("id", job.ID),
			slog.String("output", errOut),
		)
	}
}
