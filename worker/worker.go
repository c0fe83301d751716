// Package worker runs the host's long-lived services — the scheduler loop,
// the config watcher, and the monitoring surface — under one lifecycle: a
// Manager starts them together, contains their panics, restarts crashed
// workers with a growing jittered delay, and tears everything down on
// shutdown. A worker marked critical takes the host down with it when it
// stops being restartable; that is how a dead scheduler loop turns into a
// clean process exit instead of a silently idle host.
package worker

import "context"

// Worker is one supervised service.
//
//   - OnStart must be non-blocking: it launches its own goroutine and
//     returns. It may be called again after a crash-triggered restart.
//   - OnStop signals shutdown and blocks until the worker has drained. It
//     receives the (already cancelled) run context; use StopContext for a
//     bounded wait.
//   - Name identifies the worker in logs and must be unique per Manager.
type Worker interface {
	OnStart(ctx context.Context) error
	OnStop(ctx context.Context) error
	Name() string
}
