package worker

import (
	"context"
	"time"
)

// StopContext returns a context suitable for graceful-shutdown waits inside
// OnStop. The supervisor invokes OnStop with the already-cancelled run
// context; a wait keyed on that would abort immediately. When ctx is
// already done, a fresh context bounded by grace is returned instead, so
// the worker gets a real drain window. The returned cancel must always be
// called.
func StopContext(ctx context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(context.Background(), grace)
}
