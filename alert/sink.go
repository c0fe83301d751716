// Package alert delivers free-form notifications produced by the execution
// recorder. A Sink is a plain function value; multi-channel delivery is
// composition with Fanout rather than an interface chain.
package alert

import "context"

// Sink delivers one notification. Implementations must swallow their own
// delivery errors (logging them at most) — a sink call never reports back to
// the recorder, which fires sinks asynchronously and does not await them.
type Sink func(ctx context.Context, subject, body string)

// Discard is a Sink that drops every notification.
func Discard() Sink {
	return func(context.Context, string, string) {}
}

// Fanout composes several sinks into one that delivers to all of them in
// order. Nil entries are skipped. Fanout of nothing returns Discard.
func Fanout(sinks ...Sink) Sink {
	live := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	if len(live) == 0 {
		return Discard()
	}
	if len(live) == 1 {
		return live[0]
	}
	return func(ctx context.Context, subject, body string) {
		for _, s := range live {
			s(ctx, subject, body)
		}
	}
}
