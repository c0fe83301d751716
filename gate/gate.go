// Package gate bounds concurrent command executions with a global
// parallelism semaphore coupled to keyed mutual exclusion.
package gate

import (
	"context"
	"sync"
)

// Outcome reports how an acquisition attempt resolved.
type Outcome int

const (
	// Acquired means both the global permit and, when requested, the key
	// lock are held. The caller must invoke the returned Release when the
	// execution completes, on every exit path.
	Acquired Outcome = iota

	// SkippedConflict means the key lock was busy. The global permit has
	// already been returned; no process may be spawned and the attempt is
	// recorded as a skip.
	SkippedConflict

	// Saturated is returned only by TryAcquire: every global permit is in
	// use. The caller may fall back to the blocking Acquire off the hot
	// path.
	Saturated
)

// Release returns all permits held by one acquisition. Safe to call once;
// subsequent calls are no-ops.
type Release func()

// Gate is safe for concurrent use by any number of dispatch goroutines.
type Gate struct {
	permits chan struct{}

	mu   sync.Mutex
	keys map[string]*sync.Mutex
}

// New returns a Gate with the given global parallelism cap. Values below 1
// are raised to 1.
func New(maxParallelism int) *Gate {
	if maxParallelism < 1 {
		maxParallelism = 1
	}
	return &Gate{
		permits: make(chan struct{}, maxParallelism),
		keys:    make(map[string]*sync.Mutex),
	}
}

// Acquire obtains a global permit, waiting for one to free up, then — when
// exclusive — try-locks the key's mutex without blocking. A busy key returns
// SkippedConflict with the global permit already released. The error is
// non-nil only when ctx is cancelled while waiting for the global permit.
func (g *Gate) Acquire(ctx context.Context, key string, exclusive bool) (Outcome, Release, error) {
	select {
	case g.permits <- struct{}{}:
	case <-ctx.Done():
		return SkippedConflict, nil, ctx.Err()
	}

	if !exclusive {
		return Acquired, g.releaseFunc(nil), nil
	}

	lock := g.keyLock(key)
	if !lock.TryLock() {
		<-g.permits
		return SkippedConflict, nil, nil
	}
	return Acquired, g.releaseFunc(lock), nil
}

// TryAcquire is the non-blocking form of Acquire used by the scheduler loop
// so a tick can resolve each due job in catalog order without waiting. A
// full global cap returns Saturated with nothing held.
func (g *Gate) TryAcquire(key string, exclusive bool) (Outcome, Release) {
	select {
	case g.permits <- struct{}{}:
	default:
		return Saturated, nil
	}

	if !exclusive {
		return Acquired, g.releaseFunc(nil)
	}

	lock := g.keyLock(key)
	if !lock.TryLock() {
		<-g.permits
		return SkippedConflict, nil
	}
	return Acquired, g.releaseFunc(lock)
}

// InUse returns the number of global permits currently held. Exposed so
// tests can assert quiescence: a non-zero count after all executions
// finished means a leaked permit.
func (g *Gate) InUse() int {
	return len(g.permits)
}

// Capacity returns the global parallelism cap.
func (g *Gate) Capacity() int {
	return cap(g.permits)
}

func (g *Gate) keyLock(key string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.keys[key]
	if !ok {
		lock = &sync.Mutex{}
		g.keys[key] = lock
	}
	return lock
}

func (g *Gate) releaseFunc(lock *sync.Mutex) Release {
	var once sync.Once
	return func() {
		once.Do(func() {
			if lock != nil {
				lock.Unlock()
			}
			<-g.permits
		})
	}
}
