package scheduler

import (
	"time"

	"github.com/petabytecl/cronhost/recorder"
)

// ScheduleEntry is the monitoring view of one catalog job.
type ScheduleEntry struct {
	ID                string     `json:"id"`
	Command           string     `json:"command"`
	Cron              string     `json:"cron"`
	Zone              string     `json:"zone"`
	Enabled           bool       `json:"enabled"`
	AllowParallel     bool       `json:"allowParallel"`
	ConcurrencyKey    string     `json:"concurrencyKey"`
	MaxRuntimeMinutes int        `json:"maxRuntimeMinutes"`
	NextRunUTC        *time.Time `json:"nextRunUtc,omitempty"`

	// NextRunLocal renders NextRunUTC in the job's own zone for operators
	// reading the dashboard.
	NextRunLocal string `json:"nextRunLocal,omitempty"`

	// Invalid is set for jobs whose cron failed to parse; they are listed
	// but never dispatched.
	Invalid bool   `json:"invalid,omitempty"`
	Issue   string `json:"issue,omitempty"`
}

// Health is the scheduler-liveness sub-object of a snapshot.
type Health struct {
	Healthy               bool      `json:"healthy"`
	LastHeartbeat         time.Time `json:"lastHeartbeat"`
	SecondsSinceHeartbeat float64   `json:"secondsSinceHeartbeat"`
	ConsecutiveErrors     int       `json:"consecutiveErrors"`
	PollIntervalSeconds   int       `json:"pollIntervalSeconds"`
}

// Snapshot is the read-only monitoring view produced on demand. It is
// self-contained: serializing it requires no further access to scheduler
// state.
type Snapshot struct {
	Version         string           `json:"version"`
	NowUTC          time.Time        `json:"nowUtc"`
	Schedule        []ScheduleEntry  `json:"schedule"`
	RecentEvents    []recorder.Event `json:"recentEvents"`
	FailureCounters map[string]int   `json:"failureCounters"`
	Scheduler       Health           `json:"scheduler"`
}

// Snapshot builds the current monitoring view. Safe to call from any
// goroutine, including while the loop is mid-tick.
func (l *Loop) Snapshot() Snapshot {
	now := l.clock.Now()

	l.mu.Lock()
	heartbeat := l.heartbeat
	errors := l.loopErrors
	cat := l.store.Load()

	schedule := make([]ScheduleEntry, 0, cat.Len())
	for _, job := range cat.Jobs() {
		entry := ScheduleEntry{
			ID:                job.ID,
			Command:           job.Command,
			Cron:              job.Cron,
			Zone:              job.Zone,
			Enabled:           job.Enabled,
			AllowParallel:     job.AllowParallel,
			ConcurrencyKey:    job.ConcurrencyKey,
			MaxRuntimeMinutes: int(job.MaxRuntime.Minutes()),
		}
		if job.Expression == nil {
			entry.Invalid = true
			entry.Issue = job.InvalidReason
		} else if next, ok := l.nextRun[job.ID]; ok && !next.IsZero() {
			utc := next.UTC()
			entry.NextRunUTC = &utc
			entry.NextRunLocal = next.In(job.Location).Format("2006-01-02 15:04:05 MST")
		}
		schedule = append(schedule, entry)
	}
	l.mu.Unlock()

	seconds := now.Sub(heartbeat).Seconds()
	return Snapshot{
		Version:         l.version,
		NowUTC:          now,
		Schedule:        schedule,
		RecentEvents:    l.history.Recent(0),
		FailureCounters: l.history.Failures(),
		Scheduler: Health{
			Healthy:               seconds < 3*l.poll.Seconds() && errors == 0,
			LastHeartbeat:         heartbeat,
			SecondsSinceHeartbeat: seconds,
			ConsecutiveErrors:     errors,
			PollIntervalSeconds:   int(l.poll.Seconds()),
		},
	}
}
