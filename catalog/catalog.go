// Package catalog owns the validated set of schedulable commands. A Catalog
// is an immutable snapshot built from configuration; the active snapshot is
// published through a Store with a single atomic pointer swap so readers
// never observe a partially rebuilt job set.
package catalog

import (
	"sync/atomic"
	"time"

	"github.com/petabytecl/cronhost/cron"
)

// Spec is a raw scheduled-command entry as it appears in configuration.
// Field names follow the config document; unknown fields are ignored by the
// decoder. Pointer booleans distinguish "absent" from "explicitly false" so
// defaults can be applied during loading.
type Spec struct {
	ID                 string `mapstructure:"id" json:"id"`
	Command            string `mapstructure:"command" json:"command"`
	Cron               string `mapstructure:"cron" json:"cron"`
	TimeZone           string `mapstructure:"timeZone" json:"timeZone"`
	Enabled            *bool  `mapstructure:"enabled" json:"enabled,omitempty"`
	MaxRuntimeMinutes  int    `mapstructure:"maxRuntimeMinutes" json:"maxRuntimeMinutes"`
	AllowParallel      bool   `mapstructure:"allowParallel" json:"allowParallel"`
	ConcurrencyKey     string `mapstructure:"concurrencyKey" json:"concurrencyKey"`
	CaptureOutput      bool   `mapstructure:"captureOutput" json:"captureOutput"`
	QuietStart         bool   `mapstructure:"quietStart" json:"quietStart"`
	AlertOnFail        *bool  `mapstructure:"alertOnFail" json:"alertOnFail,omitempty"`
	CustomAlertMessage string `mapstructure:"customAlertMessage" json:"customAlertMessage"`
}

// Job is a validated, normalized schedulable unit. Jobs are immutable for
// the lifetime of the Catalog that owns them.
type Job struct {
	// ID uniquely identifies the job within its catalog. Defaults to the
	// command string when the config entry carries no id.
	ID string

	// Command is the free-form shell command line, executed through the
	// platform shell.
	Command string

	// Cron is the source 5-field expression.
	Cron string

	// Zone is the requested zone identifier after defaulting.
	Zone string

	// Enabled jobs are examined by the scheduler loop; disabled jobs stay
	// in the catalog for visibility but are never dispatched.
	Enabled bool

	// MaxRuntime bounds a single execution. Zero means unbounded.
	MaxRuntime time.Duration

	// AllowParallel permits overlapping executions sharing ConcurrencyKey.
	AllowParallel bool

	// ConcurrencyKey names the mutual-exclusion class. Defaults to ID.
	ConcurrencyKey string

	// CaptureOutput pipes the child's stdout/stderr into the log stream.
	// When false the streams are discarded at the OS level.
	CaptureOutput bool

	// QuietStart suppresses the per-execution start log line.
	QuietStart bool

	// AlertOnFail controls whether a failed execution emits an alert.
	AlertOnFail bool

	// CustomAlertMessage is substituted for ${CustomMessage} in alert
	// templates.
	CustomAlertMessage string

	// Expression is the compiled cron expression, nil when parsing failed.
	// A job with a nil Expression is never dispatched.
	Expression *cron.Expression

	// Location holds the resolved zone rules the expression evaluates in.
	Location *time.Location

	// ZoneFellBack is true when the requested zone was unknown and UTC was
	// substituted.
	ZoneFellBack bool

	// InvalidReason carries the cron parse diagnostic for invalid jobs.
	InvalidReason string
}

// Schedulable reports whether the scheduler loop should consider this job:
// enabled with a successfully parsed cron expression.
func (j *Job) Schedulable() bool {
	return j.Enabled && j.Expression != nil
}

// Catalog is an immutable snapshot of validated jobs in configuration
// order.
type Catalog struct {
	jobs []*Job
	byID map[string]*Job
}

// Jobs returns the jobs in configuration order. Callers must not mutate the
// returned slice.
func (c *Catalog) Jobs() []*Job {
	return c.jobs
}

// Lookup returns the job with the given id, or nil.
func (c *Catalog) Lookup(id string) *Job {
	return c.byID[id]
}

// Len returns the number of jobs in the snapshot.
func (c *Catalog) Len() int {
	return len(c.jobs)
}

// Store publishes the active Catalog. Swap installs a new snapshot with a
// single atomic pointer operation; Load never observes a partial blend of
// two snapshots.
type Store struct {
	ptr atomic.Pointer[Catalog]
}

// NewStore returns a Store holding an empty catalog.
func NewStore() *Store {
	s := &Store{}
	s.ptr.Store(&Catalog{byID: make(map[string]*Job)})
	return s
}

// Load returns the active snapshot. Never nil.
func (s *Store) Load() *Catalog {
	return s.ptr.Load()
}

// Swap atomically installs c as the active snapshot.
func (s *Store) Swap(c *Catalog) {
	if c == nil {
		return
	}
	s.ptr.Store(c)
}
