package catalog

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/petabytecl/cronhost/clock"
	"github.com/petabytecl/cronhost/cron"
)

// IssueKind classifies a per-job validation finding.
type IssueKind string

const (
	// IssueInvalidCron marks a job whose cron expression failed to parse.
	// The job stays in the catalog but is never dispatched.
	IssueInvalidCron IssueKind = "invalidCron"

	// IssueZoneFallback marks a job whose zone was unknown; it runs in UTC.
	IssueZoneFallback IssueKind = "zoneFallback"

	// IssueDuplicateID marks a job whose id collides with an earlier entry.
	// The later entry is dropped from the catalog.
	IssueDuplicateID IssueKind = "duplicateId"

	// IssueEmptyCommand marks an entry with no command to run.
	IssueEmptyCommand IssueKind = "emptyCommand"
)

// Issue is a single validation finding attributed to a job id.
type Issue struct {
	JobID  string    `json:"jobId"`
	Kind   IssueKind `json:"kind"`
	Detail string    `json:"detail"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s (%s)", i.JobID, i.Detail, i.Kind)
}

// Report summarizes one catalog load.
type Report struct {
	Total        int     `json:"total"`
	ValidEnabled int     `json:"validEnabled"`
	Disabled     int     `json:"disabled"`
	InvalidCron  int     `json:"invalidCron"`
	ZoneFallback int     `json:"zoneFallbacks"`
	Issues       []Issue `json:"issues,omitempty"`

	// Warning is set when a non-empty input produced zero schedulable
	// jobs. The load still succeeds; the host just has nothing to do.
	Warning string `json:"warning,omitempty"`
}

// Log writes the report through the given logger: one summary line plus one
// warning per issue.
func (r Report) Log(logger *slog.Logger) {
	logger.Info("catalog loaded",
		slog.Int("total", r.Total),
		slog.Int("valid_enabled", r.ValidEnabled),
		slog.Int("disabled", r.Disabled),
		slog.Int("invalid_cron", r.InvalidCron),
		slog.Int("zone_fallbacks", r.ZoneFallback),
	)
	for _, issue := range r.Issues {
		logger.Warn("catalog issue",
			slog.String("job", issue.JobID),
			slog.String("kind", string(issue.Kind)),
			slog.String("detail", issue.Detail),
		)
	}
	if r.Warning != "" {
		logger.Warn(r.Warning)
	}
}

// Defaults carries the scheduler-level values applied while normalizing
// entries.
type Defaults struct {
	// TimeZone is applied to entries with no zone of their own.
	TimeZone string
}

// Loader builds Catalog snapshots from configuration entries. The zone
// resolver is shared across loads so its cache survives reloads.
type Loader struct {
	resolver *clock.Resolver
	defaults Defaults
}

// NewLoader returns a Loader using the given resolver and defaults. A nil
// resolver gets a fresh one.
func NewLoader(resolver *clock.Resolver, defaults Defaults) *Loader {
	if resolver == nil {
		resolver = clock.NewResolver()
	}
	return &Loader{resolver: resolver, defaults: defaults}
}

// Load normalizes and validates the given entries into an immutable
// Catalog. Load never fails: invalid entries are kept (inactive) or dropped
// per their issue kind, and the Report accounts for every entry.
func (l *Loader) Load(specs []Spec) (*Catalog, Report) {
	cat := &Catalog{
		jobs: make([]*Job, 0, len(specs)),
		byID: make(map[string]*Job, len(specs)),
	}
	report := Report{Total: len(specs)}

	for _, spec := range specs {
		command := strings.TrimSpace(spec.Command)
		if command == "" {
			id := strings.TrimSpace(spec.ID)
			if id == "" {
				id = "(unnamed)"
			}
			report.Issues = append(report.Issues, Issue{
				JobID:  id,
				Kind:   IssueEmptyCommand,
				Detail: "entry has no command",
			})
			continue
		}

		job := l.build(spec, command)

		if _, dup := cat.byID[job.ID]; dup {
			report.Issues = append(report.Issues, Issue{
				JobID:  job.ID,
				Kind:   IssueDuplicateID,
				Detail: "id already used by an earlier entry, dropping",
			})
			continue
		}

		if job.ZoneFellBack {
			report.ZoneFallback++
			report.Issues = append(report.Issues, Issue{
				JobID:  job.ID,
				Kind:   IssueZoneFallback,
				Detail: fmt.Sprintf("unknown time zone %q, using UTC", job.Zone),
			})
		}
		if job.Expression == nil {
			report.InvalidCron++
			report.Issues = append(report.Issues, Issue{
				JobID:  job.ID,
				Kind:   IssueInvalidCron,
				Detail: job.InvalidReason,
			})
		} else if !job.Enabled {
			report.Disabled++
		} else {
			report.ValidEnabled++
		}

		cat.jobs = append(cat.jobs, job)
		cat.byID[job.ID] = job
	}

	if report.Total > 0 && report.ValidEnabled == 0 {
		report.Warning = "catalog has no schedulable commands"
	}
	return cat, report
}

// build normalizes one entry into a Job, resolving its zone and compiling
// its cron expression.
func (l *Loader) build(spec Spec, command string) *Job {
	job := &Job{
		ID:                 strings.TrimSpace(spec.ID),
		Command:            command,
		Cron:               strings.TrimSpace(spec.Cron),
		Zone:               strings.TrimSpace(spec.TimeZone),
		Enabled:            boolOr(spec.Enabled, true),
		AllowParallel:      spec.AllowParallel,
		ConcurrencyKey:     strings.TrimSpace(spec.ConcurrencyKey),
		CaptureOutput:      spec.CaptureOutput,
		QuietStart:         spec.QuietStart,
		AlertOnFail:        boolOr(spec.AlertOnFail, true),
		CustomAlertMessage: spec.CustomAlertMessage,
	}
	if job.ID == "" {
		job.ID = command
	}
	if job.ConcurrencyKey == "" {
		job.ConcurrencyKey = job.ID
	}
	if job.Zone == "" {
		job.Zone = l.defaults.TimeZone
	}
	if spec.MaxRuntimeMinutes > 0 {
		job.MaxRuntime = time.Duration(spec.MaxRuntimeMinutes) * time.Minute
	}

	res := l.resolver.Resolve(job.Zone)
	job.Location = res.Location
	job.ZoneFellBack = res.FellBackToUTC

	expr, err := cron.Parse(job.Cron)
	if err != nil {
		job.InvalidReason = err.Error()
	} else {
		job.Expression = expr
	}
	return job
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
