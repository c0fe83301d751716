package cronhost

import (
	"github.com/petabytecl/cronhost/alert"
	"github.com/petabytecl/cronhost/catalog"
	"github.com/petabytecl/cronhost/logger"
	"github.com/petabytecl/cronhost/recorder"
)

// SchedulerConfig is the "Scheduler" section of the config document.
type SchedulerConfig struct {
	// PollSeconds is the scheduler tick period.
	PollSeconds int `mapstructure:"pollSeconds" json:"pollSeconds" validate:"min=1"`

	// DefaultTimeZone applies to commands that name no zone of their own.
	DefaultTimeZone string `mapstructure:"defaultTimeZone" json:"defaultTimeZone"`

	// MaxParallelism caps simultaneous command executions host-wide.
	MaxParallelism int `mapstructure:"maxParallelism" json:"maxParallelism" validate:"min=1"`

	// StderrImpliesFailure fails a zero-exit run whose captured stderr was
	// non-empty. Defaults to true for compatibility.
	StderrImpliesFailure *bool `mapstructure:"stderrImpliesFailure" json:"stderrImpliesFailure,omitempty"`
}

// MonitoringConfig is the "Monitoring" section.
type MonitoringConfig struct {
	Enabled       *bool  `mapstructure:"enabled" json:"enabled,omitempty"`
	ListenAddress string `mapstructure:"listenAddress" json:"listenAddress"`
}

// NotificationsConfig is the "Notifications" section feeding the alert
// fan-out. Channels with no configuration are simply not registered.
type NotificationsConfig struct {
	WebhookURL string           `mapstructure:"webhookUrl" json:"webhookUrl" validate:"omitempty,url"`
	SMTP       alert.SMTPConfig `mapstructure:"smtp" json:"smtp"`

	// SubjectTemplate and BodyTemplate override the built-in alert
	// wording; see recorder.Templates for the recognized tokens.
	SubjectTemplate string `mapstructure:"subjectTemplate" json:"subjectTemplate"`
	BodyTemplate    string `mapstructure:"bodyTemplate" json:"bodyTemplate"`

	// SlowRunSeconds emits a slow-run alert for successful executions at
	// or above this duration. Zero disables them.
	SlowRunSeconds int `mapstructure:"slowRunSeconds" json:"slowRunSeconds" validate:"min=0"`

	// ConsecutiveFailureThreshold triggers the escalation alert.
	ConsecutiveFailureThreshold int `mapstructure:"consecutiveFailureThreshold" json:"consecutiveFailureThreshold" validate:"min=1"`
}

// LoggingConfig is the "Logging" section.
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" json:"format" validate:"oneof=text json"`
	Output string `mapstructure:"output" json:"output"`
}

// AppConfig is the root configuration document. Section and field names are
// matched case-insensitively by the config backend; unknown fields are
// ignored.
type AppConfig struct {
	Scheduler         SchedulerConfig     `mapstructure:"scheduler" json:"scheduler"`
	ScheduledCommands []catalog.Spec      `mapstructure:"scheduledCommands" json:"scheduledCommands"`
	Monitoring        MonitoringConfig    `mapstructure:"monitoring" json:"monitoring"`
	Notifications     NotificationsConfig `mapstructure:"notifications" json:"notifications"`
	Logging           LoggingConfig       `mapstructure:"logging" json:"logging"`
}

// Default implements config.Defaulter; it fills every omitted section value
// before validation runs.
func (c *AppConfig) Default() {
	if c.Scheduler.PollSeconds == 0 {
		c.Scheduler.PollSeconds = 5
	}
	if c.Scheduler.DefaultTimeZone == "" {
		c.Scheduler.DefaultTimeZone = "UTC"
	}
	if c.Scheduler.MaxParallelism == 0 {
		c.Scheduler.MaxParallelism = 1
	}
	if c.Monitoring.ListenAddress == "" {
		c.Monitoring.ListenAddress = "127.0.0.1:9090"
	}
	if c.Notifications.ConsecutiveFailureThreshold == 0 {
		c.Notifications.ConsecutiveFailureThreshold = recorder.DefaultConsecutiveFailureThreshold
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// MonitoringEnabled defaults to true when the section omits the flag.
func (c *AppConfig) MonitoringEnabled() bool {
	return c.Monitoring.Enabled == nil || *c.Monitoring.Enabled
}

// StderrImpliesFailure defaults to true when the section omits the flag.
func (c *AppConfig) StderrImpliesFailure() bool {
	return c.Scheduler.StderrImpliesFailure == nil || *c.Scheduler.StderrImpliesFailure
}

// loggerConfig maps the Logging section onto the logger package's config.
func (c *AppConfig) loggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}
