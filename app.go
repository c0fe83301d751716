package cronhost

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/petabytecl/cronhost/alert"
	"github.com/petabytecl/cronhost/catalog"
	"github.com/petabytecl/cronhost/clock"
	"github.com/petabytecl/cronhost/config"
	viperbackend "github.com/petabytecl/cronhost/config/viper"
	"github.com/petabytecl/cronhost/executor"
	"github.com/petabytecl/cronhost/gate"
	"github.com/petabytecl/cronhost/logger"
	"github.com/petabytecl/cronhost/monitor"
	"github.com/petabytecl/cronhost/recorder"
	"github.com/petabytecl/cronhost/scheduler"
	"github.com/petabytecl/cronhost/worker"
)

// Version is stamped by the build; "dev" for local builds.
var Version = "dev"

// envPrefix is the prefix for environment-variable overrides, e.g.
// CRONHOST_SCHEDULER__POLLSECONDS.
const envPrefix = "CRONHOST"

// App owns every component of a running host. Build one with New, drive it
// with Run.
type App struct {
	cfg    *AppConfig
	log    *slog.Logger
	mgr    *config.Manager
	loader *catalog.Loader
	store  *catalog.Store
	hist   *recorder.Recorder
	loop   *scheduler.Loop
	work   *worker.Manager
}

// New reads and validates configuration, then wires the host. This is the
// only fatal phase: an unreadable or invalid config document fails here,
// before anything starts. Every later error is recovered at runtime.
func New(configFile string) (*App, error) {
	backend := viperbackend.New()
	opts := []config.Option{
		config.WithName("config"),
		config.WithType("json"),
		config.WithEnvPrefix(envPrefix),
	}
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	mgr := config.NewWithBackend(backend, opts...)

	cfg := &AppConfig{}
	if err := mgr.LoadInto(cfg); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	log, err := logger.New(cfg.loggerConfig())
	if err != nil {
		return nil, err
	}

	app := &App{
		cfg:    cfg,
		log:    log,
		mgr:    mgr,
		loader: catalog.NewLoader(clock.NewResolver(), catalog.Defaults{TimeZone: cfg.Scheduler.DefaultTimeZone}),
		store:  catalog.NewStore(),
	}

	cat, report := app.loader.Load(cfg.ScheduledCommands)
	report.Log(log)
	app.store.Swap(cat)

	app.hist = recorder.New(app.buildSink(), log, recorder.Options{
		SlowRunThreshold:            time.Duration(cfg.Notifications.SlowRunSeconds) * time.Second,
		ConsecutiveFailureThreshold: cfg.Notifications.ConsecutiveFailureThreshold,
		Templates: recorder.Templates{
			Subject: cfg.Notifications.SubjectTemplate,
			Body:    cfg.Notifications.BodyTemplate,
		},
	})

	supervisor := executor.New(clock.System(), log, executor.Options{
		StderrImpliesFailure: cfg.StderrImpliesFailure(),
	})

	app.loop = scheduler.New(
		app.store,
		gate.New(cfg.Scheduler.MaxParallelism),
		supervisor,
		app.hist,
		clock.System(),
		log,
		scheduler.Options{
			PollInterval: time.Duration(cfg.Scheduler.PollSeconds) * time.Second,
			Version:      Version,
		},
	)

	app.work = worker.NewManager(log)
	if err := app.work.Register(app.loop, worker.WithCritical()); err != nil {
		return nil, err
	}
	if err := app.work.Register(catalog.NewWatcher(backend, app.reloadCatalog, log)); err != nil {
		return nil, err
	}
	if cfg.MonitoringEnabled() {
		srv := monitor.NewServer(cfg.Monitoring.ListenAddress, app.loop.Snapshot, log)
		if err := app.work.Register(srv); err != nil {
			return nil, err
		}
	}

	return app, nil
}

// Run starts the workers and blocks until ctx is cancelled (or a critical
// worker dies), then drains everything: in-flight executions are killed and
// recorded, pending alerts are flushed.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.work.SetCriticalFailHandler(cancel)

	a.log.Info("cronhost starting",
		slog.String("version", Version),
		slog.Int("commands", a.store.Load().Len()),
		slog.Int("poll_seconds", a.cfg.Scheduler.PollSeconds),
		slog.Int("max_parallelism", a.cfg.Scheduler.MaxParallelism),
	)

	if err := a.work.Start(runCtx); err != nil {
		return err
	}

	<-runCtx.Done()
	a.log.Info("shutdown requested")

	err := a.work.Stop()
	a.hist.Drain()
	a.log.Info("cronhost stopped")
	return err
}

// Snapshot exposes the monitoring view for embedders.
func (a *App) Snapshot() scheduler.Snapshot {
	return a.loop.Snapshot()
}

// reloadCatalog is the watcher callback: re-read the document, rebuild, and
// swap. Any failure leaves the active catalog untouched.
func (a *App) reloadCatalog() error {
	cfg := &AppConfig{}
	if err := a.mgr.LoadInto(cfg); err != nil {
		return err
	}

	cat, report := a.loader.Load(cfg.ScheduledCommands)
	report.Log(a.log)
	a.store.Swap(cat)

	// Scheduler-level settings (poll interval, parallelism, listeners)
	// apply at the next restart; only the command set is hot.
	return nil
}

// buildSink composes the configured alert channels into one fan-out.
func (a *App) buildSink() alert.Sink {
	var sinks []alert.Sink
	if a.cfg.Notifications.WebhookURL != "" {
		sinks = append(sinks, alert.Webhook(a.cfg.Notifications.WebhookURL, nil, a.log))
	}
	if a.cfg.Notifications.SMTP.Enabled() {
		sinks = append(sinks, alert.SMTP(a.cfg.Notifications.SMTP, a.log))
	}
	return alert.Fanout(sinks...)
}
