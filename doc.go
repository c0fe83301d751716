// Package cronhost assembles the scheduled-command host: configuration
// loading, the job catalog, the scheduler loop, process supervision,
// execution history, alerting, and the monitoring surface, all run as
// supervised workers under one lifecycle.
//
// The cmd/cronhost binary is a thin CLI wrapper; everything it does is
// available programmatically:
//
//	app, err := cronhost.New("config.json")
//	if err != nil {
//	    // unreadable or invalid configuration is the only fatal error
//	}
//	err = app.Run(ctx)
package cronhost
