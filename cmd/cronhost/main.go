// Command cronhost runs shell commands on cron schedules with per-command
// time zones, concurrency control, runtime limits, and an embedded
// monitoring surface.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/petabytecl/cronhost"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cronhost:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:     "cronhost",
		Short:   "Run shell commands on cron schedules",
		Long: `cronhost is a long-running host that executes shell commands on 5-field
cron schedules. Commands are declared in a JSON config file that is watched
and hot-reloaded; scheduling is time-zone aware, executions are bounded by a
global parallelism cap and per-key mutual exclusion, and a read-only HTTP
surface exposes schedule and health information.`,
		Version:       cronhost.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configFile == "" {
				configFile = os.Getenv("CRONHOST_CONFIG")
			}

			app, err := cronhost.New(configFile)
			if err != nil {
				// The only fatal path: a config document we cannot start from.
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return app.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "",
		"path to the JSON config file (default: $CRONHOST_CONFIG, then ./config.json)")
	return cmd
}
