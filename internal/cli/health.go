// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgkeeper/pgkeeper/internal/health"
	"github.com/pgkeeper/pgkeeper/internal/i18n"
	"github.com/pgkeeper/pgkeeper/internal/store"
	"github.com/pgkeeper/pgkeeper/internal/sysd"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check and supervise the managed services",
}

var healthCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the health probes once",
	Long: `Checks the configured systemd units, TCP endpoints and the SQL
connection, prints every result, and exits non-zero when any probe fails.
Suitable as a cron or monitoring hook.`,
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		results := buildChecker().Run(cmd.Context())
		for _, r := range results {
			if r.OK {
				fmt.Println(i18n.T("health.check_ok", string(r.Kind), r.Target, r.Detail))
			} else {
				fmt.Println(i18n.T("health.check_fail", string(r.Kind), r.Target, r.Detail))
			}
		}
		if !health.AllOK(results) {
			os.Exit(1)
		}
		return nil
	},
}

var healthWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Supervise units and restart them with backoff",
	Long: `Watches the configured units and restarts any that fail. Restart
attempts back off exponentially (5s, 10s, 20s, ... capped at 5m) and stop
after the configured number of attempts; a unit that comes back on its
own resets the counter. Recovery state survives keeper restarts via a
snapshot in the state directory.`,
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := health.NewWatcher(sysd.NewManager(), store.Default(), appConfig.Health.Units)
		if appConfig.Health.Interval > 0 {
			w.Interval = appConfig.Health.Interval
		}
		if appConfig.Health.MaxAttempts > 0 {
			w.MaxAttempts = appConfig.Health.MaxAttempts
		}
		if appConfig.StateDir != "" {
			w.StatePath = filepath.Join(appConfig.StateDir, health.StateFile)
		}
		return w.Watch(cmd.Context())
	},
}

var healthEventsCmd = &cobra.Command{
	Use:     "events [unit]",
	Short:   "Show recent service events",
	Args:    cobra.MaximumNArgs(1),
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		unit := ""
		if len(args) > 0 {
			unit = args[0]
		}
		events, err := store.Default().ListServiceEvents(unit, 20)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println(i18n.T("health.no_events"))
			return nil
		}
		for _, ev := range events {
			fmt.Printf("%s  %-12s %-10s %s\n",
				ev.OccurredAt.Local().Format(time.DateTime), ev.Unit, ev.Kind, ev.Detail)
		}
		return nil
	},
}

func init() {
	healthCmd.AddCommand(healthCheckCmd, healthWatchCmd, healthEventsCmd)
}
