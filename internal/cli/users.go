// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgkeeper/pgkeeper/internal/i18n"
	"github.com/pgkeeper/pgkeeper/internal/store"
	"github.com/pgkeeper/pgkeeper/internal/sysd"
	"github.com/pgkeeper/pgkeeper/internal/usersync"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Keep the pgbouncer auth file in sync with PostgreSQL roles",
}

func buildSyncer() *usersync.Syncer {
	return &usersync.Syncer{
		Dsn:              appConfig.Postgres.Dsn,
		UserlistPath:     appConfig.Pgbouncer.UserlistFile,
		Systemd:          sysd.NewManager(),
		PgbouncerService: appConfig.Pgbouncer.Service,
		Store:            store.Default(),
	}
}

var usersSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync login roles into the pgbouncer userlist once",
	Long: `Reads every login role and its password verifier from pg_authid
and rewrites the pgbouncer auth file when anything differs from the last
sync. pgbouncer is reloaded only after a rewrite.`,
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		diff, err := buildSyncer().Run(cmd.Context())
		if err != nil {
			return fmt.Errorf("%s", i18n.T("users.error_sync", err))
		}
		if diff.HasChanges() {
			fmt.Println(i18n.T("users.synced", diff.Summary()))
		} else {
			fmt.Println(i18n.T("users.unchanged"))
		}
		return nil
	},
}

var usersWatchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Continuously sync roles on the health interval",
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval := appConfig.Health.Interval
		if interval <= 0 {
			interval = time.Minute
		}
		return buildSyncer().Watch(cmd.Context(), interval)
	},
}

func init() {
	usersCmd.AddCommand(usersSyncCmd, usersWatchCmd)
}
