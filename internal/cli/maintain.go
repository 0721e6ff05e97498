// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgkeeper/pgkeeper/internal/i18n"
	"github.com/pgkeeper/pgkeeper/internal/store"
)

// dbMaintainCmd maintains pgkeeper's own state store, not the managed
// PostgreSQL server.
var dbMaintainCmd = &cobra.Command{
	Use:   "db-maintain",
	Short: "Run maintenance on the pgkeeper state database",
	Long: `Performs engine-specific maintenance on the state store: VACUUM,
WAL checkpoint and integrity check for SQLite, VACUUM ANALYZE for
PostgreSQL, OPTIMIZE TABLE for MySQL.`,
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		skipIntegrity, _ := cmd.Flags().GetBool("skip-integrity")
		timeoutSec, _ := cmd.Flags().GetInt("timeout")

		ctx := cmd.Context()
		if timeoutSec > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
			defer cancel()
		}

		if err := store.RunDBMaintenance(ctx, appConfig.Database.Type, appConfig.Database.Dsn, skipIntegrity); err != nil {
			return fmt.Errorf("%s", i18n.T("maintain.error", err))
		}
		fmt.Println(i18n.T("maintain.done"))
		return nil
	},
}
