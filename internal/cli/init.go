// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pgkeeper/pgkeeper/internal/hardware"
	"github.com/pgkeeper/pgkeeper/internal/i18n"
	"github.com/pgkeeper/pgkeeper/internal/logging"
	"github.com/pgkeeper/pgkeeper/internal/store"
)

// initStep is one provisioning step. Steps run in order and failures do
// not stop the run; a half-provisioned server that serves connections
// beats an aborted install.
type initStep struct {
	name string
	run  func(ctx context.Context) error
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Provision this host end to end",
	Long: `Runs the full provisioning sequence: detect hardware, write tuned
PostgreSQL and pgbouncer configs, sync the pgbouncer auth file, prepare
the backup directory and take a first backup.

Steps continue past individual failures; the summary at the end lists
what failed, and the exit code is non-zero if anything did.`,
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		steps := []initStep{
			{name: i18n.T("init.step_state_dir"), run: func(ctx context.Context) error {
				return os.MkdirAll(appConfig.StateDir, 0o750)
			}},
			{name: i18n.T("init.step_detect"), run: func(ctx context.Context) error {
				spec, err := hardware.NewDetector().Detect()
				if err != nil {
					return err
				}
				return hardware.SaveSnapshot(appConfig.StateDir, spec)
			}},
			{name: i18n.T("init.step_optimize"), run: func(ctx context.Context) error {
				return runOptimize(ctx, false, "")
			}},
			{name: i18n.T("init.step_users"), run: func(ctx context.Context) error {
				_, err := buildSyncer().Run(ctx)
				return err
			}},
			{name: i18n.T("init.step_backup_dir"), run: func(ctx context.Context) error {
				return os.MkdirAll(appConfig.Backup.Dir, 0o750)
			}},
			{name: i18n.T("init.step_backup"), run: func(ctx context.Context) error {
				_, err := buildBackupManager().Run(ctx)
				return err
			}},
		}

		type failure struct {
			step string
			err  error
		}
		var failures []failure
		for _, step := range steps {
			logging.Infof("init: %s", step.name)
			if err := step.run(cmd.Context()); err != nil {
				logging.Errorf("init: %s failed: %v", step.name, err)
				failures = append(failures, failure{step: step.name, err: err})
			}
		}

		fmt.Println(i18n.T("init.summary", len(steps)-len(failures), len(steps)))
		if len(failures) > 0 {
			for _, f := range failures {
				fmt.Println(i18n.T("init.failed_step", f.step, f.err))
			}
			if err := store.Default().LogAction("init", fmt.Sprintf("%d/%d steps failed", len(failures), len(steps))); err != nil {
				logging.Warnf("failed to record audit entry: %v", err)
			}
			os.Exit(1)
		}
		if err := store.Default().LogAction("init", "completed"); err != nil {
			logging.Warnf("failed to record audit entry: %v", err)
		}
		return nil
	},
}
