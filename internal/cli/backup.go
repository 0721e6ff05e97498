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

	"github.com/pgkeeper/pgkeeper/internal/backup"
	"github.com/pgkeeper/pgkeeper/internal/i18n"
	"github.com/pgkeeper/pgkeeper/internal/store"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Take, list, prune, verify and upload logical backups",
}

func buildBackupManager() *backup.Manager {
	return &backup.Manager{
		Dir:            appConfig.Backup.Dir,
		Databases:      appConfig.Backup.Databases,
		RetentionDays:  appConfig.Backup.RetentionDays,
		RetentionCount: appConfig.Backup.RetentionCount,
		Store:          store.Default(),
	}
}

func backupRemote() backup.Remote {
	r := appConfig.Backup.Remote
	return backup.Remote{Host: r.Host, User: r.User, Path: r.Path, KeyFile: r.KeyFile, HostKey: r.HostKey}
}

var backupRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Dump the configured databases and the cluster globals",
	Long: `Runs pg_dumpall --globals-only plus pg_dump for every configured
database, compresses each dump with zstd, and records path, size and
SHA-256 in the catalog. One failing database does not stop the others.`,
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := buildBackupManager().Run(cmd.Context())
		for _, rec := range records {
			fmt.Println(i18n.T("backup.done", rec.Database, filepath.Base(rec.Path), rec.SizeBytes))
		}
		return err
	},
}

var backupListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List cataloged backups",
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := store.Default().ListBackups()
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println(i18n.T("backup.none"))
			return nil
		}
		for _, rec := range records {
			uploaded := "-"
			if !rec.UploadedAt.IsZero() {
				uploaded = rec.UploadedAt.Local().Format(time.DateTime)
			}
			fmt.Printf("%4d  %s  %-12s %10d  uploaded: %s  %s\n",
				rec.ID, rec.CreatedAt.Local().Format(time.DateTime), rec.Database,
				rec.SizeBytes, uploaded, rec.Path)
		}
		return nil
	},
}

var backupPruneCmd = &cobra.Command{
	Use:     "prune",
	Short:   "Remove backups past the retention window",
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		pruned, err := buildBackupManager().Prune(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(i18n.T("backup.pruned", len(pruned)))
		return nil
	},
}

var backupVerifyCmd = &cobra.Command{
	Use:     "verify",
	Short:   "Re-hash cataloged backups and check the archives decompress",
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := buildBackupManager().Verify(cmd.Context())
		if err != nil {
			return err
		}
		bad := 0
		for _, r := range results {
			if r.OK {
				fmt.Println(i18n.T("backup.verify_ok", filepath.Base(r.Record.Path)))
			} else {
				bad++
				fmt.Println(i18n.T("backup.verify_fail", filepath.Base(r.Record.Path), r.Detail))
			}
		}
		if bad > 0 {
			os.Exit(1)
		}
		return nil
	},
}

var backupUploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Copy backups that have not been uploaded to the SFTP remote",
	Long: `Uploads every cataloged backup without an upload timestamp to the
configured SFTP remote. The remote's host key must be pinned in the
config; a host presenting any other key is refused.`,
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := buildBackupManager().Upload(backupRemote())
		if n > 0 {
			fmt.Println(i18n.T("backup.uploaded", n))
		}
		return err
	},
}

func init() {
	backupCmd.AddCommand(backupRunCmd, backupListCmd, backupPruneCmd, backupVerifyCmd, backupUploadCmd)
}
