// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgkeeper/pgkeeper/internal/hardware"
	"github.com/pgkeeper/pgkeeper/internal/i18n"
	"github.com/pgkeeper/pgkeeper/internal/logging"
	"github.com/pgkeeper/pgkeeper/internal/model"
	"github.com/pgkeeper/pgkeeper/internal/store"
	"github.com/pgkeeper/pgkeeper/internal/tuning"
)

// detectCmd prints the hardware pgkeeper sees without touching anything.
var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect and print the host hardware",
	Long: `Reads CPU count, total memory and the disks backing the data
directory, and prints what the tuning formulas would work from. Makes no
changes.`,
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := hardware.NewDetector().Detect()
		if err != nil {
			return fmt.Errorf("%s", i18n.T("detect.error", err))
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(spec)
		}

		fmt.Println(i18n.T("detect.summary", spec.String()))
		fmt.Println(i18n.T("detect.cpu", spec.CPUCount, spec.CPUModel))
		fmt.Println(i18n.T("detect.memory", spec.TotalMemoryMB))
		for _, d := range spec.Disks {
			kind := "ssd"
			if d.Rotational {
				kind = "hdd"
			}
			fmt.Println(i18n.T("detect.disk", d.Mount, d.Device, kind, d.TotalGB, d.FreeGB))
		}
		return nil
	},
}

// optimizeCmd computes a tuning profile for the current hardware and
// applies it.
var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Tune postgresql.conf and pgbouncer.ini for this hardware",
	Long: `Detects the host hardware, computes memory, connection and
parallelism settings for the configured workload, and writes them to the
PostgreSQL conf.d include and the pgbouncer config. PostgreSQL is
restarted (shared_buffers cannot be reloaded) and pgbouncer reloaded, but
only when the rendered content actually changed.

With --dry-run the rendered configs are printed instead of applied.`,
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		workloadFlag, _ := cmd.Flags().GetString("workload")
		return runOptimize(cmd.Context(), dryRun, workloadFlag)
	},
}

func runOptimize(ctx context.Context, dryRun bool, workloadFlag string) error {
	workloadName := appConfig.Workload
	if workloadFlag != "" {
		workloadName = workloadFlag
	}
	workload, err := tuning.ParseWorkload(workloadName)
	if err != nil {
		return err
	}

	spec, err := hardware.NewDetector().Detect()
	if err != nil {
		return fmt.Errorf("%s", i18n.T("detect.error", err))
	}

	profile := tuning.Compute(spec, workload)
	result, err := buildApplier().Apply(ctx, profile, spec.String(), dryRun)
	if err != nil {
		return fmt.Errorf("%s", i18n.T("optimize.error_apply", err))
	}

	if dryRun {
		fmt.Println(result.PostgresConf)
		fmt.Println(result.PgbouncerConf)
		return nil
	}

	if !result.PostgresChanged && !result.PgbouncerChanged {
		fmt.Println(i18n.T("optimize.unchanged"))
	} else {
		fmt.Println(i18n.T("optimize.applied", spec.String(), string(workload)))
	}

	if err := hardware.SaveSnapshot(appConfig.StateDir, spec); err != nil {
		logging.Warnf("could not save hardware snapshot: %v", err)
	}

	st := store.Default()
	run := model.TuningRun{Spec: spec.String(), Workload: string(workload), DryRun: dryRun, AppliedAt: time.Now().UTC()}
	if err := st.RecordTuningRun(run); err != nil {
		logging.Warnf("could not record tuning run: %v", err)
	}
	if err := st.LogAction("optimize", fmt.Sprintf("%s workload=%s", spec.String(), workload)); err != nil {
		logging.Warnf("failed to record audit entry: %v", err)
	}
	return nil
}

// watchCmd watches for hardware drift and re-optimizes on significant
// changes.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch for hardware changes and re-optimize",
	Long: `Periodically compares the current hardware against the saved
baseline. CPU and memory changes together count as critical, either alone
as a warning; both trigger re-optimization. Disk capacity changes are
informational only. The baseline is updated after every handled change.`,
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")
		if once {
			return driftCheck(cmd.Context())
		}
		interval := appConfig.Watch.Interval
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		logging.Infof("watching hardware every %s", interval)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := driftCheck(cmd.Context()); err != nil {
				logging.Errorf("drift check failed: %v", err)
			}
			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-ticker.C:
			}
		}
	},
}

// driftCheck runs one detect/compare/react cycle.
func driftCheck(ctx context.Context) error {
	cur, err := hardware.NewDetector().Detect()
	if err != nil {
		return fmt.Errorf("%s", i18n.T("detect.error", err))
	}

	ref, ok, err := hardware.LoadSnapshot(appConfig.StateDir)
	if err != nil {
		return fmt.Errorf("could not load hardware baseline: %w", err)
	}
	if !ok {
		logging.Infof("no hardware baseline yet, saving one")
		return hardware.SaveSnapshot(appConfig.StateDir, cur)
	}

	drift := hardware.Compare(ref, cur, hardware.Thresholds{
		CPUPercent:    appConfig.Thresholds.CPUPercent,
		MemoryPercent: appConfig.Thresholds.MemoryPercent,
		DiskPercent:   appConfig.Thresholds.DiskPercent,
	})
	if !drift.HasDrift {
		logging.Debugf("hardware unchanged: %s", cur.String())
		return nil
	}

	logging.Warnf("hardware drift (%s): %s", drift.Classification, drift.Summary())

	reoptimize := drift.Classification != model.DriftInfo
	if reoptimize {
		if err := runOptimize(ctx, false, ""); err != nil {
			logging.Errorf("re-optimization failed: %v", err)
			reoptimize = false
		}
	}

	ev := model.DriftEvent{
		DetectedAt:     time.Now().UTC(),
		Classification: drift.Classification,
		Details:        drift.Summary(),
		Reoptimized:    reoptimize,
	}
	if err := store.Default().RecordDriftEvent(ev); err != nil {
		logging.Warnf("could not record drift event: %v", err)
	}

	// The new spec becomes the baseline either way; repeating the same
	// alert every interval helps nobody.
	return hardware.SaveSnapshot(appConfig.StateDir, cur)
}

// statusCmd prints a one-shot plain-text status summary, for scripts and
// terminals where the dashboard is unwanted.
var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Print a one-shot status summary",
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		results := buildChecker().Run(cmd.Context())
		var b strings.Builder
		for _, r := range results {
			mark := "ok"
			if !r.OK {
				mark = "FAIL"
			}
			fmt.Fprintf(&b, "%-4s %s %s %s\n", mark, r.Kind, r.Target, r.Detail)
		}
		fmt.Print(b.String())

		if spec, err := hardware.NewDetector().Detect(); err == nil {
			fmt.Println(i18n.T("detect.summary", spec.String()))
		}

		for _, r := range results {
			if !r.OK {
				os.Exit(1)
			}
		}
		return nil
	},
}
