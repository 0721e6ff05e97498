// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface for pgkeeper using the Cobra
// library. It defines the root command, subcommands (init, optimize,
// watch, users, health, backup), flags, and the shared bootstrap that
// loads configuration and opens the state store.

package cli

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pgkeeper/pgkeeper/internal/config"
	"github.com/pgkeeper/pgkeeper/internal/hardware"
	"github.com/pgkeeper/pgkeeper/internal/health"
	"github.com/pgkeeper/pgkeeper/internal/i18n"
	"github.com/pgkeeper/pgkeeper/internal/logging"
	"github.com/pgkeeper/pgkeeper/internal/store"
	"github.com/pgkeeper/pgkeeper/internal/sysd"
	"github.com/pgkeeper/pgkeeper/internal/tui"
	"github.com/pgkeeper/pgkeeper/internal/tuning"
)

var version = "dev"   // this will be set by the linker
var gitCommit = "dev" // set at build time with the short commit SHA
var buildDate = ""    // set at build time (RFC3339)
var cfgFile string
var verbose bool
var showVersionFlag bool

var appConfig config.Config

// setupDefaultServices loads the configuration, initializes i18n and opens
// the state store. It runs before every subcommand.
func setupDefaultServices(cmd *cobra.Command, args []string) error {
	optionalConfigPath, err := getConfigPathFromCli(cmd)
	if err != nil {
		return err
	}

	appConfig, err = config.LoadConfig[config.Config](cmd, config.Defaults(), optionalConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	// First run: persist a default config so subsequent runs have a file
	// to inspect and edit.
	if optionalConfigPath == nil && !config.FileExists() {
		if writeErr := config.WriteConfigFile(&appConfig, false); writeErr != nil {
			logging.Warnf("could not write default config file: %v", writeErr)
		} else {
			logging.Infof("wrote default config to user config path")
		}
	}

	// Guard the values nothing works without, in case the user's config
	// file carries empty strings for them.
	defaults := config.Defaults()
	if appConfig.Database.Type == "" {
		appConfig.Database.Type = defaults["database.type"].(string)
	}
	if appConfig.Database.Dsn == "" {
		appConfig.Database.Dsn = defaults["database.dsn"].(string)
	}
	if appConfig.Language == "" {
		appConfig.Language = defaults["language"].(string)
	}

	i18n.Init(appConfig.Language)

	if !store.IsInitialized() {
		if _, err := store.New(appConfig.Database.Type, appConfig.Database.Dsn); err != nil {
			return fmt.Errorf("%s", i18n.T("config.error_init_db", err))
		}
	}

	return nil
}

func getConfigPathFromCli(cmd *cobra.Command) (*string, error) {
	// Only honor --config when the user explicitly set it.
	if cmd.Flags().Changed("config") {
		path, err := cmd.Flags().GetString("config")
		if err != nil {
			return nil, fmt.Errorf("could not read --config flag: %w", err)
		}
		if path == "" {
			return nil, nil
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
		}
		return &path, nil
	}
	return nil, nil
}

// Execute runs the CLI entrypoint. The main package calls this function
// and handles process exit.
func Execute() error {
	rootCmd := NewRootCmd()
	return rootCmd.Execute()
}

// NewRootCmd creates and configures a new root cobra command. Tests use
// it to build fresh, isolated instances.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pgkeeper",
		Short: "pgkeeper keeps a PostgreSQL server tuned, pooled and backed up.",
		Long: `pgkeeper provisions and maintains a single PostgreSQL server.
It reads the host's hardware (CPUs, memory, disks), derives tuned
postgresql.conf and pgbouncer.ini settings from it, and re-optimizes
when the hardware changes. It also mirrors login roles into the
pgbouncer auth file, restarts failed services with backoff, and takes
compressed logical backups with an optional offsite copy.

Running without a subcommand will launch the interactive status
dashboard.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if showVersionFlag {
				fmt.Printf("%s\n", compositeVersion())
				os.Exit(0)
			}
			if verbose {
				logging.SetDebug(true)
			}
			return setupDefaultServices(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Config and store are ready; launch the dashboard. Without
			// a terminal (cron, pipes) print the one-shot status instead.
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return statusCmd.RunE(cmd, args)
			}
			if err := tui.Run(dashboardDeps()); err != nil {
				logging.Errorf("%v", err)
			}
			return nil
		},
	}

	cmd.Version = compositeVersion()

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(&showVersionFlag, "version", "V", false, "Print version and exit")
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	cmd.PersistentFlags().String("language", "en", `CLI language ("en", "de")`)

	if optimizeCmd.Flags().Lookup("dry-run") == nil {
		optimizeCmd.Flags().Bool("dry-run", false, "Show the rendered configs without writing or restarting anything")
	}
	if optimizeCmd.Flags().Lookup("workload") == nil {
		optimizeCmd.Flags().String("workload", "", `Workload profile ("web", "oltp", "dw", "mixed"); overrides config`)
	}
	if detectCmd.Flags().Lookup("json") == nil {
		detectCmd.Flags().Bool("json", false, "Print the detected hardware as JSON")
	}
	if watchCmd.Flags().Lookup("once") == nil {
		watchCmd.Flags().Bool("once", false, "Run a single drift check instead of looping")
	}
	if dbMaintainCmd.Flags().Lookup("skip-integrity") == nil {
		dbMaintainCmd.Flags().Bool("skip-integrity", false, "Skip integrity_check (SQLite) during maintenance")
	}
	if dbMaintainCmd.Flags().Lookup("timeout") == nil {
		dbMaintainCmd.Flags().Int("timeout", 0, "Timeout in seconds for maintenance (0 means no timeout)")
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pgkeeper %s\n", compositeVersion())
		},
	}

	cmd.AddCommand(
		initCmd,
		detectCmd,
		optimizeCmd,
		watchCmd,
		usersCmd,
		healthCmd,
		backupCmd,
		statusCmd,
		dbMaintainCmd,
		versionCmd,
	)

	return cmd
}

func compositeVersion() string {
	v, c, d := resolveBuildVersion(nil)
	out := v
	if c != "" && c != "dev" {
		out = out + " (" + c + ")"
	}
	if d != "" {
		out = out + " built: " + d
	}
	return out
}

// resolveBuildVersion computes the best-available version, commit and build
// date for the running binary. If info is nil, it reads build info from
// the runtime. Separated out to make unit testing straightforward.
func resolveBuildVersion(info *debug.BuildInfo) (versionOut, commitOut, dateOut string) {
	resolvedVersion := version
	resolvedCommit := gitCommit
	resolvedDate := buildDate

	var ok bool
	if info == nil {
		if infoLocal, found := debug.ReadBuildInfo(); found {
			info = infoLocal
			ok = true
		}
	} else {
		ok = true
	}

	if ok && info != nil {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			resolvedVersion = info.Main.Version
		}
		if (resolvedVersion == "dev" || resolvedVersion == "(devel)") && info.Deps != nil {
			for _, dep := range info.Deps {
				if dep.Path == "github.com/pgkeeper/pgkeeper" && dep.Version != "" {
					resolvedVersion = dep.Version
					break
				}
			}
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if s.Value != "" {
					resolvedCommit = s.Value
				}
			case "vcs.time":
				if s.Value != "" {
					resolvedDate = s.Value
				}
			}
		}
	}

	if resolvedVersion == "dev" && gitCommit != "dev" && gitCommit != "" {
		resolvedVersion = gitCommit
	}

	return resolvedVersion, resolvedCommit, resolvedDate
}

// dashboardDeps wires the collaborators the status dashboard reads from.
func dashboardDeps() tui.Deps {
	return tui.Deps{
		Checker:  buildChecker(),
		Detector: hardware.NewDetector(),
		StateDir: appConfig.StateDir,
		Store:    store.Default(),
	}
}

func buildChecker() *health.Checker {
	return &health.Checker{
		Systemd:   sysd.NewManager(),
		Units:     appConfig.Health.Units,
		TCPChecks: appConfig.Health.TCPChecks,
		Dsn:       appConfig.Postgres.Dsn,
	}
}

func buildApplier() *tuning.Applier {
	return &tuning.Applier{
		Systemd:          sysd.NewManager(),
		PostgresService:  appConfig.Postgres.Service,
		PgbouncerService: appConfig.Pgbouncer.Service,
		PostgresPath:     appConfig.Postgres.ConfDir + "/" + appConfig.Postgres.TuningFile,
		PgbouncerPath:    appConfig.Pgbouncer.ConfigFile,
		Wiring:           tuning.DefaultPgbouncerWiring(appConfig.Pgbouncer.UserlistFile),
	}
}
