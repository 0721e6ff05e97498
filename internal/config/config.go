// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads and persists the pgkeeper configuration. Values are
// merged from (highest precedence first) CLI flags, environment variables
// with the PGKEEPER_ prefix, an explicit --config file, and the standard
// user/system config locations.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the root configuration for pgkeeper.
type Config struct {
	// Language selects the CLI output language ("en", "de").
	Language string `mapstructure:"language" yaml:"language"`

	// Database configures the pgkeeper state store (audit log, tuning
	// history, snapshots). Not the managed PostgreSQL server.
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`

	// Postgres describes the managed PostgreSQL server.
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`

	// Pgbouncer describes the managed pgbouncer instance.
	Pgbouncer PgbouncerConfig `mapstructure:"pgbouncer" yaml:"pgbouncer"`

	// StateDir holds the JSON snapshot files (hardware specs, role
	// snapshot, recovery state) written for operator inspection.
	StateDir string `mapstructure:"state_dir" yaml:"state_dir"`

	// Workload tilts the tuning formulas ("web", "oltp", "dw", "mixed").
	Workload string `mapstructure:"workload" yaml:"workload"`

	Thresholds ThresholdConfig `mapstructure:"thresholds" yaml:"thresholds"`
	Health     HealthConfig    `mapstructure:"health" yaml:"health"`
	Backup     BackupConfig    `mapstructure:"backup" yaml:"backup"`
	Watch      WatchConfig     `mapstructure:"watch" yaml:"watch"`
}

// DatabaseConfig selects the state store backend.
type DatabaseConfig struct {
	Type string `mapstructure:"type" yaml:"type"`
	Dsn  string `mapstructure:"dsn" yaml:"dsn"`
}

// PostgresConfig describes the managed PostgreSQL server.
type PostgresConfig struct {
	// Dsn is a superuser connection string; usersync reads pg_authid
	// through it and the health watcher uses it for SQL pings.
	Dsn string `mapstructure:"dsn" yaml:"dsn"`
	// Service is the systemd unit name.
	Service string `mapstructure:"service" yaml:"service"`
	// ConfDir is the conf.d include directory the tuning file is written to.
	ConfDir string `mapstructure:"conf_dir" yaml:"conf_dir"`
	// TuningFile is the file name written inside ConfDir.
	TuningFile string `mapstructure:"tuning_file" yaml:"tuning_file"`
}

// PgbouncerConfig describes the managed pgbouncer instance.
type PgbouncerConfig struct {
	Service      string `mapstructure:"service" yaml:"service"`
	ConfigFile   string `mapstructure:"config_file" yaml:"config_file"`
	UserlistFile string `mapstructure:"userlist_file" yaml:"userlist_file"`
}

// ThresholdConfig holds the relative-change thresholds (in percent) above
// which a hardware drift is reported.
type ThresholdConfig struct {
	CPUPercent    int `mapstructure:"cpu_percent" yaml:"cpu_percent"`
	MemoryPercent int `mapstructure:"memory_percent" yaml:"memory_percent"`
	DiskPercent   int `mapstructure:"disk_percent" yaml:"disk_percent"`
}

// HealthConfig configures the disaster-recovery watcher.
type HealthConfig struct {
	// Interval between check rounds.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	// Units are systemd unit names to watch and restart on failure.
	Units []string `mapstructure:"units" yaml:"units"`
	// TCPChecks are host:port endpoints that must accept connections.
	TCPChecks []string `mapstructure:"tcp_checks" yaml:"tcp_checks"`
	// MaxAttempts is the number of restarts before the watcher gives up
	// on a unit until it recovers on its own.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// BackupConfig configures backup runs and the optional offsite copy.
type BackupConfig struct {
	Dir            string       `mapstructure:"dir" yaml:"dir"`
	Databases      []string     `mapstructure:"databases" yaml:"databases"`
	RetentionDays  int          `mapstructure:"retention_days" yaml:"retention_days"`
	RetentionCount int          `mapstructure:"retention_count" yaml:"retention_count"`
	Remote         RemoteConfig `mapstructure:"remote" yaml:"remote"`
}

// RemoteConfig describes the SFTP target for offsite backup copies. The
// host key must be pinned; uploads to hosts presenting a different key are
// refused.
type RemoteConfig struct {
	Host    string `mapstructure:"host" yaml:"host"`
	User    string `mapstructure:"user" yaml:"user"`
	Path    string `mapstructure:"path" yaml:"path"`
	KeyFile string `mapstructure:"key_file" yaml:"key_file"`
	HostKey string `mapstructure:"host_key" yaml:"host_key"`
}

// WatchConfig configures the hardware change detector daemon.
type WatchConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// getConfigPath returns the full path for the configuration file.
func getConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		// System-wide configuration paths
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Pgkeeper")
		default: // Linux, macOS, etc.
			configDir = "/etc/pgkeeper"
		}
	} else {
		// User-specific configuration paths
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "pgkeeper")
	}

	return filepath.Join(configDir, "pgkeeper.yaml"), nil
}

// FileExists reports whether a config file is present in any of the
// standard locations (user path, system path, current directory).
func FileExists() bool {
	var candidates []string
	if p, err := getConfigPath(false); err == nil {
		candidates = append(candidates, p)
	}
	if p, err := getConfigPath(true); err == nil {
		candidates = append(candidates, p)
	}
	candidates = append(candidates, "pgkeeper.yaml")
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// LoadConfig merges defaults, config files, environment variables and CLI
// flags into a configuration value of type T.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, additionalConfigFilePath *string) (T, error) {
	var c T
	v := viper.New()

	// 1. Set defaults
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// 2. Set up file search paths
	v.SetConfigName("pgkeeper")
	v.SetConfigType("yaml")

	// 3. Add explicit config file path if provided via --config flag.
	// This has the highest precedence for file-based configuration.
	if additionalConfigFilePath != nil {
		v.SetConfigFile(*additionalConfigFilePath)
	}

	// 4. Add standard config locations
	if userConfigPath, err := getConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := getConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".") // Look for pgkeeper.yaml in current dir

	// 5. Read in the primary config file.
	if err := v.ReadInConfig(); err != nil {
		// It's okay if the file is not found, but other errors are fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
	}

	// 6. Read from environment variables
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("pgkeeper")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 7. Bind CLI flags
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return c, err
	}

	// parse config
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}

	return c, nil
}

// WriteConfigFile persists the configuration as YAML to the user or system
// config path.
func WriteConfigFile[T any](c *T, system bool) error {
	path, err := getConfigPath(system)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	// Create directory if it doesn't exist
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}

	err = os.WriteFile(path, data, 0600) // DSNs may contain credentials
	if err != nil {
		return err
	}

	return nil
}

// Defaults returns the default configuration values keyed by viper path.
func Defaults() map[string]any {
	return map[string]any{
		"language":                  "en",
		"database.type":             "sqlite",
		"database.dsn":              "./pgkeeper.db",
		"postgres.dsn":              "postgres://postgres@localhost:5432/postgres",
		"postgres.service":          "postgresql",
		"postgres.conf_dir":         "/etc/postgresql/conf.d",
		"postgres.tuning_file":      "99-pgkeeper.conf",
		"pgbouncer.service":         "pgbouncer",
		"pgbouncer.config_file":     "/etc/pgbouncer/pgbouncer.ini",
		"pgbouncer.userlist_file":   "/etc/pgbouncer/userlist.txt",
		"state_dir":                 "/var/lib/pgkeeper",
		"workload":                  "mixed",
		"thresholds.cpu_percent":    10,
		"thresholds.memory_percent": 10,
		"thresholds.disk_percent":   20,
		"health.interval":           "60s",
		"health.units":              []string{"postgresql", "pgbouncer"},
		"health.max_attempts":       5,
		"backup.dir":                "/var/backups/pgkeeper",
		"backup.retention_days":     14,
		"backup.retention_count":    0,
		"watch.interval":            "5m",
	}
}
