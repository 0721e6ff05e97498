// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

package tuning

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pgkeeper/pgkeeper/internal/fsutil"
	"github.com/pgkeeper/pgkeeper/internal/logging"
	"github.com/pgkeeper/pgkeeper/internal/sysd"
)

// Applier writes rendered config files and bounces the affected services.
type Applier struct {
	Systemd *sysd.Manager

	PostgresService  string
	PgbouncerService string

	// PostgresPath is the conf.d include file, PgbouncerPath the full ini.
	PostgresPath  string
	PgbouncerPath string

	Wiring PgbouncerWiring
}

// ApplyResult reports what an Apply call actually did.
type ApplyResult struct {
	PostgresChanged  bool
	PgbouncerChanged bool
	// Rendered content, also filled on dry runs.
	PostgresConf  string
	PgbouncerConf string
}

// Apply renders the profile and, unless dryRun is set, writes both config
// files and bounces the services whose file changed. PostgreSQL gets a full
// restart because shared_buffers and max_connections are not reloadable;
// pgbouncer only needs a reload. Files are written atomically with a .bak
// of the previous content.
func (a *Applier) Apply(ctx context.Context, p Profile, specSummary string, dryRun bool) (ApplyResult, error) {
	var res ApplyResult
	now := time.Now()

	pgConf, err := RenderPostgres(p, specSummary, now)
	if err != nil {
		return res, fmt.Errorf("render postgresql config: %w", err)
	}
	bouncerConf, err := RenderPgbouncer(p, a.Wiring, specSummary, now)
	if err != nil {
		return res, fmt.Errorf("render pgbouncer config: %w", err)
	}
	res.PostgresConf = pgConf
	res.PgbouncerConf = bouncerConf

	res.PostgresChanged = contentDiffers(a.PostgresPath, pgConf)
	res.PgbouncerChanged = contentDiffers(a.PgbouncerPath, bouncerConf)

	if dryRun {
		return res, nil
	}

	if res.PostgresChanged {
		if err := fsutil.WriteFileAtomic(a.PostgresPath, []byte(pgConf), 0644, true); err != nil {
			return res, fmt.Errorf("write %s: %w", a.PostgresPath, err)
		}
		logging.Infof("wrote %s", a.PostgresPath)
		if err := a.Systemd.Restart(ctx, a.PostgresService); err != nil {
			return res, err
		}
		logging.Infof("restarted %s", a.PostgresService)
	} else {
		logging.Debugf("%s unchanged, skipping restart", filepath.Base(a.PostgresPath))
	}

	if res.PgbouncerChanged {
		if err := fsutil.WriteFileAtomic(a.PgbouncerPath, []byte(bouncerConf), 0644, true); err != nil {
			return res, fmt.Errorf("write %s: %w", a.PgbouncerPath, err)
		}
		logging.Infof("wrote %s", a.PgbouncerPath)
		if err := a.Systemd.Reload(ctx, a.PgbouncerService); err != nil {
			return res, err
		}
		logging.Infof("reloaded %s", a.PgbouncerService)
	} else {
		logging.Debugf("%s unchanged, skipping reload", filepath.Base(a.PgbouncerPath))
	}

	return res, nil
}

// contentDiffers compares desired content to what is on disk, ignoring the
// generation timestamp line so an unchanged profile is recognized as such.
func contentDiffers(path, desired string) bool {
	existing, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	return !bytes.Equal(stripGeneratedLine(existing), stripGeneratedLine([]byte(desired)))
}

func stripGeneratedLine(data []byte) []byte {
	var out [][]byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		trimmed := bytes.TrimLeft(line, "#; ")
		if bytes.HasPrefix(trimmed, []byte("Generated ")) {
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, []byte("\n"))
}
