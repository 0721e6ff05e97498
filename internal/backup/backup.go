// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

// Package backup produces zstd-compressed pg_dump archives, keeps a
// catalog of them in the state store, prunes old ones and copies them
// offsite over SFTP.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pgkeeper/pgkeeper/internal/logging"
	"github.com/pgkeeper/pgkeeper/internal/model"
	"github.com/pgkeeper/pgkeeper/internal/store"
)

// GlobalsName is the catalog entry for the pg_dumpall globals dump.
const GlobalsName = "globals"

// dumpFunc writes a logical dump of one database to w. Tests substitute a
// fake; the default shells out to pg_dump / pg_dumpall.
var dumpFunc = runDump

func runDump(ctx context.Context, database string, w io.Writer) error {
	var cmd *exec.Cmd
	if database == GlobalsName {
		cmd = exec.CommandContext(ctx, "pg_dumpall", "--globals-only")
	} else {
		cmd = exec.CommandContext(ctx, "pg_dump", database)
	}
	cmd.Stdout = w
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w", cmd.Path, err)
	}
	return nil
}

// Manager runs and maintains backups for a set of databases.
type Manager struct {
	Dir            string
	Databases      []string
	RetentionDays  int
	RetentionCount int
	Store          store.Store
}

// Run dumps every configured database plus the cluster globals and
// catalogs the results. One failing database does not stop the rest; the
// returned error aggregates the failures.
func (m *Manager) Run(ctx context.Context) ([]model.BackupRecord, error) {
	if err := os.MkdirAll(m.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create backup dir: %w", err)
	}

	targets := append([]string{GlobalsName}, m.Databases...)
	var records []model.BackupRecord
	var firstErr error
	for _, db := range targets {
		rec, err := m.dumpOne(ctx, db)
		if err != nil {
			logging.Errorf("backup of %s failed: %v", db, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("backup of %s failed: %w", db, err)
			}
			continue
		}
		records = append(records, rec)
	}
	if m.Store != nil && len(records) > 0 {
		detail := fmt.Sprintf("%d of %d dumps succeeded", len(records), len(targets))
		if err := m.Store.LogAction("backup.run", detail); err != nil {
			logging.Warnf("failed to record audit entry: %v", err)
		}
	}
	return records, firstErr
}

func (m *Manager) dumpOne(ctx context.Context, database string) (model.BackupRecord, error) {
	now := time.Now().UTC()
	name := fmt.Sprintf("%s-%s.sql.zst", database, now.Format("20060102T150405Z"))
	path := filepath.Join(m.Dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return model.BackupRecord{}, fmt.Errorf("failed to create %s: %w", path, err)
	}

	hasher := sha256.New()
	zw, err := zstd.NewWriter(io.MultiWriter(f, hasher))
	if err != nil {
		_ = f.Close()
		return model.BackupRecord{}, fmt.Errorf("create zstd writer: %w", err)
	}

	dumpErr := dumpFunc(ctx, database, zw)
	if cerr := zw.Close(); dumpErr == nil {
		dumpErr = cerr
	}
	if cerr := f.Close(); dumpErr == nil {
		dumpErr = cerr
	}
	if dumpErr != nil {
		_ = os.Remove(path)
		return model.BackupRecord{}, dumpErr
	}

	info, err := os.Stat(path)
	if err != nil {
		return model.BackupRecord{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	rec := model.BackupRecord{
		Database:  database,
		Path:      path,
		SizeBytes: info.Size(),
		SHA256:    hex.EncodeToString(hasher.Sum(nil)),
		CreatedAt: now,
	}
	if m.Store != nil {
		id, err := m.Store.AddBackup(rec)
		if err != nil {
			return rec, fmt.Errorf("dump written but cataloging failed: %w", err)
		}
		rec.ID = id
	}
	logging.Infof("backed up %s to %s (%d bytes)", database, path, rec.SizeBytes)
	return rec, nil
}

// Prune removes backups past the retention window. Age and count limits
// both apply per database; whichever removes more wins. Catalog rows and
// files are removed together, and a file already gone is not an error.
func (m *Manager) Prune(ctx context.Context) ([]model.BackupRecord, error) {
	all, err := m.Store.ListBackups()
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	byDB := make(map[string][]model.BackupRecord)
	for _, rec := range all {
		byDB[rec.Database] = append(byDB[rec.Database], rec)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -m.RetentionDays)
	var pruned []model.BackupRecord
	for _, recs := range byDB {
		sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
		for i, rec := range recs {
			tooOld := m.RetentionDays > 0 && rec.CreatedAt.Before(cutoff)
			overCount := m.RetentionCount > 0 && i >= m.RetentionCount
			if !tooOld && !overCount {
				continue
			}
			if err := os.Remove(rec.Path); err != nil && !os.IsNotExist(err) {
				logging.Warnf("could not remove %s: %v", rec.Path, err)
				continue
			}
			if err := m.Store.DeleteBackup(rec.ID); err != nil {
				return pruned, fmt.Errorf("failed to drop catalog row %d: %w", rec.ID, err)
			}
			pruned = append(pruned, rec)
		}
	}
	if len(pruned) > 0 {
		logging.Infof("pruned %d backups", len(pruned))
		if err := m.Store.LogAction("backup.prune", fmt.Sprintf("%d removed", len(pruned))); err != nil {
			logging.Warnf("failed to record audit entry: %v", err)
		}
	}
	return pruned, nil
}

// VerifyResult is the outcome of checking one cataloged backup.
type VerifyResult struct {
	Record model.BackupRecord
	OK     bool
	Detail string
}

// Verify re-hashes every cataloged file and confirms the archive is
// readable zstd. It reports problems rather than failing on the first.
func (m *Manager) Verify(ctx context.Context) ([]VerifyResult, error) {
	all, err := m.Store.ListBackups()
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	var results []VerifyResult
	for _, rec := range all {
		results = append(results, verifyOne(rec))
	}
	return results, nil
}

func verifyOne(rec model.BackupRecord) VerifyResult {
	f, err := os.Open(rec.Path)
	if err != nil {
		return VerifyResult{Record: rec, Detail: fmt.Sprintf("missing: %v", err)}
	}
	defer func() { _ = f.Close() }()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return VerifyResult{Record: rec, Detail: fmt.Sprintf("read failed: %v", err)}
	}
	sum := hex.EncodeToString(hasher.Sum(nil))
	if sum != rec.SHA256 {
		return VerifyResult{Record: rec, Detail: "checksum mismatch"}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return VerifyResult{Record: rec, Detail: fmt.Sprintf("seek failed: %v", err)}
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		return VerifyResult{Record: rec, Detail: fmt.Sprintf("create zstd reader: %v", err)}
	}
	defer zr.Close()
	if _, err := io.Copy(io.Discard, zr); err != nil {
		return VerifyResult{Record: rec, Detail: fmt.Sprintf("corrupt archive: %v", err)}
	}

	return VerifyResult{Record: rec, OK: true}
}
