// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/pgkeeper/pgkeeper/internal/model"
	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	dsn := "file:test_" + t.Name() + "?mode=memory&cache=shared"
	s, err := NewStoreFromDSN("sqlite", dsn)
	if err != nil {
		t.Fatalf("NewStoreFromDSN failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrationsApplied(t *testing.T) {
	dsn := "file:test_" + t.Name() + "?mode=memory&cache=shared"
	s, err := NewStoreFromDSN("sqlite", dsn)
	if err != nil {
		t.Fatalf("NewStoreFromDSN failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("failed to open sql.DB for inspection: %v", err)
	}
	defer func() { _ = sqlDB.Close() }()

	for _, table := range []string{"audit_log", "tuning_runs", "drift_events", "roles", "service_events", "backups", "schema_migrations"} {
		var name string
		err := sqlDB.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Fatalf("expected table %s to exist after migrations: %v", table, err)
		}
	}
}

func TestAuditLogRoundtrip(t *testing.T) {
	s := newTestStore(t)

	if err := s.LogAction("optimize", "applied web profile"); err != nil {
		t.Fatalf("LogAction failed: %v", err)
	}
	if err := s.LogAction("backup", "dumped appdb"); err != nil {
		t.Fatalf("LogAction failed: %v", err)
	}

	entries, err := s.GetAuditLog(10)
	if err != nil {
		t.Fatalf("GetAuditLog failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].Action != "backup" {
		t.Errorf("expected newest entry first, got action %q", entries[0].Action)
	}
	if entries[1].Details != "applied web profile" {
		t.Errorf("unexpected details: %q", entries[1].Details)
	}
}

func TestAuditLogLimit(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		if err := s.LogAction("tick", ""); err != nil {
			t.Fatalf("LogAction failed: %v", err)
		}
	}
	entries, err := s.GetAuditLog(3)
	if err != nil {
		t.Fatalf("GetAuditLog failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected limit of 3 entries, got %d", len(entries))
	}
}

func TestTuningRunsRoundtrip(t *testing.T) {
	s := newTestStore(t)

	run := model.TuningRun{Spec: "8 cpu / 16384 MB / ssd", Workload: "web", DryRun: false}
	if err := s.RecordTuningRun(run); err != nil {
		t.Fatalf("RecordTuningRun failed: %v", err)
	}
	runs, err := s.ListTuningRuns(0)
	if err != nil {
		t.Fatalf("ListTuningRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 tuning run, got %d", len(runs))
	}
	if runs[0].Workload != "web" || runs[0].DryRun {
		t.Errorf("unexpected run: %+v", runs[0])
	}
	if runs[0].AppliedAt.IsZero() {
		t.Errorf("expected AppliedAt to be filled in")
	}
}

func TestDriftEventsRoundtrip(t *testing.T) {
	s := newTestStore(t)

	ev := model.DriftEvent{
		Classification: model.DriftCritical,
		Details:        "cpu 4 -> 8, memory 8192 -> 16384",
		Reoptimized:    true,
	}
	if err := s.RecordDriftEvent(ev); err != nil {
		t.Fatalf("RecordDriftEvent failed: %v", err)
	}
	events, err := s.ListDriftEvents(5)
	if err != nil {
		t.Fatalf("ListDriftEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 drift event, got %d", len(events))
	}
	if events[0].Classification != model.DriftCritical {
		t.Errorf("expected critical classification, got %q", events[0].Classification)
	}
	if !events[0].Reoptimized {
		t.Errorf("expected reoptimized flag preserved")
	}
}

func TestSaveRolesReplacesSnapshot(t *testing.T) {
	s := newTestStore(t)

	first := []model.DatabaseRole{
		{Name: "app", Password: "SCRAM-SHA-256$4096:aaa"},
		{Name: "reporting", Password: "SCRAM-SHA-256$4096:bbb"},
	}
	if err := s.SaveRoles(first); err != nil {
		t.Fatalf("SaveRoles failed: %v", err)
	}

	second := []model.DatabaseRole{
		{Name: "app", Password: "SCRAM-SHA-256$4096:ccc"},
	}
	if err := s.SaveRoles(second); err != nil {
		t.Fatalf("SaveRoles replace failed: %v", err)
	}

	roles, err := s.GetRoles()
	if err != nil {
		t.Fatalf("GetRoles failed: %v", err)
	}
	if len(roles) != 1 {
		t.Fatalf("expected snapshot to be replaced, got %d roles", len(roles))
	}
	if roles[0].Name != "app" || roles[0].Password != "SCRAM-SHA-256$4096:ccc" {
		t.Errorf("unexpected role after replace: %+v", roles[0])
	}
}

func TestGetRolesEmpty(t *testing.T) {
	s := newTestStore(t)

	roles, err := s.GetRoles()
	if err != nil {
		t.Fatalf("GetRoles on empty store failed: %v", err)
	}
	if len(roles) != 0 {
		t.Fatalf("expected no roles before first sync, got %d", len(roles))
	}
}

func TestServiceEventsFilterByUnit(t *testing.T) {
	s := newTestStore(t)

	events := []model.ServiceEvent{
		{Unit: "postgresql", Kind: "failure", Detail: "inactive"},
		{Unit: "pgbouncer", Kind: "failure", Detail: "inactive"},
		{Unit: "postgresql", Kind: "recovered", Detail: ""},
	}
	for _, ev := range events {
		if err := s.RecordServiceEvent(ev); err != nil {
			t.Fatalf("RecordServiceEvent failed: %v", err)
		}
	}

	got, err := s.ListServiceEvents("postgresql", 0)
	if err != nil {
		t.Fatalf("ListServiceEvents failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 postgresql events, got %d", len(got))
	}
	if got[0].Kind != "recovered" {
		t.Errorf("expected newest event first, got kind %q", got[0].Kind)
	}

	all, err := s.ListServiceEvents("", 0)
	if err != nil {
		t.Fatalf("ListServiceEvents unfiltered failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events unfiltered, got %d", len(all))
	}
}

func TestBackupCatalog(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AddBackup(model.BackupRecord{
		Database:  "appdb",
		Path:      "/var/backups/pgkeeper/appdb-20260831T120000Z.sql.zst",
		SizeBytes: 1024,
		SHA256:    "deadbeef",
	})
	if err != nil {
		t.Fatalf("AddBackup failed: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected a non-zero backup id")
	}

	backups, err := s.ListBackups()
	if err != nil {
		t.Fatalf("ListBackups failed: %v", err)
	}
	if len(backups) != 1 {
		t.Fatalf("expected 1 backup, got %d", len(backups))
	}
	if !backups[0].UploadedAt.IsZero() {
		t.Errorf("expected fresh backup to have no upload time")
	}

	uploadedAt := time.Date(2026, 8, 31, 13, 0, 0, 0, time.UTC)
	if err := s.MarkBackupUploaded(id, uploadedAt); err != nil {
		t.Fatalf("MarkBackupUploaded failed: %v", err)
	}
	backups, err = s.ListBackups()
	if err != nil {
		t.Fatalf("ListBackups after upload failed: %v", err)
	}
	if backups[0].UploadedAt.IsZero() {
		t.Errorf("expected upload time to be recorded")
	}

	if err := s.DeleteBackup(id); err != nil {
		t.Fatalf("DeleteBackup failed: %v", err)
	}
	backups, err = s.ListBackups()
	if err != nil {
		t.Fatalf("ListBackups after delete failed: %v", err)
	}
	if len(backups) != 0 {
		t.Fatalf("expected empty catalog after delete, got %d", len(backups))
	}
}

func TestNewSetsDefaultStore(t *testing.T) {
	dsn := "file:test_" + t.Name() + "?mode=memory&cache=shared"
	if _, err := New("sqlite", dsn); err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		if Default() != nil {
			_ = Default().Close()
		}
	})
	if !IsInitialized() {
		t.Fatalf("expected store to be initialized after New")
	}
	if Default() == nil {
		t.Fatalf("expected Default to return the store")
	}
}

func TestNewUnknownDBType(t *testing.T) {
	if _, err := NewStoreFromDSN("oracle", "whatever"); err == nil {
		t.Fatalf("expected error for unsupported database type")
	}
}
