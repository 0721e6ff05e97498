// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pgkeeper/pgkeeper/internal/model"
	"github.com/uptrace/bun"
)

// BunStore implements Store on top of a *bun.DB. The same implementation
// serves all supported backends; dialect differences live in the SQL
// migrations and in bun itself.
type BunStore struct {
	bun    *bun.DB
	dbType string
}

// row types; kept private so callers only see the model package.

type auditRow struct {
	bun.BaseModel `bun:"table:audit_log"`

	ID        int       `bun:"id,pk,autoincrement"`
	Timestamp time.Time `bun:"timestamp,notnull"`
	Action    string    `bun:"action,notnull"`
	Details   string    `bun:"details"`
}

type tuningRunRow struct {
	bun.BaseModel `bun:"table:tuning_runs"`

	ID        int       `bun:"id,pk,autoincrement"`
	Spec      string    `bun:"spec,notnull"`
	Workload  string    `bun:"workload,notnull"`
	DryRun    bool      `bun:"dry_run,notnull"`
	AppliedAt time.Time `bun:"applied_at,notnull"`
}

type driftEventRow struct {
	bun.BaseModel `bun:"table:drift_events"`

	ID             int       `bun:"id,pk,autoincrement"`
	DetectedAt     time.Time `bun:"detected_at,notnull"`
	Classification string    `bun:"classification,notnull"`
	Details        string    `bun:"details"`
	Reoptimized    bool      `bun:"reoptimized,notnull"`
}

type roleRow struct {
	bun.BaseModel `bun:"table:roles"`

	Name      string    `bun:"name,pk"`
	Password  string    `bun:"password"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

type serviceEventRow struct {
	bun.BaseModel `bun:"table:service_events"`

	ID         int       `bun:"id,pk,autoincrement"`
	Unit       string    `bun:"unit,notnull"`
	Kind       string    `bun:"kind,notnull"`
	Detail     string    `bun:"detail"`
	OccurredAt time.Time `bun:"occurred_at,notnull"`
}

type backupRow struct {
	bun.BaseModel `bun:"table:backups"`

	ID         int          `bun:"id,pk,autoincrement"`
	Database   string       `bun:"database_name,notnull"`
	Path       string       `bun:"path,notnull"`
	SizeBytes  int64        `bun:"size_bytes,notnull"`
	SHA256     string       `bun:"sha256,notnull"`
	CreatedAt  time.Time    `bun:"created_at,notnull"`
	UploadedAt sql.NullTime `bun:"uploaded_at"`
}

// LogAction appends an entry to the audit log.
func (s *BunStore) LogAction(action, details string) error {
	row := &auditRow{Timestamp: time.Now().UTC(), Action: action, Details: details}
	_, err := s.bun.NewInsert().Model(row).Exec(context.Background())
	return err
}

// GetAuditLog returns the most recent audit entries, newest first.
func (s *BunStore) GetAuditLog(limit int) ([]model.AuditLogEntry, error) {
	var rows []auditRow
	q := s.bun.NewSelect().Model(&rows).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(context.Background()); err != nil {
		return nil, err
	}
	out := make([]model.AuditLogEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.AuditLogEntry{ID: r.ID, Timestamp: r.Timestamp, Action: r.Action, Details: r.Details})
	}
	return out, nil
}

// RecordTuningRun stores one optimization run.
func (s *BunStore) RecordTuningRun(run model.TuningRun) error {
	row := &tuningRunRow{Spec: run.Spec, Workload: run.Workload, DryRun: run.DryRun, AppliedAt: run.AppliedAt}
	if row.AppliedAt.IsZero() {
		row.AppliedAt = time.Now().UTC()
	}
	_, err := s.bun.NewInsert().Model(row).Exec(context.Background())
	return err
}

// ListTuningRuns returns recent tuning runs, newest first.
func (s *BunStore) ListTuningRuns(limit int) ([]model.TuningRun, error) {
	var rows []tuningRunRow
	q := s.bun.NewSelect().Model(&rows).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(context.Background()); err != nil {
		return nil, err
	}
	out := make([]model.TuningRun, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.TuningRun{ID: r.ID, Spec: r.Spec, Workload: r.Workload, DryRun: r.DryRun, AppliedAt: r.AppliedAt})
	}
	return out, nil
}

// RecordDriftEvent stores one hardware drift event.
func (s *BunStore) RecordDriftEvent(ev model.DriftEvent) error {
	row := &driftEventRow{
		DetectedAt:     ev.DetectedAt,
		Classification: string(ev.Classification),
		Details:        ev.Details,
		Reoptimized:    ev.Reoptimized,
	}
	if row.DetectedAt.IsZero() {
		row.DetectedAt = time.Now().UTC()
	}
	_, err := s.bun.NewInsert().Model(row).Exec(context.Background())
	return err
}

// ListDriftEvents returns recent drift events, newest first.
func (s *BunStore) ListDriftEvents(limit int) ([]model.DriftEvent, error) {
	var rows []driftEventRow
	q := s.bun.NewSelect().Model(&rows).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(context.Background()); err != nil {
		return nil, err
	}
	out := make([]model.DriftEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.DriftEvent{
			ID:             r.ID,
			DetectedAt:     r.DetectedAt,
			Classification: model.DriftClassification(r.Classification),
			Details:        r.Details,
			Reoptimized:    r.Reoptimized,
		})
	}
	return out, nil
}

// SaveRoles replaces the stored role snapshot in a single transaction.
func (s *BunStore) SaveRoles(roles []model.DatabaseRole) error {
	ctx := context.Background()
	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*roleRow)(nil)).Where("1 = 1").Exec(ctx); err != nil {
			return err
		}
		if len(roles) == 0 {
			return nil
		}
		now := time.Now().UTC()
		rows := make([]roleRow, 0, len(roles))
		for _, r := range roles {
			rows = append(rows, roleRow{Name: r.Name, Password: r.Password, UpdatedAt: now})
		}
		_, err := tx.NewInsert().Model(&rows).Exec(ctx)
		return err
	})
}

// GetRoles returns the stored role snapshot ordered by name. An empty
// result with no error means no snapshot has been taken yet.
func (s *BunStore) GetRoles() ([]model.DatabaseRole, error) {
	var rows []roleRow
	if err := s.bun.NewSelect().Model(&rows).Order("name ASC").Scan(context.Background()); err != nil {
		return nil, err
	}
	out := make([]model.DatabaseRole, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.DatabaseRole{Name: r.Name, Password: r.Password})
	}
	return out, nil
}

// RecordServiceEvent stores one health watcher event.
func (s *BunStore) RecordServiceEvent(ev model.ServiceEvent) error {
	row := &serviceEventRow{Unit: ev.Unit, Kind: ev.Kind, Detail: ev.Detail, OccurredAt: ev.OccurredAt}
	if row.OccurredAt.IsZero() {
		row.OccurredAt = time.Now().UTC()
	}
	_, err := s.bun.NewInsert().Model(row).Exec(context.Background())
	return err
}

// ListServiceEvents returns recent events, optionally filtered by unit.
func (s *BunStore) ListServiceEvents(unit string, limit int) ([]model.ServiceEvent, error) {
	var rows []serviceEventRow
	q := s.bun.NewSelect().Model(&rows).Order("id DESC")
	if unit != "" {
		q = q.Where("unit = ?", unit)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(context.Background()); err != nil {
		return nil, err
	}
	out := make([]model.ServiceEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.ServiceEvent{ID: r.ID, Unit: r.Unit, Kind: r.Kind, Detail: r.Detail, OccurredAt: r.OccurredAt})
	}
	return out, nil
}

// AddBackup inserts a catalog row and returns its ID.
func (s *BunStore) AddBackup(rec model.BackupRecord) (int, error) {
	row := &backupRow{
		Database:  rec.Database,
		Path:      rec.Path,
		SizeBytes: rec.SizeBytes,
		SHA256:    rec.SHA256,
		CreatedAt: rec.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if !rec.UploadedAt.IsZero() {
		row.UploadedAt = sql.NullTime{Time: rec.UploadedAt, Valid: true}
	}
	if _, err := s.bun.NewInsert().Model(row).Exec(context.Background()); err != nil {
		return 0, err
	}
	return row.ID, nil
}

// MarkBackupUploaded records a successful offsite copy.
func (s *BunStore) MarkBackupUploaded(id int, at time.Time) error {
	_, err := s.bun.NewUpdate().
		Model((*backupRow)(nil)).
		Set("uploaded_at = ?", at).
		Where("id = ?", id).
		Exec(context.Background())
	return err
}

// ListBackups returns the backup catalog, newest first.
func (s *BunStore) ListBackups() ([]model.BackupRecord, error) {
	var rows []backupRow
	if err := s.bun.NewSelect().Model(&rows).Order("id DESC").Scan(context.Background()); err != nil {
		return nil, err
	}
	out := make([]model.BackupRecord, 0, len(rows))
	for _, r := range rows {
		rec := model.BackupRecord{
			ID:        r.ID,
			Database:  r.Database,
			Path:      r.Path,
			SizeBytes: r.SizeBytes,
			SHA256:    r.SHA256,
			CreatedAt: r.CreatedAt,
		}
		if r.UploadedAt.Valid {
			rec.UploadedAt = r.UploadedAt.Time
		}
		out = append(out, rec)
	}
	return out, nil
}

// DeleteBackup removes a catalog row (the file itself is the caller's
// responsibility).
func (s *BunStore) DeleteBackup(id int) error {
	_, err := s.bun.NewDelete().Model((*backupRow)(nil)).Where("id = ?", id).Exec(context.Background())
	return err
}

// Close releases the underlying database handle.
func (s *BunStore) Close() error {
	return s.bun.Close()
}
