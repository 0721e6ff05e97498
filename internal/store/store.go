// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

// Package store provides the data access layer for pgkeeper's own state:
// the audit log, tuning history, drift and service events, the last known
// role set and the backup catalog. It abstracts the underlying database
// (SQLite by default, PostgreSQL or MySQL for shared deployments) behind a
// consistent interface.
package store

import (
	"time"

	"github.com/pgkeeper/pgkeeper/internal/model"
)

// Store defines the interface for all state operations in pgkeeper.
// This allows for multiple database backends to be implemented.
type Store interface {
	// Audit log
	LogAction(action string, details string) error
	GetAuditLog(limit int) ([]model.AuditLogEntry, error)

	// Tuning history
	RecordTuningRun(run model.TuningRun) error
	ListTuningRuns(limit int) ([]model.TuningRun, error)

	// Hardware drift events
	RecordDriftEvent(ev model.DriftEvent) error
	ListDriftEvents(limit int) ([]model.DriftEvent, error)

	// Role snapshot (pgbouncer userlist source of truth between runs)
	SaveRoles(roles []model.DatabaseRole) error
	GetRoles() ([]model.DatabaseRole, error)

	// Service health events
	RecordServiceEvent(ev model.ServiceEvent) error
	ListServiceEvents(unit string, limit int) ([]model.ServiceEvent, error)

	// Backup catalog
	AddBackup(rec model.BackupRecord) (int, error)
	MarkBackupUploaded(id int, at time.Time) error
	ListBackups() ([]model.BackupRecord, error)
	DeleteBackup(id int) error

	Close() error
}
