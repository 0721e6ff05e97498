// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model defines the core data structures shared across pgkeeper.
package model

import (
	"fmt"
	"time"
)

// DiskSpec describes a single filesystem the managed server depends on.
type DiskSpec struct {
	// Mount is the mount point, e.g. "/var/lib/postgresql".
	Mount string `json:"mount"`
	// Device is the backing block device name, e.g. "nvme0n1". Empty when
	// the device could not be resolved.
	Device string `json:"device,omitempty"`
	// TotalGB and FreeGB are filesystem capacity figures.
	TotalGB float64 `json:"total_gb"`
	FreeGB  float64 `json:"free_gb"`
	// Rotational is true for spinning disks, false for SSD/NVMe.
	Rotational bool `json:"rotational"`
}

// HardwareSpec is a point-in-time snapshot of the machine pgkeeper runs on.
// It is the input to the tuning calculator and the unit of comparison for
// the hardware change detector.
type HardwareSpec struct {
	CPUCount      int        `json:"cpu_count"`
	CPUModel      string     `json:"cpu_model,omitempty"`
	TotalMemoryMB int64      `json:"total_memory_mb"`
	Disks         []DiskSpec `json:"disks"`
	DetectedAt    time.Time  `json:"detected_at"`
}

// PrimaryDisk returns the disk spec for the data directory mount, or the
// first disk when no better match exists. ok is false for an empty spec.
func (h HardwareSpec) PrimaryDisk() (DiskSpec, bool) {
	if len(h.Disks) == 0 {
		return DiskSpec{}, false
	}
	return h.Disks[0], true
}

// String returns a short human-readable summary, e.g. "8 cpu / 32768 MB / ssd".
func (h HardwareSpec) String() string {
	class := "ssd"
	if d, ok := h.PrimaryDisk(); ok && d.Rotational {
		class = "hdd"
	}
	return fmt.Sprintf("%d cpu / %d MB / %s", h.CPUCount, h.TotalMemoryMB, class)
}

// DatabaseRole is a login role as read from pg_authid. The password field
// carries the SCRAM-SHA-256 verifier verbatim; pgkeeper never sees a
// cleartext password.
type DatabaseRole struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// RoleDiff is the result of comparing two role sets.
type RoleDiff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
}

// HasChanges reports whether the diff contains any difference at all.
func (d RoleDiff) HasChanges() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0 || len(d.Changed) > 0
}

// Summary returns a compact "+2 -1 ~0" style description.
func (d RoleDiff) Summary() string {
	return fmt.Sprintf("+%d -%d ~%d", len(d.Added), len(d.Removed), len(d.Changed))
}

// ServiceEvent records a health-watcher observation or action for one unit.
type ServiceEvent struct {
	ID         int       `json:"id"`
	Unit       string    `json:"unit"`
	Kind       string    `json:"kind"` // "failure", "restart", "recovered", "gave_up"
	Detail     string    `json:"detail"`
	OccurredAt time.Time `json:"occurred_at"`
}

// BackupRecord is one row of the backup catalog.
type BackupRecord struct {
	ID         int       `json:"id"`
	Database   string    `json:"database"` // "globals" for the pg_dumpall globals dump
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	SHA256     string    `json:"sha256"`
	CreatedAt  time.Time `json:"created_at"`
	UploadedAt time.Time `json:"uploaded_at,omitzero"`
}

// AuditLogEntry records one operator-visible action taken by pgkeeper.
type AuditLogEntry struct {
	ID        int       `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
}

// TuningRun records one applied (or dry-run) optimization.
type TuningRun struct {
	ID        int       `json:"id"`
	Spec      string    `json:"spec"`     // HardwareSpec.String() at time of run
	Workload  string    `json:"workload"`
	DryRun    bool      `json:"dry_run"`
	AppliedAt time.Time `json:"applied_at"`
}
