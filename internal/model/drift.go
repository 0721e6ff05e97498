// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model defines the core data structures for hardware drift
// detection.
package model

import (
	"fmt"
	"strings"
	"time"
)

// DriftClassification represents the severity level of detected hardware
// drift.
type DriftClassification string

const (
	// DriftCritical indicates both CPU and memory changed beyond their
	// thresholds; the tuning profile is badly out of date.
	DriftCritical DriftClassification = "critical"

	// DriftWarning indicates CPU or memory changed beyond its threshold.
	DriftWarning DriftClassification = "warning"

	// DriftInfo indicates a minor change that is informational only
	// (e.g., disk capacity growth).
	DriftInfo DriftClassification = "info"
)

// FieldChange describes one drifted field of the hardware spec.
type FieldChange struct {
	// Field is the spec field name, e.g. "cpu_count".
	Field string `json:"field"`
	// Old and New are the before/after values rendered as strings.
	Old string `json:"old"`
	New string `json:"new"`
	// DeltaPercent is the relative change, always >= 0.
	DeltaPercent float64 `json:"delta_percent"`
}

// SpecDrift is the result of comparing two hardware snapshots.
type SpecDrift struct {
	// Classification is the severity level of the detected drift.
	Classification DriftClassification

	// HasDrift indicates whether any field crossed its threshold.
	HasDrift bool

	// FirstRun is true when there was no prior snapshot to compare with.
	FirstRun bool

	// Changes lists every field that crossed its threshold.
	Changes []FieldChange

	// DetectedAt is when the comparison ran.
	DetectedAt time.Time
}

// IsCritical returns true if the drift is classified as critical.
func (d *SpecDrift) IsCritical() bool {
	return d.Classification == DriftCritical
}

// Summary returns a human-readable summary of the drift.
func (d *SpecDrift) Summary() string {
	if d.FirstRun {
		return "no prior snapshot (first run)"
	}
	if !d.HasDrift {
		return "no drift detected"
	}
	parts := make([]string, 0, len(d.Changes))
	for _, c := range d.Changes {
		parts = append(parts, fmt.Sprintf("%s %s -> %s (%.1f%%)", c.Field, c.Old, c.New, c.DeltaPercent))
	}
	return string(d.Classification) + " drift: " + strings.Join(parts, ", ")
}

// DriftEvent represents a single persisted instance of detected drift.
type DriftEvent struct {
	ID             int                 // The primary key for the drift event.
	DetectedAt     time.Time           // When the drift was detected.
	Classification DriftClassification // The severity classification.
	Details        string              // A detailed description of the drift.
	Reoptimized    bool                // Whether a re-optimization was triggered.
}
