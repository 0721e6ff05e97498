// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

package hardware

import (
	"fmt"
	"math"
	"time"

	"github.com/pgkeeper/pgkeeper/internal/model"
)

// Thresholds are the relative-change limits (in percent) above which a
// field counts as drifted.
type Thresholds struct {
	CPUPercent    int
	MemoryPercent int
	DiskPercent   int
}

// DefaultThresholds returns 10% for CPU and memory, 20% for disk capacity.
func DefaultThresholds() Thresholds {
	return Thresholds{CPUPercent: 10, MemoryPercent: 10, DiskPercent: 20}
}

// Compare checks the new spec against the previous snapshot and classifies
// any drift. CPU or memory drift alone is a warning; both together are
// critical; disk-only drift is informational.
func Compare(old, cur model.HardwareSpec, t Thresholds) model.SpecDrift {
	drift := model.SpecDrift{DetectedAt: time.Now().UTC()}

	if old.CPUCount == 0 && old.TotalMemoryMB == 0 {
		drift.FirstRun = true
		return drift
	}

	cpuDrift := addChange(&drift, "cpu_count",
		float64(old.CPUCount), float64(cur.CPUCount), float64(t.CPUPercent), "%.0f")
	memDrift := addChange(&drift, "total_memory_mb",
		float64(old.TotalMemoryMB), float64(cur.TotalMemoryMB), float64(t.MemoryPercent), "%.0f")

	diskDrift := false
	for i, d := range cur.Disks {
		if i >= len(old.Disks) {
			break
		}
		field := "disk_total_gb:" + d.Mount
		if addChange(&drift, field, old.Disks[i].TotalGB, d.TotalGB, float64(t.DiskPercent), "%.1f") {
			diskDrift = true
		}
	}

	if !cpuDrift && !memDrift && !diskDrift {
		return drift
	}

	drift.HasDrift = true
	switch {
	case cpuDrift && memDrift:
		drift.Classification = model.DriftCritical
	case cpuDrift || memDrift:
		drift.Classification = model.DriftWarning
	default:
		drift.Classification = model.DriftInfo
	}
	return drift
}

// addChange appends a FieldChange when the relative delta crosses the
// threshold. Zero old values are skipped: they would make the relative
// delta meaningless.
func addChange(drift *model.SpecDrift, field string, old, cur, thresholdPct float64, format string) bool {
	if old == 0 {
		return false
	}
	delta := math.Abs(cur-old) / old * 100
	if delta < thresholdPct {
		return false
	}
	drift.Changes = append(drift.Changes, model.FieldChange{
		Field:        field,
		Old:          fmt.Sprintf(format, old),
		New:          fmt.Sprintf(format, cur),
		DeltaPercent: delta,
	})
	return true
}
