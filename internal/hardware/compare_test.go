// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

package hardware

import (
	"testing"

	"github.com/pgkeeper/pgkeeper/internal/model"
)

func spec(cpu int, memMB int64, diskGB float64) model.HardwareSpec {
	return model.HardwareSpec{
		CPUCount:      cpu,
		TotalMemoryMB: memMB,
		Disks:         []model.DiskSpec{{Mount: "/var/lib/postgresql", TotalGB: diskGB}},
	}
}

func TestCompare_FirstRun(t *testing.T) {
	d := Compare(model.HardwareSpec{}, spec(4, 8192, 100), DefaultThresholds())
	if !d.FirstRun {
		t.Fatal("expected FirstRun for zero-valued old snapshot")
	}
	if d.HasDrift {
		t.Fatal("first run must not report drift")
	}
}

func TestCompare_NoDrift(t *testing.T) {
	d := Compare(spec(4, 8192, 100), spec(4, 8500, 105), DefaultThresholds())
	if d.HasDrift {
		t.Fatalf("expected no drift, got %s", d.Summary())
	}
}

func TestCompare_CPUOnly_IsWarning(t *testing.T) {
	d := Compare(spec(4, 8192, 100), spec(8, 8192, 100), DefaultThresholds())
	if !d.HasDrift || d.Classification != model.DriftWarning {
		t.Fatalf("expected warning drift, got %+v", d)
	}
	if len(d.Changes) != 1 || d.Changes[0].Field != "cpu_count" {
		t.Fatalf("unexpected changes: %+v", d.Changes)
	}
}

func TestCompare_CPUAndMemory_IsCritical(t *testing.T) {
	d := Compare(spec(4, 8192, 100), spec(8, 16384, 100), DefaultThresholds())
	if d.Classification != model.DriftCritical {
		t.Fatalf("expected critical drift, got %s", d.Classification)
	}
}

func TestCompare_DiskOnly_IsInfo(t *testing.T) {
	d := Compare(spec(4, 8192, 100), spec(4, 8192, 200), DefaultThresholds())
	if !d.HasDrift || d.Classification != model.DriftInfo {
		t.Fatalf("expected info drift, got %+v", d)
	}
}

func TestCompare_ZeroOldFieldSkipped(t *testing.T) {
	old := spec(4, 8192, 0)
	d := Compare(old, spec(4, 8192, 100), DefaultThresholds())
	if d.HasDrift {
		t.Fatalf("zero-valued old disk must be skipped, got %s", d.Summary())
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()

	if _, ok, err := LoadSnapshot(dir); err != nil || ok {
		t.Fatalf("expected no snapshot yet, ok=%v err=%v", ok, err)
	}

	want := spec(4, 8192, 100)
	if err := SaveSnapshot(dir, want); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	got, ok, err := LoadSnapshot(dir)
	if err != nil || !ok {
		t.Fatalf("LoadSnapshot failed: ok=%v err=%v", ok, err)
	}
	if got.CPUCount != want.CPUCount || got.TotalMemoryMB != want.TotalMemoryMB {
		t.Fatalf("snapshot mismatch: got %+v want %+v", got, want)
	}
	if len(got.Disks) != 1 || got.Disks[0].Mount != "/var/lib/postgresql" {
		t.Fatalf("disk snapshot mismatch: %+v", got.Disks)
	}
}
