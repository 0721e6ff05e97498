// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

package hardware

import (
	"testing"
)

const cpuinfoFixture = `processor	: 0
vendor_id	: GenuineIntel
model name	: Intel(R) Xeon(R) CPU E5-2680 v4 @ 2.40GHz
cpu MHz		: 2394.000

processor	: 1
vendor_id	: GenuineIntel
model name	: Intel(R) Xeon(R) CPU E5-2680 v4 @ 2.40GHz
cpu MHz		: 2394.000
`

func TestParseCPUInfo(t *testing.T) {
	count, cpuModel := parseCPUInfo([]byte(cpuinfoFixture))
	if count != 2 {
		t.Fatalf("expected 2 processors, got %d", count)
	}
	if cpuModel != "Intel(R) Xeon(R) CPU E5-2680 v4 @ 2.40GHz" {
		t.Fatalf("unexpected model name: %q", cpuModel)
	}
}

func TestParseCPUInfo_Empty(t *testing.T) {
	count, cpuModel := parseCPUInfo(nil)
	if count != 0 || cpuModel != "" {
		t.Fatalf("expected zero values for empty input, got %d %q", count, cpuModel)
	}
}

func TestParseMemTotalMB(t *testing.T) {
	meminfo := "MemTotal:       16384000 kB\nMemFree:         1234567 kB\n"
	if got := parseMemTotalMB([]byte(meminfo)); got != 16000 {
		t.Fatalf("expected 16000 MB, got %d", got)
	}
}

func TestParseMemTotalMB_Missing(t *testing.T) {
	if got := parseMemTotalMB([]byte("MemFree: 1 kB\n")); got != 0 {
		t.Fatalf("expected 0 for missing MemTotal, got %d", got)
	}
}

func TestBaseDevice(t *testing.T) {
	cases := map[string]string{
		"sda2":      "sda",
		"sda":       "sda",
		"nvme0n1p1": "nvme0n1",
		"nvme0n1":   "nvme0n1",
		"vda1":      "vda",
		"":          "",
	}
	for in, want := range cases {
		if got := baseDevice(in); got != want {
			t.Errorf("baseDevice(%q) = %q, want %q", in, got, want)
		}
	}
}
