// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

// Package hardware detects the machine's CPU, memory and disk specs and
// tracks how they change between runs. Detection reads the kernel's /proc
// and /sys interfaces directly; capacity figures come from statfs.
package hardware

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pgkeeper/pgkeeper/internal/model"
	"golang.org/x/sys/unix"
)

// statfsFunc allows tests to override the statfs syscall.
var statfsFunc = unix.Statfs

// Detector reads hardware specs from the kernel interfaces. ProcRoot and
// SysRoot exist so tests can point the detector at fixture trees.
type Detector struct {
	ProcRoot string
	SysRoot  string
	// Mounts are the filesystems to measure, in order of importance. The
	// first entry is treated as the data directory disk.
	Mounts []string
}

// NewDetector returns a detector for the running system, measuring the
// given mounts (the PostgreSQL data directory first).
func NewDetector(mounts ...string) *Detector {
	if len(mounts) == 0 {
		mounts = []string{"/"}
	}
	return &Detector{ProcRoot: "/proc", SysRoot: "/sys", Mounts: mounts}
}

// Detect gathers a full hardware snapshot. It fails rather than silently
// returning partial data: a spec with a zero CPU count or zero memory must
// never reach the tuning calculator.
func (d *Detector) Detect() (model.HardwareSpec, error) {
	var spec model.HardwareSpec

	cpuData, err := os.ReadFile(filepath.Join(d.ProcRoot, "cpuinfo"))
	if err != nil {
		return spec, fmt.Errorf("read cpuinfo: %w", err)
	}
	count, cpuModel := parseCPUInfo(cpuData)
	// In cpuset-limited containers /proc/cpuinfo shows the host's CPUs;
	// the scheduler-visible count is the floor for tuning purposes.
	if n := runtime.NumCPU(); n < count || count == 0 {
		count = n
	}
	if count == 0 {
		return spec, fmt.Errorf("could not determine CPU count")
	}
	spec.CPUCount = count
	spec.CPUModel = cpuModel

	memData, err := os.ReadFile(filepath.Join(d.ProcRoot, "meminfo"))
	if err != nil {
		return spec, fmt.Errorf("read meminfo: %w", err)
	}
	memMB := parseMemTotalMB(memData)
	if memMB <= 0 {
		return spec, fmt.Errorf("could not determine total memory")
	}
	spec.TotalMemoryMB = memMB

	for _, mount := range d.Mounts {
		disk, err := d.measureMount(mount)
		if err != nil {
			return spec, fmt.Errorf("measure %s: %w", mount, err)
		}
		spec.Disks = append(spec.Disks, disk)
	}

	spec.DetectedAt = time.Now().UTC()
	return spec, nil
}

// measureMount fills a DiskSpec for one mount point.
func (d *Detector) measureMount(mount string) (model.DiskSpec, error) {
	var stat unix.Statfs_t
	if err := statfsFunc(mount, &stat); err != nil {
		return model.DiskSpec{}, err
	}

	const gb = 1 << 30
	disk := model.DiskSpec{
		Mount:   mount,
		TotalGB: float64(stat.Blocks) * float64(stat.Bsize) / gb,
		FreeGB:  float64(stat.Bavail) * float64(stat.Bsize) / gb,
	}

	if dev := d.resolveDevice(mount); dev != "" {
		disk.Device = dev
		disk.Rotational = d.isRotational(dev)
	}
	return disk, nil
}

// resolveDevice finds the block device backing a mount point via
// /proc/self/mounts, using longest-prefix matching on the mount path.
func (d *Detector) resolveDevice(mount string) string {
	data, err := os.ReadFile(filepath.Join(d.ProcRoot, "self", "mounts"))
	if err != nil {
		return ""
	}
	var best, bestDev string
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.HasPrefix(fields[0], "/dev/") {
			continue
		}
		mp := fields[1]
		if strings.HasPrefix(mount, mp) && len(mp) > len(best) {
			best = mp
			bestDev = strings.TrimPrefix(fields[0], "/dev/")
		}
	}
	return baseDevice(bestDev)
}

// baseDevice strips the partition suffix from a device name so it can be
// looked up under /sys/block: "sda2" -> "sda", "nvme0n1p1" -> "nvme0n1".
func baseDevice(dev string) string {
	if dev == "" {
		return ""
	}
	if strings.HasPrefix(dev, "nvme") || strings.HasPrefix(dev, "mmcblk") {
		if i := strings.LastIndex(dev, "p"); i > 0 {
			return dev[:i]
		}
		return dev
	}
	return strings.TrimRight(dev, "0123456789")
}

// isRotational reads the kernel's rotational flag for a block device.
// Unknown devices are treated as non-rotational; SSDs are the common case.
func (d *Detector) isRotational(dev string) bool {
	data, err := os.ReadFile(filepath.Join(d.SysRoot, "block", dev, "queue", "rotational"))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "1"
}

// parseCPUInfo counts "processor" entries and extracts the model name from
// /proc/cpuinfo content.
func parseCPUInfo(data []byte) (count int, cpuModel string) {
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "processor") {
			count++
			continue
		}
		if cpuModel == "" && strings.HasPrefix(line, "model name") {
			if i := strings.Index(line, ":"); i >= 0 {
				cpuModel = strings.TrimSpace(line[i+1:])
			}
		}
	}
	return count, cpuModel
}

// parseMemTotalMB extracts MemTotal from /proc/meminfo content.
// Format: "MemTotal:       16384000 kB"
func parseMemTotalMB(data []byte) int64 {
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			kb, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return 0
			}
			return kb / 1024
		}
	}
	return 0
}
