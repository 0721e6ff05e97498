// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

// Package tuning computes PostgreSQL and pgbouncer parameters from the
// detected hardware and renders them into config files. The formulas are
// heuristics: they aim for a sane configuration on any machine, not a
// perfect one for a particular workload.
package tuning

import (
	"fmt"

	"github.com/pgkeeper/pgkeeper/internal/model"
)

// Workload tilts a few of the formulas. The zero value is treated as
// WorkloadMixed.
type Workload string

const (
	WorkloadWeb   Workload = "web"   // many short transactions, many clients
	WorkloadOLTP  Workload = "oltp"  // transactional, moderate clients
	WorkloadDW    Workload = "dw"    // analytical, few heavy queries
	WorkloadMixed Workload = "mixed" //
)

// ParseWorkload validates a workload name from config or flags.
func ParseWorkload(s string) (Workload, error) {
	switch Workload(s) {
	case WorkloadWeb, WorkloadOLTP, WorkloadDW, WorkloadMixed:
		return Workload(s), nil
	case "":
		return WorkloadMixed, nil
	}
	return "", fmt.Errorf("unknown workload %q (want web, oltp, dw or mixed)", s)
}

// Profile holds every parameter the calculator produces. Memory figures
// are in megabytes.
type Profile struct {
	// PostgreSQL
	SharedBuffersMB            int64
	EffectiveCacheSizeMB       int64
	WorkMemMB                  int64
	MaintenanceWorkMemMB       int64
	MaxConnections             int
	WalBuffersMB               int64
	MaxWalSizeMB               int64
	MinWalSizeMB               int64
	CheckpointCompletionTarget  float64
	RandomPageCost              float64
	EffectiveIOConcurrency      int
	MaxWorkerProcesses          int
	MaxParallelWorkersPerGather int
	MaxParallelWorkers          int

	// pgbouncer
	DefaultPoolSize  int
	MinPoolSize      int
	ReservePoolSize  int
	MaxClientConn    int
	MaxDBConnections int
}

const (
	sharedBuffersCapMB      = 8192
	maintenanceWorkMemCapMB = 2048
	walBuffersCapMB         = 16
	maxClientConnCap        = 1000
	workMemFloorMB          = 4
)

// Compute derives a full tuning profile from a hardware spec. It is pure:
// the same spec and workload always produce the same profile.
func Compute(spec model.HardwareSpec, workload Workload) Profile {
	if workload == "" {
		workload = WorkloadMixed
	}
	mem := spec.TotalMemoryMB
	cpu := spec.CPUCount

	var p Profile

	// A quarter of RAM for shared_buffers, capped: beyond 8GB the kernel
	// page cache does the heavy lifting and double-buffering wastes RAM.
	p.SharedBuffersMB = clamp64(mem/4, 128, sharedBuffersCapMB)

	// The planner assumption for total cache (shared_buffers + page cache).
	p.EffectiveCacheSizeMB = max64(mem*3/4, p.SharedBuffersMB)

	p.MaxConnections = maxConnectionsFor(workload, mem)

	// Budget the RAM outside shared_buffers across concurrent sorts; the
	// 3x divisor assumes a few work_mem allocations per connection.
	p.WorkMemMB = max64((mem-p.SharedBuffersMB)/int64(3*p.MaxConnections), workMemFloorMB)

	p.MaintenanceWorkMemMB = clamp64(mem/16, 64, maintenanceWorkMemCapMB)

	p.WalBuffersMB = clamp64(p.SharedBuffersMB*3/100, 1, walBuffersCapMB)
	p.MaxWalSizeMB, p.MinWalSizeMB = walSizesFor(workload)
	p.CheckpointCompletionTarget = 0.9

	rotational := false
	if d, ok := spec.PrimaryDisk(); ok {
		rotational = d.Rotational
	}
	if rotational {
		p.RandomPageCost = 4.0
		p.EffectiveIOConcurrency = 2
	} else {
		p.RandomPageCost = 1.1
		p.EffectiveIOConcurrency = 200
	}

	p.MaxWorkerProcesses = cpu
	p.MaxParallelWorkers = cpu
	p.MaxParallelWorkersPerGather = parallelPerGatherFor(workload, cpu)

	// pgbouncer: the pool talks to the server, clients fan into the pool.
	p.DefaultPoolSize = clampInt(cpu*4, 10, p.MaxConnections/2)
	p.MinPoolSize = p.DefaultPoolSize / 2
	p.ReservePoolSize = maxInt(p.DefaultPoolSize/4, 5)
	p.MaxClientConn = minInt(4*p.MaxConnections, maxClientConnCap)
	// Leave headroom under max_connections for superuser and maintenance
	// connections that bypass the pooler.
	p.MaxDBConnections = p.MaxConnections - 5

	return p
}

// maxConnectionsFor picks a connection ceiling per workload, reduced on
// small-memory machines so each backend still gets a reasonable slice.
func maxConnectionsFor(w Workload, memMB int64) int {
	base := map[Workload]int{
		WorkloadWeb:   200,
		WorkloadOLTP:  300,
		WorkloadDW:    40,
		WorkloadMixed: 100,
	}[w]
	// Roughly one backend per 16MB of RAM at most.
	if limit := int(memMB / 16); limit < base {
		base = limit
	}
	if base < 20 {
		base = 20
	}
	return base
}

func walSizesFor(w Workload) (maxMB, minMB int64) {
	if w == WorkloadDW {
		return 16384, 4096
	}
	return 4096, 1024
}

func parallelPerGatherFor(w Workload, cpu int) int {
	n := cpu / 2
	limit := 4
	if w == WorkloadDW {
		limit = 8
	}
	if n > limit {
		n = limit
	}
	if n < 1 {
		n = 1
	}
	return n
}

func clamp64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
