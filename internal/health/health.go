// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

// Package health checks the managed services and, in watch mode, restarts
// failed units with exponential backoff instead of hammering systemd in a
// tight loop.
package health

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgkeeper/pgkeeper/internal/logging"
	"github.com/pgkeeper/pgkeeper/internal/model"
	"github.com/pgkeeper/pgkeeper/internal/store"
	"github.com/pgkeeper/pgkeeper/internal/sysd"
)

// test overrides
var (
	sqlPingFunc = sqlPing
	dialFunc    = net.DialTimeout
	randFloat   = rand.Float64
)

// CheckKind names the probe that produced a CheckResult.
type CheckKind string

const (
	CheckUnit CheckKind = "unit"
	CheckTCP  CheckKind = "tcp"
	CheckSQL  CheckKind = "sql"
)

// CheckResult is one probe outcome.
type CheckResult struct {
	Kind    CheckKind     `json:"kind"`
	Target  string        `json:"target"`
	OK      bool          `json:"ok"`
	Detail  string        `json:"detail,omitempty"`
	Latency time.Duration `json:"latency"`
}

// Checker runs the one-shot health probes used by `pgkeeper health check`
// and the status dashboard.
type Checker struct {
	Systemd   *sysd.Manager
	Units     []string
	TCPChecks []string
	Dsn       string
}

// Run executes every configured probe and returns all results. A probe
// failure is a result, not an error; the error return covers only setup
// problems.
func (c *Checker) Run(ctx context.Context) []CheckResult {
	var results []CheckResult
	for _, unit := range c.Units {
		start := time.Now()
		active, state, err := c.Systemd.IsActive(ctx, unit)
		r := CheckResult{Kind: CheckUnit, Target: unit, OK: active, Detail: state, Latency: time.Since(start)}
		if err != nil {
			r.Detail = err.Error()
		}
		results = append(results, r)
	}
	for _, addr := range c.TCPChecks {
		r := CheckResult{Kind: CheckTCP, Target: addr, OK: true}
		start := time.Now()
		conn, err := dialFunc("tcp", addr, 5*time.Second)
		r.Latency = time.Since(start)
		if err != nil {
			r.OK = false
			r.Detail = err.Error()
		} else {
			_ = conn.Close()
		}
		results = append(results, r)
	}
	if c.Dsn != "" {
		r := CheckResult{Kind: CheckSQL, Target: "postgres", OK: true}
		start := time.Now()
		err := sqlPingFunc(ctx, c.Dsn)
		r.Latency = time.Since(start)
		if err != nil {
			r.OK = false
			r.Detail = err.Error()
		}
		results = append(results, r)
	}
	return results
}

// AllOK reports whether every result passed.
func AllOK(results []CheckResult) bool {
	for _, r := range results {
		if !r.OK {
			return false
		}
	}
	return true
}

func sqlPing(ctx context.Context, dsn string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(ctx) }()
	return conn.Ping(ctx)
}

// unitState tracks the recovery progress of a single unit across watcher
// ticks.
type unitState struct {
	Failures    int       `json:"failures"`
	GaveUp      bool      `json:"gave_up"`
	NextAttempt time.Time `json:"next_attempt"`
	LastState   string    `json:"last_state"`
}

// Watcher supervises units and restarts them when they fail. Restart
// attempts back off exponentially and stop entirely after MaxAttempts;
// a unit that comes back on its own resets its counter.
type Watcher struct {
	Systemd     *sysd.Manager
	Store       store.Store
	Units       []string
	Interval    time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	StatePath   string

	states map[string]*unitState
}

// NewWatcher fills in defaults for unset backoff knobs.
func NewWatcher(mgr *sysd.Manager, st store.Store, units []string) *Watcher {
	return &Watcher{
		Systemd:     mgr,
		Store:       st,
		Units:       units,
		Interval:    time.Minute,
		MaxAttempts: 5,
		BackoffBase: 5 * time.Second,
		BackoffMax:  5 * time.Minute,
		states:      make(map[string]*unitState),
	}
}

// backoffFor returns the delay before the next restart attempt. Full
// doubling per failure with a little jitter so multiple keepers on a
// fleet do not restart in lockstep.
func (w *Watcher) backoffFor(failures int) time.Duration {
	d := w.BackoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= w.BackoffMax {
			d = w.BackoffMax
			break
		}
	}
	jitter := time.Duration(randFloat() * 0.1 * float64(d))
	return d + jitter
}

func (w *Watcher) recordEvent(unit, kind, detail string) {
	if w.Store == nil {
		return
	}
	ev := model.ServiceEvent{Unit: unit, Kind: kind, Detail: detail, OccurredAt: time.Now().UTC()}
	if err := w.Store.RecordServiceEvent(ev); err != nil {
		logging.Warnf("failed to record service event: %v", err)
	}
}

// step runs one supervision pass at the given time.
func (w *Watcher) step(ctx context.Context, now time.Time) {
	if w.states == nil {
		w.states = make(map[string]*unitState)
	}
	for _, unit := range w.Units {
		st, ok := w.states[unit]
		if !ok {
			st = &unitState{}
			w.states[unit] = st
		}

		active, state, err := w.Systemd.IsActive(ctx, unit)
		if err != nil {
			logging.Errorf("health check for %s failed: %v", unit, err)
			continue
		}
		st.LastState = state

		if active {
			if st.Failures > 0 || st.GaveUp {
				logging.Infof("%s recovered after %d failed checks", unit, st.Failures)
				w.recordEvent(unit, "recovered", fmt.Sprintf("active after %d failures", st.Failures))
			}
			st.Failures = 0
			st.GaveUp = false
			st.NextAttempt = time.Time{}
			continue
		}

		if st.GaveUp {
			continue
		}

		st.Failures++
		logging.Warnf("%s is %s (failure %d)", unit, state, st.Failures)
		w.recordEvent(unit, "failure", state)

		if st.Failures > w.MaxAttempts {
			logging.Errorf("%s still down after %d restart attempts, giving up", unit, w.MaxAttempts)
			w.recordEvent(unit, "gave_up", fmt.Sprintf("after %d attempts", w.MaxAttempts))
			st.GaveUp = true
			continue
		}

		if !st.NextAttempt.IsZero() && now.Before(st.NextAttempt) {
			continue
		}

		if err := w.Systemd.Restart(ctx, unit); err != nil {
			logging.Errorf("restart of %s failed: %v", unit, err)
			w.recordEvent(unit, "restart", fmt.Sprintf("failed: %v", err))
		} else {
			logging.Infof("restarted %s", unit)
			w.recordEvent(unit, "restart", "issued")
		}
		st.NextAttempt = now.Add(w.backoffFor(st.Failures))
	}
}

// Watch supervises until the context is cancelled, persisting recovery
// state after every pass so a keeper restart resumes where it left off.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := w.loadState(); err != nil {
		logging.Warnf("could not load recovery state: %v", err)
	}
	w.step(ctx, time.Now())
	if err := w.saveState(); err != nil {
		logging.Warnf("could not save recovery state: %v", err)
	}

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			w.step(ctx, now)
			if err := w.saveState(); err != nil {
				logging.Warnf("could not save recovery state: %v", err)
			}
		}
	}
}
