// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

package health

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/pgkeeper/pgkeeper/internal/model"
	"github.com/pgkeeper/pgkeeper/internal/store"
	"github.com/pgkeeper/pgkeeper/internal/sysd"
	_ "modernc.org/sqlite"
)

func noJitter(t *testing.T) {
	t.Helper()
	orig := randFloat
	randFloat = func() float64 { return 0 }
	t.Cleanup(func() { randFloat = orig })
}

// unitScript maps unit name to a sequence of systemctl is-active replies.
type unitScript struct {
	states   map[string][]string
	restarts []string
}

func (s *unitScript) runner(ctx context.Context, name string, args ...string) (string, error) {
	if len(args) >= 2 && args[0] == "restart" {
		s.restarts = append(s.restarts, args[1])
		return "", nil
	}
	if len(args) >= 2 && args[0] == "is-active" {
		unit := args[1]
		seq := s.states[unit]
		if len(seq) == 0 {
			return "active", nil
		}
		state := seq[0]
		if len(seq) > 1 {
			s.states[unit] = seq[1:]
		}
		if state == "active" {
			return state, nil
		}
		return state, errors.New("exit status 3")
	}
	return "", nil
}

func newHealthTestStore(t *testing.T) store.Store {
	t.Helper()
	dsn := "file:health_" + t.Name() + "?mode=memory&cache=shared"
	s, err := store.NewStoreFromDSN("sqlite", dsn)
	if err != nil {
		t.Fatalf("NewStoreFromDSN failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCheckerUnitProbe(t *testing.T) {
	script := &unitScript{states: map[string][]string{
		"postgresql": {"active"},
		"pgbouncer":  {"failed"},
	}}
	c := &Checker{
		Systemd: sysd.NewManagerWith(script.runner),
		Units:   []string{"postgresql", "pgbouncer"},
	}
	results := c.Run(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].OK || results[0].Detail != "active" {
		t.Errorf("expected postgresql active, got %+v", results[0])
	}
	if results[1].OK || results[1].Detail != "failed" {
		t.Errorf("expected pgbouncer failed, got %+v", results[1])
	}
	if AllOK(results) {
		t.Errorf("expected AllOK false with a failed unit")
	}
}

func TestCheckerTCPProbe(t *testing.T) {
	orig := dialFunc
	dialFunc = func(network, addr string, timeout time.Duration) (net.Conn, error) {
		if addr == "127.0.0.1:5432" {
			c, s := net.Pipe()
			go func() { _ = s.Close() }()
			return c, nil
		}
		return nil, errors.New("connection refused")
	}
	t.Cleanup(func() { dialFunc = orig })

	c := &Checker{
		Systemd:   sysd.NewManagerWith(func(ctx context.Context, name string, args ...string) (string, error) { return "active", nil }),
		TCPChecks: []string{"127.0.0.1:5432", "127.0.0.1:6432"},
	}
	results := c.Run(context.Background())
	if !results[0].OK {
		t.Errorf("expected 5432 to pass, got %+v", results[0])
	}
	if results[1].OK {
		t.Errorf("expected 6432 to fail, got %+v", results[1])
	}
}

func TestCheckerSQLProbe(t *testing.T) {
	orig := sqlPingFunc
	sqlPingFunc = func(ctx context.Context, dsn string) error { return errors.New("no pg_hba entry") }
	t.Cleanup(func() { sqlPingFunc = orig })

	c := &Checker{
		Systemd: sysd.NewManagerWith(func(ctx context.Context, name string, args ...string) (string, error) { return "active", nil }),
		Dsn:     "postgres://localhost/postgres",
	}
	results := c.Run(context.Background())
	if len(results) != 1 || results[0].OK {
		t.Fatalf("expected a failed sql probe, got %+v", results)
	}
}

func TestWatcherRestartsFailedUnit(t *testing.T) {
	noJitter(t)
	st := newHealthTestStore(t)
	script := &unitScript{states: map[string][]string{"postgresql": {"failed", "active"}}}
	w := NewWatcher(sysd.NewManagerWith(script.runner), st, []string{"postgresql"})

	now := time.Now()
	w.step(context.Background(), now)
	if len(script.restarts) != 1 || script.restarts[0] != "postgresql" {
		t.Fatalf("expected one restart of postgresql, got %v", script.restarts)
	}

	w.step(context.Background(), now.Add(time.Minute))
	if len(script.restarts) != 1 {
		t.Errorf("expected no further restarts once active, got %v", script.restarts)
	}

	events, err := st.ListServiceEvents("postgresql", 0)
	if err != nil {
		t.Fatalf("ListServiceEvents failed: %v", err)
	}
	kinds := make([]string, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		kinds = append(kinds, events[i].Kind)
	}
	want := []string{"failure", "restart", "recovered"}
	if len(kinds) != len(want) {
		t.Fatalf("expected events %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, kinds)
		}
	}
}

func TestWatcherBackoffDelaysNextRestart(t *testing.T) {
	noJitter(t)
	st := newHealthTestStore(t)
	script := &unitScript{states: map[string][]string{"pgbouncer": {"failed"}}}
	w := NewWatcher(sysd.NewManagerWith(script.runner), st, []string{"pgbouncer"})

	now := time.Now()
	w.step(context.Background(), now)
	if len(script.restarts) != 1 {
		t.Fatalf("expected first restart, got %v", script.restarts)
	}

	// Second failure lands inside the backoff window; no restart yet.
	w.step(context.Background(), now.Add(time.Second))
	if len(script.restarts) != 1 {
		t.Errorf("expected restart suppressed during backoff, got %v", script.restarts)
	}

	// Past the window the next attempt goes out.
	w.step(context.Background(), now.Add(time.Hour))
	if len(script.restarts) != 2 {
		t.Errorf("expected second restart after backoff, got %v", script.restarts)
	}
}

func TestWatcherGivesUpAfterMaxAttempts(t *testing.T) {
	noJitter(t)
	st := newHealthTestStore(t)
	script := &unitScript{states: map[string][]string{"postgresql": {"failed"}}}
	w := NewWatcher(sysd.NewManagerWith(script.runner), st, []string{"postgresql"})
	w.MaxAttempts = 2

	now := time.Now()
	for i := 0; i < 6; i++ {
		w.step(context.Background(), now.Add(time.Duration(i)*time.Hour))
	}
	if len(script.restarts) != 2 {
		t.Errorf("expected exactly %d restarts before giving up, got %d", 2, len(script.restarts))
	}

	events, err := st.ListServiceEvents("postgresql", 1)
	if err != nil {
		t.Fatalf("ListServiceEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].Kind != "gave_up" {
		t.Errorf("expected final event gave_up, got %+v", events)
	}
}

func TestWatcherResumesAfterGiveUpWhenUnitRecovers(t *testing.T) {
	noJitter(t)
	st := newHealthTestStore(t)
	script := &unitScript{states: map[string][]string{"postgresql": {"failed", "failed", "failed", "active", "failed"}}}
	w := NewWatcher(sysd.NewManagerWith(script.runner), st, []string{"postgresql"})
	w.MaxAttempts = 2

	now := time.Now()
	for i := 0; i < 5; i++ {
		w.step(context.Background(), now.Add(time.Duration(i)*time.Hour))
	}
	// Attempts 1 and 2 restart, attempt 3 gives up, recovery resets, new
	// failure restarts again.
	if len(script.restarts) != 3 {
		t.Errorf("expected counter reset after recovery, got %d restarts", len(script.restarts))
	}
}

func TestBackoffGrowthAndCap(t *testing.T) {
	noJitter(t)
	w := NewWatcher(nil, nil, nil)
	if got := w.backoffFor(1); got != 5*time.Second {
		t.Errorf("first backoff = %v, want 5s", got)
	}
	if got := w.backoffFor(3); got != 20*time.Second {
		t.Errorf("third backoff = %v, want 20s", got)
	}
	if got := w.backoffFor(20); got != 5*time.Minute {
		t.Errorf("deep backoff = %v, want cap 5m", got)
	}
}

func TestRecoveryStateRoundtrip(t *testing.T) {
	noJitter(t)
	st := newHealthTestStore(t)
	script := &unitScript{states: map[string][]string{"postgresql": {"failed"}}}
	w := NewWatcher(sysd.NewManagerWith(script.runner), st, []string{"postgresql"})
	w.StatePath = filepath.Join(t.TempDir(), StateFile)

	w.step(context.Background(), time.Now())
	if err := w.saveState(); err != nil {
		t.Fatalf("saveState failed: %v", err)
	}

	w2 := NewWatcher(sysd.NewManagerWith(script.runner), st, []string{"postgresql"})
	w2.StatePath = w.StatePath
	if err := w2.loadState(); err != nil {
		t.Fatalf("loadState failed: %v", err)
	}
	got, ok := w2.states["postgresql"]
	if !ok {
		t.Fatalf("expected postgresql state to survive reload")
	}
	if got.Failures != 1 {
		t.Errorf("expected 1 failure persisted, got %d", got.Failures)
	}
	if got.NextAttempt.IsZero() {
		t.Errorf("expected next attempt time persisted")
	}
}

func TestRecordEventNilStore(t *testing.T) {
	w := NewWatcher(nil, nil, nil)
	// Must not panic without a store.
	w.recordEvent("postgresql", "failure", "inactive")
	_ = model.ServiceEvent{}
}
