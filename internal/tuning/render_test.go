// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

package tuning

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pgkeeper/pgkeeper/internal/sysd"
)

func TestRenderPostgres(t *testing.T) {
	p := Compute(hwSpec(8, 16384, false), WorkloadMixed)
	out, err := RenderPostgres(p, "8 cpu / 16384 MB / ssd", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}

	for _, want := range []string{
		"shared_buffers = 4096MB",
		"effective_cache_size = 12288MB",
		"random_page_cost = 1.1",
		"checkpoint_completion_target = 0.9",
		"# Generated 2026-01-02T03:04:05Z",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered config missing %q\n%s", want, out)
		}
	}

	// Every non-comment line must be a key = value pair.
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.Contains(line, " = ") {
			t.Errorf("malformed config line: %q", line)
		}
	}
}

func TestRenderPgbouncer(t *testing.T) {
	p := Compute(hwSpec(4, 8192, false), WorkloadMixed)
	w := DefaultPgbouncerWiring("/etc/pgbouncer/userlist.txt")
	out, err := RenderPgbouncer(p, w, "4 cpu / 8192 MB / ssd", time.Now())
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	for _, want := range []string{
		"[databases]",
		"[pgbouncer]",
		"auth_type = scram-sha-256",
		"auth_file = /etc/pgbouncer/userlist.txt",
		"pool_mode = transaction",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("pgbouncer config missing %q", want)
		}
	}
}

// fakeSystemd records unit operations without touching systemctl.
type fakeSystemd struct {
	calls []string
}

func (f *fakeSystemd) run(ctx context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, strings.Join(args, " "))
	return "", nil
}

func newTestApplier(t *testing.T, f *fakeSystemd) *Applier {
	t.Helper()
	dir := t.TempDir()
	return &Applier{
		Systemd:          sysd.NewManagerWith(f.run),
		PostgresService:  "postgresql",
		PgbouncerService: "pgbouncer",
		PostgresPath:     filepath.Join(dir, "99-pgkeeper.conf"),
		PgbouncerPath:    filepath.Join(dir, "pgbouncer.ini"),
		Wiring:           DefaultPgbouncerWiring(filepath.Join(dir, "userlist.txt")),
	}
}

func TestApply_WritesAndBounces(t *testing.T) {
	f := &fakeSystemd{}
	a := newTestApplier(t, f)
	p := Compute(hwSpec(8, 16384, false), WorkloadMixed)

	res, err := a.Apply(context.Background(), p, "test", false)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if !res.PostgresChanged || !res.PgbouncerChanged {
		t.Fatalf("first apply must report both files changed: %+v", res)
	}

	if _, err := os.Stat(a.PostgresPath); err != nil {
		t.Fatalf("postgres conf not written: %v", err)
	}
	want := []string{"restart postgresql", "reload-or-restart pgbouncer"}
	if len(f.calls) != 2 || f.calls[0] != want[0] || f.calls[1] != want[1] {
		t.Fatalf("unexpected systemctl calls: %v", f.calls)
	}
}

func TestApply_UnchangedProfileSkipsBounce(t *testing.T) {
	f := &fakeSystemd{}
	a := newTestApplier(t, f)
	p := Compute(hwSpec(8, 16384, false), WorkloadMixed)

	if _, err := a.Apply(context.Background(), p, "test", false); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	f.calls = nil

	// Second apply with the same profile: timestamps differ, content does not.
	res, err := a.Apply(context.Background(), p, "test", false)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if res.PostgresChanged || res.PgbouncerChanged {
		t.Fatalf("identical profile must be detected as unchanged: %+v", res)
	}
	if len(f.calls) != 0 {
		t.Fatalf("no services should be bounced, got %v", f.calls)
	}
}

func TestApply_DryRunWritesNothing(t *testing.T) {
	f := &fakeSystemd{}
	a := newTestApplier(t, f)
	p := Compute(hwSpec(8, 16384, false), WorkloadMixed)

	res, err := a.Apply(context.Background(), p, "test", true)
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if res.PostgresConf == "" || res.PgbouncerConf == "" {
		t.Fatal("dry run must still render config content")
	}
	if _, err := os.Stat(a.PostgresPath); err == nil {
		t.Fatal("dry run must not write files")
	}
	if len(f.calls) != 0 {
		t.Fatalf("dry run must not touch systemctl, got %v", f.calls)
	}
}

func TestApply_KeepsBackup(t *testing.T) {
	f := &fakeSystemd{}
	a := newTestApplier(t, f)

	if _, err := a.Apply(context.Background(), Compute(hwSpec(4, 8192, false), WorkloadMixed), "a", false); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(a.PostgresPath)

	if _, err := a.Apply(context.Background(), Compute(hwSpec(8, 32768, false), WorkloadMixed), "b", false); err != nil {
		t.Fatal(err)
	}
	bak, err := os.ReadFile(a.PostgresPath + ".bak")
	if err != nil {
		t.Fatalf("expected .bak of previous config: %v", err)
	}
	if string(bak) != string(before) {
		t.Fatal("backup does not match previous config content")
	}
}
