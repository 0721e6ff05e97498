// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

package sysd

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeRunner records invocations and plays back canned responses.
type fakeRunner struct {
	calls []string
	out   string
	err   error
}

func (f *fakeRunner) run(ctx context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	return f.out, f.err
}

func TestIsActive_Active(t *testing.T) {
	f := &fakeRunner{out: "active"}
	m := NewManagerWith(f.run)

	ok, state, err := m.IsActive(context.Background(), "postgresql")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || state != "active" {
		t.Fatalf("expected active, got ok=%v state=%q", ok, state)
	}
	if len(f.calls) != 1 || f.calls[0] != "systemctl is-active postgresql" {
		t.Fatalf("unexpected calls: %v", f.calls)
	}
}

func TestIsActive_FailedStateIsNotAnError(t *testing.T) {
	f := &fakeRunner{out: "failed", err: errors.New("exit status 3")}
	m := NewManagerWith(f.run)

	ok, state, err := m.IsActive(context.Background(), "pgbouncer")
	if err != nil {
		t.Fatalf("a reported state must not surface as an error, got: %v", err)
	}
	if ok || state != "failed" {
		t.Fatalf("expected failed state, got ok=%v state=%q", ok, state)
	}
}

func TestIsActive_ExecutionFailure(t *testing.T) {
	f := &fakeRunner{out: "", err: errors.New("exec: systemctl not found")}
	m := NewManagerWith(f.run)

	if _, _, err := m.IsActive(context.Background(), "postgresql"); err == nil {
		t.Fatal("expected error when systemctl itself cannot run")
	}
}

func TestRestartAndReloadVerbs(t *testing.T) {
	f := &fakeRunner{}
	m := NewManagerWith(f.run)

	if err := m.Restart(context.Background(), "postgresql"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := m.Reload(context.Background(), "pgbouncer"); err != nil {
		t.Fatalf("reload: %v", err)
	}
	want := []string{
		"systemctl restart postgresql",
		"systemctl reload-or-restart pgbouncer",
	}
	for i, w := range want {
		if f.calls[i] != w {
			t.Errorf("call %d = %q, want %q", i, f.calls[i], w)
		}
	}
}

func TestVerb_ErrorIncludesOutput(t *testing.T) {
	f := &fakeRunner{out: "Job for postgresql.service failed", err: errors.New("exit status 1")}
	m := NewManagerWith(f.run)

	err := m.Restart(context.Background(), "postgresql")
	if err == nil || !strings.Contains(err.Error(), "Job for postgresql.service failed") {
		t.Fatalf("expected output in error, got: %v", err)
	}
}
