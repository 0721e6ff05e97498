// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

// Package sysd wraps systemctl for the handful of unit operations pgkeeper
// needs. It shells out rather than speaking dbus: the CLI runs ad hoc from
// cron or an operator shell where a private dbus connection buys nothing.
package sysd

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes an external command and returns its combined output.
// Tests substitute a fake.
type Runner func(ctx context.Context, name string, args ...string) (string, error)

// run is the default Runner backed by os/exec.
func run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// Manager performs unit operations through a Runner.
type Manager struct {
	runner  Runner
	timeout time.Duration
}

// NewManager returns a Manager using the real systemctl binary.
func NewManager() *Manager {
	return NewManagerWith(run)
}

// NewManagerWith returns a Manager with a custom Runner (used in tests).
func NewManagerWith(r Runner) *Manager {
	return &Manager{runner: r, timeout: 30 * time.Second}
}

// IsActive reports whether a unit is active. The returned state is
// systemctl's own word ("active", "inactive", "failed", ...).
func (m *Manager) IsActive(ctx context.Context, unit string) (bool, string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	out, err := m.runner(ctx, "systemctl", "is-active", unit)
	state := strings.TrimSpace(out)
	if state == "" {
		state = "unknown"
	}
	// systemctl exits non-zero for any state other than "active"; that is
	// an answer, not an execution failure.
	if state == "active" {
		return true, state, nil
	}
	if err != nil && state == "unknown" {
		return false, state, fmt.Errorf("systemctl is-active %s: %w", unit, err)
	}
	return false, state, nil
}

// Restart restarts a unit.
func (m *Manager) Restart(ctx context.Context, unit string) error {
	return m.verb(ctx, "restart", unit)
}

// Reload reloads a unit's configuration without a full restart. Units that
// do not support reload fall back to restart.
func (m *Manager) Reload(ctx context.Context, unit string) error {
	return m.verb(ctx, "reload-or-restart", unit)
}

func (m *Manager) verb(ctx context.Context, verb, unit string) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	out, err := m.runner(ctx, "systemctl", verb, unit)
	if err != nil {
		if out != "" {
			return fmt.Errorf("systemctl %s %s: %w: %s", verb, unit, err, out)
		}
		return fmt.Errorf("systemctl %s %s: %w", verb, unit, err)
	}
	return nil
}
