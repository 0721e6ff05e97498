// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

// Package usersync mirrors PostgreSQL login roles into the pgbouncer
// auth file so pooled clients authenticate against current credentials.
package usersync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgkeeper/pgkeeper/internal/fsutil"
	"github.com/pgkeeper/pgkeeper/internal/logging"
	"github.com/pgkeeper/pgkeeper/internal/model"
	"github.com/pgkeeper/pgkeeper/internal/store"
	"github.com/pgkeeper/pgkeeper/internal/sysd"
)

// fetchRolesFunc allows tests to substitute the pg_authid query.
var fetchRolesFunc = fetchRoles

// Syncer copies login roles from pg_authid into the pgbouncer userlist
// and reloads pgbouncer when anything changed.
type Syncer struct {
	Dsn              string
	UserlistPath     string
	Systemd          *sysd.Manager
	PgbouncerService string
	Store            store.Store
}

// fetchRoles reads login roles from pg_authid. Reading pg_authid needs a
// superuser or pg_read_all_settings-style grant; the keeper runs as the
// postgres superuser on the host it manages.
func fetchRoles(ctx context.Context, dsn string) ([]model.DatabaseRole, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	rows, err := conn.Query(ctx,
		"SELECT rolname, rolpassword FROM pg_authid WHERE rolcanlogin ORDER BY rolname")
	if err != nil {
		return nil, fmt.Errorf("failed to query pg_authid: %w", err)
	}
	defer rows.Close()

	var roles []model.DatabaseRole
	for rows.Next() {
		var name string
		var password *string
		if err := rows.Scan(&name, &password); err != nil {
			return nil, fmt.Errorf("failed to scan pg_authid row: %w", err)
		}
		if password == nil {
			logging.Warnf("role %s can log in but has no password verifier, skipping", name)
			continue
		}
		roles = append(roles, model.DatabaseRole{Name: name, Password: *password})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pg_authid rows: %w", err)
	}
	return roles, nil
}

// Diff compares a previous role snapshot with the current one.
func Diff(prev, cur []model.DatabaseRole) model.RoleDiff {
	prevByName := make(map[string]string, len(prev))
	for _, r := range prev {
		prevByName[r.Name] = r.Password
	}
	curByName := make(map[string]string, len(cur))
	for _, r := range cur {
		curByName[r.Name] = r.Password
	}

	var d model.RoleDiff
	for name, pw := range curByName {
		old, ok := prevByName[name]
		if !ok {
			d.Added = append(d.Added, name)
		} else if old != pw {
			d.Changed = append(d.Changed, name)
		}
	}
	for name := range prevByName {
		if _, ok := curByName[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}

// RenderUserlist produces pgbouncer auth_file content. Each line is
// `"username" "verifier"`; embedded double quotes are doubled, which is
// the escaping pgbouncer expects.
func RenderUserlist(roles []model.DatabaseRole) []byte {
	sorted := make([]model.DatabaseRole, len(roles))
	copy(sorted, roles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var b strings.Builder
	for _, r := range sorted {
		b.WriteString(quote(r.Name))
		b.WriteByte(' ')
		b.WriteString(quote(r.Password))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// WriteUserlist atomically replaces the auth file, keeping a .bak of the
// previous version. The file carries verifiers, so keep it group-readable
// at most.
func WriteUserlist(path string, roles []model.DatabaseRole) error {
	return fsutil.WriteFileAtomic(path, RenderUserlist(roles), 0o640, true)
}

// Run performs one synchronization pass. The userlist is always written on
// the first run so a freshly provisioned pgbouncer starts with a complete
// auth file; afterwards it is rewritten only when the role set changed.
func (s *Syncer) Run(ctx context.Context) (model.RoleDiff, error) {
	cur, err := fetchRolesFunc(ctx, s.Dsn)
	if err != nil {
		return model.RoleDiff{}, err
	}

	prev, err := s.Store.GetRoles()
	if err != nil {
		return model.RoleDiff{}, fmt.Errorf("failed to load role snapshot: %w", err)
	}

	diff := Diff(prev, cur)
	firstRun := len(prev) == 0
	if !diff.HasChanges() && !firstRun {
		logging.Debugf("userlist up to date (%d roles)", len(cur))
		return diff, nil
	}

	if err := WriteUserlist(s.UserlistPath, cur); err != nil {
		return diff, fmt.Errorf("failed to write userlist: %w", err)
	}
	if err := s.Store.SaveRoles(cur); err != nil {
		return diff, fmt.Errorf("failed to save role snapshot: %w", err)
	}

	if s.Systemd != nil && s.PgbouncerService != "" {
		if err := s.Systemd.Reload(ctx, s.PgbouncerService); err != nil {
			return diff, fmt.Errorf("userlist written but pgbouncer reload failed: %w", err)
		}
	}

	detail := fmt.Sprintf("%d roles, diff %s", len(cur), diff.Summary())
	if firstRun {
		detail = fmt.Sprintf("initial sync, %d roles", len(cur))
	}
	if err := s.Store.LogAction("users.sync", detail); err != nil {
		logging.Warnf("failed to record audit entry: %v", err)
	}
	logging.Infof("synced pgbouncer userlist: %s", detail)
	return diff, nil
}

// Watch runs Run on a fixed interval until the context is cancelled.
// Individual failures are logged and the loop keeps going; a transient
// postgres outage must not kill the watcher.
func (s *Syncer) Watch(ctx context.Context, interval time.Duration) error {
	if _, err := s.Run(ctx); err != nil {
		logging.Errorf("user sync failed: %v", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil {
				logging.Errorf("user sync failed: %v", err)
			}
		}
	}
}
