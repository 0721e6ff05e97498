// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

package tuning

import (
	"bytes"
	"text/template"
	"time"
)

// renderContext is the data passed to the config templates.
type renderContext struct {
	P           Profile
	SpecSummary string
	GeneratedAt string
	// Pgbouncer wiring
	ListenAddr string
	ListenPort int
	AuthFile   string
	SocketDir  string
	ServerHost string
	ServerPort int
}

const postgresTemplate = `# Managed by pgkeeper. Do not edit; re-optimization overwrites this file.
# Generated {{.GeneratedAt}} for {{.SpecSummary}}

shared_buffers = {{.P.SharedBuffersMB}}MB
effective_cache_size = {{.P.EffectiveCacheSizeMB}}MB
work_mem = {{.P.WorkMemMB}}MB
maintenance_work_mem = {{.P.MaintenanceWorkMemMB}}MB
max_connections = {{.P.MaxConnections}}
wal_buffers = {{.P.WalBuffersMB}}MB
max_wal_size = {{.P.MaxWalSizeMB}}MB
min_wal_size = {{.P.MinWalSizeMB}}MB
checkpoint_completion_target = {{.P.CheckpointCompletionTarget}}
random_page_cost = {{.P.RandomPageCost}}
effective_io_concurrency = {{.P.EffectiveIOConcurrency}}
max_worker_processes = {{.P.MaxWorkerProcesses}}
max_parallel_workers_per_gather = {{.P.MaxParallelWorkersPerGather}}
max_parallel_workers = {{.P.MaxParallelWorkers}}
`

const pgbouncerTemplate = `; Managed by pgkeeper. Do not edit; re-optimization overwrites this file.
; Generated {{.GeneratedAt}} for {{.SpecSummary}}

[databases]
* = host={{.ServerHost}} port={{.ServerPort}}

[pgbouncer]
listen_addr = {{.ListenAddr}}
listen_port = {{.ListenPort}}
unix_socket_dir = {{.SocketDir}}
auth_type = scram-sha-256
auth_file = {{.AuthFile}}
pool_mode = transaction
default_pool_size = {{.P.DefaultPoolSize}}
min_pool_size = {{.P.MinPoolSize}}
reserve_pool_size = {{.P.ReservePoolSize}}
max_client_conn = {{.P.MaxClientConn}}
max_db_connections = {{.P.MaxDBConnections}}
ignore_startup_parameters = extra_float_digits
admin_users = postgres
`

var (
	pgTmpl        = template.Must(template.New("postgres").Parse(postgresTemplate))
	pgbouncerTmpl = template.Must(template.New("pgbouncer").Parse(pgbouncerTemplate))
)

// PgbouncerWiring carries the non-computed parts of the pgbouncer config.
type PgbouncerWiring struct {
	ListenAddr string
	ListenPort int
	AuthFile   string
	SocketDir  string
	ServerHost string
	ServerPort int
}

// DefaultPgbouncerWiring matches a stock Debian/Ubuntu layout.
func DefaultPgbouncerWiring(authFile string) PgbouncerWiring {
	return PgbouncerWiring{
		ListenAddr: "127.0.0.1",
		ListenPort: 6432,
		AuthFile:   authFile,
		SocketDir:  "/var/run/postgresql",
		ServerHost: "127.0.0.1",
		ServerPort: 5432,
	}
}

// RenderPostgres renders the conf.d include file for PostgreSQL.
func RenderPostgres(p Profile, specSummary string, now time.Time) (string, error) {
	return render(pgTmpl, renderContext{
		P:           p,
		SpecSummary: specSummary,
		GeneratedAt: now.UTC().Format(time.RFC3339),
	})
}

// RenderPgbouncer renders a complete pgbouncer.ini.
func RenderPgbouncer(p Profile, w PgbouncerWiring, specSummary string, now time.Time) (string, error) {
	return render(pgbouncerTmpl, renderContext{
		P:           p,
		SpecSummary: specSummary,
		GeneratedAt: now.UTC().Format(time.RFC3339),
		ListenAddr:  w.ListenAddr,
		ListenPort:  w.ListenPort,
		AuthFile:    w.AuthFile,
		SocketDir:   w.SocketDir,
		ServerHost:  w.ServerHost,
		ServerPort:  w.ServerPort,
	})
}

func render(t *template.Template, ctx renderContext) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", err
	}
	return buf.String(), nil
}
