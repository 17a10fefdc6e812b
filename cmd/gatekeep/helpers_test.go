// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/config"
	"github.com/gatekeep/gatekeep/internal/observability"
	"github.com/gatekeep/gatekeep/internal/store"
)

var (
	testTokenKey       = strings.Repeat("k", auth.MinSigningKeyBytes)
	testRecoverySecret = strings.Repeat("r", auth.MinRecoverySecretBytes)
	testTwoFactorKey   = strings.Repeat("t", auth.MinTwoFactorSecretBytes)
)

// testEnv isolates configuration to the environment and restores the
// default logger afterwards.
func testEnv(t *testing.T) {
	t.Helper()
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	configFile = ""
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("GATEKEEP_DATABASE__URL", "postgres://gatekeep@localhost/gatekeep")
	t.Setenv("GATEKEEP_TOKEN__KEY", testTokenKey)
	t.Setenv("GATEKEEP_RECOVERY__SECRET", testRecoverySecret)
	t.Setenv("GATEKEEP_TWO_FACTOR__SECRET", testTwoFactorKey)
	t.Setenv("GATEKEEP_LOG__LEVEL", "error")
}

// runCLI executes the root command and returns its combined output.
func runCLI(ctx context.Context, deps *Deps, args ...string) (string, error) {
	return runCLIWithInput(ctx, deps, "", args...)
}

// runCLIWithInput is runCLI with input on standard input.
func runCLIWithInput(ctx context.Context, deps *Deps, input string, args ...string) (string, error) {
	configFile = ""
	cmd := newRootCmdWithDeps(deps)
	buf := new(bytes.Buffer)
	cmd.SetIn(strings.NewReader(input))
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return buf.String(), err
}

// mockPoolDeps returns deps whose pool opener hands out mock.
func mockPoolDeps(t *testing.T) (*Deps, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	deps := &Deps{
		PoolOpener: func(context.Context, string, *slog.Logger, store.OpenOptions) (Pool, error) {
			return mock, nil
		},
	}
	return deps, mock
}

var roleCols = []string{"id", "name", "normalized_name", "description", "claims", "concurrency_stamp"}

func roleRows(t *testing.T, names ...string) *pgxmock.Rows {
	t.Helper()
	rows := pgxmock.NewRows(roleCols)
	for _, name := range names {
		r, err := auth.NewRole(name, name+" role")
		require.NoError(t, err)
		rows.AddRow(r.ID.String(), r.Name, r.NormalizedName, r.Description, []byte(`[]`), r.ConcurrencyStamp)
	}
	return rows
}

// fakeMigrator records calls and reports versions from a script.
type fakeMigrator struct {
	mu       sync.Mutex
	versions []uint
	dirty    bool
	status   store.Status
	upErr    error
	calls    []string
	closed   bool
}

func (m *fakeMigrator) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *fakeMigrator) Up() error {
	m.record("up")
	return m.upErr
}

func (m *fakeMigrator) Down() error {
	m.record("down")
	return nil
}

func (m *fakeMigrator) Steps(n int) error {
	m.record("steps")
	return nil
}

func (m *fakeMigrator) Version() (uint, bool, error) {
	m.record("version")
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.versions) == 0 {
		return 0, m.dirty, nil
	}
	v := m.versions[0]
	if len(m.versions) > 1 {
		m.versions = m.versions[1:]
	}
	return v, m.dirty, nil
}

func (m *fakeMigrator) Force(version int) error {
	m.record("force")
	return nil
}

func (m *fakeMigrator) Status() (store.Status, error) {
	m.record("status")
	return m.status, nil
}

func (m *fakeMigrator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func migratorDeps(m *fakeMigrator) *Deps {
	return &Deps{
		MigratorFactory: func(string) (Migrator, error) { return m, nil },
	}
}

// fakeObsServer stands in for the observability server.
type fakeObsServer struct {
	errCh    chan error
	started  chan struct{}
	stopped  chan struct{}
	startErr error
}

func newFakeObsServer() *fakeObsServer {
	return &fakeObsServer{
		errCh:   make(chan error, 1),
		started: make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (s *fakeObsServer) Start() (<-chan error, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	close(s.started)
	return s.errCh, nil
}

func (s *fakeObsServer) Stop(context.Context) error {
	close(s.stopped)
	return nil
}

func (s *fakeObsServer) Addr() string { return "127.0.0.1:9100" }

func (s *fakeObsServer) factory() func(string, observability.ReadinessChecker, ...observability.MetricsRegistrar) ObservabilityServer {
	return func(string, observability.ReadinessChecker, ...observability.MetricsRegistrar) ObservabilityServer {
		return s
	}
}

func validTestConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Database.URL = "postgres://localhost/gatekeep"
	cfg.Token.Key = testTokenKey
	cfg.Recovery.Secret = testRecoverySecret
	cfg.TwoFactor.Secret = testTwoFactorKey
	return &cfg
}
