// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/gatekeep/internal/store"
	"github.com/gatekeep/gatekeep/pkg/errutil"
)

func TestParseForceVersion(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantVersion int
		wantErrCode string
	}{
		{name: "valid integer", input: "3", wantVersion: 3},
		{name: "zero is valid", input: "0", wantVersion: 0},
		{name: "negative is passed through", input: "-1", wantVersion: -1},
		{name: "surrounding whitespace", input: "  42 ", wantVersion: 42},
		{name: "non-numeric", input: "abc", wantErrCode: "INVALID_VERSION"},
		{name: "float", input: "1.5", wantErrCode: "INVALID_VERSION"},
		{name: "trailing chars", input: "3abc", wantErrCode: "INVALID_VERSION"},
		{name: "empty", input: "", wantErrCode: "INVALID_VERSION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, err := parseForceVersion(tt.input)
			if tt.wantErrCode != "" {
				errutil.AssertErrorCode(t, err, tt.wantErrCode)
				assert.Equal(t, 0, version)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, version)
		})
	}
}

func TestParseSteps(t *testing.T) {
	n, err := parseSteps("2")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = parseSteps("-1")
	require.NoError(t, err)
	assert.Equal(t, -1, n)

	_, err = parseSteps("0")
	errutil.AssertErrorCode(t, err, "INVALID_STEPS")

	_, err = parseSteps("two")
	errutil.AssertErrorCode(t, err, "INVALID_STEPS")
}

func TestMigrateUp(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		versions []uint
		want     string
	}{
		{name: "bare migrate applies", args: []string{"migrate"}, versions: []uint{0, 2}, want: "Migrated schema from version 0 to 2"},
		{name: "up applies", args: []string{"migrate", "up"}, versions: []uint{1, 2}, want: "Migrated schema from version 1 to 2"},
		{name: "nothing pending", args: []string{"migrate", "up"}, versions: []uint{2}, want: "Schema already at version 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testEnv(t)
			m := &fakeMigrator{versions: tt.versions}

			out, err := runCLI(context.Background(), migratorDeps(m), tt.args...)
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
			assert.Equal(t, []string{"version", "up", "version"}, m.calls)
			assert.True(t, m.closed, "migrator must be closed")
		})
	}
}

func TestMigrateUp_Failure(t *testing.T) {
	testEnv(t)
	m := &fakeMigrator{upErr: errors.New("dirty database")}

	_, err := runCLI(context.Background(), migratorDeps(m), "migrate", "up")
	require.ErrorContains(t, err, "dirty database")
	assert.True(t, m.closed)
}

func TestMigrateDown_RequiresConfirmation(t *testing.T) {
	testEnv(t)
	m := &fakeMigrator{}

	_, err := runCLI(context.Background(), migratorDeps(m), "migrate", "down")
	errutil.AssertErrorCode(t, err, "CONFIRMATION_REQUIRED")
	assert.Empty(t, m.calls)

	out, err := runCLI(context.Background(), migratorDeps(m), "migrate", "down", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "All migrations rolled back")
	assert.Equal(t, []string{"down"}, m.calls)
}

func TestMigrateStatus(t *testing.T) {
	testEnv(t)
	m := &fakeMigrator{status: store.Status{
		Version: 1,
		Dirty:   true,
		Applied: []uint{1},
		Pending: []uint{999},
	}}

	out, err := runCLI(context.Background(), migratorDeps(m), "migrate", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema version 1 (dirty)")
	assert.Contains(t, out, "applied  "+migrationLabel(1))
	assert.Contains(t, out, "pending  000999")
}

func TestMigrateVersionAndForce(t *testing.T) {
	testEnv(t)
	m := &fakeMigrator{versions: []uint{3}, dirty: true}

	out, err := runCLI(context.Background(), migratorDeps(m), "migrate", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "3 (dirty)")

	out, err = runCLI(context.Background(), migratorDeps(m), "migrate", "force", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Forced schema version to 2")

	_, err = runCLI(context.Background(), migratorDeps(m), "migrate", "force", "two")
	errutil.AssertErrorCode(t, err, "INVALID_VERSION")
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	testEnv(t)
	t.Setenv("GATEKEEP_DATABASE__URL", "")
	m := &fakeMigrator{}

	_, err := runCLI(context.Background(), migratorDeps(m), "migrate", "up")
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	errutil.AssertErrorContext(t, err, "section", "database")
	assert.Empty(t, m.calls)
}

func TestMigrate_DatabaseURLFlag(t *testing.T) {
	testEnv(t)
	t.Setenv("GATEKEEP_DATABASE__URL", "")
	var gotURL string
	deps := &Deps{MigratorFactory: func(url string) (Migrator, error) {
		gotURL = url
		return &fakeMigrator{}, nil
	}}

	_, err := runCLI(context.Background(), deps, "migrate", "version", "--database-url", "postgres://flag/db")
	require.NoError(t, err)
	assert.Equal(t, "postgres://flag/db", gotURL)
}
