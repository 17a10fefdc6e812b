// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/pkg/errutil"
)

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const supportSeed = `
roles:
  - name: Support
    description: Help desk
    claims:
      - type: scope
        value: tickets
accounts:
  - user_name: ann
    email: ann@example.com
    password: Passw0rd!
    roles: [Support]
`

func TestLoadSeedFile(t *testing.T) {
	data, err := loadSeedFile(writeSeedFile(t, supportSeed))
	require.NoError(t, err)

	require.Len(t, data.Roles, 1)
	assert.Equal(t, "Support", data.Roles[0].Name)
	assert.Equal(t, []auth.Claim{{Type: "scope", Value: "tickets"}}, data.Roles[0].Claims)
	require.Len(t, data.Accounts, 1)
	assert.Equal(t, []string{"Support"}, data.Accounts[0].Roles)
}

func TestLoadSeedFile_Errors(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantCode string
	}{
		{name: "unknown key", content: "roles:\n  - name: X\n    colour: red\n", wantCode: "SEED_FILE_INVALID"},
		{name: "empty role name", content: "roles:\n  - description: nameless\n", wantCode: "SEED_FILE_INVALID"},
		{name: "account without password", content: "accounts:\n  - email: a@example.com\n", wantCode: "SEED_FILE_INVALID"},
		{name: "not yaml", content: "roles: [\n", wantCode: "SEED_FILE_INVALID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadSeedFile(writeSeedFile(t, tt.content))
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}

	_, err := loadSeedFile(filepath.Join(t.TempDir(), "missing.yaml"))
	errutil.AssertErrorCode(t, err, "SEED_FILE_UNREADABLE")
}

func TestMergeSeed(t *testing.T) {
	extra := auth.SeedData{
		Roles: []auth.SeedRole{
			{Name: "admin", Description: "Operators", Claims: []auth.Claim{{Type: "scope", Value: "all"}}},
			{Name: "Support"},
		},
		Accounts: []auth.SeedAccount{{Email: "ann@example.com", Password: "Passw0rd!"}},
	}

	merged := mergeSeed(auth.DefaultSeed(), extra)

	require.Len(t, merged.Roles, 3)
	assert.Equal(t, auth.DefaultRoleName, merged.Roles[0].Name)
	assert.Equal(t, "Operators", merged.Roles[1].Description, "file definition replaces built-in role")
	assert.Equal(t, "Support", merged.Roles[2].Name)
	assert.Len(t, merged.Accounts, 1)
}

func TestSeed_DryRun(t *testing.T) {
	testEnv(t)
	deps := &Deps{}

	out, err := runCLI(context.Background(), deps, "seed", "--dry-run", "--file", writeSeedFile(t, supportSeed))
	require.NoError(t, err)

	assert.Contains(t, out, "role     User (0 claims)")
	assert.Contains(t, out, "role     Support (1 claims)")
	assert.Contains(t, out, "account  ann <ann@example.com> roles=[Support]")
}

func TestSeed_CreatesMissingRoles(t *testing.T) {
	testEnv(t)
	deps, mock := mockPoolDeps(t)

	mock.ExpectQuery(`FROM roles WHERE normalized_name = \$1`).WithArgs("USER").
		WillReturnRows(roleRows(t, "User"))
	mock.ExpectQuery(`FROM roles WHERE normalized_name = \$1`).WithArgs("ADMIN").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO roles`).
		WithArgs(pgxmock.AnyArg(), "Admin", "ADMIN", "Administrator", []byte(`[]`), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	out, err := runCLI(context.Background(), deps, "seed")
	require.NoError(t, err)

	assert.Contains(t, out, "Seed complete: 1 roles and 0 accounts created")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeed_StoreFailure(t *testing.T) {
	testEnv(t)
	deps, mock := mockPoolDeps(t)

	mock.ExpectQuery(`FROM roles WHERE normalized_name = \$1`).WithArgs("USER").
		WillReturnError(assert.AnError)

	_, err := runCLI(context.Background(), deps, "seed")
	errutil.AssertErrorCode(t, err, auth.CodeStoreFailed)
}
