// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package postgres implements the auth account and role stores on PostgreSQL.
//
// Repositories attach operation context to errors and wrap the auth store
// sentinels; error codes are assigned by the auth package.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// DB is the query surface the repositories need. *pgxpool.Pool and
// pgxmock pools satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// writeError maps a unique violation to auth.ErrDuplicate and adds the
// operation to anything else.
func writeError(err error, operation string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return oops.
			With("operation", operation).
			With("constraint", pgErr.ConstraintName).
			Wrap(auth.ErrDuplicate)
	}
	return oops.With("operation", operation).Wrap(err)
}

// readError maps a failed single-row read.
func readError(err error, operation, key, value string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return oops.With(key, value).Wrap(auth.ErrNotFound)
	}
	return oops.With("operation", operation).With(key, value).Wrap(err)
}
