// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/auth/google"
	"github.com/gatekeep/gatekeep/internal/auth/postgres"
	"github.com/gatekeep/gatekeep/internal/mail"
	"github.com/gatekeep/gatekeep/internal/observability"
	"github.com/gatekeep/gatekeep/internal/store"
)

// Deps contains injectable dependencies for the commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// PoolOpener connects to PostgreSQL.
	// Default: store.Open
	PoolOpener func(ctx context.Context, dsn string, logger *slog.Logger, opts store.OpenOptions) (Pool, error)

	// MigratorFactory creates a schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, registrars ...observability.MetricsRegistrar) ObservabilityServer

	// GoogleVerifierFactory creates the Google ID token verifier.
	// Default: google.New
	GoogleVerifierFactory func(ctx context.Context, clientID, jwksURL string, logger *slog.Logger) (ClosableVerifier, error)

	// DispatcherFactory creates the outbound mail transport.
	// Default: mail.NewLogDispatcher
	DispatcherFactory func(logger *slog.Logger) mail.Dispatcher

	// Hasher hashes passwords for seeded accounts and logins.
	// Default: auth.NewArgon2idHasher
	Hasher auth.PasswordHasher
}

// Pool is the connection pool surface the commands use. *pgxpool.Pool
// satisfies it.
type Pool interface {
	postgres.DB
	Ping(ctx context.Context) error
	Close()
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Status() (store.Status, error)
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ClosableVerifier is an external verifier holding background resources.
type ClosableVerifier interface {
	auth.ExternalVerifier
	Close()
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.PoolOpener == nil {
		out.PoolOpener = func(ctx context.Context, dsn string, logger *slog.Logger, opts store.OpenOptions) (Pool, error) {
			pool, err := store.Open(ctx, dsn, logger, opts)
			if err != nil {
				return nil, err
			}
			return pool, nil
		}
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(databaseURL string) (Migrator, error) {
			m, err := store.NewMigrator(databaseURL)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, registrars ...observability.MetricsRegistrar) ObservabilityServer {
			return observability.NewServer(addr, ready, registrars...)
		}
	}
	if out.GoogleVerifierFactory == nil {
		out.GoogleVerifierFactory = func(ctx context.Context, clientID, jwksURL string, logger *slog.Logger) (ClosableVerifier, error) {
			v, err := google.New(ctx, clientID, jwksURL, google.WithLogger(logger))
			if err != nil {
				return nil, err
			}
			return v, nil
		}
	}
	if out.DispatcherFactory == nil {
		out.DispatcherFactory = func(logger *slog.Logger) mail.Dispatcher {
			return mail.NewLogDispatcher(logger)
		}
	}
	if out.Hasher == nil {
		out.Hasher = auth.NewArgon2idHasher()
	}
	return &out
}
