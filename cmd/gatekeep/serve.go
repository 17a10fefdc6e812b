// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/observability"
	"github.com/gatekeep/gatekeep/pkg/errutil"
)

const (
	readinessTimeout = 2 * time.Second
	shutdownTimeout  = 5 * time.Second
)

func newServeCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the identity daemon",
		Long: `Connect to PostgreSQL, optionally apply migrations, seed the built-in
roles and the default role, then run until interrupted. Metrics and health
probes are served on metrics.addr. Account flows run through the account
commands against the same database.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServeWithDeps(ctx, cmd, deps)
		},
	}
}

func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *Deps) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := setupLogging(cfg)
	if err != nil {
		return err
	}

	if cfg.Database.AutoMigrate {
		if err := applyMigrations(ctx, cfg.Database.URL, deps, logger); err != nil {
			return err
		}
	}

	pool, err := openPool(ctx, cfg, deps, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.InfoContext(ctx, "connected to database")

	roles, err := newRoleService(pool, deps, logger)
	if err != nil {
		return err
	}
	seeded, err := roles.Seed(ctx, startupSeed(cfg))
	if err != nil {
		return oops.Code("SEED_FAILED").With("operation", "seed built-in roles").Wrap(err)
	}
	logger.InfoContext(ctx, "built-in roles ready", "created", seeded.RolesCreated)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr,
			observability.PingReadiness(pool, readinessTimeout),
			auth.RegisterMetrics)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability", logger)
		logger.InfoContext(ctx, "observability server started", "addr", obsServer.Addr())
	}

	cmd.Println("Gatekeep started")
	logger.InfoContext(ctx, "gatekeep ready", "default_role", cfg.Roles.Default)

	<-ctx.Done()
	failure := context.Cause(ctx)
	if errors.Is(failure, context.Canceled) {
		failure = nil
	}
	logger.Info("shutting down...")

	if obsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return failure
}

// monitorServerErrors cancels ctx with the failure when a background server
// stops with an error. A closed channel is a graceful stop.
func monitorServerErrors(ctx context.Context, cancel context.CancelCauseFunc, errCh <-chan error, name string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			failure := oops.Code("SERVER_FAILED").With("server", name).Wrap(err)
			errutil.LogErrorContext(ctx, logger, "server error, triggering shutdown", failure)
			cancel(failure)
		}
	case <-ctx.Done():
	}
}
