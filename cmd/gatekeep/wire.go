// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/auth/postgres"
	"github.com/gatekeep/gatekeep/internal/config"
	"github.com/gatekeep/gatekeep/internal/mail"
	"github.com/gatekeep/gatekeep/internal/store"
)

// services holds the authentication core built from configuration.
type services struct {
	core    *auth.Core
	closers []func()
}

// Close releases background resources such as JWKS refreshers.
func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openPool connects using the database section of cfg.
func openPool(ctx context.Context, cfg *config.Config, deps *Deps, logger *slog.Logger) (Pool, error) {
	return deps.PoolOpener(ctx, cfg.Database.URL, logger, store.OpenOptions{
		Attempts: cfg.Database.ConnectAttempts,
		Backoff:  cfg.Database.ConnectBackoff,
	})
}

// newRoleService builds the role service over db.
func newRoleService(db postgres.DB, deps *Deps, logger *slog.Logger) (*auth.RoleService, error) {
	return auth.NewRoleService(postgres.NewRoleRepository(db), postgres.NewAccountRepository(db), deps.Hasher, logger)
}

// buildServices wires the authentication core to PostgreSQL, mail and the
// configured external providers.
func buildServices(ctx context.Context, cfg *config.Config, db postgres.DB, deps *Deps, logger *slog.Logger) (*services, error) {
	accounts := postgres.NewAccountRepository(db)
	roles := postgres.NewRoleRepository(db)
	svc := &services{}

	tokens, err := auth.NewTokenIssuer([]byte(cfg.Token.Key), cfg.Token.Issuer,
		auth.WithTokenLifetime(cfg.Token.Lifetime))
	if err != nil {
		return nil, err
	}

	recovery, err := auth.NewRecoveryTokenProvider([]byte(cfg.Recovery.Secret),
		auth.WithPurposeLifetime(auth.PurposePasswordReset, cfg.Recovery.ResetLifetime),
		auth.WithPurposeLifetime(auth.PurposeEmailConfirmation, cfg.Recovery.ConfirmLifetime))
	if err != nil {
		return nil, err
	}

	templates, err := mail.LoadTemplates()
	if err != nil {
		return nil, err
	}
	notifier, err := auth.NewNotifier(deps.DispatcherFactory(logger), templates,
		mail.Address{Name: cfg.Mail.FromName, Email: cfg.Mail.From}, cfg.Mail.BaseURL)
	if err != nil {
		return nil, err
	}

	twoFactor, err := auth.NewTwoFactorChallenger(accounts, notifier, []byte(cfg.TwoFactor.Secret),
		auth.WithTwoFactorPeriod(cfg.TwoFactor.Period),
		auth.WithTwoFactorSkew(cfg.TwoFactor.Skew),
		auth.WithPendingLifetime(cfg.TwoFactor.PendingLifetime),
		auth.WithTwoFactorLogger(logger))
	if err != nil {
		return nil, err
	}

	var verifiers []auth.ExternalVerifier
	if cfg.GoogleEnabled() {
		v, err := deps.GoogleVerifierFactory(ctx, cfg.Google.ClientID, cfg.Google.JWKSURL, logger)
		if err != nil {
			return nil, err
		}
		verifiers = append(verifiers, v)
		svc.closers = append(svc.closers, v.Close)
		logger.InfoContext(ctx, "external provider enabled", "provider", v.Provider())
	}

	svc.core, err = auth.NewCore(auth.CoreDeps{
		Accounts:          accounts,
		Roles:             roles,
		Hasher:            deps.Hasher,
		Lockout:           auth.NewLockoutGuard(cfg.Lockout.Threshold, cfg.Lockout.Duration),
		Tokens:            tokens,
		Recovery:          recovery,
		TwoFactor:         twoFactor,
		Notifier:          notifier,
		ExternalVerifiers: verifiers,
	}, auth.WithLogger(logger), auth.WithDefaultRole(cfg.Roles.Default))
	if err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}

// startupSeed creates the built-in roles plus the configured default role.
func startupSeed(cfg *config.Config) auth.SeedData {
	data := auth.DefaultSeed()
	if cfg.Roles.Default == "" {
		return data
	}
	for _, r := range data.Roles {
		if auth.NormalizeName(r.Name) == auth.NormalizeName(cfg.Roles.Default) {
			return data
		}
	}
	data.Roles = append(data.Roles, auth.SeedRole{Name: cfg.Roles.Default, Description: "Default role for new accounts"})
	return data
}
