// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package authtest

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/mail"
)

// Fixed test secrets. Never use outside tests.
var (
	SigningKey     = bytes.Repeat([]byte("k"), auth.MinSigningKeyBytes)
	RecoverySecret = bytes.Repeat([]byte("r"), auth.MinRecoverySecretBytes)
	TwoFactorKey   = bytes.Repeat([]byte("t"), auth.MinTwoFactorSecretBytes)
)

// Issuer is the token issuer used by the harness.
const Issuer = "gatekeep-test"

// FastHasherParams keep argon2id cheap in tests.
var FastHasherParams = auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}

// Harness wires a Core to in-memory collaborators.
type Harness struct {
	Core      *auth.Core
	Roles     *auth.RoleService
	Store     *MemoryStore
	Mailbox   *Mailbox
	Clock     *Clock
	Hasher    *auth.Argon2idHasher
	Tokens    *auth.TokenIssuer
	Recovery  *auth.RecoveryTokenProvider
	TwoFactor *auth.TwoFactorChallenger
	Notifier  *auth.Notifier
}

// HarnessOption tweaks the dependencies before Core is built.
type HarnessOption func(*auth.CoreDeps, *[]auth.CoreOption)

// WithVerifier registers an external verifier.
func WithVerifier(v auth.ExternalVerifier) HarnessOption {
	return func(d *auth.CoreDeps, _ *[]auth.CoreOption) {
		d.ExternalVerifiers = append(d.ExternalVerifiers, v)
	}
}

// WithCoreOption passes an option to NewCore.
func WithCoreOption(opt auth.CoreOption) HarnessOption {
	return func(_ *auth.CoreDeps, opts *[]auth.CoreOption) {
		*opts = append(*opts, opt)
	}
}

// NewHarness builds a Core with the User and Admin roles seeded.
func NewHarness(t testing.TB, opts ...HarnessOption) *Harness {
	t.Helper()

	h := &Harness{
		Store:   NewMemoryStore(),
		Mailbox: &Mailbox{},
		Clock:   NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		Hasher:  auth.NewArgon2idHasherWithParams(FastHasherParams),
	}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	var err error
	h.Tokens, err = auth.NewTokenIssuer(SigningKey, Issuer, auth.WithTokenClock(h.Clock.Now))
	require.NoError(t, err)
	h.Recovery, err = auth.NewRecoveryTokenProvider(RecoverySecret, auth.WithRecoveryClock(h.Clock.Now))
	require.NoError(t, err)

	templates, err := mail.LoadTemplates()
	require.NoError(t, err)
	h.Notifier, err = auth.NewNotifier(h.Mailbox, templates,
		mail.Address{Name: "Gatekeep", Email: "noreply@gatekeep.test"}, "https://gatekeep.test")
	require.NoError(t, err)

	h.TwoFactor, err = auth.NewTwoFactorChallenger(h.Store, h.Notifier, TwoFactorKey,
		auth.WithTwoFactorClock(h.Clock.Now), auth.WithTwoFactorLogger(logger))
	require.NoError(t, err)

	deps := auth.CoreDeps{
		Accounts:  h.Store,
		Roles:     h.Store,
		Hasher:    h.Hasher,
		Lockout:   auth.NewLockoutGuard(auth.DefaultLockoutThreshold, auth.DefaultLockoutDuration),
		Tokens:    h.Tokens,
		Recovery:  h.Recovery,
		TwoFactor: h.TwoFactor,
		Notifier:  h.Notifier,
	}
	coreOpts := []auth.CoreOption{auth.WithClock(h.Clock.Now), auth.WithLogger(logger)}
	for _, opt := range opts {
		opt(&deps, &coreOpts)
	}

	h.Core, err = auth.NewCore(deps, coreOpts...)
	require.NoError(t, err)

	h.Roles, err = auth.NewRoleService(h.Store, h.Store, h.Hasher, logger)
	require.NoError(t, err)
	_, err = h.Roles.Seed(t.Context(), auth.DefaultSeed())
	require.NoError(t, err)

	return h
}
