// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/auth/authtest"
	"github.com/gatekeep/gatekeep/pkg/errutil"
)

// stubVerifier accepts any raw token found in its table.
type stubVerifier struct {
	provider string
	tokens   map[string]*auth.ExternalPayload
	err      error
}

func (v *stubVerifier) Provider() string { return v.provider }

func (v *stubVerifier) Verify(_ context.Context, raw string) (*auth.ExternalPayload, error) {
	if v.err != nil {
		return nil, v.err
	}
	p, ok := v.tokens[raw]
	if !ok {
		return nil, errors.New("unknown token")
	}
	out := *p
	out.Provider = v.provider
	return &out, nil
}

func googleStub() *stubVerifier {
	return &stubVerifier{
		provider: "Google",
		tokens: map[string]*auth.ExternalPayload{
			"carol": {Subject: "g-100", Email: "carol@example.com", EmailVerified: true, Name: "Carol"},
			"ann":   {Subject: "g-200", Email: "ann@example.com", EmailVerified: true, Name: "Ann G"},
			"blank": {Subject: "g-300"},
		},
	}
}

func TestCore_ExternalLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("first login provisions an unconfirmed account", func(t *testing.T) {
		h := authtest.NewHarness(t, authtest.WithVerifier(googleStub()))

		res, err := h.Core.ExternalLogin(ctx, "Google", "carol")
		require.NoError(t, err)
		assert.NotEmpty(t, res.Token)

		a := h.Store.Account(res.Account.ID)
		require.NotNil(t, a)
		assert.False(t, a.EmailConfirmed)
		assert.Empty(t, a.PasswordHash)
		assert.Equal(t, "carol@example.com", a.UserName)
		assert.Equal(t, "Carol", a.DisplayName)
		assert.Equal(t, []string{auth.DefaultRoleName}, a.Roles)
		require.Len(t, a.Logins, 1)
		assert.Equal(t, "g-100", a.Logins[0].ProviderKey)

		msg, ok := h.Mailbox.Last()
		require.True(t, ok)
		assert.Equal(t, "Confirm your email address", msg.Subject)
	})

	t.Run("same identity twice resolves to one account", func(t *testing.T) {
		h := authtest.NewHarness(t, authtest.WithVerifier(googleStub()))

		first, err := h.Core.ExternalLogin(ctx, "Google", "carol")
		require.NoError(t, err)
		second, err := h.Core.ExternalLogin(ctx, "Google", "carol")
		require.NoError(t, err)

		assert.Equal(t, first.Account.ID, second.Account.ID)
		assert.Equal(t, 1, h.Mailbox.Len(), "confirmation sent once")
	})

	t.Run("email match links and rotates the stamp", func(t *testing.T) {
		h := authtest.NewHarness(t, authtest.WithVerifier(googleStub()))
		existing := storedAccount(t, h, "ann", true)

		res, err := h.Core.ExternalLogin(ctx, "Google", "ann")
		require.NoError(t, err)
		assert.Equal(t, existing.ID, res.Account.ID)

		a := h.Store.Account(existing.ID)
		require.Len(t, a.Logins, 1)
		assert.Equal(t, "Google", a.Logins[0].Provider)
		assert.NotEqual(t, existing.SecurityStamp, a.SecurityStamp)
		assert.NotEmpty(t, a.PasswordHash, "password login still works")
		assert.Zero(t, h.Mailbox.Len())
	})

	t.Run("locked account is refused", func(t *testing.T) {
		h := authtest.NewHarness(t, authtest.WithVerifier(googleStub()))
		storedAccount(t, h, "ann", true)
		for range auth.DefaultLockoutThreshold {
			_, _ = login(h, "ann", "wrong")
		}

		_, err := h.Core.ExternalLogin(ctx, "Google", "ann")
		errutil.AssertErrorCode(t, err, auth.CodeAccountLocked)
	})

	t.Run("mail failure leaves no provisioned account", func(t *testing.T) {
		h := authtest.NewHarness(t, authtest.WithVerifier(googleStub()))
		h.Mailbox.Err = errors.New("smtp down")

		_, err := h.Core.ExternalLogin(ctx, "Google", "carol")
		errutil.AssertErrorCode(t, err, auth.CodeMailDispatchFailed)
		exists, err := h.Core.EmailExists(ctx, "carol@example.com")
		require.NoError(t, err)
		assert.False(t, exists)

		h.Mailbox.Err = nil
		res, err := h.Core.ExternalLogin(ctx, "Google", "carol")
		require.NoError(t, err)
		require.Len(t, h.Store.Account(res.Account.ID).Logins, 1)
	})

	t.Run("unknown provider", func(t *testing.T) {
		h := authtest.NewHarness(t, authtest.WithVerifier(googleStub()))
		_, err := h.Core.ExternalLogin(ctx, "Facebook", "carol")
		errutil.AssertErrorCode(t, err, auth.CodeExternalInvalid)
	})

	t.Run("verifier rejection", func(t *testing.T) {
		h := authtest.NewHarness(t, authtest.WithVerifier(googleStub()))
		_, err := h.Core.ExternalLogin(ctx, "Google", "forged")
		errutil.AssertErrorCode(t, err, auth.CodeExternalInvalid)
		assert.Zero(t, h.Store.Updates())
	})

	t.Run("identity without email", func(t *testing.T) {
		h := authtest.NewHarness(t, authtest.WithVerifier(googleStub()))
		_, err := h.Core.ExternalLogin(ctx, "Google", "blank")
		errutil.AssertErrorCode(t, err, auth.CodeExternalInvalid)
	})
}
