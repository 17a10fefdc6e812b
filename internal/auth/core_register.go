// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/pkg/errutil"
)

// Register creates a password account, assigns the default role when it
// exists, mails an email-confirmation link and returns a session token.
// The token is issued before confirmation; password login stays closed until
// the email is confirmed.
func (c *Core) Register(ctx context.Context, in RegisterInput) (*LoginResult, error) {
	a, err := c.register(ctx, in, c.defaultRole)
	if err != nil {
		return nil, err
	}
	return c.issueSession(ctx, a, false)
}

// RegisterStaff creates a password account holding role, which must exist
// and must not be the protected administrator role. Like Register it returns
// a session token without waiting for email confirmation.
func (c *Core) RegisterStaff(ctx context.Context, in RegisterInput, role string) (*LoginResult, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return nil, oops.Code(CodeInvalidInput).With("field", "role").Errorf("role cannot be empty")
	}
	if NormalizeName(role) == NormalizeName(ProtectedRoleName) {
		return nil, oops.Code(CodeRoleForbidden).
			With("role", role).
			Errorf("role cannot be assigned through staff registration")
	}
	r, err := c.roles.FindRoleByName(ctx, NormalizeName(role))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeRoleNotFound).With("role", role).Wrap(err)
		}
		return nil, oops.Code(CodeStoreFailed).With("operation", "find role").Wrap(err)
	}

	a, err := c.register(ctx, in, r.Name)
	if err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "staff account registered",
		"account_id", a.ID.String(),
		"role", r.Name,
	)
	return c.issueSession(ctx, a, false)
}

func (c *Core) register(ctx context.Context, in RegisterInput, role string) (*Account, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := c.ensureAvailable(ctx, in.UserName, in.Email); err != nil {
		return nil, err
	}

	hash, err := c.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}

	a, err := NewAccount(in.UserName, in.Email, hash)
	if err != nil {
		return nil, err
	}
	a.DisplayName = strings.TrimSpace(in.DisplayName)
	a.FirstName = strings.TrimSpace(in.FirstName)
	a.LastName = strings.TrimSpace(in.LastName)
	if in.Address != nil {
		addr := *in.Address
		a.Address = &addr
	}
	a.CreatedAt = c.now().UTC()
	a.UpdatedAt = a.CreatedAt

	if err := assignDefaultRole(ctx, c.roles, a, role); err != nil {
		return nil, err
	}

	if err := c.accounts.Create(ctx, a); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, oops.Code(CodeDuplicateAccount).
				With("user_name", in.UserName).
				Wrap(err)
		}
		return nil, oops.Code(CodeStoreFailed).With("operation", "create account").Wrap(err)
	}

	if err := c.sendConfirmation(ctx, a); err != nil {
		return nil, discardCreated(ctx, c.accounts, c.logger, a, err)
	}
	return a, nil
}

// discardCreated removes an account whose creation could not be completed
// and returns cause. The account was never handed out, so the caller may
// retry with the same login name and email.
func discardCreated(ctx context.Context, accounts AccountStore, logger *slog.Logger, a *Account, cause error) error {
	if err := accounts.Delete(context.WithoutCancel(ctx), a.ID); err != nil {
		errutil.LogErrorContext(ctx, logger, "discarding incomplete account failed",
			oops.With("account_id", a.ID.String()).Wrap(err))
	}
	return cause
}

// ensureAvailable rejects a login name or email already in use.
func (c *Core) ensureAvailable(ctx context.Context, userName, email string) error {
	taken, err := c.UserNameExists(ctx, userName)
	if err != nil {
		return err
	}
	if taken {
		return oops.Code(CodeDuplicateAccount).
			With("field", "user_name").
			Errorf("login name is already taken")
	}
	taken, err = c.EmailExists(ctx, email)
	if err != nil {
		return err
	}
	if taken {
		return oops.Code(CodeDuplicateAccount).
			With("field", "email").
			Errorf("email is already registered")
	}
	return nil
}

// ExternalLogin verifies a provider token, resolves or provisions the local
// account and returns a session token.
func (c *Core) ExternalLogin(ctx context.Context, provider, rawToken string) (*LoginResult, error) {
	v, ok := c.verifiers[provider]
	if !ok {
		return nil, oops.Code(CodeExternalInvalid).
			With("provider", provider).
			Errorf("external provider is not configured")
	}
	payload, err := v.Verify(ctx, rawToken)
	if err != nil {
		if HasCode(err, CodeExternalInvalid) {
			return nil, err
		}
		return nil, oops.Code(CodeExternalInvalid).With("provider", provider).Wrap(err)
	}

	a, outcome, err := c.linker.Resolve(ctx, payload)
	if err != nil {
		return nil, err
	}
	if c.lockout.IsLocked(a, c.now()) {
		loginAttempts.WithLabelValues(OutcomeLockedOut).Inc()
		return nil, oops.Code(CodeAccountLocked).
			With("account_id", a.ID.String()).
			With("locked_until", *a.LockoutEnd).
			Errorf("account is temporarily locked")
	}

	c.logger.InfoContext(ctx, "external login",
		"account_id", a.ID.String(),
		"provider", provider,
		"outcome", outcome.String(),
	)
	loginAttempts.WithLabelValues(OutcomeAuthenticated).Inc()
	return c.issueSession(ctx, a, false)
}
