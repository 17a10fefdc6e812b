// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// ConfirmEmail marks the account's email as confirmed. The token is checked
// against the state being written, and that write moves the concurrency
// stamp, so a token confirms at most once.
func (c *Core) ConfirmEmail(ctx context.Context, email, token string) error {
	a, err := c.findByEmail(ctx, email)
	if err != nil {
		return err
	}

	_, err = c.mutator.mutateLoaded(ctx, a, "confirm_email", func(x *Account) error {
		if err := c.recovery.Validate(x, token, PurposeEmailConfirmation); err != nil {
			return err
		}
		x.EmailConfirmed = true
		x.RotateSecurityStamp()
		return nil
	})
	if err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "email confirmed", "account_id", a.ID.String())
	return nil
}

// ResendConfirmation mails a new confirmation link to an unconfirmed account.
// Unknown and already-confirmed emails succeed silently.
func (c *Core) ResendConfirmation(ctx context.Context, email string) error {
	a, err := c.findByEmail(ctx, email)
	if err != nil {
		if HasCode(err, CodeAccountNotFound) {
			return nil
		}
		return err
	}
	if a.EmailConfirmed {
		return nil
	}
	return c.sendConfirmation(ctx, a)
}

// ForgotPassword mails a password-reset link. An unknown email succeeds
// silently so the call cannot be used to probe for accounts.
func (c *Core) ForgotPassword(ctx context.Context, email string) error {
	a, err := c.findByEmail(ctx, email)
	if err != nil {
		if HasCode(err, CodeAccountNotFound) {
			c.logger.DebugContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return err
	}

	token, err := c.recovery.Issue(a, PurposePasswordReset)
	if err != nil {
		return err
	}
	tokensIssued.WithLabelValues(TokenKindRecovery).Inc()
	return c.notifier.SendPasswordReset(ctx, a, token, c.recovery.Lifetime(PurposePasswordReset))
}

// ResetPassword sets a new password when token is a valid reset token for the
// account. The write invalidates every outstanding recovery token, and the
// security stamp rotates with it to end any pending two-factor challenge. An
// active lockout is left to elapse.
func (c *Core) ResetPassword(ctx context.Context, id ulid.ULID, token, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	a, err := c.findByID(ctx, id)
	if err != nil {
		return err
	}
	// Reject bad tokens before paying for a hash.
	if err := c.recovery.Validate(a, token, PurposePasswordReset); err != nil {
		return err
	}

	hash, err := c.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("AUTH_RESET_FAILED").With("operation", "hash password").Wrap(err)
	}

	_, err = c.mutator.mutateLoaded(ctx, a, "reset_password", func(x *Account) error {
		if err := c.recovery.Validate(x, token, PurposePasswordReset); err != nil {
			return err
		}
		x.PasswordHash = hash
		x.AccessFailedCount = 0
		x.RotateSecurityStamp()
		return nil
	})
	if err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "password reset", "account_id", id.String())
	return nil
}

// sendConfirmation issues and mails an email-confirmation token.
func (c *Core) sendConfirmation(ctx context.Context, a *Account) error {
	token, err := c.recovery.Issue(a, PurposeEmailConfirmation)
	if err != nil {
		return err
	}
	tokensIssued.WithLabelValues(TokenKindRecovery).Inc()
	return c.notifier.SendConfirmation(ctx, a, token, c.recovery.Lifetime(PurposeEmailConfirmation))
}
