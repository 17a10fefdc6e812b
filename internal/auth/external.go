// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/samber/oops"
)

// ExternalPayload is the verified content of an external provider's token.
type ExternalPayload struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// ExternalVerifier checks a raw provider token and extracts its identity.
// Implementations fail with AUTH_EXTERNAL_INVALID.
type ExternalVerifier interface {
	Provider() string
	Verify(ctx context.Context, rawToken string) (*ExternalPayload, error)
}

// LinkOutcome describes how an external identity was resolved.
type LinkOutcome int

// Link outcomes.
const (
	LinkExisting LinkOutcome = iota
	LinkedByEmail
	LinkProvisioned
)

// String returns the outcome name.
func (o LinkOutcome) String() string {
	switch o {
	case LinkExisting:
		return "existing"
	case LinkedByEmail:
		return "linked_by_email"
	case LinkProvisioned:
		return "provisioned"
	default:
		return "unknown"
	}
}

// ExternalIdentityLinker maps a verified external identity to a local account,
// linking or provisioning one as needed.
type ExternalIdentityLinker struct {
	accounts    AccountStore
	roles       RoleStore
	recovery    *RecoveryTokenProvider
	notifier    *Notifier
	defaultRole string
	mutator     *accountMutator
	logger      *slog.Logger
}

func newExternalIdentityLinker(accounts AccountStore, roles RoleStore, recovery *RecoveryTokenProvider,
	notifier *Notifier, defaultRole string, mutator *accountMutator, logger *slog.Logger,
) *ExternalIdentityLinker {
	return &ExternalIdentityLinker{
		accounts:    accounts,
		roles:       roles,
		recovery:    recovery,
		notifier:    notifier,
		defaultRole: defaultRole,
		mutator:     mutator,
		logger:      logger,
	}
}

// Resolve returns the account for p. An existing link wins; otherwise an
// account with the same email gets the link; otherwise a new unconfirmed
// account is provisioned, given the default role and sent a confirmation.
// Resolving the same identity twice never creates a second account.
func (l *ExternalIdentityLinker) Resolve(ctx context.Context, p *ExternalPayload) (*Account, LinkOutcome, error) {
	if p == nil || p.Provider == "" || p.Subject == "" {
		return nil, 0, oops.Code(CodeExternalInvalid).Errorf("external identity is incomplete")
	}

	a, outcome, err := l.resolveExisting(ctx, p)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return a, outcome, err
	}

	a, err = l.provision(ctx, p)
	if errors.Is(err, ErrDuplicate) {
		// Lost a race with a concurrent first login for the same identity or email.
		l.logger.InfoContext(ctx, "external account provisioned concurrently, re-resolving",
			"provider", p.Provider)
		a, outcome, err = l.resolveExisting(ctx, p)
		if errors.Is(err, ErrNotFound) {
			return nil, 0, oops.Code(CodeDuplicateAccount).
				With("provider", p.Provider).
				Errorf("login name is already taken")
		}
		return a, outcome, err
	}
	if err != nil {
		return nil, 0, err
	}
	return a, LinkProvisioned, nil
}

// resolveExisting returns ErrNotFound (unwrapped) when nothing matches.
func (l *ExternalIdentityLinker) resolveExisting(ctx context.Context, p *ExternalPayload) (*Account, LinkOutcome, error) {
	a, err := l.accounts.FindByLogin(ctx, p.Provider, p.Subject)
	switch {
	case err == nil:
		return a, LinkExisting, nil
	case !errors.Is(err, ErrNotFound):
		return nil, 0, oops.Code(CodeStoreFailed).
			With("operation", "find by login").
			With("provider", p.Provider).
			Wrap(err)
	}

	if strings.TrimSpace(p.Email) == "" {
		return nil, 0, oops.Code(CodeExternalInvalid).
			With("provider", p.Provider).
			Errorf("external identity carries no email")
	}

	a, err = l.accounts.FindByNormalizedEmail(ctx, NormalizeName(p.Email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, oops.Code(CodeStoreFailed).
			With("operation", "find by email").
			Wrap(err)
	}

	login := ExternalIdentity{Provider: p.Provider, ProviderKey: p.Subject, DisplayName: p.Name}
	linked, err := l.mutator.mutateLoaded(ctx, a, "link_external_identity", func(x *Account) error {
		if !x.AddLogin(login) {
			return errNoChange
		}
		x.RotateSecurityStamp()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	l.logger.InfoContext(ctx, "external identity linked by email",
		"account_id", linked.ID.String(),
		"provider", p.Provider,
		"provider_email_verified", p.EmailVerified,
	)
	return linked, LinkedByEmail, nil
}

func (l *ExternalIdentityLinker) provision(ctx context.Context, p *ExternalPayload) (*Account, error) {
	a, err := NewAccount(p.Email, p.Email, "")
	if err != nil {
		return nil, err
	}
	a.DisplayName = p.Name
	a.AddLogin(ExternalIdentity{Provider: p.Provider, ProviderKey: p.Subject, DisplayName: p.Name})

	if err := assignDefaultRole(ctx, l.roles, a, l.defaultRole); err != nil {
		return nil, err
	}

	if err := l.accounts.Create(ctx, a); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, err //nolint:wrapcheck // sentinel checked by Resolve
		}
		return nil, oops.Code(CodeStoreFailed).With("operation", "create account").Wrap(err)
	}

	token, err := l.recovery.Issue(a, PurposeEmailConfirmation)
	if err != nil {
		return nil, discardCreated(ctx, l.accounts, l.logger, a, err)
	}
	tokensIssued.WithLabelValues(TokenKindRecovery).Inc()
	if err := l.notifier.SendConfirmation(ctx, a, token, l.recovery.Lifetime(PurposeEmailConfirmation)); err != nil {
		return nil, discardCreated(ctx, l.accounts, l.logger, a, err)
	}
	return a, nil
}

// assignDefaultRole adds role to a when the role exists. An empty role name or
// a missing role is not an error.
func assignDefaultRole(ctx context.Context, roles RoleStore, a *Account, role string) error {
	if role == "" {
		return nil
	}
	r, err := roles.FindRoleByName(ctx, NormalizeName(role))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return oops.Code(CodeStoreFailed).
			With("operation", "find role").
			With("role", role).
			Wrap(err)
	}
	a.AddRole(r.Name)
	return nil
}
