// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/pkg/errutil"
)

// DefaultRoleName is assigned to self-registered and provisioned accounts
// when a role by that name exists.
const DefaultRoleName = "User"

// ProtectedRoleName cannot be granted through staff registration.
const ProtectedRoleName = "Admin"

// dummyPasswordHash is verified against when the login is unknown so the
// response time does not reveal whether the account exists.
//
//nolint:gosec // G101: intentionally fake hash, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// LoginStatus is the terminal state of a login flow.
type LoginStatus string

// Login statuses.
const (
	StatusAuthenticated     LoginStatus = "authenticated"
	StatusTwoFactorRequired LoginStatus = "two_factor_required"
)

// LoginResult is returned by every flow that can end in a session.
// Token is empty while Status is StatusTwoFactorRequired; Pending is set instead.
type LoginResult struct {
	Account     *Account
	Status      LoginStatus
	Token       string
	ExpiresAt   time.Time
	Email       string
	DisplayName string
	Pending     *PendingChallenge
	Remember    bool
}

// CoreDeps are the collaborators of Core. All are required except
// ExternalVerifiers.
type CoreDeps struct {
	Accounts          AccountStore
	Roles             RoleStore
	Hasher            PasswordHasher
	Lockout           *LockoutGuard
	Tokens            *TokenIssuer
	Recovery          *RecoveryTokenProvider
	TwoFactor         *TwoFactorChallenger
	Notifier          *Notifier
	ExternalVerifiers []ExternalVerifier
}

// Core orchestrates the login, registration and recovery flows.
type Core struct {
	accounts    AccountStore
	roles       RoleStore
	hasher      PasswordHasher
	lockout     *LockoutGuard
	claims      *ClaimsAggregator
	tokens      *TokenIssuer
	recovery    *RecoveryTokenProvider
	twoFactor   *TwoFactorChallenger
	notifier    *Notifier
	linker      *ExternalIdentityLinker
	verifiers   map[string]ExternalVerifier
	defaultRole string
	mutator     *accountMutator
	logger      *slog.Logger
	now         func() time.Time
}

// CoreOption configures a Core.
type CoreOption func(*Core)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) CoreOption {
	return func(c *Core) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) CoreOption {
	return func(c *Core) {
		if now != nil {
			c.now = now
		}
	}
}

// WithDefaultRole overrides DefaultRoleName. An empty name disables it.
func WithDefaultRole(name string) CoreOption {
	return func(c *Core) { c.defaultRole = name }
}

// NewCore creates a Core.
func NewCore(deps CoreDeps, opts ...CoreOption) (*Core, error) {
	switch {
	case deps.Accounts == nil:
		return nil, oops.Code(CodeConfigInvalid).Errorf("account store is required")
	case deps.Roles == nil:
		return nil, oops.Code(CodeConfigInvalid).Errorf("role store is required")
	case deps.Hasher == nil:
		return nil, oops.Code(CodeConfigInvalid).Errorf("password hasher is required")
	case deps.Tokens == nil:
		return nil, oops.Code(CodeConfigInvalid).Errorf("token issuer is required")
	case deps.Recovery == nil:
		return nil, oops.Code(CodeConfigInvalid).Errorf("recovery token provider is required")
	case deps.TwoFactor == nil:
		return nil, oops.Code(CodeConfigInvalid).Errorf("two-factor challenger is required")
	case deps.Notifier == nil:
		return nil, oops.Code(CodeConfigInvalid).Errorf("notifier is required")
	}

	c := &Core{
		accounts:    deps.Accounts,
		roles:       deps.Roles,
		hasher:      deps.Hasher,
		lockout:     deps.Lockout,
		claims:      NewClaimsAggregator(deps.Roles),
		tokens:      deps.Tokens,
		recovery:    deps.Recovery,
		twoFactor:   deps.TwoFactor,
		notifier:    deps.Notifier,
		verifiers:   make(map[string]ExternalVerifier, len(deps.ExternalVerifiers)),
		defaultRole: DefaultRoleName,
		logger:      slog.Default(),
		now:         time.Now,
	}
	if c.lockout == nil {
		c.lockout = NewLockoutGuard(DefaultLockoutThreshold, DefaultLockoutDuration)
	}
	for _, v := range deps.ExternalVerifiers {
		c.verifiers[v.Provider()] = v
	}
	for _, opt := range opts {
		opt(c)
	}

	c.mutator = &accountMutator{store: c.accounts, logger: c.logger, now: c.clock}
	c.linker = newExternalIdentityLinker(c.accounts, c.roles, c.recovery, c.notifier, c.defaultRole, c.mutator, c.logger)
	return c, nil
}

func (c *Core) clock() time.Time { return c.now() }

// Login checks a password. Unknown logins and wrong passwords fail alike with
// AUTH_INVALID_CREDENTIALS; an unconfirmed email fails AUTH_EMAIL_UNCONFIRMED;
// a locked account fails AUTH_ACCOUNT_LOCKED and the owner is mailed a reset
// link. When two-factor is enabled the result carries a pending challenge
// instead of a token.
func (c *Core) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	a, err := c.findByLogin(ctx, in.Login)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		_, _ = c.hasher.Verify(in.Password, dummyPasswordHash) //nolint:errcheck // timing only
		loginAttempts.WithLabelValues(OutcomeRejected).Inc()
		return nil, invalidCredentials()
	}

	if !a.EmailConfirmed {
		loginAttempts.WithLabelValues(OutcomeUnconfirmed).Inc()
		return nil, oops.Code(CodeEmailUnconfirmed).
			With("account_id", a.ID.String()).
			Errorf("email address has not been confirmed")
	}

	now := c.now()
	if c.lockout.IsLocked(a, now) {
		return nil, c.lockedOut(ctx, a, *a.LockoutEnd)
	}

	if !a.HasPassword() {
		_, _ = c.hasher.Verify(in.Password, dummyPasswordHash) //nolint:errcheck // timing only
		loginAttempts.WithLabelValues(OutcomeRejected).Inc()
		return nil, invalidCredentials()
	}

	ok, err := c.hasher.Verify(in.Password, a.PasswordHash)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("account_id", a.ID.String()).
			Wrap(err)
	}
	if !ok {
		return nil, c.rejectCredential(ctx, a, "login_failure", invalidCredentials())
	}

	a, err = c.mutator.mutateLoaded(ctx, a, "login_success", func(x *Account) error {
		changed := c.lockout.RecordSuccess(x)
		if c.hasher.NeedsUpgrade(x.PasswordHash) {
			upgraded, hashErr := c.hasher.Hash(in.Password)
			if hashErr == nil {
				x.PasswordHash = upgraded
				changed = true
			}
		}
		if !changed {
			return errNoChange
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if a.TwoFactorEnabled {
		pending, err := c.twoFactor.IssueChallenge(ctx, a, in.Remember)
		if err != nil {
			return nil, err
		}
		loginAttempts.WithLabelValues(OutcomeTwoFactorPending).Inc()
		return &LoginResult{
			Account:     a,
			Status:      StatusTwoFactorRequired,
			Email:       a.Email,
			DisplayName: a.NameForDisplay(),
			Pending:     pending,
			Remember:    in.Remember,
		}, nil
	}

	loginAttempts.WithLabelValues(OutcomeAuthenticated).Inc()
	return c.issueSession(ctx, a, in.Remember)
}

// SendTwoFactorCode issues a fresh code for a pending login. The previous
// reference and code stop working.
func (c *Core) SendTwoFactorCode(ctx context.Context, pendingRef string) (*PendingChallenge, error) {
	p, err := c.twoFactor.Resolve(ctx, pendingRef)
	if err != nil {
		return nil, err
	}
	if c.lockout.IsLocked(p.Account, c.now()) {
		return nil, c.lockedOut(ctx, p.Account, *p.Account.LockoutEnd)
	}
	return c.twoFactor.IssueChallenge(ctx, p.Account, p.Remember)
}

// VerifyTwoFactor completes a pending login. A wrong code counts as a failed
// credential check and leaves the challenge usable; remember widens the
// Remember flag carried from the password step.
func (c *Core) VerifyTwoFactor(ctx context.Context, pendingRef, code string, remember bool) (*LoginResult, error) {
	p, err := c.twoFactor.Resolve(ctx, pendingRef)
	if err != nil {
		loginAttempts.WithLabelValues(OutcomeRejected).Inc()
		return nil, err
	}
	a := p.Account

	if c.lockout.IsLocked(a, c.now()) {
		return nil, c.lockedOut(ctx, a, *a.LockoutEnd)
	}

	if !c.twoFactor.CheckCode(p, code) {
		return nil, c.rejectCredential(ctx, a, "two_factor_failure",
			oops.Code(CodeTwoFactorMismatch).
				With("account_id", a.ID.String()).
				Errorf("two-factor code does not match"))
	}

	nonce := a.TwoFactorNonce
	a, err = c.mutator.mutateLoaded(ctx, a, "two_factor_success", func(x *Account) error {
		if x.TwoFactorNonce != nonce {
			return oops.Code(CodeNoPendingChallenge).
				With("account_id", x.ID.String()).
				Errorf("two-factor challenge was superseded or already used")
		}
		x.TwoFactorNonce = ""
		c.lockout.RecordSuccess(x)
		return nil
	})
	if err != nil {
		return nil, err
	}

	loginAttempts.WithLabelValues(OutcomeAuthenticated).Inc()
	return c.issueSession(ctx, a, remember || p.Remember)
}

// CurrentUser verifies a session token and re-issues one with fresh claims
// for the same account.
func (c *Core) CurrentUser(ctx context.Context, sessionToken string) (*LoginResult, error) {
	claims, err := c.tokens.Verify(sessionToken)
	if err != nil {
		return nil, err
	}
	id, err := ulid.Parse(claims.Subject)
	if err != nil {
		return nil, oops.Code(CodeTokenInvalid).Wrapf(err, "token subject is not an account id")
	}
	a, err := c.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.issueSession(ctx, a, false)
}

// EmailExists reports whether an account uses email.
func (c *Core) EmailExists(ctx context.Context, email string) (bool, error) {
	return c.exists(ctx, "email", func() error {
		_, err := c.accounts.FindByNormalizedEmail(ctx, NormalizeName(email))
		return err
	})
}

// UserNameExists reports whether an account uses the login name.
func (c *Core) UserNameExists(ctx context.Context, name string) (bool, error) {
	return c.exists(ctx, "user_name", func() error {
		_, err := c.accounts.FindByNormalizedUserName(ctx, NormalizeName(name))
		return err
	})
}

func (c *Core) exists(_ context.Context, field string, find func() error) (bool, error) {
	err := find()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, oops.Code(CodeStoreFailed).
			With("operation", "exists").
			With("field", field).
			Wrap(err)
	}
}

// SetTwoFactorEnabled turns the second factor on or off. Enabling requires a
// verified delivery channel.
func (c *Core) SetTwoFactorEnabled(ctx context.Context, id ulid.ULID, enabled bool) error {
	_, err := c.mutator.mutateByID(ctx, id, "set_two_factor", func(x *Account) error {
		if x.TwoFactorEnabled == enabled {
			return errNoChange
		}
		if enabled && len(c.twoFactor.Channels(x)) == 0 {
			return oops.Code(CodeUnsupportedChannel).
				With("account_id", x.ID.String()).
				Errorf("no verified two-factor channel")
		}
		x.TwoFactorEnabled = enabled
		if !enabled {
			x.TwoFactorNonce = ""
		}
		return nil
	})
	return err
}

// issueSession aggregates claims and signs a session token for a.
func (c *Core) issueSession(ctx context.Context, a *Account, remember bool) (*LoginResult, error) {
	claims, err := c.claims.Aggregate(ctx, a)
	if err != nil {
		return nil, err
	}
	signed, err := c.tokens.Issue(a.ID.String(), claims)
	if err != nil {
		return nil, err
	}
	tokensIssued.WithLabelValues(TokenKindSession).Inc()

	return &LoginResult{
		Account:     a,
		Status:      StatusAuthenticated,
		Token:       signed.Token,
		ExpiresAt:   signed.ExpiresAt,
		Email:       a.Email,
		DisplayName: a.NameForDisplay(),
		Remember:    remember,
	}, nil
}

// rejectCredential records a failed check. When the failure crosses the
// threshold the account is locked and AUTH_ACCOUNT_LOCKED is returned;
// otherwise reject is.
func (c *Core) rejectCredential(ctx context.Context, a *Account, op string, reject error) error {
	now := c.now()
	var decision LockoutDecision

	updated, err := c.mutator.mutateLoaded(ctx, a, op, func(x *Account) error {
		if c.lockout.IsLocked(x, now) {
			// A concurrent failure already locked the account.
			decision = LockoutDecision{Locked: true, LockedUntil: *x.LockoutEnd}
			return errNoChange
		}
		decision = c.lockout.RecordFailure(x, now)
		if decision.Locked {
			x.TwoFactorNonce = ""
		}
		return nil
	})
	if err != nil {
		return err
	}

	if decision.Locked {
		lockouts.Inc()
		c.logger.WarnContext(ctx, "account locked",
			"account_id", updated.ID.String(),
			"locked_until", decision.LockedUntil,
		)
		return c.lockedOut(ctx, updated, decision.LockedUntil)
	}

	loginAttempts.WithLabelValues(OutcomeRejected).Inc()
	return reject
}

// lockedOut notifies the owner and builds the lockout error. A failed
// notification is logged; the caller still sees the lockout.
func (c *Core) lockedOut(ctx context.Context, a *Account, until time.Time) error {
	loginAttempts.WithLabelValues(OutcomeLockedOut).Inc()

	token, err := c.recovery.Issue(a, PurposePasswordReset)
	if err == nil {
		tokensIssued.WithLabelValues(TokenKindRecovery).Inc()
		remaining := c.lockout.RemainingAt(a, c.now())
		err = c.notifier.SendLockout(ctx, a, token, c.lockout.Threshold(), until, remaining)
	}
	if err != nil {
		errutil.LogError(c.logger, "lockout notification failed", err)
	}

	return oops.Code(CodeAccountLocked).
		With("account_id", a.ID.String()).
		With("locked_until", until).
		Errorf("account is temporarily locked")
}

// findByLogin resolves an email address or a login name.
func (c *Core) findByLogin(ctx context.Context, login string) (*Account, error) {
	normalized := NormalizeName(login)
	var (
		a   *Account
		err error
	)
	if strings.Contains(normalized, "@") {
		a, err = c.accounts.FindByNormalizedEmail(ctx, normalized)
		if errors.Is(err, ErrNotFound) {
			a, err = c.accounts.FindByNormalizedUserName(ctx, normalized)
		}
	} else {
		a, err = c.accounts.FindByNormalizedUserName(ctx, normalized)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err //nolint:wrapcheck // sentinel checked by callers
		}
		return nil, oops.Code(CodeStoreFailed).With("operation", "find by login").Wrap(err)
	}
	return a, nil
}

func (c *Core) findByID(ctx context.Context, id ulid.ULID) (*Account, error) {
	a, err := c.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeAccountNotFound).With("account_id", id.String()).Wrap(err)
		}
		return nil, oops.Code(CodeStoreFailed).
			With("operation", "find account").
			With("account_id", id.String()).
			Wrap(err)
	}
	return a, nil
}

func (c *Core) findByEmail(ctx context.Context, email string) (*Account, error) {
	a, err := c.accounts.FindByNormalizedEmail(ctx, NormalizeName(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeAccountNotFound).Wrap(err)
		}
		return nil, oops.Code(CodeStoreFailed).With("operation", "find by email").Wrap(err)
	}
	return a, nil
}
