// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/samber/oops"
)

// Channel is an out-of-band delivery route for two-factor codes.
type Channel string

// Known channels. SMS is reserved; no account carries a verified phone yet.
const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Two-factor defaults.
const (
	DefaultTwoFactorPeriod  = 180 * time.Second
	DefaultTwoFactorSkew    = 1
	DefaultPendingLifetime  = 5 * time.Minute
	TwoFactorCodeDigits     = 6
	PendingAudience         = "gatekeep:2fa"
	MinTwoFactorSecretBytes = 32
)

// PendingChallenge is handed to the caller after a password check when a
// second factor is required. Ref is not a session.
type PendingChallenge struct {
	Ref       string
	Channel   Channel
	ExpiresAt time.Time
}

// PendingLogin is a resolved pending reference.
type PendingLogin struct {
	Account  *Account
	Remember bool
	nonce    string
}

type pendingClaims struct {
	jwt.RegisteredClaims
	Nonce    string `json:"nonce"`
	Remember bool   `json:"remember,omitempty"`
}

// TwoFactorChallenger issues and checks out-of-band sign-in codes.
//
// A code is a TOTP value whose secret is derived from the account ID, its
// security stamp and a per-challenge nonce stored on the account. Issuing a
// new challenge replaces the nonce, so older codes and references go stale;
// a successful verification clears it.
type TwoFactorChallenger struct {
	codeKey         []byte
	refKey          []byte
	period          time.Duration
	skew            uint
	pendingLifetime time.Duration
	notifier        *Notifier
	accounts        AccountStore
	mutator         *accountMutator
	now             func() time.Time
}

// TwoFactorOption configures a TwoFactorChallenger.
type TwoFactorOption func(*TwoFactorChallenger)

// WithTwoFactorPeriod sets the code step. A code stays valid for about
// period*(2*skew+1).
func WithTwoFactorPeriod(d time.Duration) TwoFactorOption {
	return func(c *TwoFactorChallenger) {
		if d >= time.Second {
			c.period = d
		}
	}
}

// WithTwoFactorSkew sets how many steps either side of now are accepted.
func WithTwoFactorSkew(steps uint) TwoFactorOption {
	return func(c *TwoFactorChallenger) { c.skew = steps }
}

// WithPendingLifetime sets how long a pending reference stays usable.
func WithPendingLifetime(d time.Duration) TwoFactorOption {
	return func(c *TwoFactorChallenger) {
		if d > 0 {
			c.pendingLifetime = d
		}
	}
}

// WithTwoFactorClock overrides the time source.
func WithTwoFactorClock(now func() time.Time) TwoFactorOption {
	return func(c *TwoFactorChallenger) {
		if now != nil {
			c.now = now
		}
	}
}

// WithTwoFactorLogger sets the logger used for store conflict warnings.
func WithTwoFactorLogger(logger *slog.Logger) TwoFactorOption {
	return func(c *TwoFactorChallenger) {
		if logger != nil {
			c.mutator.logger = logger
		}
	}
}

// NewTwoFactorChallenger creates a challenger. secret keys both the code
// derivation and the pending reference signature.
func NewTwoFactorChallenger(accounts AccountStore, notifier *Notifier, secret []byte, opts ...TwoFactorOption) (*TwoFactorChallenger, error) {
	if len(secret) < MinTwoFactorSecretBytes {
		return nil, oops.Code(CodeConfigInvalid).
			With("min_bytes", MinTwoFactorSecretBytes).
			Errorf("two-factor secret must be at least %d bytes", MinTwoFactorSecretBytes)
	}
	if accounts == nil || notifier == nil {
		return nil, oops.Code(CodeConfigInvalid).Errorf("two-factor challenger needs a store and a notifier")
	}

	c := &TwoFactorChallenger{
		codeKey:         deriveKey(secret, "two-factor-code"),
		refKey:          deriveKey(secret, "two-factor-pending"),
		period:          DefaultTwoFactorPeriod,
		skew:            DefaultTwoFactorSkew,
		pendingLifetime: DefaultPendingLifetime,
		notifier:        notifier,
		accounts:        accounts,
		now:             time.Now,
	}
	c.mutator = &accountMutator{store: accounts, logger: slog.Default(), now: c.clock}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *TwoFactorChallenger) clock() time.Time { return c.now() }

// Channels returns the verified delivery channels for a, best first.
func (c *TwoFactorChallenger) Channels(a *Account) []Channel {
	var out []Channel
	if a.EmailConfirmed && a.Email != "" {
		out = append(out, ChannelEmail)
	}
	return out
}

// IssueChallenge generates a code for a, dispatches it over the best verified
// channel and returns a pending reference. Any previous challenge is superseded.
func (c *TwoFactorChallenger) IssueChallenge(ctx context.Context, a *Account, remember bool) (*PendingChallenge, error) {
	channels := c.Channels(a)
	if len(channels) == 0 {
		return nil, oops.Code(CodeUnsupportedChannel).
			With("account_id", a.ID.String()).
			Errorf("no verified two-factor channel")
	}
	channel := channels[0]

	nonce := uuid.NewString()
	updated, err := c.mutator.mutateLoaded(ctx, a, "two_factor_challenge", func(x *Account) error {
		x.TwoFactorNonce = nonce
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := c.now()
	code, err := totp.GenerateCodeCustom(c.secretFor(updated, nonce), now, c.validateOpts())
	if err != nil {
		return nil, oops.Code("TWO_FACTOR_CODE_FAILED").With("account_id", a.ID.String()).Wrap(err)
	}

	if err := c.deliver(ctx, channel, updated, code); err != nil {
		return nil, err
	}

	exp := now.Add(c.pendingLifetime)
	claims := &pendingClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Subject:   updated.ID.String(),
			Audience:  jwt.ClaimStrings{PendingAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Nonce:    nonce,
		Remember: remember,
	}
	ref, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(c.refKey)
	if err != nil {
		return nil, oops.Code("TOKEN_SIGN_FAILED").With("kind", TokenKindPending).Wrap(err)
	}
	tokensIssued.WithLabelValues(TokenKindPending).Inc()

	return &PendingChallenge{Ref: ref, Channel: channel, ExpiresAt: exp}, nil
}

func (c *TwoFactorChallenger) deliver(ctx context.Context, ch Channel, a *Account, code string) error {
	switch ch {
	case ChannelEmail:
		return c.notifier.SendTwoFactorCode(ctx, a, code, c.period*time.Duration(2*c.skew+1))
	default:
		return oops.Code(CodeUnsupportedChannel).With("channel", ch).Errorf("channel cannot deliver codes")
	}
}

// Resolve loads the account behind a pending reference. A reference whose
// challenge was superseded or already used fails NO_PENDING_CHALLENGE; one
// past its window fails TOKEN_EXPIRED.
func (c *TwoFactorChallenger) Resolve(ctx context.Context, ref string) (*PendingLogin, error) {
	if ref == "" {
		return nil, oops.Code(CodeNoPendingChallenge).Errorf("no pending two-factor challenge")
	}

	claims := &pendingClaims{}
	_, err := jwt.ParseWithClaims(ref, claims, func(*jwt.Token) (any, error) {
		return c.refKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithAudience(PendingAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code(CodeTokenExpired).Wrapf(err, "two-factor challenge has expired")
		}
		return nil, oops.Code(CodeNoPendingChallenge).Wrapf(err, "no pending two-factor challenge")
	}

	id, err := ulid.Parse(claims.Subject)
	if err != nil {
		return nil, oops.Code(CodeNoPendingChallenge).Wrapf(err, "no pending two-factor challenge")
	}
	a, err := c.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeNoPendingChallenge).With("account_id", id.String()).Wrap(err)
		}
		return nil, oops.Code(CodeStoreFailed).
			With("operation", "find account").
			With("account_id", id.String()).
			Wrap(err)
	}
	if a.TwoFactorNonce == "" || !hmac.Equal([]byte(a.TwoFactorNonce), []byte(claims.Nonce)) {
		return nil, oops.Code(CodeNoPendingChallenge).
			With("account_id", id.String()).
			Errorf("two-factor challenge was superseded or already used")
	}

	return &PendingLogin{Account: a, Remember: claims.Remember, nonce: claims.Nonce}, nil
}

// CheckCode reports whether code matches the pending challenge now.
func (c *TwoFactorChallenger) CheckCode(p *PendingLogin, code string) bool {
	code = strings.TrimSpace(code)
	if len(code) != TwoFactorCodeDigits {
		return false
	}
	ok, err := totp.ValidateCustom(code, c.secretFor(p.Account, p.nonce), c.now(), c.validateOpts())
	return err == nil && ok
}

func (c *TwoFactorChallenger) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    uint(c.period / time.Second),
		Skew:      c.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// secretFor derives the base32 TOTP secret for one challenge.
func (c *TwoFactorChallenger) secretFor(a *Account, nonce string) string {
	mac := hmac.New(sha256.New, c.codeKey)
	mac.Write(a.ID.Bytes())
	mac.Write([]byte{0})
	mac.Write([]byte(a.SecurityStamp))
	mac.Write([]byte{0})
	mac.Write([]byte(nonce))
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(mac.Sum(nil))
}

func deriveKey(secret []byte, label string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(label))
	return mac.Sum(nil)
}
