// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// Purpose scopes a recovery token to one flow.
type Purpose string

// Recovery token purposes.
const (
	PurposeEmailConfirmation Purpose = "EmailConfirmation"
	PurposePasswordReset     Purpose = "ResetPassword"
)

// Recovery token lifetimes.
const (
	DefaultConfirmationLifetime = 3 * 24 * time.Hour
	DefaultResetLifetime        = 2 * time.Hour

	// MinRecoverySecretBytes is the shortest accepted server secret.
	MinRecoverySecretBytes = 32
)

// recoveryClaims is the payload of a recovery token. It deliberately carries no
// random ID so the token is a pure function of its inputs.
type recoveryClaims struct {
	jwt.RegisteredClaims
	Purpose Purpose `json:"pur"`
}

// RecoveryTokenProvider issues and validates purpose-scoped recovery tokens.
//
// Tokens are not stored. The signing key is derived from the server secret,
// the purpose, the account ID and the account's concurrency stamp. Every
// stored write to the account moves that stamp, so any mutation after issue
// (a failed login, a role grant, the confirmation or reset itself) silently
// invalidates every token issued before. That is the only way to revoke a
// token early.
type RecoveryTokenProvider struct {
	secret    []byte
	lifetimes map[Purpose]time.Duration
	now       func() time.Time
}

// RecoveryOption configures a RecoveryTokenProvider.
type RecoveryOption func(*RecoveryTokenProvider)

// WithPurposeLifetime overrides the validity window for a purpose.
func WithPurposeLifetime(p Purpose, d time.Duration) RecoveryOption {
	return func(r *RecoveryTokenProvider) {
		if d > 0 {
			r.lifetimes[p] = d
		}
	}
}

// WithRecoveryClock overrides the time source.
func WithRecoveryClock(now func() time.Time) RecoveryOption {
	return func(r *RecoveryTokenProvider) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecoveryTokenProvider creates a provider keyed by secret.
func NewRecoveryTokenProvider(secret []byte, opts ...RecoveryOption) (*RecoveryTokenProvider, error) {
	if len(secret) < MinRecoverySecretBytes {
		return nil, oops.Code(CodeConfigInvalid).
			With("min_bytes", MinRecoverySecretBytes).
			Errorf("recovery secret must be at least %d bytes", MinRecoverySecretBytes)
	}
	r := &RecoveryTokenProvider{
		secret: secret,
		lifetimes: map[Purpose]time.Duration{
			PurposeEmailConfirmation: DefaultConfirmationLifetime,
			PurposePasswordReset:     DefaultResetLifetime,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Lifetime returns the validity window for purpose.
func (r *RecoveryTokenProvider) Lifetime(p Purpose) time.Duration {
	return r.lifetimes[p]
}

// Issue returns a token for account a scoped to purpose p.
func (r *RecoveryTokenProvider) Issue(a *Account, p Purpose) (string, error) {
	lifetime, ok := r.lifetimes[p]
	if !ok {
		return "", oops.Code(CodeInvalidInput).With("purpose", p).Errorf("unknown token purpose")
	}

	now := r.now()
	claims := &recoveryClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
		Purpose: p,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.key(a, p))
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").With("purpose", p).Wrap(err)
	}
	return token, nil
}

// Validate checks token against the account's current state. It never
// mutates a; callers apply the resulting change in a single compare-and-swap
// write, which moves the stamp and spends the token.
func (r *RecoveryTokenProvider) Validate(a *Account, token string, p Purpose) error {
	if token == "" {
		return oops.Code(CodeTokenMalformed).Errorf("token cannot be empty")
	}
	if _, ok := r.lifetimes[p]; !ok {
		return oops.Code(CodeInvalidInput).With("purpose", p).Errorf("unknown token purpose")
	}

	claims := &recoveryClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return r.key(a, p), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(a.ID.String()),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(r.now),
	)
	if err != nil {
		return classifyJWTError(err)
	}
	if claims.Purpose != p {
		return oops.Code(CodeTokenInvalid).With("purpose", p).Errorf("token purpose mismatch")
	}
	return nil
}

func (r *RecoveryTokenProvider) key(a *Account, p Purpose) []byte {
	mac := hmac.New(sha256.New, r.secret)
	mac.Write([]byte(p))
	mac.Write([]byte{0})
	mac.Write(a.ID.Bytes())
	mac.Write([]byte{0})
	mac.Write([]byte(a.ConcurrencyStamp))
	return mac.Sum(nil)
}
