// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session token defaults.
const (
	DefaultSessionLifetime = 7 * 24 * time.Hour

	// MinSigningKeyBytes is the shortest key accepted for HS512.
	MinSigningKeyBytes = 64
)

// SessionClaims is the JWT payload of a session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	Email     string              `json:"email,omitempty"`
	GivenName string              `json:"given_name,omitempty"`
	Roles     []string            `json:"role,omitempty"`
	Extra     map[string][]string `json:"claims,omitempty"`
}

// Claims flattens the token payload back into a claim list.
func (c *SessionClaims) Claims() []Claim {
	var out []Claim
	if c.Email != "" {
		out = append(out, Claim{Type: ClaimTypeEmail, Value: c.Email})
	}
	if c.GivenName != "" {
		out = append(out, Claim{Type: ClaimTypeGivenName, Value: c.GivenName})
	}
	for _, r := range c.Roles {
		out = append(out, Claim{Type: ClaimTypeRole, Value: r})
	}
	for typ, values := range c.Extra {
		for _, v := range values {
			out = append(out, Claim{Type: typ, Value: v})
		}
	}
	return out
}

// HasRole reports whether the token carries a role claim for role.
func (c *SessionClaims) HasRole(role string) bool {
	n := NormalizeName(role)
	for _, r := range c.Roles {
		if NormalizeName(r) == n {
			return true
		}
	}
	return false
}

// SignedToken is an issued session token.
type SignedToken struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// TokenIssuer signs and verifies session tokens with a symmetric key.
type TokenIssuer struct {
	key      []byte
	issuer   string
	lifetime time.Duration
	now      func() time.Time
}

// TokenIssuerOption configures a TokenIssuer.
type TokenIssuerOption func(*TokenIssuer)

// WithTokenLifetime overrides DefaultSessionLifetime.
func WithTokenLifetime(d time.Duration) TokenIssuerOption {
	return func(t *TokenIssuer) {
		if d > 0 {
			t.lifetime = d
		}
	}
}

// WithTokenClock overrides the time source.
func WithTokenClock(now func() time.Time) TokenIssuerOption {
	return func(t *TokenIssuer) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTokenIssuer creates a TokenIssuer. A missing or short key is a startup
// error, never a per-request one.
func NewTokenIssuer(key []byte, issuer string, opts ...TokenIssuerOption) (*TokenIssuer, error) {
	if len(key) < MinSigningKeyBytes {
		return nil, oops.Code(CodeConfigInvalid).
			With("min_bytes", MinSigningKeyBytes).
			With("got_bytes", len(key)).
			Errorf("signing key must be at least %d bytes", MinSigningKeyBytes)
	}
	if issuer == "" {
		return nil, oops.Code(CodeConfigInvalid).Errorf("token issuer is required")
	}

	t := &TokenIssuer{
		key:      key,
		issuer:   issuer,
		lifetime: DefaultSessionLifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Issue signs a session token for subject carrying claims.
func (t *TokenIssuer) Issue(subject string, claims []Claim) (SignedToken, error) {
	now := t.now()
	exp := now.Add(t.lifetime)

	payload := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Issuer:    t.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	for _, cl := range claims {
		switch cl.Type {
		case ClaimTypeEmail:
			payload.Email = cl.Value
		case ClaimTypeGivenName:
			payload.GivenName = cl.Value
		case ClaimTypeRole:
			payload.Roles = append(payload.Roles, cl.Value)
		default:
			if payload.Extra == nil {
				payload.Extra = make(map[string][]string)
			}
			payload.Extra[cl.Type] = append(payload.Extra[cl.Type], cl.Value)
		}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, payload).SignedString(t.key)
	if err != nil {
		return SignedToken{}, oops.Code("TOKEN_SIGN_FAILED").Wrap(err)
	}
	return SignedToken{Token: signed, ID: payload.ID, ExpiresAt: exp}, nil
}

// Verify checks signature, issuer and expiry. Audience is not checked.
func (t *TokenIssuer) Verify(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, classifyJWTError(err)
	}
	return claims, nil
}

// classifyJWTError maps jwt parse failures onto token error codes.
func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return oops.Code(CodeTokenExpired).Wrapf(err, "token has expired")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return oops.Code(CodeTokenMalformed).Wrapf(err, "token is malformed")
	default:
		return oops.Code(CodeTokenInvalid).Wrapf(err, "token is invalid")
	}
}
