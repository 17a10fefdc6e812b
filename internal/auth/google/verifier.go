// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package google verifies Google Sign-In ID tokens against Google's published
// signing keys.
package google

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// Provider is the login provider name recorded on linked identities.
const Provider = "Google"

// DefaultJWKSURL is Google's signing key set.
const DefaultJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

var validIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

type idTokenClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// Verifier checks Google ID tokens issued for one OAuth client.
type Verifier struct {
	clientID string
	keyfunc  jwt.Keyfunc
	jwks     *keyfunc.JWKS
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock sets the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithLogger sets the logger used for key refresh failures.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// New fetches the key set at jwksURL and keeps it refreshed in the
// background until Close is called.
func New(ctx context.Context, clientID, jwksURL string, opts ...Option) (*Verifier, error) {
	v, err := newVerifier(clientID, opts)
	if err != nil {
		return nil, err
	}
	if jwksURL == "" {
		jwksURL = DefaultJWKSURL
	}

	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Ctx: ctx,
		RefreshErrorHandler: func(err error) {
			v.logger.Warn("google key set refresh failed", "url", jwksURL, "error", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, oops.Code(auth.CodeConfigInvalid).
			With("jwks_url", jwksURL).
			Wrapf(err, "fetch google signing keys")
	}
	v.jwks = jwks
	v.keyfunc = jwks.Keyfunc
	return v, nil
}

// NewWithKeyfunc creates a Verifier that resolves signing keys with kf.
func NewWithKeyfunc(clientID string, kf jwt.Keyfunc, opts ...Option) (*Verifier, error) {
	if kf == nil {
		return nil, oops.Code(auth.CodeConfigInvalid).Errorf("google verifier needs a key function")
	}
	v, err := newVerifier(clientID, opts)
	if err != nil {
		return nil, err
	}
	v.keyfunc = kf
	return v, nil
}

func newVerifier(clientID string, opts []Option) (*Verifier, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, oops.Code(auth.CodeConfigInvalid).Errorf("google client id is required")
	}
	v := &Verifier{clientID: clientID, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Provider implements auth.ExternalVerifier.
func (v *Verifier) Provider() string { return Provider }

// Verify checks the signature, audience, issuer and expiry of an ID token
// and returns the identity it asserts.
func (v *Verifier) Verify(_ context.Context, rawToken string) (*auth.ExternalPayload, error) {
	claims := &idTokenClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, v.keyfunc,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, oops.Code(auth.CodeExternalInvalid).
			With("provider", Provider).
			Wrapf(err, "google id token rejected")
	}
	if !slices.Contains(validIssuers, claims.Issuer) {
		return nil, oops.Code(auth.CodeExternalInvalid).
			With("provider", Provider).
			With("issuer", claims.Issuer).
			Errorf("google id token has an unexpected issuer")
	}
	if claims.Subject == "" {
		return nil, oops.Code(auth.CodeExternalInvalid).
			With("provider", Provider).
			Errorf("google id token has no subject")
	}

	return &auth.ExternalPayload{
		Provider:      Provider,
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
	}, nil
}

// Close stops the background key refresh.
func (v *Verifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}
