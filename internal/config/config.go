// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package config loads the Gatekeep configuration from defaults, a YAML
// file, GATEKEEP_ environment variables and command-line flags, in that
// order of precedence.
package config

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/auth/google"
)

// CodeConfigInvalid marks configuration that failed to load or validate.
const CodeConfigInvalid = "CONFIG_INVALID"

// Config is the complete service configuration.
type Config struct {
	Database  DatabaseConfig  `koanf:"database"`
	Token     TokenConfig     `koanf:"token"`
	Recovery  RecoveryConfig  `koanf:"recovery"`
	Lockout   LockoutConfig   `koanf:"lockout"`
	TwoFactor TwoFactorConfig `koanf:"two_factor"`
	Mail      MailConfig      `koanf:"mail"`
	Google    GoogleConfig    `koanf:"google"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Roles     RolesConfig     `koanf:"roles"`
}

// DatabaseConfig locates PostgreSQL.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
	ConnectAttempts uint64        `koanf:"connect_attempts"`
	ConnectBackoff  time.Duration `koanf:"connect_backoff"`
}

// TokenConfig controls session tokens.
type TokenConfig struct {
	Key      string        `koanf:"key"`
	Issuer   string        `koanf:"issuer"`
	Lifetime time.Duration `koanf:"lifetime"`
}

// RecoveryConfig controls email confirmation and password reset tokens.
type RecoveryConfig struct {
	Secret          string        `koanf:"secret"`
	ResetLifetime   time.Duration `koanf:"reset_lifetime"`
	ConfirmLifetime time.Duration `koanf:"confirm_lifetime"`
}

// LockoutConfig controls the failed-attempt lockout.
type LockoutConfig struct {
	Threshold int           `koanf:"threshold"`
	Duration  time.Duration `koanf:"duration"`
}

// TwoFactorConfig controls emailed sign-in codes.
type TwoFactorConfig struct {
	Secret          string        `koanf:"secret"`
	Period          time.Duration `koanf:"period"`
	Skew            uint          `koanf:"skew"`
	PendingLifetime time.Duration `koanf:"pending_lifetime"`
}

// MailConfig controls outbound notifications.
type MailConfig struct {
	From     string `koanf:"from"`
	FromName string `koanf:"from_name"`
	BaseURL  string `koanf:"base_url"`
}

// GoogleConfig enables Google sign-in when ClientID is set.
type GoogleConfig struct {
	ClientID string `koanf:"client_id"`
	JWKSURL  string `koanf:"jwks_url"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// MetricsConfig controls the observability server. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// RolesConfig names the role given to self-registered accounts.
type RolesConfig struct {
	Default string `koanf:"default"`
}

// Defaults returns the built-in configuration. Secrets have no default.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			ConnectAttempts: 5,
			ConnectBackoff:  500 * time.Millisecond,
		},
		Token: TokenConfig{
			Issuer:   "gatekeep",
			Lifetime: auth.DefaultSessionLifetime,
		},
		Recovery: RecoveryConfig{
			ResetLifetime:   auth.DefaultResetLifetime,
			ConfirmLifetime: auth.DefaultConfirmationLifetime,
		},
		Lockout: LockoutConfig{
			Threshold: auth.DefaultLockoutThreshold,
			Duration:  auth.DefaultLockoutDuration,
		},
		TwoFactor: TwoFactorConfig{
			Period:          auth.DefaultTwoFactorPeriod,
			Skew:            auth.DefaultTwoFactorSkew,
			PendingLifetime: auth.DefaultPendingLifetime,
		},
		Mail: MailConfig{
			From:     "noreply@gatekeep.local",
			FromName: "Gatekeep",
			BaseURL:  "http://localhost:8080",
		},
		Google: GoogleConfig{
			JWKSURL: google.DefaultJWKSURL,
		},
		Log: LogConfig{
			Format: "json",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9100",
		},
		Roles: RolesConfig{
			Default: auth.DefaultRoleName,
		},
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Database),
		validation.Field(&c.Token),
		validation.Field(&c.Recovery),
		validation.Field(&c.Lockout),
		validation.Field(&c.TwoFactor),
		validation.Field(&c.Mail),
		validation.Field(&c.Google),
		validation.Field(&c.Log),
	)
	if err != nil {
		return oops.Code(CodeConfigInvalid).Wrap(err)
	}
	return nil
}

// Validate checks the database section.
func (d DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.URL, validation.Required),
		validation.Field(&d.ConnectAttempts, validation.Required),
		validation.Field(&d.ConnectBackoff, validation.Min(time.Millisecond)),
	)
}

// Validate checks the token section.
func (t TokenConfig) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Key, validation.Required, validation.Length(auth.MinSigningKeyBytes, 0)),
		validation.Field(&t.Issuer, validation.Required),
		validation.Field(&t.Lifetime, validation.Required, validation.Min(time.Minute)),
	)
}

// Validate checks the recovery section.
func (r RecoveryConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Secret, validation.Required, validation.Length(auth.MinRecoverySecretBytes, 0)),
		validation.Field(&r.ResetLifetime, validation.Required, validation.Min(time.Minute)),
		validation.Field(&r.ConfirmLifetime, validation.Required, validation.Min(time.Minute)),
	)
}

// Validate checks the lockout section.
func (l LockoutConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Threshold, validation.Required, validation.Min(1)),
		validation.Field(&l.Duration, validation.Required, validation.Min(time.Second)),
	)
}

// Validate checks the two-factor section.
func (t TwoFactorConfig) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Secret, validation.Required, validation.Length(auth.MinTwoFactorSecretBytes, 0)),
		validation.Field(&t.Period, validation.Required, validation.Min(30*time.Second)),
		validation.Field(&t.PendingLifetime, validation.Required, validation.Min(time.Minute)),
	)
}

// Validate checks the mail section.
func (m MailConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.From, validation.Required, is.EmailFormat),
		validation.Field(&m.BaseURL, validation.Required, is.URL),
	)
}

// Validate checks the Google section. Nothing is required while sign-in
// with Google is disabled.
func (g GoogleConfig) Validate() error {
	return validation.ValidateStruct(&g,
		validation.Field(&g.JWKSURL, validation.When(g.ClientID != "", validation.Required, is.URL)),
	)
}

// Validate checks the log section.
func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Format, validation.In("json", "text")),
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error")),
	)
}

// GoogleEnabled reports whether Google sign-in is configured.
func (c Config) GoogleEnabled() bool {
	return c.Google.ClientID != ""
}
