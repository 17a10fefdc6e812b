// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/gatekeep/gatekeep/internal/xdg"
)

// EnvPrefix prefixes every environment override. Sections and keys are
// separated by a double underscore: GATEKEEP_TWO_FACTOR__PENDING_LIFETIME.
const EnvPrefix = "GATEKEEP_"

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"database-url":  "database.url",
	"auto-migrate":  "database.auto_migrate",
	"log-format":    "log.format",
	"log-level":     "log.level",
	"metrics-addr":  "metrics.addr",
	"mail-base-url": "mail.base_url",
}

// BindFlags registers the overridable flags on fs.
func BindFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("database-url", d.Database.URL, "PostgreSQL connection URL")
	fs.Bool("auto-migrate", d.Database.AutoMigrate, "apply pending migrations on start")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("metrics-addr", d.Metrics.Addr, "observability listen address, empty to disable")
	fs.String("mail-base-url", d.Mail.BaseURL, "base URL for links in outgoing mail")
}

// LoadOptions select the configuration sources.
type LoadOptions struct {
	// File is an explicit config path. It must exist. When empty the XDG
	// config file is read if present.
	File string
	// Flags holds flags registered with BindFlags. Only changed flags
	// override other sources.
	Flags *pflag.FlagSet
}

// Load merges defaults, the config file, the environment and flags, and
// validates the result.
func Load(opts LoadOptions) (*Config, error) {
	cfg, err := load(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUnvalidated is Load without validation, for commands that need only a
// subset of the configuration.
func LoadUnvalidated(opts LoadOptions) (*Config, error) {
	return load(opts)
}

func load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultMap(), "."), nil); err != nil {
		return nil, oops.Code(CodeConfigInvalid).With("source", "defaults").Wrap(err)
	}

	path, explicit := opts.File, opts.File != ""
	if !explicit {
		var err error
		if path, err = xdg.ConfigFile(); err != nil {
			path = ""
		}
	}
	if path != "" && (explicit || fileExists(path)) {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code(CodeConfigInvalid).With("source", "file").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code(CodeConfigInvalid).With("source", "env").Wrap(err)
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code(CodeConfigInvalid).With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(CodeConfigInvalid).With("operation", "decode config").Wrap(err)
	}
	return &cfg, nil
}

// envKey turns GATEKEEP_TOKEN__LIFETIME into token.lifetime.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// defaultMap flattens Defaults into koanf keys.
func defaultMap() map[string]any {
	d := Defaults()
	return map[string]any{
		"database.url":                d.Database.URL,
		"database.auto_migrate":       d.Database.AutoMigrate,
		"database.connect_attempts":   d.Database.ConnectAttempts,
		"database.connect_backoff":    d.Database.ConnectBackoff,
		"token.key":                   d.Token.Key,
		"token.issuer":                d.Token.Issuer,
		"token.lifetime":              d.Token.Lifetime,
		"recovery.secret":             d.Recovery.Secret,
		"recovery.reset_lifetime":     d.Recovery.ResetLifetime,
		"recovery.confirm_lifetime":   d.Recovery.ConfirmLifetime,
		"lockout.threshold":           d.Lockout.Threshold,
		"lockout.duration":            d.Lockout.Duration,
		"two_factor.secret":           d.TwoFactor.Secret,
		"two_factor.period":           d.TwoFactor.Period,
		"two_factor.skew":             d.TwoFactor.Skew,
		"two_factor.pending_lifetime": d.TwoFactor.PendingLifetime,
		"mail.from":                   d.Mail.From,
		"mail.from_name":              d.Mail.FromName,
		"mail.base_url":               d.Mail.BaseURL,
		"google.client_id":            d.Google.ClientID,
		"google.jwks_url":             d.Google.JWKSURL,
		"log.format":                  d.Log.Format,
		"log.level":                   d.Log.Level,
		"metrics.addr":                d.Metrics.Addr,
		"roles.default":               d.Roles.Default,
	}
}

// fileExists reports whether path names an existing file.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
