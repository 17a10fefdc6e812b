// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"bytes"
	"context"
	"os"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// Default timeout for seed command.
const defaultSeedTimeout = 30 * time.Second

// seedConfig holds configuration for the seed command.
type seedConfig struct {
	file    string
	timeout time.Duration
	dryRun  bool
}

func newSeedCmd(deps *Deps) *cobra.Command {
	cfg := &seedConfig{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the built-in roles and any roles and accounts from a seed file",
		Long: `Creates the User and Admin roles and, with --file, the roles and accounts
listed in a YAML seed file. Existing roles and accounts are left untouched, so
seeding is safe to repeat.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd, cfg, deps)
		},
	}

	cmd.Flags().StringVar(&cfg.file, "file", "", "YAML seed file with roles and accounts")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultSeedTimeout, "timeout for database operations (e.g., 30s, 1m)")
	cmd.Flags().BoolVar(&cfg.dryRun, "dry-run", false, "parse the seed file and print it without writing")

	return cmd
}

func runSeed(cmd *cobra.Command, cfg *seedConfig, deps *Deps) error {
	data := auth.DefaultSeed()
	if cfg.file != "" {
		fromFile, err := loadSeedFile(cfg.file)
		if err != nil {
			return err
		}
		data = mergeSeed(data, fromFile)
	}

	if cfg.dryRun {
		for _, r := range data.Roles {
			cmd.Printf("role     %s (%d claims)\n", r.Name, len(r.Claims))
		}
		for _, a := range data.Accounts {
			cmd.Printf("account  %s <%s> roles=%v\n", a.UserName, a.Email, a.Roles)
		}
		return nil
	}

	appCfg, err := loadDatabaseConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := setupLogging(appCfg)
	if err != nil {
		return err
	}

	// cmd.Context() carries SIGINT/SIGTERM cancellation.
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
	defer cancel()

	pool, err := openPool(ctx, appCfg, deps, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	roles, err := newRoleService(pool, deps, logger)
	if err != nil {
		return err
	}
	res, err := roles.Seed(ctx, data)
	if err != nil {
		return oops.Code("SEED_FAILED").With("file", cfg.file).Wrap(err)
	}

	cmd.Printf("Seed complete: %d roles and %d accounts created\n", res.RolesCreated, res.AccountsCreated)
	return nil
}

// loadSeedFile decodes a seed file, rejecting unknown keys.
func loadSeedFile(path string) (auth.SeedData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return auth.SeedData{}, oops.Code("SEED_FILE_UNREADABLE").With("file", path).Wrap(err)
	}

	var data auth.SeedData
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&data); err != nil {
		return auth.SeedData{}, oops.Code("SEED_FILE_INVALID").With("file", path).Wrap(err)
	}

	for i, r := range data.Roles {
		if r.Name == "" {
			return auth.SeedData{}, oops.Code("SEED_FILE_INVALID").With("file", path).With("role_index", i).
				Errorf("role name cannot be empty")
		}
	}
	for i, a := range data.Accounts {
		if a.Email == "" || a.Password == "" {
			return auth.SeedData{}, oops.Code("SEED_FILE_INVALID").With("file", path).With("account_index", i).
				Errorf("seed accounts need an email and a password")
		}
	}
	return data, nil
}

// mergeSeed appends extra to base. A role named in both takes the definition
// from extra.
func mergeSeed(base, extra auth.SeedData) auth.SeedData {
	out := auth.SeedData{Roles: append([]auth.SeedRole(nil), base.Roles...)}
	index := make(map[string]int, len(out.Roles))
	for i, r := range out.Roles {
		index[auth.NormalizeName(r.Name)] = i
	}
	for _, r := range extra.Roles {
		if i, ok := index[auth.NormalizeName(r.Name)]; ok {
			out.Roles[i] = r
			continue
		}
		index[auth.NormalizeName(r.Name)] = len(out.Roles)
		out.Roles = append(out.Roles, r)
	}
	out.Accounts = append(append(out.Accounts, base.Accounts...), extra.Accounts...)
	return out
}
