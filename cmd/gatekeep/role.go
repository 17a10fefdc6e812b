// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// roleConfig holds flags for the role subcommands.
type roleConfig struct {
	description string
}

func newRoleCmd(deps *Deps) *cobra.Command {
	cfg := &roleConfig{}

	cmd := &cobra.Command{
		Use:   "role",
		Short: "Manage roles and their claims",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List roles with their claims",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRoleService(cmd, deps, func(ctx context.Context, s *auth.RoleService) error {
				roles, err := s.ListRoles(ctx)
				if err != nil {
					return err
				}
				cmd.Print(formatRoleTable(roles))
				return nil
			})
		},
	})

	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRoleService(cmd, deps, func(ctx context.Context, s *auth.RoleService) error {
				r, err := s.CreateRole(ctx, args[0], cfg.description)
				if err != nil {
					return err
				}
				cmd.Printf("Created role %s (%s)\n", r.Name, r.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&cfg.description, "description", "", "role description")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a role and remove it from every account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRoleService(cmd, deps, func(ctx context.Context, s *auth.RoleService) error {
				r, err := findRoleByName(ctx, s, args[0])
				if err != nil {
					return err
				}
				if err := s.DeleteRole(ctx, r.ID); err != nil {
					return err
				}
				cmd.Printf("Deleted role %s\n", r.Name)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add-claim ROLE TYPE VALUE",
		Short: "Attach a claim to a role",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRoleService(cmd, deps, func(ctx context.Context, s *auth.RoleService) error {
				r, err := s.AddRoleClaim(ctx, args[0], auth.Claim{Type: args[1], Value: args[2]})
				if err != nil {
					return err
				}
				cmd.Printf("Role %s now has %d claims\n", r.Name, len(r.Claims))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "assign ACCOUNT_ID ROLE",
		Short: "Add an account to a role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ulid.Parse(args[0])
			if err != nil {
				return oops.Code(auth.CodeInvalidInput).With("account_id", args[0]).Wrap(err)
			}
			return withRoleService(cmd, deps, func(ctx context.Context, s *auth.RoleService) error {
				if err := s.AssignRole(ctx, id, args[1]); err != nil {
					return err
				}
				cmd.Printf("Assigned %s to %s\n", args[1], id)
				return nil
			})
		},
	})

	return cmd
}

// withRoleService connects to the database and runs fn with a role service.
func withRoleService(cmd *cobra.Command, deps *Deps, fn func(context.Context, *auth.RoleService) error) error {
	cfg, err := loadDatabaseConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := setupLogging(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	pool, err := openPool(ctx, cfg, deps, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	s, err := newRoleService(pool, deps, logger)
	if err != nil {
		return err
	}
	return fn(ctx, s)
}

func findRoleByName(ctx context.Context, s *auth.RoleService, name string) (*auth.Role, error) {
	roles, err := s.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range roles {
		if r.NormalizedName == auth.NormalizeName(name) {
			return r, nil
		}
	}
	return nil, oops.Code(auth.CodeRoleNotFound).With("role", name).Errorf("role not found")
}

// formatRoleTable renders roles as an aligned table.
func formatRoleTable(roles []*auth.Role) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION\tCLAIMS")
	for _, r := range roles {
		claims := make([]string, 0, len(r.Claims))
		for _, c := range r.Claims {
			claims = append(claims, c.Type+"="+c.Value)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.Description, strings.Join(claims, ","))
	}
	_ = w.Flush() //nolint:errcheck // strings.Builder never fails
	return sb.String()
}
