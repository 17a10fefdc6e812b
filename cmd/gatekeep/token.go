// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/config"
)

// tokenInspection is the printable view of a verified session token.
type tokenInspection struct {
	ID        string              `json:"id"`
	Subject   string              `json:"subject"`
	Email     string              `json:"email,omitempty"`
	GivenName string              `json:"given_name,omitempty"`
	Roles     []string            `json:"roles,omitempty"`
	Claims    map[string][]string `json:"claims,omitempty"`
	IssuedAt  time.Time           `json:"issued_at"`
	ExpiresAt time.Time           `json:"expires_at"`
}

func newTokenCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Work with session tokens",
	}

	inspect := &cobra.Command{
		Use:   "inspect TOKEN",
		Short: "Verify a session token and print its claims",
		Long: `Verify a session token against the configured signing key and issuer,
then print the account it identifies and the claims it carries.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer, err := tokenIssuerFromConfig(cmd)
			if err != nil {
				return err
			}
			claims, err := issuer.Verify(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			view := inspectClaims(claims)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(view); err != nil {
					return oops.Code("OUTPUT_FAILED").Wrap(err)
				}
				return nil
			}
			cmd.Print(formatInspection(view))
			return nil
		},
	}
	inspect.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	cmd.AddCommand(inspect)

	return cmd
}

// tokenIssuerFromConfig builds a verifier from the token section alone.
func tokenIssuerFromConfig(cmd *cobra.Command) (*auth.TokenIssuer, error) {
	cfg, err := config.LoadUnvalidated(config.LoadOptions{File: configFile, Flags: cmd.Flags()})
	if err != nil {
		return nil, err
	}
	if err := cfg.Token.Validate(); err != nil {
		return nil, oops.Code(config.CodeConfigInvalid).With("section", "token").Wrap(err)
	}
	return auth.NewTokenIssuer([]byte(cfg.Token.Key), cfg.Token.Issuer,
		auth.WithTokenLifetime(cfg.Token.Lifetime))
}

func inspectClaims(c *auth.SessionClaims) tokenInspection {
	view := tokenInspection{
		ID:        c.ID,
		Subject:   c.Subject,
		Email:     c.Email,
		GivenName: c.GivenName,
		Roles:     c.Roles,
		Claims:    c.Extra,
	}
	if c.IssuedAt != nil {
		view.IssuedAt = c.IssuedAt.UTC()
	}
	if c.ExpiresAt != nil {
		view.ExpiresAt = c.ExpiresAt.UTC()
	}
	return view
}

func formatInspection(v tokenInspection) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Subject:\t%s\n", v.Subject)
	fmt.Fprintf(w, "Token ID:\t%s\n", v.ID)
	if v.Email != "" {
		fmt.Fprintf(w, "Email:\t%s\n", v.Email)
	}
	if v.GivenName != "" {
		fmt.Fprintf(w, "Name:\t%s\n", v.GivenName)
	}
	if len(v.Roles) > 0 {
		fmt.Fprintf(w, "Roles:\t%s\n", strings.Join(v.Roles, ", "))
	}
	types := make([]string, 0, len(v.Claims))
	for typ := range v.Claims {
		types = append(types, typ)
	}
	sort.Strings(types)
	for _, typ := range types {
		fmt.Fprintf(w, "Claim %s:\t%s\n", typ, strings.Join(v.Claims[typ], ", "))
	}
	fmt.Fprintf(w, "Issued:\t%s\n", v.IssuedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Expires:\t%s\n", v.ExpiresAt.Format(time.RFC3339))
	_ = w.Flush() //nolint:errcheck // strings.Builder never fails
	return sb.String()
}
