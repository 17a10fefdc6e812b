// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// accountConfig holds flags for the account subcommands.
type accountConfig struct {
	asJSON      bool
	remember    bool
	displayName string
	role        string
}

// loginView is the printable outcome of a flow that can end in a session.
type loginView struct {
	AccountID   string    `json:"account_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	Status      string    `json:"status"`
	Token       string    `json:"token,omitempty"`
	PendingRef  string    `json:"pending_ref,omitempty"`
	Channel     string    `json:"channel,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	Remember    bool      `json:"remember,omitempty"`
}

func newAccountCmd(deps *Deps) *cobra.Command {
	cfg := &accountConfig{}

	cmd := &cobra.Command{
		Use:   "account",
		Short: "Run sign-in, registration and recovery flows",
		Long: `Run the account flows against the configured database and mail transport.
Passwords are read from the first line of standard input so they never appear
in the process list.`,
	}
	cmd.PersistentFlags().BoolVar(&cfg.asJSON, "json", false, "print session results as JSON")

	register := &cobra.Command{
		Use:   "register USERNAME EMAIL",
		Short: "Create a password account and mail a confirmation link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}
			in := auth.RegisterInput{UserName: args[0], Email: args[1], Password: password, DisplayName: cfg.displayName}
			return withCore(cmd, deps, func(ctx context.Context, core *auth.Core) error {
				var res *auth.LoginResult
				if cfg.role != "" {
					res, err = core.RegisterStaff(ctx, in, cfg.role)
				} else {
					res, err = core.Register(ctx, in)
				}
				if err != nil {
					return err
				}
				return printLogin(cmd, cfg, res)
			})
		},
	}
	register.Flags().StringVar(&cfg.displayName, "display-name", "", "name shown to other users")
	register.Flags().StringVar(&cfg.role, "role", "", "register a staff account holding this role")
	cmd.AddCommand(register)

	login := &cobra.Command{
		Use:   "login LOGIN",
		Short: "Sign in with an email or login name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withCore(cmd, deps, func(ctx context.Context, core *auth.Core) error {
				res, err := core.Login(ctx, auth.LoginInput{Login: args[0], Password: password, Remember: cfg.remember})
				if err != nil {
					return err
				}
				return printLogin(cmd, cfg, res)
			})
		},
	}
	login.Flags().BoolVar(&cfg.remember, "remember", false, "ask for a persistent session")
	cmd.AddCommand(login)

	cmd.AddCommand(&cobra.Command{
		Use:   "send-code PENDING_REF",
		Short: "Mail a fresh two-factor code for a pending sign-in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, deps, func(ctx context.Context, core *auth.Core) error {
				pending, err := core.SendTwoFactorCode(ctx, args[0])
				if err != nil {
					return err
				}
				cmd.Printf("Code sent by %s\nPending: %s\nExpires: %s\n",
					pending.Channel, pending.Ref, pending.ExpiresAt.UTC().Format(time.RFC3339))
				return nil
			})
		},
	})

	verify := &cobra.Command{
		Use:   "verify-code PENDING_REF CODE",
		Short: "Complete a pending sign-in with a two-factor code",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, deps, func(ctx context.Context, core *auth.Core) error {
				res, err := core.VerifyTwoFactor(ctx, args[0], args[1], cfg.remember)
				if err != nil {
					return err
				}
				return printLogin(cmd, cfg, res)
			})
		},
	}
	verify.Flags().BoolVar(&cfg.remember, "remember", false, "ask for a persistent session")
	cmd.AddCommand(verify)

	cmd.AddCommand(&cobra.Command{
		Use:   "confirm-email EMAIL TOKEN",
		Short: "Confirm an email address with a mailed token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, deps, func(ctx context.Context, core *auth.Core) error {
				if err := core.ConfirmEmail(ctx, args[0], args[1]); err != nil {
					return err
				}
				cmd.Printf("Confirmed %s\n", args[0])
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "resend-confirmation EMAIL",
		Short: "Mail a new confirmation link to an unconfirmed account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, deps, func(ctx context.Context, core *auth.Core) error {
				if err := core.ResendConfirmation(ctx, args[0]); err != nil {
					return err
				}
				cmd.Println("If the address awaits confirmation, a new link has been sent")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "forgot-password EMAIL",
		Short: "Mail a password reset link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, deps, func(ctx context.Context, core *auth.Core) error {
				if err := core.ForgotPassword(ctx, args[0]); err != nil {
					return err
				}
				cmd.Println("If the address is registered, a reset link has been sent")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset-password ACCOUNT_ID TOKEN",
		Short: "Set a new password with a mailed reset token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			password, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withCore(cmd, deps, func(ctx context.Context, core *auth.Core) error {
				if err := core.ResetPassword(ctx, id, args[1], password); err != nil {
					return err
				}
				cmd.Printf("Password reset for %s\n", id)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "external-login PROVIDER TOKEN",
		Short: "Sign in with an identity token from an external provider",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, deps, func(ctx context.Context, core *auth.Core) error {
				res, err := core.ExternalLogin(ctx, args[0], strings.TrimSpace(args[1]))
				if err != nil {
					return err
				}
				return printLogin(cmd, cfg, res)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "refresh TOKEN",
		Short: "Re-issue a session token with the account's current claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, deps, func(ctx context.Context, core *auth.Core) error {
				res, err := core.CurrentUser(ctx, strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				return printLogin(cmd, cfg, res)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "two-factor ACCOUNT_ID on|off",
		Short: "Turn emailed sign-in codes on or off",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			enabled, err := parseSwitch(args[1])
			if err != nil {
				return err
			}
			return withCore(cmd, deps, func(ctx context.Context, core *auth.Core) error {
				if err := core.SetTwoFactorEnabled(ctx, id, enabled); err != nil {
					return err
				}
				cmd.Printf("Two-factor %s for %s\n", args[1], id)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "exists EMAIL_OR_LOGIN",
		Short: "Report whether an email or login name is taken",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, deps, func(ctx context.Context, core *auth.Core) error {
				check := core.UserNameExists
				if strings.Contains(args[0], "@") {
					check = core.EmailExists
				}
				taken, err := check(ctx, args[0])
				if err != nil {
					return err
				}
				if taken {
					cmd.Printf("%s is taken\n", args[0])
				} else {
					cmd.Printf("%s is available\n", args[0])
				}
				return nil
			})
		},
	})

	return cmd
}

// withCore loads the full configuration, connects and runs fn with a core
// wired to the database, mail and the configured providers.
func withCore(cmd *cobra.Command, deps *Deps, fn func(context.Context, *auth.Core) error) error {
	cfg, err := loadConfig(cmd)
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

	svc, err := buildServices(ctx, cfg, pool, deps, logger)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(ctx, svc.core)
}

// readSecret returns the first line of r without its line ending.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", oops.Code("INPUT_FAILED").With("operation", "read password").Wrap(err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func parseAccountID(s string) (ulid.ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ulid.ULID{}, oops.Code(auth.CodeInvalidInput).With("account_id", s).Wrap(err)
	}
	return id, nil
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, oops.Code(auth.CodeInvalidInput).With("value", s).Errorf("expected on or off, got %q", s)
	}
}

func newLoginView(res *auth.LoginResult) loginView {
	v := loginView{
		AccountID:   res.Account.ID.String(),
		Email:       res.Email,
		DisplayName: res.DisplayName,
		Status:      string(res.Status),
		Token:       res.Token,
		ExpiresAt:   res.ExpiresAt.UTC(),
		Remember:    res.Remember,
	}
	if res.Pending != nil {
		v.PendingRef = res.Pending.Ref
		v.Channel = string(res.Pending.Channel)
		v.ExpiresAt = res.Pending.ExpiresAt.UTC()
	}
	return v
}

func printLogin(cmd *cobra.Command, cfg *accountConfig, res *auth.LoginResult) error {
	view := newLoginView(res)
	if cfg.asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(view); err != nil {
			return oops.Code("OUTPUT_FAILED").Wrap(err)
		}
		return nil
	}
	cmd.Print(formatLoginView(view))
	return nil
}

// formatLoginView renders a session result or a pending two-factor step.
func formatLoginView(v loginView) string {
	var sb strings.Builder
	if v.PendingRef != "" {
		fmt.Fprintf(&sb, "Two-factor code sent by %s to %s\n", v.Channel, v.Email)
		fmt.Fprintf(&sb, "Pending: %s\n", v.PendingRef)
	} else {
		fmt.Fprintf(&sb, "Signed in as %s (%s)\n", v.Email, v.AccountID)
		fmt.Fprintf(&sb, "Token:   %s\n", v.Token)
	}
	fmt.Fprintf(&sb, "Expires: %s\n", v.ExpiresAt.Format(time.RFC3339))
	return sb.String()
}
