// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/emberlaunch/ember/internal/credential"
)

// loginConfig holds configuration for the login command.
type loginConfig struct {
	accountID string
	noSelect  bool
}

func newLoginCmd(deps *Deps) *cobra.Command {
	cfg := &loginConfig{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in an account with a device code",
		Long: `Start a device sign-in. Open the printed address in a browser and
enter the code; the command waits until the sign-in completes or expires.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, deps, func(ctx context.Context, a *app) error {
				return runLogin(ctx, cmd, a, cfg)
			})
		},
	}

	cmd.Flags().StringVar(&cfg.accountID, "account", "", "sign in again to an existing account")
	cmd.Flags().BoolVar(&cfg.noSelect, "no-select", false, "do not make the account the selected account")

	return cmd
}

func runLogin(ctx context.Context, cmd *cobra.Command, a *app, cfg *loginConfig) error {
	creds, err := a.credentials()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	acct, err := creds.Authenticate(ctx, credential.AuthOptions{
		AccountID: cfg.accountID,
		Prompt: func(p credential.Prompt) {
			_, _ = fmt.Fprintf(out, "To sign in, open %s and enter the code %s\n", p.VerificationURI, p.UserCode)
			if p.VerificationURIComplete != "" {
				_, _ = fmt.Fprintf(out, "or open %s\n", p.VerificationURIComplete)
			}
			_, _ = fmt.Fprintf(out, "The code expires at %s\n", p.ExpiresAt.Local().Format(time.Kitchen))
		},
	})
	if err != nil {
		return err
	}

	if !cfg.noSelect {
		if err := creds.SelectAccount(ctx, acct.ID); err != nil {
			return err
		}
	}
	_, _ = fmt.Fprintf(out, "Signed in as %s (%s)\n", acct.Name, acct.ID)
	return nil
}

func newLogoutCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "logout <account-id>",
		Short: "Sign out an account and delete its stored credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, deps, func(ctx context.Context, a *app) error {
				creds, err := a.credentials()
				if err != nil {
					return err
				}
				if err := creds.Logout(ctx, args[0]); err != nil {
					return err
				}
				cmd.Printf("Signed out %s\n", args[0])
				return nil
			})
		},
	}
}

// accountsConfig holds configuration for the accounts list command.
type accountsConfig struct {
	jsonOutput bool
}

func newAccountsCmd(deps *Deps) *cobra.Command {
	cfg := &accountsConfig{}

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List signed-in accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, deps, func(ctx context.Context, a *app) error {
				return runAccounts(ctx, cmd, a, cfg)
			})
		},
	}
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output accounts as JSON")

	cmd.AddCommand(&cobra.Command{
		Use:   "select <account-id>",
		Short: "Make an account the one used by default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, deps, func(ctx context.Context, a *app) error {
				creds, err := a.credentials()
				if err != nil {
					return err
				}
				if err := creds.SelectAccount(ctx, args[0]); err != nil {
					return err
				}
				cmd.Printf("Selected %s\n", args[0])
				return nil
			})
		},
	})

	return cmd
}

// accountView is the listed form of an account.
type accountView struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Selected bool      `json:"selected"`
	LastUsed time.Time `json:"last_used"`
}

func runAccounts(ctx context.Context, cmd *cobra.Command, a *app, cfg *accountsConfig) error {
	creds, err := a.credentials()
	if err != nil {
		return err
	}
	accounts, err := creds.Accounts(ctx)
	if err != nil {
		return err
	}

	selected := ""
	if acct, err := creds.SelectedAccount(ctx); err == nil {
		selected = acct.ID
	}

	views := make([]accountView, 0, len(accounts))
	for _, acct := range accounts {
		views = append(views, accountView{
			ID:       acct.ID,
			Name:     acct.Name,
			Selected: acct.ID == selected,
			LastUsed: acct.LastUsed,
		})
	}

	if cfg.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), views)
	}
	return formatAccountsTable(cmd.OutOrStdout(), views)
}

func formatAccountsTable(w io.Writer, views []accountView) error {
	if len(views) == 0 {
		_, err := fmt.Fprintln(w, "No accounts. Run 'ember login' to add one.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "\tID\tNAME\tLAST USED")
	for _, v := range views {
		mark := ""
		if v.Selected {
			mark = "*"
		}
		lastUsed := "-"
		if !v.LastUsed.IsZero() {
			lastUsed = v.LastUsed.Local().Format(time.DateTime)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", mark, v.ID, v.Name, lastUsed)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
