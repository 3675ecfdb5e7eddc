// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the ember CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmdWithDeps(nil)
}

// newRootCmdWithDeps builds the command tree. Nil deps use the real
// provider and secret store.
func newRootCmdWithDeps(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = &Deps{}
	}
	deps.setDefaults()

	cmd := &cobra.Command{
		Use:   "ember",
		Short: "Ember - a game instance launcher",
		Long: `Ember manages game instances and accounts and launches the game
with short-lived session tokens kept out of every log and output stream.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&deps.configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/ember/ember.yaml)")
	flags.String("data-dir", "", "data directory (default: XDG_DATA_HOME/ember)")
	flags.String("log-format", "text", "log format (json or text)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-file", "", "also append launcher logs to this file")
	flags.String("secrets-backend", "auto", "secret store backend (auto, keychain, libsecret, file, memory)")
	flags.String("metrics-addr", "", "metrics/health HTTP address while a game runs (empty = disabled)")
	flags.String("client-id", "", "OAuth client id used to sign in")
	flags.Duration("stop-grace", 0, "time a stopping game gets before it is killed")

	cmd.AddCommand(newLoginCmd(deps))
	cmd.AddCommand(newLogoutCmd(deps))
	cmd.AddCommand(newAccountsCmd(deps))
	cmd.AddCommand(newInstanceCmd(deps))
	cmd.AddCommand(newPlanCmd(deps))
	cmd.AddCommand(newLaunchCmd(deps))
	cmd.AddCommand(newStopCmd(deps))
	cmd.AddCommand(newEventsCmd(deps))

	return cmd
}
