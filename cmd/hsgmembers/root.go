// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/hackerspacesg/hsgmembers/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the hsgmembers CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hsgmembers",
		Short: "HackerspaceSG membership server",
		Long: `hsgmembers runs the HackerspaceSG membership API: member registration,
email verification, login sessions, password resets and admin moderation.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default $XDG_CONFIG_HOME/hsgmembers/config.yaml if present)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

// resolveConfigFile returns --config, or the XDG default file when the flag
// is empty.
func resolveConfigFile() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	return xdg.DefaultConfigFile()
}
