// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/adchub/adchub/internal/config"
	"github.com/adchub/adchub/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the ADCHub CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adchub",
		Short: "ADCHub - an ADC peer-to-peer hub",
		Long: `ADCHub is a hub for the ADC peer-to-peer protocol. It logs clients
in, keeps the user list and relays protocol messages between users.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/adchub/config.yaml if present)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

// loadConfig reads the config file named by --config, or the default one
// when it exists, with fs layered on top. fs may be nil.
func loadConfig(fs *pflag.FlagSet) (*config.Config, error) {
	path, err := xdg.FindConfigFile(configFile)
	if err != nil {
		return nil, err
	}
	return config.Load(path, fs)
}
