// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the aegis command-line application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aegis-oauth/aegis/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "aegis",
	DisableAutoGenTag: true,
	Short:             "Aegis is a standalone OAuth 2.0 authorization server",
	Long: `Aegis is a standalone OAuth 2.0 authorization server.

It issues signed JWT access tokens through the authorization code (with PKCE),
client credentials, resource owner password and refresh token grants, and keeps
its client registry and token records in memory, SQLite or Redis.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates a new root command for the aegis CLI.
func NewRootCmd() *cobra.Command {
	// Add persistent flags
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newClientCommand())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
