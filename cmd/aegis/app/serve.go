// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aegis-oauth/aegis/pkg/authserver/keys"
	"github.com/aegis-oauth/aegis/pkg/authserver/server"
	"github.com/aegis-oauth/aegis/pkg/authserver/userauth"
	"github.com/aegis-oauth/aegis/pkg/config"
	"github.com/aegis-oauth/aegis/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the authorization server",
	Long: `Run the authorization server.

All configuration is read from OAUTH_-prefixed environment variables, e.g.
OAUTH_BASE_URL, OAUTH_SECRET_KEY, OAUTH_STORAGE. The server runs until it
receives SIGINT or SIGTERM, then shuts down gracefully.`,
	RunE: serveCmdFunc,
}

func serveCmdFunc(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	settings, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg, err := settings.AuthServer()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := newStore(ctx, settings, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", settings.Storage, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warnw("failed to close storage", "error", err)
		}
	}()

	keyProvider, err := keys.NewProviderFromConfig(keys.Config{
		Algorithm: settings.JWTAlgorithm,
		KeyFile:   settings.JWTKeyFile,
		Secret:    []byte(settings.JWTSecret),
	})
	if err != nil {
		return fmt.Errorf("failed to set up signing keys: %w", err)
	}

	users, err := parseUsers(settings.Users)
	if err != nil {
		return fmt.Errorf("failed to parse user list: %w", err)
	}
	if len(users) == 0 {
		logger.Warn("no users configured, authorization dialog logins will fail")
	}

	srv := server.New(cfg, store, keyProvider, userauth.NewStaticAuthenticator(users))
	return srv.Serve(ctx, settings.ListenAddr)
}
