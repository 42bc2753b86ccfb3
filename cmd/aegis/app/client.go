// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aegis-oauth/aegis/pkg/authserver/storage"
	"github.com/aegis-oauth/aegis/pkg/config"
	"github.com/aegis-oauth/aegis/pkg/logger"
)

var clientDraft = storage.ClientDraft{}

func newClientCommand() *cobra.Command {
	clientCmd := &cobra.Command{
		Use:   "client",
		Short: "Manage registered OAuth clients",
		Long: `Manage the OAuth client registry of the configured storage backend.

The registry is the administrative surface of the server: clients are never
self-registered, an operator creates them here and hands the printed secret
to the client's owner.`,
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new OAuth client",
		Long: `Register a new OAuth client.

The client type, grants and secret are derived from the profile: web clients
are confidential and receive a secret, user-agent-based and native clients
are public. The derived secret is printed once as part of the created record.`,
		RunE: clientCreateCmdFunc,
	}
	createCmd.Flags().StringVar(&clientDraft.ClientID, "id", "", "Client ID (generated when empty)")
	createCmd.Flags().StringVar(&clientDraft.Name, "name", "", "Unique display name")
	createCmd.Flags().StringVar((*string)(&clientDraft.Profile), "profile", "",
		"Client profile (web, user-agent-based or native)")
	createCmd.Flags().StringVar(&clientDraft.Scope, "scope", "", "Space-separated scope the client may request")
	createCmd.Flags().StringVar(&clientDraft.Domain, "domain", "", "Client domain, required for web and user-agent-based profiles")
	createCmd.Flags().StringSliceVar(&clientDraft.RedirectURIs, "redirect-uri", nil, "Allowed redirect URI (repeatable)")
	createCmd.Flags().BoolVar(&clientDraft.Internal, "internal", false, "Mark the client as first-party")
	createCmd.Flags().StringVar(&clientDraft.Logo, "logo", "", "Logo URL shown on the authorization dialog")
	createCmd.Flags().StringVar(&clientDraft.Description, "description", "", "Description shown on the authorization dialog")
	_ = createCmd.MarkFlagRequired("name")
	_ = createCmd.MarkFlagRequired("profile")

	showCmd := &cobra.Command{
		Use:   "show [client-id]",
		Short: "Show a registered OAuth client",
		Args:  cobra.ExactArgs(1),
		RunE:  clientShowCmdFunc,
	}

	revokeCmd := &cobra.Command{
		Use:   "revoke [client-id]",
		Short: "Revoke a registered OAuth client",
		Long: `Revoke a registered OAuth client.

Revoked clients fail authentication at the token endpoint and can no longer
start authorization flows. Tokens already issued expire on their own.`,
		Args: cobra.ExactArgs(1),
		RunE: clientRevokeCmdFunc,
	}

	clientCmd.AddCommand(createCmd)
	clientCmd.AddCommand(showCmd)
	clientCmd.AddCommand(revokeCmd)
	return clientCmd
}

func clientCreateCmdFunc(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(store)

	client, err := store.CreateClient(ctx, &clientDraft)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return printJSON(client)
}

func clientShowCmdFunc(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(store)

	client, err := store.GetClient(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get client: %w", err)
	}
	return printJSON(client)
}

func clientRevokeCmdFunc(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(store)

	if err := store.RevokeClient(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to revoke client: %w", err)
	}
	fmt.Printf("Client %s revoked\n", args[0])
	return nil
}

func openStore(ctx context.Context) (storage.Store, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg, err := settings.AuthServer()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	store, err := newStore(ctx, settings, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", settings.Storage, err)
	}
	return store, nil
}

func closeStore(store storage.Store) {
	if err := store.Close(); err != nil {
		logger.Warnw("failed to close storage", "error", err)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
