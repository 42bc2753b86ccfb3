// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/aegis-oauth/aegis/pkg/authserver"
	"github.com/aegis-oauth/aegis/pkg/authserver/crypto"
	"github.com/aegis-oauth/aegis/pkg/authserver/storage"
	"github.com/aegis-oauth/aegis/pkg/authserver/storage/redisstore"
	"github.com/aegis-oauth/aegis/pkg/authserver/storage/sqlite"
	"github.com/aegis-oauth/aegis/pkg/authserver/userauth"
	"github.com/aegis-oauth/aegis/pkg/config"
)

// newStore opens the entity store named by the settings. Client secrets are
// derived from the server secret key, so the same key must be used across
// restarts for confidential clients to keep authenticating.
func newStore(ctx context.Context, s *config.Settings, cfg *authserver.Config) (storage.Store, error) {
	deriver := func(clientID string) (string, error) {
		return crypto.DeriveClientSecret(cfg.HMACAlgorithm, cfg.SecretKey, clientID)
	}

	switch s.Storage {
	case config.StorageMemory:
		return storage.NewMemoryStore(deriver), nil
	case config.StorageSQLite:
		return sqlite.New(ctx, s.SQLitePath, deriver)
	case config.StorageRedis:
		return redisstore.New(ctx, redisstore.Config{
			Addr:      s.RedisAddr,
			Username:  s.RedisUsername,
			Password:  s.RedisPassword,
			DB:        s.RedisDB,
			KeyPrefix: s.RedisKeyPrefix,
		}, deriver)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %q", s.Storage)
	}
}

// parseUsers parses the static development user list. Entries look like
// "id:password:scope" and are separated by ";". The scope part may contain
// spaces and is optional.
func parseUsers(raw string) ([]userauth.StaticUser, error) {
	var users []userauth.StaticUser
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("malformed user entry %q, expected id:password[:scope]", entry)
		}
		user := userauth.StaticUser{ID: parts[0], Password: parts[1]}
		if len(parts) == 3 {
			user.Scope = strings.TrimSpace(parts[2])
		}
		users = append(users, user)
	}
	return users, nil
}
