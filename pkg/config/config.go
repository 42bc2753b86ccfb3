// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads process configuration from the environment. All
// settings live under the OAUTH_ prefix, e.g. OAUTH_BASE_URL or
// OAUTH_ACCESS_TOKEN_EXPIRES_IN_CONFIDENTIAL_INTERNAL.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/aegis-oauth/aegis/pkg/authserver"
)

// Storage backend names accepted by OAUTH_STORAGE.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

// Settings is the resolved process configuration.
type Settings struct {
	ListenAddr   string
	BaseURL      string
	ProviderName string
	TokenType    string

	SecretKey     string
	SecretKeyFile string
	HMACAlgorithm string

	JWTAlgorithm string
	JWTKeyFile   string
	JWTSecret    string

	Storage        string
	SQLitePath     string
	RedisAddr      string
	RedisUsername  string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	AuthCodeExpiresIn     time.Duration
	AccessTokenExpiresIn  authserver.LifespanTable
	RefreshTokenExpiresIn authserver.LifespanTable

	// Users is the static development user list, formatted as
	// "id:password:scope" entries separated by ";". Production
	// deployments plug a real authenticator instead.
	Users string
}

// Load reads the settings from the environment, optionally layered over a
// YAML file named by OAUTH_CONFIG_FILE. Environment variables win.
func Load() (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("OAUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("OAUTH_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("provider_name", "Aegis")
	v.SetDefault("token_type", authserver.DefaultTokenType)
	v.SetDefault("hmac_algorithm", "sha512")
	v.SetDefault("storage", StorageMemory)
	v.SetDefault("sqlite_path", "aegis.db")
	v.SetDefault("redis_key_prefix", "aegis:oauth:")
	v.SetDefault("authorization_code_expires_in", 600)

	s := &Settings{
		ListenAddr:   v.GetString("listen_addr"),
		BaseURL:      v.GetString("base_url"),
		ProviderName: v.GetString("provider_name"),
		TokenType:    v.GetString("token_type"),

		SecretKey:     v.GetString("secret_key"),
		SecretKeyFile: v.GetString("secret_key_file"),
		HMACAlgorithm: v.GetString("hmac_algorithm"),

		JWTAlgorithm: v.GetString("jwt_algorithm"),
		JWTKeyFile:   v.GetString("jwt_key_file"),
		JWTSecret:    v.GetString("jwt_secret"),

		Storage:        v.GetString("storage"),
		SQLitePath:     v.GetString("sqlite_path"),
		RedisAddr:      v.GetString("redis_addr"),
		RedisUsername:  v.GetString("redis_username"),
		RedisPassword:  v.GetString("redis_password"),
		RedisDB:        v.GetInt("redis_db"),
		RedisKeyPrefix: v.GetString("redis_key_prefix"),

		AuthCodeExpiresIn:     seconds(v, "authorization_code_expires_in"),
		AccessTokenExpiresIn:  lifespanTable(v, "access_token_expires_in"),
		RefreshTokenExpiresIn: lifespanTable(v, "refresh_token_expires_in"),

		Users: v.GetString("users"),
	}

	switch s.Storage {
	case StorageMemory, StorageSQLite, StorageRedis:
	default:
		return nil, fmt.Errorf("unsupported storage backend: %q", s.Storage)
	}

	return s, nil
}

// AuthServer builds the validated authserver configuration.
func (s *Settings) AuthServer() (*authserver.Config, error) {
	secretKey := []byte(s.SecretKey)
	if s.SecretKeyFile != "" {
		data, err := os.ReadFile(s.SecretKeyFile) // #nosec G304 - operator-provided path
		if err != nil {
			return nil, fmt.Errorf("reading secret key file: %w", err)
		}
		secretKey = []byte(strings.TrimSpace(string(data)))
	}

	cfg := &authserver.Config{
		BaseURL:               s.BaseURL,
		ProviderName:          s.ProviderName,
		TokenType:             s.TokenType,
		SecretKey:             secretKey,
		HMACAlgorithm:         s.HMACAlgorithm,
		AccessTokenLifespans:  s.AccessTokenExpiresIn,
		RefreshTokenLifespans: s.RefreshTokenExpiresIn,
		AuthCodeLifespan:      s.AuthCodeExpiresIn,
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// lifespanTable reads a TTL table keyed by {confidential|public} x
// {internal|external}, values in seconds. Unset entries stay zero and pick
// up the authserver defaults.
func lifespanTable(v *viper.Viper, prefix string) authserver.LifespanTable {
	return authserver.LifespanTable{
		ConfidentialInternal: seconds(v, prefix+".confidential.internal"),
		ConfidentialExternal: seconds(v, prefix+".confidential.external"),
		PublicInternal:       seconds(v, prefix+".public.internal"),
		PublicExternal:       seconds(v, prefix+".public.external"),
	}
}

func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt(key)) * time.Second
}
