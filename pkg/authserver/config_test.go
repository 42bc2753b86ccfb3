// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		BaseURL:       "https://auth.example.com",
		SecretKey:     bytes.Repeat([]byte("k"), MinSecretLength),
		HMACAlgorithm: "sha512",
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing base URL", func(c *Config) { c.BaseURL = "" }},
		{"relative base URL", func(c *Config) { c.BaseURL = "/oauth" }},
		{"short secret", func(c *Config) { c.SecretKey = []byte("short") }},
		{"unknown hmac algorithm", func(c *Config) { c.HMACAlgorithm = "md5" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, DefaultTokenType, cfg.TokenType)
	assert.Equal(t, "sha512", cfg.HMACAlgorithm)
	assert.Equal(t, 10*time.Minute, cfg.AuthCodeLifespan)
	assert.Equal(t, time.Hour, cfg.AccessTokenLifespans.PublicExternal)
	assert.Equal(t, 14*24*time.Hour, cfg.RefreshTokenLifespans.ConfidentialInternal)

	// set values survive
	cfg = &Config{AccessTokenLifespans: LifespanTable{PublicExternal: time.Minute}}
	cfg.ApplyDefaults()
	assert.Equal(t, time.Minute, cfg.AccessTokenLifespans.PublicExternal)
	assert.Equal(t, time.Hour, cfg.AccessTokenLifespans.PublicInternal)
}

func TestLifespanTable_For(t *testing.T) {
	t.Parallel()

	table := LifespanTable{
		ConfidentialInternal: 1 * time.Hour,
		ConfidentialExternal: 2 * time.Hour,
		PublicInternal:       3 * time.Hour,
		PublicExternal:       4 * time.Hour,
	}
	assert.Equal(t, 1*time.Hour, table.For(true, true))
	assert.Equal(t, 2*time.Hour, table.For(true, false))
	assert.Equal(t, 3*time.Hour, table.For(false, true))
	assert.Equal(t, 4*time.Hour, table.For(false, false))
}
