// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"fmt"
	"net/url"
	"time"

	"github.com/aegis-oauth/aegis/pkg/logger"
)

// MinSecretLength is the minimum required length for the OAuth secret key in
// bytes. 32 bytes (256 bits) is required per OWASP/NIST security guidelines.
const MinSecretLength = 32

// DefaultTokenType is the token_type placed in token responses.
const DefaultTokenType = "Bearer"

// LifespanTable maps a client's classification to a credential lifetime.
// Confidential first-party clients typically get the longest lifetimes,
// public third-party clients the shortest.
type LifespanTable struct {
	ConfidentialInternal time.Duration
	ConfidentialExternal time.Duration
	PublicInternal       time.Duration
	PublicExternal       time.Duration
}

// For returns the lifetime for the given classification.
func (t LifespanTable) For(confidential, internal bool) time.Duration {
	switch {
	case confidential && internal:
		return t.ConfidentialInternal
	case confidential:
		return t.ConfidentialExternal
	case internal:
		return t.PublicInternal
	default:
		return t.PublicExternal
	}
}

// Config is the pure configuration for the OAuth authorization server.
// All values must be fully resolved (no file paths, no env vars). It is
// populated once at startup and read-only thereafter.
type Config struct {
	// BaseURL is the server's own full base URL. It becomes the "iss"
	// claim of issued tokens and the base for dialog redirects.
	BaseURL string

	// ProviderName is the display string shown in the login dialog.
	ProviderName string

	// TokenType is the fixed token_type string in token responses.
	// Defaults to "Bearer".
	TokenType string

	// SecretKey is the symmetric secret used to derive client secrets and
	// to authenticate the dialog payload. Must be at least 32 bytes and
	// cryptographically random, and consistent across replicas.
	SecretKey []byte

	// HMACAlgorithm names the hash used for client secret derivation
	// (sha256, sha384 or sha512).
	HMACAlgorithm string

	// AccessTokenLifespans is the access token TTL table keyed by
	// clientType x internal.
	AccessTokenLifespans LifespanTable

	// RefreshTokenLifespans is the refresh token TTL table keyed by
	// clientType x internal.
	RefreshTokenLifespans LifespanTable

	// AuthCodeLifespan is the duration that authorization codes are valid.
	// If zero, defaults to 10 minutes.
	AuthCodeLifespan time.Duration
}

// Default lifespans applied by ApplyDefaults where the tables are unset.
const (
	defaultAccessTokenTTL  = time.Hour
	defaultRefreshTokenTTL = 14 * 24 * time.Hour
	defaultAuthCodeTTL     = 10 * time.Minute
)

// Validate checks that the Config is complete enough to serve requests.
func (c *Config) Validate() error {
	logger.Debugw("validating authserver config", "base_url", c.BaseURL)

	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("base URL must be an absolute URL")
	}

	if len(c.SecretKey) < MinSecretLength {
		return fmt.Errorf("secret key must be at least %d bytes", MinSecretLength)
	}

	switch c.HMACAlgorithm {
	case "sha256", "sha384", "sha512":
	default:
		return fmt.Errorf("unsupported HMAC algorithm: %q", c.HMACAlgorithm)
	}

	return nil
}

// ApplyDefaults fills in default values where the config leaves them unset.
func (c *Config) ApplyDefaults() {
	if c.TokenType == "" {
		c.TokenType = DefaultTokenType
	}
	if c.HMACAlgorithm == "" {
		c.HMACAlgorithm = "sha512"
	}
	if c.AuthCodeLifespan == 0 {
		c.AuthCodeLifespan = defaultAuthCodeTTL
	}
	fillLifespans(&c.AccessTokenLifespans, defaultAccessTokenTTL)
	fillLifespans(&c.RefreshTokenLifespans, defaultRefreshTokenTTL)
}

func fillLifespans(t *LifespanTable, d time.Duration) {
	if t.ConfidentialInternal == 0 {
		t.ConfidentialInternal = d
	}
	if t.ConfidentialExternal == 0 {
		t.ConfidentialExternal = d
	}
	if t.PublicInternal == 0 {
		t.PublicInternal = d
	}
	if t.PublicExternal == 0 {
		t.PublicExternal = d
	}
}
