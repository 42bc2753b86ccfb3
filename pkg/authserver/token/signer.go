// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

// Package token mints and verifies the server's signed credentials: access
// and refresh JWTs together with their persisted records.
package token

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aegis-oauth/aegis/pkg/authserver/keys"
)

// Claims is the claim set of every token this server signs. The jti claim is
// the identifier of the persisted record backing the token, so revocation
// works by jti lookup.
type Claims struct {
	jwt.RegisteredClaims

	// ClientID is the client the token was issued to.
	ClientID string `json:"client_id"`

	// AuthorizedParty mirrors the audience: the client's domain when one
	// is registered, else its client ID.
	AuthorizedParty string `json:"azp"`

	// Scope is the space-separated granted scope. Refresh tokens carry
	// no scope; theirs is resolved from the parent access token.
	Scope string `json:"scope,omitempty"`
}

// Signer signs and verifies JWTs using key material from a keys.Provider.
type Signer struct {
	issuer   string
	provider keys.Provider
}

// NewSigner creates a Signer. issuer becomes the "iss" claim of every
// token; it must be the server's own base URL.
func NewSigner(issuer string, provider keys.Provider) *Signer {
	return &Signer{issuer: issuer, provider: provider}
}

// Sign produces a compact JWS over the claims. The issuer claim is set by
// the signer; the key ID is placed in the "kid" header so verification
// survives key rotation.
func (s *Signer) Sign(ctx context.Context, claims *Claims) (string, error) {
	key, err := s.provider.SigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get signing key: %w", err)
	}

	method := jwt.GetSigningMethod(key.Algorithm)
	if method == nil {
		return "", fmt.Errorf("unsupported signing algorithm: %s", key.Algorithm)
	}

	claims.Issuer = s.issuer
	tok := jwt.NewWithClaims(method, claims)
	tok.Header["kid"] = key.KeyID

	if key.Symmetric() {
		return tok.SignedString(key.Secret)
	}
	return tok.SignedString(key.Key)
}

// Verify parses and validates a compact JWS produced by Sign, checking the
// signature, the expiry and the issuer.
func (s *Signer) Verify(ctx context.Context, raw string) (*Claims, error) {
	key, err := s.provider.SigningKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get signing key: %w", err)
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) {
			if t.Method.Alg() != key.Algorithm {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
			}
			if key.Symmetric() {
				return key.Secret, nil
			}
			return key.Key.Public(), nil
		},
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to verify token: %w", err)
	}
	return claims, nil
}
