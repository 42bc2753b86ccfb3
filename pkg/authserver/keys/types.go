// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

// Package keys provides signing key material for JWT operations.
// Implementations handle key sourcing (file, in-memory secret, generation).
package keys

import (
	"crypto"
	"errors"
	"time"
)

// DefaultAlgorithm is used when no algorithm is configured.
const DefaultAlgorithm = "ES256"

// ErrNoSigningKey is returned when a provider has no key available.
var ErrNoSigningKey = errors.New("no signing key available")

// SigningKeyData holds a signing key with its metadata. Exactly one of Key
// (asymmetric families) or Secret (HS* family) is set.
type SigningKeyData struct {
	// KeyID is the identifier placed in the JWT "kid" header.
	KeyID string

	// Algorithm is the JWS algorithm (RS256, ES256, HS256, ...).
	Algorithm string

	// Key is the private key for asymmetric algorithms.
	Key crypto.Signer

	// Secret is the shared secret for HMAC algorithms.
	Secret []byte

	// CreatedAt is when the key was loaded or generated.
	CreatedAt time.Time
}

// Symmetric reports whether the key belongs to the HS* family.
func (k *SigningKeyData) Symmetric() bool {
	return len(k.Secret) > 0
}

// clone returns a copy so providers never hand out their internal state.
func (k *SigningKeyData) clone() *SigningKeyData {
	out := *k
	if k.Secret != nil {
		out.Secret = append([]byte(nil), k.Secret...)
	}
	return &out
}
