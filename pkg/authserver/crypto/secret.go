// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

// Package crypto provides the cryptographic primitives of the authorization
// server: HMAC client secret derivation, PKCE challenge verification and the
// authenticated dialog payload.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
)

// hmacHash resolves a configured algorithm name to its hash constructor.
func hmacHash(algorithm string) (func() hash.Hash, error) {
	switch algorithm {
	case "sha256":
		return sha256.New, nil
	case "sha384":
		return sha512.New384, nil
	case "sha512":
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("unsupported HMAC algorithm: %q", algorithm)
	}
}

// DeriveClientSecret produces a client secret as the hex-encoded keyed MAC
// of the client ID: HMAC(algorithm, key, clientID). Deriving rather than
// storing secrets means verification needs no secret lookup, only the
// process-wide key.
func DeriveClientSecret(algorithm string, key []byte, clientID string) (string, error) {
	h, err := hmacHash(algorithm)
	if err != nil {
		return "", err
	}

	mac := hmac.New(h, key)
	mac.Write([]byte(clientID))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyClientSecret recomputes the secret for clientID and compares it to
// the presented secret in constant time.
func VerifyClientSecret(algorithm string, key []byte, clientID, presented string) (bool, error) {
	expected, err := DeriveClientSecret(algorithm, key, clientID)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(presented)), nil
}
