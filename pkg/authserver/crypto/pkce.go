// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/subtle"

	"golang.org/x/oauth2"
)

// PKCE challenge methods per RFC 7636.
const (
	// PKCEMethodS256 hashes the verifier: base64url(SHA-256(verifier)).
	PKCEMethodS256 = "S256"

	// PKCEMethodPlain compares verifier to challenge byte-for-byte.
	PKCEMethodPlain = "plain"
)

// ValidPKCEMethod reports whether method is a supported challenge method.
func ValidPKCEMethod(method string) bool {
	return method == PKCEMethodS256 || method == PKCEMethodPlain
}

// ComputePKCEChallenge computes the S256 code_challenge from a code_verifier
// per RFC 7636 Section 4.2: code_challenge = BASE64URL(SHA256(code_verifier)).
//
// This function delegates to oauth2.S256ChallengeFromVerifier() from
// golang.org/x/oauth2.
func ComputePKCEChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// VerifyPKCE checks a code_verifier against the stored challenge using the
// stored method. Comparison is constant-time in both branches.
func VerifyPKCE(method, challenge, verifier string) bool {
	switch method {
	case PKCEMethodS256:
		computed := ComputePKCEChallenge(verifier)
		return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
	case PKCEMethodPlain:
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1
	default:
		return false
	}
}
