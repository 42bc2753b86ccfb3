// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrPayloadTampered is returned when a dialog payload fails MAC
// verification or cannot be decoded.
var ErrPayloadTampered = errors.New("dialog payload invalid or tampered")

// DialogPayload is the opaque blob carried between the authorize endpoint
// and the login dialog. It is HMAC-authenticated so a tampered payload
// cannot induce the server to bind a user decision to a different
// authorization code.
type DialogPayload struct {
	// AuthCodeID identifies the pending AuthorizationCode record.
	AuthCodeID string `json:"oauthAuthCodeId"`
}

// EncodeDialogPayload serializes and authenticates the payload as
// base64url(json) "." base64url(HMAC-SHA256(json)).
func EncodeDialogPayload(key []byte, p DialogPayload) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding dialog payload: %w", err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(body)

	enc := base64.RawURLEncoding
	return enc.EncodeToString(body) + "." + enc.EncodeToString(mac.Sum(nil)), nil
}

// DecodeDialogPayload verifies and decodes a payload produced by
// EncodeDialogPayload. Any decoding or MAC failure yields
// ErrPayloadTampered; callers must not distinguish the causes.
func DecodeDialogPayload(key []byte, raw string) (DialogPayload, error) {
	var p DialogPayload

	enc := base64.RawURLEncoding
	dot := -1
	for i := 0; i < len(raw); i++ {
		if raw[i] == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		return p, ErrPayloadTampered
	}

	body, err := enc.DecodeString(raw[:dot])
	if err != nil {
		return p, ErrPayloadTampered
	}
	sig, err := enc.DecodeString(raw[dot+1:])
	if err != nil {
		return p, ErrPayloadTampered
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return p, ErrPayloadTampered
	}

	if err := json.Unmarshal(body, &p); err != nil {
		return p, ErrPayloadTampered
	}
	return p, nil
}
