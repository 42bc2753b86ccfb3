// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import "errors"

// Sentinel errors returned by Store implementations. Callers match them with
// errors.Is; implementations wrap them with context via fmt.Errorf("%w: ...").
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists indicates a uniqueness violation (clientId, name
	// or domain).
	ErrAlreadyExists = errors.New("record already exists")

	// ErrRevoked indicates the record is revoked; for conditional
	// operations it means the revocation was already won by someone else.
	ErrRevoked = errors.New("record is revoked")

	// ErrExpired indicates the record is past its expiry.
	ErrExpired = errors.New("record has expired")
)
