// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

// Package authserver implements an OAuth 2.0 authorization server: client
// registration, the authorization code (with PKCE), client credentials,
// resource owner password and refresh token grants, and the signing and
// persistence of the credentials they produce.
package authserver

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is an OAuth 2.0 protocol error (RFC 6749 section 5.2) carried as a
// value. Handlers translate it to HTTP at a single point; everything below
// the handler layer returns it like any other error.
type Error struct {
	// Status is the HTTP status code for direct responses.
	Status int `json:"-"`

	// Code is the RFC 6749 error code.
	Code string `json:"error"`

	// Description is a human-readable explanation. It must never leak
	// internal causes; those are logged server-side only.
	Description string `json:"error_description,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WithDescription returns a copy of the error with the given description.
// The receiver is not mutated, so the package-level values stay constant.
func (e *Error) WithDescription(desc string) *Error {
	return &Error{Status: e.Status, Code: e.Code, Description: desc}
}

// WithDescriptionf is WithDescription with fmt.Sprintf semantics.
func (e *Error) WithDescriptionf(format string, args ...any) *Error {
	return e.WithDescription(fmt.Sprintf(format, args...))
}

// Protocol errors drawn from RFC 6749 section 5.2, plus access_denied
// (section 4.1.2.1) and the internal server_error.
var (
	// ErrInvalidRequest is returned when the request is missing a required
	// parameter or is otherwise malformed.
	ErrInvalidRequest = &Error{Status: http.StatusBadRequest, Code: "invalid_request"}

	// ErrInvalidClient is returned when client authentication failed or the
	// client is unknown or revoked.
	ErrInvalidClient = &Error{Status: http.StatusUnauthorized, Code: "invalid_client"}

	// ErrInvalidGrant is returned when the provided grant (authorization
	// code, credentials, refresh token) is invalid, expired or revoked.
	ErrInvalidGrant = &Error{Status: http.StatusBadRequest, Code: "invalid_grant"}

	// ErrUnauthorizedClient is returned when the client is not allowed to
	// use the requested grant type.
	ErrUnauthorizedClient = &Error{Status: http.StatusBadRequest, Code: "unauthorized_client"}

	// ErrUnsupportedGrantType is returned for unknown grant_type values.
	ErrUnsupportedGrantType = &Error{Status: http.StatusBadRequest, Code: "unsupported_grant_type"}

	// ErrInvalidScope is returned when the requested scope exceeds what the
	// client or the original grant allows.
	ErrInvalidScope = &Error{Status: http.StatusBadRequest, Code: "invalid_scope"}

	// ErrAccessDenied is returned when the resource owner refused the
	// authorization request.
	ErrAccessDenied = &Error{Status: http.StatusBadRequest, Code: "access_denied"}

	// ErrServerError covers persistence and signing failures. The cause is
	// logged server-side and never placed in the response body.
	ErrServerError = &Error{Status: http.StatusBadRequest, Code: "server_error"}
)

// AsError extracts a protocol *Error from err, or wraps err as a server_error.
// Non-protocol causes never reach the response body.
func AsError(err error) *Error {
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	return ErrServerError.WithDescription("The request could not be processed.")
}
