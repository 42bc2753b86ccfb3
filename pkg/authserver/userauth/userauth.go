// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

// Package userauth abstracts resource owner authentication. The password
// grant and the login dialog both delegate credential checks to an
// Authenticator so deployments can plug their own user store.
package userauth

import (
	"context"
	"crypto/subtle"
	"errors"
)

// ErrInvalidCredentials is returned when the username or password is wrong.
// Callers must not distinguish an unknown user from a bad password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Subject is an authenticated resource owner.
type Subject struct {
	// ID is the stable subject identifier placed in the "sub" claim.
	ID string

	// Scope is the subject's own scope, merged with the request and
	// client scopes at token issuance. "*" grants everything.
	Scope string
}

// Authenticator verifies resource owner credentials.
type Authenticator interface {
	// Authenticate checks the credentials and returns the subject.
	// Wrong credentials yield ErrInvalidCredentials.
	Authenticate(ctx context.Context, username, password string) (*Subject, error)
}

// StaticUser is one entry of a StaticAuthenticator.
type StaticUser struct {
	ID       string
	Password string
	Scope    string
}

// StaticAuthenticator authenticates against a fixed in-memory user list.
// Intended for development and tests; production deployments provide their
// own Authenticator.
type StaticAuthenticator struct {
	users map[string]StaticUser
}

// NewStaticAuthenticator creates an authenticator over the given users,
// keyed by user ID.
func NewStaticAuthenticator(users []StaticUser) *StaticAuthenticator {
	m := make(map[string]StaticUser, len(users))
	for _, u := range users {
		m[u.ID] = u
	}
	return &StaticAuthenticator{users: m}
}

// Authenticate implements Authenticator.
func (a *StaticAuthenticator) Authenticate(_ context.Context, username, password string) (*Subject, error) {
	user, ok := a.users[username]
	// Compare even for unknown users so timing does not reveal existence
	expected := user.Password
	if subtle.ConstantTimeCompare([]byte(expected), []byte(password)) != 1 || !ok {
		return nil, ErrInvalidCredentials
	}
	return &Subject{ID: user.ID, Scope: user.Scope}, nil
}

// Compile-time interface check.
var _ Authenticator = (*StaticAuthenticator)(nil)
