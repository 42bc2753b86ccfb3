// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the entity store contract and implementations for
// the OAuth authorization server: Clients, AuthorizationCodes, AccessTokens
// and RefreshTokens with their uniqueness and lifecycle invariants.
package storage

import (
	"context"
	"time"
)

// Collection names shared by the persistent backends (table names in SQLite,
// key prefixes in Redis).
const (
	CollectionClients       = "oauth_clients"
	CollectionAuthCodes     = "oauth_auth_codes"
	CollectionAccessTokens  = "oauth_access_tokens"
	CollectionRefreshTokens = "oauth_refresh_tokens"
)

// ClientProfile classifies the application shape of a client.
type ClientProfile string

// Client profiles.
const (
	ProfileWeb            ClientProfile = "web"
	ProfileUserAgentBased ClientProfile = "user-agent-based"
	ProfileNative         ClientProfile = "native"
)

// Valid reports whether p is a known profile.
func (p ClientProfile) Valid() bool {
	switch p {
	case ProfileWeb, ProfileUserAgentBased, ProfileNative:
		return true
	}
	return false
}

// ClientType is derived from the profile: web clients can protect a secret,
// everything else cannot.
type ClientType string

// Client types.
const (
	TypeConfidential ClientType = "confidential"
	TypePublic       ClientType = "public"
)

// GrantType identifies an OAuth flow.
type GrantType string

// Grant types.
const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantClientCredentials GrantType = "client_credentials"
	GrantPassword          GrantType = "password"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantImplicit          GrantType = "implicit"
)

// Client is a registered application.
type Client struct {
	// ClientID is the opaque unique identifier.
	ClientID string

	// Name is the unique display name.
	Name string

	// Profile classifies the application (web, user-agent-based, native).
	Profile ClientProfile

	// Type is derived from Profile at write time, never taken as input.
	Type ClientType

	// SecretKey is the HMAC-derived secret, present only for confidential
	// clients.
	SecretKey string

	// Grants is the derived set of grant types the client may use.
	Grants []GrantType

	// RedirectURIs are the registered absolute redirect URLs.
	RedirectURIs []string

	// Scope is the client's declared scope: space-separated tokens, or
	// "*" (internal clients only).
	Scope string

	// Internal marks first-party clients with an elevated grant set.
	Internal bool

	// Domain is the client's web domain; required for web and
	// user-agent-based profiles, unique across clients.
	Domain string

	// Logo is an optional logo URL shown in the dialog.
	Logo string

	// Description is optional display text.
	Description string

	// LegalTermsAcceptedAt records acceptance of the legal terms.
	LegalTermsAcceptedAt *time.Time

	// RevokedAt blocks all flows when set.
	RevokedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Revoked reports whether the client is revoked.
func (c *Client) Revoked() bool {
	return c.RevokedAt != nil
}

// Confidential reports whether the client can hold a secret.
func (c *Client) Confidential() bool {
	return c.Type == TypeConfidential
}

// AllowsGrant reports whether the client's derived grant set contains g.
// refresh_token is not part of the derived set; it is allowed whenever the
// client is confidential, since only confidential clients ever receive
// refresh tokens.
func (c *Client) AllowsGrant(g GrantType) bool {
	if g == GrantRefreshToken {
		return c.Confidential()
	}
	for _, have := range c.Grants {
		if have == g {
			return true
		}
	}
	return false
}

// AllowsRedirectURI reports whether uri is one of the registered URIs.
func (c *Client) AllowsRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// Audience is the aud/azp claim value for tokens issued to this client:
// the domain when one is registered, else the client ID.
func (c *Client) Audience() string {
	if c.Domain != "" {
		return c.Domain
	}
	return c.ClientID
}

// AuthorizationCode is a short-lived single-use front-channel credential.
type AuthorizationCode struct {
	// ID is the record identifier referenced by the dialog payload.
	ID string

	// Code is the opaque random value returned to the user agent.
	Code string

	// ClientID references the issuing client.
	ClientID string

	// UserID is the subject, attached once the dialog approves.
	UserID string

	// Scope is the resolved scope, attached with the user decision.
	Scope string

	// RedirectURI is echoed from the authorize request and must match at
	// redemption.
	RedirectURI string

	// State is the client's state parameter, echoed on redirects.
	State string

	// CodeChallenge and CodeChallengeMethod carry the PKCE binding;
	// empty when the client did not use PKCE.
	CodeChallenge       string
	CodeChallengeMethod string

	ExpiresAt time.Time
	RevokedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the code is past its expiry at time now.
func (a *AuthorizationCode) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// AccessToken is the persisted record underlying a signed bearer token.
// The record ID is embedded in the JWT as the jti claim.
type AccessToken struct {
	ID        string
	ClientID  string
	UserID    string
	Name      string
	Scope     string
	ExpiresAt time.Time
	UserAgent string
	RevokedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the token is past its expiry at time now.
func (t *AccessToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// RefreshToken is the persisted record underlying a signed refresh
// credential. It has exactly one parent AccessToken; revoking the parent
// revokes it.
type RefreshToken struct {
	ID            string
	AccessTokenID string
	ExpiresAt     time.Time
	RevokedAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the token is past its expiry at time now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// SecretDeriver produces the HMAC-derived secret for a client ID. The store
// runs it during client normalization so the derivation is a write
// invariant, not an application-layer concern.
type SecretDeriver func(clientID string) (string, error)

// Store is the entity store contract. All writes are durable before the
// methods return; reads and writes are linearizable per record.
type Store interface {
	// CreateClient normalizes and persists a client draft, enforcing
	// clientId, name and domain uniqueness (ErrAlreadyExists).
	CreateClient(ctx context.Context, draft *ClientDraft) (*Client, error)

	// GetClient loads a client by its clientId (ErrNotFound).
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// UpdateClient persists mutable client metadata (logo, description,
	// legal terms, redirect URIs, scope). Derived fields are recomputed.
	UpdateClient(ctx context.Context, client *Client) error

	// RevokeClient marks a client revoked, blocking all flows.
	RevokeClient(ctx context.Context, clientID string) error

	// CreateAuthorizationCode persists a new code record.
	CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCodeByID loads a code record by record ID.
	GetAuthorizationCodeByID(ctx context.Context, id string) (*AuthorizationCode, error)

	// GetAuthorizationCode loads a code record by (clientID, code value).
	GetAuthorizationCode(ctx context.Context, clientID, code string) (*AuthorizationCode, error)

	// ApproveAuthorizationCode attaches the subject and resolved scope to
	// a pending code after the dialog decision.
	ApproveAuthorizationCode(ctx context.Context, id, userID, scope string) error

	// RedeemAuthorizationCode atomically marks the code revoked.
	// It is a conditional "revoke if not yet revoked": a code observed
	// already revoked yields ErrRevoked, so two concurrent redemptions
	// cannot both succeed.
	RedeemAuthorizationCode(ctx context.Context, id string) error

	// CreateAccessToken persists a new access token record.
	CreateAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken loads an access token record by ID (the jti claim).
	GetAccessToken(ctx context.Context, id string) (*AccessToken, error)

	// RevokeAccessToken marks the access token revoked and cascades the
	// revocation to refresh tokens whose parent it is.
	RevokeAccessToken(ctx context.Context, id string) error

	// CreateRefreshToken persists a new refresh token record.
	CreateRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken loads a refresh token record by ID (the jti claim).
	GetRefreshToken(ctx context.Context, id string) (*RefreshToken, error)

	// RevokeRefreshToken marks the refresh token revoked. Like code
	// redemption it is conditional: an already revoked token yields
	// ErrRevoked.
	RevokeRefreshToken(ctx context.Context, id string) error

	// Health reports whether the backend is reachable.
	Health(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
