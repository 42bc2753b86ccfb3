// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aegis-oauth/aegis/pkg/authserver"
	"github.com/aegis-oauth/aegis/pkg/authserver/storage"
	"github.com/aegis-oauth/aegis/pkg/logger"
)

// RequestMetadata carries request-scoped data into token issuance. It is
// captured from the HTTP request by the handler and passed explicitly, never
// read from a global.
type RequestMetadata struct {
	// UserAgent is the caller's User-Agent header, recorded on the
	// AccessToken for later inspection.
	UserAgent string
}

// Response is the RFC 6749 section 5.1 token response body.
type Response struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Factory mints token responses: it persists the AccessToken (and, when the
// client qualifies, a RefreshToken) and signs the matching JWTs. Records are
// durable before the signed strings are returned, because the jti claim is
// the record identifier and must resolve from the moment a client can
// present the token.
type Factory struct {
	store                 storage.Store
	signer                *Signer
	tokenType             string
	accessTokenLifespans  authserver.LifespanTable
	refreshTokenLifespans authserver.LifespanTable
}

// NewFactory creates a token factory over the given store and signer.
func NewFactory(store storage.Store, signer *Signer, cfg *authserver.Config) *Factory {
	return &Factory{
		store:                 store,
		signer:                signer,
		tokenType:             cfg.TokenType,
		accessTokenLifespans:  cfg.AccessTokenLifespans,
		refreshTokenLifespans: cfg.RefreshTokenLifespans,
	}
}

// NewAccessToken mints the token response for a granted request.
//
// A refresh token accompanies the access token only when the grant keeps a
// durable relationship with the client: confidential clients on any grant
// except client_credentials and implicit.
func (f *Factory) NewAccessToken(
	ctx context.Context,
	client *storage.Client,
	grant storage.GrantType,
	scope string,
	subject string,
	meta RequestMetadata,
) (*Response, error) {
	if !client.AllowsGrant(grant) {
		return nil, authserver.ErrUnauthorizedClient.WithDescriptionf(
			"The client is not authorized to use the %s grant.", grant)
	}

	now := time.Now()
	accessTTL := f.accessTokenLifespans.For(client.Confidential(), client.Internal)

	access := &storage.AccessToken{
		ID:        uuid.NewString(),
		ClientID:  client.ClientID,
		UserID:    subject,
		Name:      client.Name,
		Scope:     scope,
		ExpiresAt: now.Add(accessTTL),
		UserAgent: meta.UserAgent,
	}
	if err := f.store.CreateAccessToken(ctx, access); err != nil {
		logger.Errorw("failed to persist access token", "client_id", client.ClientID, "error", err)
		return nil, authserver.ErrServerError
	}

	accessJWT, err := f.signer.Sign(ctx, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{client.Audience()},
			Subject:   subject,
			ID:        access.ID,
			ExpiresAt: jwt.NewNumericDate(access.ExpiresAt),
		},
		ClientID:        client.ClientID,
		AuthorizedParty: client.Audience(),
		Scope:           scope,
	})
	if err != nil {
		logger.Errorw("failed to sign access token", "client_id", client.ClientID, "error", err)
		return nil, authserver.ErrServerError
	}

	resp := &Response{
		AccessToken: accessJWT,
		TokenType:   f.tokenType,
		ExpiresIn:   int64(access.ExpiresAt.Sub(now).Seconds()),
	}

	if !issuesRefreshToken(client, grant) {
		return resp, nil
	}

	refreshTTL := f.refreshTokenLifespans.For(client.Confidential(), client.Internal)
	refresh := &storage.RefreshToken{
		ID:            uuid.NewString(),
		AccessTokenID: access.ID,
		ExpiresAt:     now.Add(refreshTTL),
	}
	if err := f.store.CreateRefreshToken(ctx, refresh); err != nil {
		logger.Errorw("failed to persist refresh token", "client_id", client.ClientID, "error", err)
		return nil, authserver.ErrServerError
	}

	refreshJWT, err := f.signer.Sign(ctx, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{client.Audience()},
			Subject:   subject,
			ID:        refresh.ID,
			ExpiresAt: jwt.NewNumericDate(refresh.ExpiresAt),
		},
		ClientID:        client.ClientID,
		AuthorizedParty: client.Audience(),
	})
	if err != nil {
		logger.Errorw("failed to sign refresh token", "client_id", client.ClientID, "error", err)
		return nil, authserver.ErrServerError
	}

	resp.RefreshToken = refreshJWT
	return resp, nil
}

// issuesRefreshToken reports whether the grant and client qualify for a
// refresh token.
func issuesRefreshToken(client *storage.Client, grant storage.GrantType) bool {
	if !client.Confidential() {
		return false
	}
	switch grant {
	case storage.GrantClientCredentials, storage.GrantImplicit:
		return false
	}
	return true
}
