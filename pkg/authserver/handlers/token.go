// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/aegis-oauth/aegis/pkg/authserver"
	"github.com/aegis-oauth/aegis/pkg/authserver/crypto"
	"github.com/aegis-oauth/aegis/pkg/authserver/scope"
	"github.com/aegis-oauth/aegis/pkg/authserver/storage"
	"github.com/aegis-oauth/aegis/pkg/authserver/token"
	"github.com/aegis-oauth/aegis/pkg/authserver/userauth"
	"github.com/aegis-oauth/aegis/pkg/logger"
)

// TokenHandler handles POST /oauth/token. The preamble shared by all grants
// authenticates the client; the per-grant logic then consumes an
// authorization code, resource owner credentials, the client secret alone or
// a refresh token, and in each success case the token factory produces the
// response.
func (h *Handler) TokenHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, authserver.ErrInvalidRequest.WithDescription("Malformed request body."))
		return
	}

	client, err := h.authenticateClient(r)
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	requestedScope := r.PostFormValue("scope")
	if requestedScope != "" && !scope.Validate(client.Scope, requestedScope) {
		writeOAuthError(w, authserver.ErrInvalidScope.WithDescription(
			"The requested scope exceeds the client's scope."))
		return
	}

	meta := token.RequestMetadata{UserAgent: r.UserAgent()}

	var resp *token.Response
	switch grant := r.PostFormValue("grant_type"); storage.GrantType(grant) {
	case storage.GrantAuthorizationCode:
		resp, err = h.grantAuthorizationCode(r, client, meta)
	case storage.GrantClientCredentials:
		resp, err = h.grantClientCredentials(r, client, requestedScope, meta)
	case storage.GrantPassword:
		resp, err = h.grantPassword(r, client, requestedScope, meta)
	case storage.GrantRefreshToken:
		resp, err = h.grantRefreshToken(r, client, requestedScope, meta)
	default:
		err = authserver.ErrUnsupportedGrantType.WithDescriptionf(
			"Unknown grant_type %q.", grant)
	}
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, resp)
}

// authenticateClient runs the preamble shared by all grants: extract the
// client credentials from Basic auth or the form body, load the client and,
// for confidential clients, verify the HMAC-derived secret.
func (h *Handler) authenticateClient(r *http.Request) (*storage.Client, error) {
	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID = r.PostFormValue("client_id")
		clientSecret = r.PostFormValue("client_secret")
	}
	if clientID == "" {
		return nil, authserver.ErrInvalidRequest.WithDescription("client_id is required.")
	}

	client, err := h.store.GetClient(r.Context(), clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, authserver.ErrInvalidClient.WithDescription("Unknown client.")
		}
		logger.Errorw("failed to load client", "client_id", clientID, "error", err)
		return nil, authserver.ErrServerError
	}
	if client.Revoked() {
		return nil, authserver.ErrInvalidClient.WithDescription("Unknown client.")
	}

	if client.Confidential() {
		if clientSecret == "" {
			return nil, authserver.ErrInvalidRequest.WithDescription("client_secret is required.")
		}
		valid, err := crypto.VerifyClientSecret(h.config.HMACAlgorithm, h.config.SecretKey, clientID, clientSecret)
		if err != nil {
			logger.Errorw("failed to verify client secret", "client_id", clientID, "error", err)
			return nil, authserver.ErrServerError
		}
		if !valid {
			return nil, authserver.ErrInvalidClient.WithDescription("Client authentication failed.")
		}
	}

	return client, nil
}

func (h *Handler) grantAuthorizationCode(r *http.Request, client *storage.Client, meta token.RequestMetadata) (*token.Response, error) {
	codeValue := r.PostFormValue("code")
	if codeValue == "" {
		return nil, authserver.ErrInvalidRequest.WithDescription("code is required.")
	}

	code, err := h.store.GetAuthorizationCode(r.Context(), client.ClientID, codeValue)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, authserver.ErrInvalidGrant.WithDescription("The authorization code is invalid.")
		}
		logger.Errorw("failed to load authorization code", "client_id", client.ClientID, "error", err)
		return nil, authserver.ErrServerError
	}

	if code.RevokedAt != nil || code.Expired(time.Now()) {
		return nil, authserver.ErrInvalidGrant.WithDescription("The authorization code is invalid.")
	}
	// A code the dialog never approved carries no subject
	if code.UserID == "" {
		return nil, authserver.ErrInvalidGrant.WithDescription("The authorization code is invalid.")
	}
	if r.PostFormValue("redirect_uri") != code.RedirectURI {
		return nil, authserver.ErrInvalidGrant.WithDescription("redirect_uri does not match the authorization request.")
	}

	if code.CodeChallenge != "" {
		verifier := r.PostFormValue("code_verifier")
		if verifier == "" {
			return nil, authserver.ErrInvalidRequest.WithDescription("code_verifier is required.")
		}
		if !crypto.VerifyPKCE(code.CodeChallengeMethod, code.CodeChallenge, verifier) {
			return nil, authserver.ErrInvalidGrant.WithDescription("PKCE verification failed.")
		}
	}

	// Conditional redemption: of two concurrent requests for the same
	// code, the loser observes ErrRevoked
	if err := h.store.RedeemAuthorizationCode(r.Context(), code.ID); err != nil {
		if errors.Is(err, storage.ErrRevoked) || errors.Is(err, storage.ErrNotFound) {
			return nil, authserver.ErrInvalidGrant.WithDescription("The authorization code is invalid.")
		}
		logger.Errorw("failed to redeem authorization code", "auth_code_id", code.ID, "error", err)
		return nil, authserver.ErrServerError
	}

	return h.factory.NewAccessToken(r.Context(), client,
		storage.GrantAuthorizationCode, code.Scope, code.UserID, meta)
}

func (h *Handler) grantClientCredentials(r *http.Request, client *storage.Client, requestedScope string, meta token.RequestMetadata) (*token.Response, error) {
	if !client.Confidential() {
		return nil, authserver.ErrUnauthorizedClient.WithDescription(
			"The client_credentials grant requires a confidential client.")
	}

	// The client is its own principal
	granted := scope.Merge(client.Scope, requestedScope, client.Scope)
	return h.factory.NewAccessToken(r.Context(), client,
		storage.GrantClientCredentials, granted, client.ClientID, meta)
}

func (h *Handler) grantPassword(r *http.Request, client *storage.Client, requestedScope string, meta token.RequestMetadata) (*token.Response, error) {
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		return nil, authserver.ErrInvalidRequest.WithDescription("username and password are required.")
	}

	subject, err := h.users.Authenticate(r.Context(), username, password)
	if err != nil {
		if errors.Is(err, userauth.ErrInvalidCredentials) {
			return nil, authserver.ErrInvalidGrant.WithDescription("Invalid resource owner credentials.")
		}
		logger.Errorw("user authentication failed", "error", err)
		return nil, authserver.ErrServerError
	}

	granted := scope.Merge(subject.Scope, requestedScope, client.Scope)
	return h.factory.NewAccessToken(r.Context(), client,
		storage.GrantPassword, granted, subject.ID, meta)
}

func (h *Handler) grantRefreshToken(r *http.Request, client *storage.Client, requestedScope string, meta token.RequestMetadata) (*token.Response, error) {
	raw := r.PostFormValue("refresh_token")
	if raw == "" {
		return nil, authserver.ErrInvalidRequest.WithDescription("refresh_token is required.")
	}

	claims, err := h.signer.Verify(r.Context(), raw)
	if err != nil {
		return nil, authserver.ErrInvalidGrant.WithDescription("The refresh token is invalid.")
	}
	if claims.ClientID != client.ClientID {
		return nil, authserver.ErrInvalidGrant.WithDescription("The refresh token is invalid.")
	}

	refresh, err := h.store.GetRefreshToken(r.Context(), claims.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, authserver.ErrInvalidGrant.WithDescription("The refresh token is invalid.")
		}
		logger.Errorw("failed to load refresh token", "jti", claims.ID, "error", err)
		return nil, authserver.ErrServerError
	}
	if refresh.RevokedAt != nil || refresh.Expired(time.Now()) {
		return nil, authserver.ErrInvalidGrant.WithDescription("The refresh token is invalid.")
	}

	previous, err := h.store.GetAccessToken(r.Context(), refresh.AccessTokenID)
	if err != nil {
		logger.Errorw("failed to load parent access token", "jti", refresh.AccessTokenID, "error", err)
		return nil, authserver.ErrServerError
	}

	granted := previous.Scope
	if requestedScope != "" {
		if !scope.Subset(requestedScope, previous.Scope) {
			return nil, authserver.ErrInvalidScope.WithDescription(
				"The requested scope exceeds the original token's scope.")
		}
		granted = requestedScope
	}

	// Conditional revocation of the presented token settles concurrent
	// refreshes; revoking the parent then cascades to any sibling
	if err := h.store.RevokeRefreshToken(r.Context(), refresh.ID); err != nil {
		if errors.Is(err, storage.ErrRevoked) {
			return nil, authserver.ErrInvalidGrant.WithDescription("The refresh token is invalid.")
		}
		logger.Errorw("failed to revoke refresh token", "jti", refresh.ID, "error", err)
		return nil, authserver.ErrServerError
	}
	if err := h.store.RevokeAccessToken(r.Context(), previous.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Errorw("failed to revoke predecessor access token", "jti", previous.ID, "error", err)
		return nil, authserver.ErrServerError
	}

	return h.factory.NewAccessToken(r.Context(), client,
		storage.GrantRefreshToken, granted, previous.UserID, meta)
}
