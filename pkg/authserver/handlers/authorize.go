// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-oauth/aegis/pkg/authserver"
	"github.com/aegis-oauth/aegis/pkg/authserver/crypto"
	"github.com/aegis-oauth/aegis/pkg/authserver/scope"
	"github.com/aegis-oauth/aegis/pkg/authserver/storage"
	"github.com/aegis-oauth/aegis/pkg/authserver/userauth"
	"github.com/aegis-oauth/aegis/pkg/logger"
)

// AuthorizeHandler handles GET /oauth/authorize, the entry point of the
// authorization code flow. It validates the request, persists a pending
// AuthorizationCode and sends the user agent to the login dialog.
//
// Until the redirect URI is verified against the client's registration the
// handler renders error pages instead of redirecting, so an attacker cannot
// use the endpoint as an open redirector.
func (h *Handler) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	state := q.Get("state")

	client, err := h.store.GetClient(r.Context(), clientID)
	if err != nil {
		h.renderErrorPage(w, http.StatusBadRequest, "Unknown client.")
		return
	}
	if client.Revoked() {
		h.renderErrorPage(w, http.StatusBadRequest, "Unknown client.")
		return
	}
	if redirectURI == "" || !client.AllowsRedirectURI(redirectURI) {
		h.renderErrorPage(w, http.StatusBadRequest, "The redirect URI is not registered for this client.")
		return
	}

	// From here on the redirect URI is trusted and errors go back to the
	// client application.
	if q.Get("response_type") != "code" {
		redirectError(w, r, redirectURI,
			authserver.ErrInvalidRequest.WithDescription("response_type must be \"code\"."), state)
		return
	}

	requestedScope := q.Get("scope")
	if requestedScope != "" && !scope.Validate(client.Scope, requestedScope) {
		redirectError(w, r, redirectURI,
			authserver.ErrInvalidScope.WithDescription("The requested scope exceeds the client's scope."), state)
		return
	}

	challenge := q.Get("code_challenge")
	method := q.Get("code_challenge_method")
	if challenge != "" && method == "" {
		method = crypto.PKCEMethodPlain
	}
	if challenge != "" && !crypto.ValidPKCEMethod(method) {
		redirectError(w, r, redirectURI,
			authserver.ErrInvalidRequest.WithDescription("Unsupported code_challenge_method."), state)
		return
	}

	code := &storage.AuthorizationCode{
		ID:                  uuid.NewString(),
		Code:                uuid.NewString(),
		ClientID:            client.ClientID,
		Scope:               requestedScope,
		RedirectURI:         redirectURI,
		State:               state,
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		ExpiresAt:           time.Now().Add(h.config.AuthCodeLifespan),
	}
	if err := h.store.CreateAuthorizationCode(r.Context(), code); err != nil {
		logger.Errorw("failed to persist authorization code", "client_id", clientID, "error", err)
		h.renderErrorPage(w, http.StatusInternalServerError, "The request could not be processed.")
		return
	}

	payload, err := crypto.EncodeDialogPayload(h.config.SecretKey, crypto.DialogPayload{AuthCodeID: code.ID})
	if err != nil {
		logger.Errorw("failed to encode dialog payload", "error", err)
		h.renderErrorPage(w, http.StatusInternalServerError, "The request could not be processed.")
		return
	}

	dialogURL := h.config.BaseURL + "/oauth/dialog?p=" + url.QueryEscape(payload)
	http.Redirect(w, r, dialogURL, http.StatusFound)
}

// DecisionHandler handles POST /oauth/authorize, the dialog form
// submission. An approval authenticates the resource owner, attaches the
// subject and resolved scope to the pending code and redirects back to the
// client with the code; a cancellation redirects with access_denied.
func (h *Handler) DecisionHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderErrorPage(w, http.StatusBadRequest, "Malformed form submission.")
		return
	}

	payload, err := crypto.DecodeDialogPayload(h.config.SecretKey, r.PostFormValue("p"))
	if err != nil {
		// Tampered payloads never reach the store
		h.renderErrorPage(w, http.StatusBadRequest, "The authorization request could not be recovered.")
		return
	}

	code, err := h.store.GetAuthorizationCodeByID(r.Context(), payload.AuthCodeID)
	if err != nil {
		h.renderErrorPage(w, http.StatusBadRequest, "The authorization request is no longer valid.")
		return
	}
	if code.RevokedAt != nil || code.Expired(time.Now()) {
		h.renderErrorPage(w, http.StatusBadRequest, "The authorization request is no longer valid.")
		return
	}

	client, err := h.store.GetClient(r.Context(), code.ClientID)
	if err != nil || client.Revoked() {
		h.renderErrorPage(w, http.StatusBadRequest, "Unknown client.")
		return
	}

	if r.PostFormValue("decision") != "approve" {
		redirectError(w, r, code.RedirectURI,
			authserver.ErrAccessDenied.WithDescription("The resource owner denied the request."), code.State)
		return
	}

	subject, err := h.users.Authenticate(r.Context(),
		r.PostFormValue("username"), r.PostFormValue("password"))
	if err != nil {
		if errors.Is(err, userauth.ErrInvalidCredentials) {
			h.renderDialog(w, http.StatusUnauthorized, client, code.Scope,
				r.PostFormValue("p"), "Invalid username or password.")
			return
		}
		logger.Errorw("user authentication failed", "error", err)
		h.renderErrorPage(w, http.StatusInternalServerError, "The request could not be processed.")
		return
	}

	granted := scope.Merge(subject.Scope, code.Scope, client.Scope)
	if err := h.store.ApproveAuthorizationCode(r.Context(), code.ID, subject.ID, granted); err != nil {
		logger.Errorw("failed to approve authorization code", "auth_code_id", code.ID, "error", err)
		h.renderErrorPage(w, http.StatusInternalServerError, "The request could not be processed.")
		return
	}

	q := url.Values{}
	q.Set("code", code.Code)
	if code.State != "" {
		q.Set("state", code.State)
	}
	http.Redirect(w, r, code.RedirectURI+"?"+q.Encode(), http.StatusFound)
}
