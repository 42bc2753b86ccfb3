// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

// Package handlers provides the HTTP handlers for the OAuth authorization
// server endpoints: the front-channel authorize flow with its login dialog
// and the back-channel token endpoint.
package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/aegis-oauth/aegis/pkg/authserver"
	"github.com/aegis-oauth/aegis/pkg/authserver/storage"
	"github.com/aegis-oauth/aegis/pkg/authserver/token"
	"github.com/aegis-oauth/aegis/pkg/authserver/userauth"
	"github.com/aegis-oauth/aegis/pkg/logger"
)

// Handler provides HTTP handlers for the OAuth authorization server
// endpoints.
type Handler struct {
	config  *authserver.Config
	store   storage.Store
	factory *token.Factory
	signer  *token.Signer
	users   userauth.Authenticator
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(
	config *authserver.Config,
	store storage.Store,
	factory *token.Factory,
	signer *token.Signer,
	users userauth.Authenticator,
) *Handler {
	return &Handler{
		config:  config,
		store:   store,
		factory: factory,
		signer:  signer,
		users:   users,
	}
}

// Routes returns a router with all OAuth endpoints registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	h.OAuthRoutes(r)
	return r
}

// OAuthRoutes registers the OAuth endpoints on the provided router.
func (h *Handler) OAuthRoutes(r chi.Router) {
	r.Get("/oauth/authorize", h.AuthorizeHandler)
	r.Post("/oauth/authorize", h.DecisionHandler)
	r.Get("/oauth/dialog", h.DialogHandler)
	r.Post("/oauth/token", h.TokenHandler)
	r.Get("/oauth/callback", h.CallbackHandler)
	r.Get("/oauth/inspect", h.InspectHandler)
	r.Post("/oauth/purge", h.PurgeHandler)
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorw("failed to encode response", "error", err)
	}
}

// writeOAuthError translates a protocol error to an RFC 6749 section 5.2
// JSON response. Non-protocol errors collapse to server_error; the cause
// stays server-side.
func writeOAuthError(w http.ResponseWriter, err error) {
	oauthErr := authserver.AsError(err)
	if oauthErr.Code == "server_error" {
		logger.Errorw("request failed", "error", err)
	}
	writeJSON(w, oauthErr.Status, oauthErr)
}

// redirectError sends the user agent back to redirectURI carrying the error
// code, description and echoed state. Only called once the redirect URI has
// been verified against the client's registration.
func redirectError(w http.ResponseWriter, r *http.Request, redirectURI string, oauthErr *authserver.Error, state string) {
	q := url.Values{}
	q.Set("error", oauthErr.Code)
	if oauthErr.Description != "" {
		q.Set("error_description", oauthErr.Description)
	}
	if state != "" {
		q.Set("state", state)
	}
	http.Redirect(w, r, redirectURI+"?"+q.Encode(), http.StatusFound)
}

// InspectHandler is a stub acknowledging the endpoint; token introspection
// semantics are not implemented.
func (*Handler) InspectHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotImplemented, map[string]string{
		"error":             "unsupported_operation",
		"error_description": "Token inspection is not implemented.",
	})
}

// PurgeHandler is a stub acknowledging the endpoint; expired-record purging
// semantics are not implemented.
func (*Handler) PurgeHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotImplemented, map[string]string{
		"error":             "unsupported_operation",
		"error_description": "Record purging is not implemented.",
	})
}

// CallbackHandler is a diagnostic echo of the authorization redirect: it
// reflects the query parameters as JSON so local clients can observe what
// the server sent.
func (*Handler) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	params := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	writeJSON(w, http.StatusOK, params)
}
