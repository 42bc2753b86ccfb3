// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"html/template"
	"net/http"
	"time"

	"github.com/aegis-oauth/aegis/pkg/authserver/crypto"
	"github.com/aegis-oauth/aegis/pkg/authserver/scope"
	"github.com/aegis-oauth/aegis/pkg/authserver/storage"
	"github.com/aegis-oauth/aegis/pkg/logger"
)

var dialogTemplate = template.Must(template.New("dialog").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.ProviderName}} - Sign in</title></head>
<body>
  <h1>{{.ProviderName}}</h1>
  {{if .ClientLogo}}<img src="{{.ClientLogo}}" alt="" width="64">{{end}}
  <p><strong>{{.ClientName}}</strong> is requesting access.</p>
  {{if .ClientDescription}}<p>{{.ClientDescription}}</p>{{end}}
  {{if .Scopes}}
  <p>Requested permissions:</p>
  <ul>{{range .Scopes}}<li>{{.}}</li>{{end}}</ul>
  {{end}}
  {{if .ErrorMessage}}<p class="error">{{.ErrorMessage}}</p>{{end}}
  <form method="post" action="{{.ActionURL}}">
    <input type="hidden" name="p" value="{{.Payload}}">
    <label>Username <input type="text" name="username" autocomplete="username"></label>
    <label>Password <input type="password" name="password" autocomplete="current-password"></label>
    <button type="submit" name="decision" value="approve">Sign in and approve</button>
    <button type="submit" name="decision" value="cancel">Cancel</button>
  </form>
</body>
</html>
`))

var errorPageTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Authorization error</title></head>
<body>
  <h1>Authorization error</h1>
  <p>{{.Message}}</p>
</body>
</html>
`))

type dialogData struct {
	ProviderName      string
	ClientName        string
	ClientLogo        string
	ClientDescription string
	Scopes            []string
	Payload           string
	ActionURL         string
	ErrorMessage      string
}

// DialogHandler handles GET /oauth/dialog?p=<b64>, rendering the login and
// consent form for the pending authorization request named by the payload.
func (h *Handler) DialogHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := crypto.DecodeDialogPayload(h.config.SecretKey, r.URL.Query().Get("p"))
	if err != nil {
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

	h.renderDialog(w, http.StatusOK, client, code.Scope, r.URL.Query().Get("p"), "")
}

// renderDialog writes the login dialog. requestedScope is the scope named
// in the authorize request; errorMessage, when set, is shown above the form
// (wrong credentials on a previous attempt).
func (h *Handler) renderDialog(w http.ResponseWriter, status int, client *storage.Client, requestedScope, payload, errorMessage string) {
	scopes := scope.Split(requestedScope)
	if len(scopes) == 0 {
		scopes = scope.Split(client.Scope)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	err := dialogTemplate.Execute(w, dialogData{
		ProviderName:      h.config.ProviderName,
		ClientName:        client.Name,
		ClientLogo:        client.Logo,
		ClientDescription: client.Description,
		Scopes:            scopes,
		Payload:           payload,
		ActionURL:         h.config.BaseURL + "/oauth/authorize",
		ErrorMessage:      errorMessage,
	})
	if err != nil {
		logger.Errorw("failed to render dialog", "error", err)
	}
}

// renderErrorPage writes a plain HTML error page. Used on the front channel
// before the redirect URI is trusted, where redirecting would turn the
// endpoint into an open redirector.
func (h *Handler) renderErrorPage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := errorPageTemplate.Execute(w, struct{ Message string }{Message: message}); err != nil {
		logger.Errorw("failed to render error page", "error", err)
	}
}
