// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-oauth/aegis/pkg/authserver"
	"github.com/aegis-oauth/aegis/pkg/authserver/crypto"
	"github.com/aegis-oauth/aegis/pkg/authserver/keys"
	"github.com/aegis-oauth/aegis/pkg/authserver/storage"
	"github.com/aegis-oauth/aegis/pkg/authserver/token"
	"github.com/aegis-oauth/aegis/pkg/authserver/userauth"
)

// RFC 7636 appendix B test vector.
const (
	testVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	testChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
)

type testServer struct {
	handler http.Handler
	config  *authserver.Config
	store   *storage.MemoryStore
	signer  *token.Signer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &authserver.Config{
		BaseURL:       "https://auth.example.com",
		ProviderName:  "Aegis",
		SecretKey:     []byte("0123456789abcdef0123456789abcdef"),
		HMACAlgorithm: "sha512",
		AccessTokenLifespans: authserver.LifespanTable{
			ConfidentialInternal: 2 * time.Hour,
			ConfidentialExternal: time.Hour,
			PublicInternal:       30 * time.Minute,
			PublicExternal:       15 * time.Minute,
		},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	store := storage.NewMemoryStore(func(clientID string) (string, error) {
		return crypto.DeriveClientSecret(cfg.HMACAlgorithm, cfg.SecretKey, clientID)
	})
	signer := token.NewSigner(cfg.BaseURL, keys.NewGeneratingProvider(""))
	factory := token.NewFactory(store, signer, cfg)
	users := userauth.NewStaticAuthenticator([]userauth.StaticUser{
		{ID: "u1", Password: "p1", Scope: "read write profile"},
		{ID: "u2", Password: "p2", Scope: "read write"},
	})

	return &testServer{
		handler: NewHandler(cfg, store, factory, signer, users).Routes(),
		config:  cfg,
		store:   store,
		signer:  signer,
	}
}

func (ts *testServer) createWebClient(t *testing.T) *storage.Client {
	t.Helper()
	client, err := ts.store.CreateClient(context.Background(), &storage.ClientDraft{
		ClientID:     "c1",
		Name:         "web app",
		Profile:      storage.ProfileWeb,
		Scope:        "read write",
		Domain:       "https://app",
		RedirectURIs: []string{"https://app/cb"},
	})
	require.NoError(t, err)
	return client
}

func (ts *testServer) createNativeClient(t *testing.T) *storage.Client {
	t.Helper()
	client, err := ts.store.CreateClient(context.Background(), &storage.ClientDraft{
		ClientID: "c2",
		Name:     "native app",
		Profile:  storage.ProfileNative,
		Internal: true,
		Scope:    "*",
	})
	require.NoError(t, err)
	return client
}

func (ts *testServer) secretFor(t *testing.T, clientID string) string {
	t.Helper()
	secret, err := crypto.DeriveClientSecret(ts.config.HMACAlgorithm, ts.config.SecretKey, clientID)
	require.NoError(t, err)
	return secret
}

func (ts *testServer) get(target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func (ts *testServer) postForm(target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

// authorize drives the front channel through approval and returns the
// authorization code from the final redirect.
func (ts *testServer) authorize(t *testing.T, query url.Values, username, password string) string {
	t.Helper()

	rec := ts.get("/oauth/authorize?" + query.Encode())
	require.Equal(t, http.StatusFound, rec.Code)

	dialogURL, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/oauth/dialog", dialogURL.Path)
	payload := dialogURL.Query().Get("p")
	require.NotEmpty(t, payload)

	rec = ts.postForm("/oauth/authorize", url.Values{
		"p":        {payload},
		"decision": {"approve"},
		"username": {username},
		"password": {password},
	})
	require.Equal(t, http.StatusFound, rec.Code)

	cbURL, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Empty(t, cbURL.Query().Get("error"), "unexpected error redirect: %s", cbURL)
	require.Equal(t, query.Get("state"), cbURL.Query().Get("state"))

	code := cbURL.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func decodeTokenResponse(t *testing.T, rec *httptest.ResponseRecorder) *token.Response {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	var resp token.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return &resp
}

func decodeOAuthError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var e struct {
		Code string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e.Code
}

func pkceAuthorizeQuery(state string) url.Values {
	return url.Values{
		"response_type":         {"code"},
		"client_id":             {"c1"},
		"redirect_uri":          {"https://app/cb"},
		"scope":                 {"read"},
		"state":                 {state},
		"code_challenge":        {testChallenge},
		"code_challenge_method": {"S256"},
	}
}

func TestAuthorizationCodeWithPKCE(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.createWebClient(t)

	code := ts.authorize(t, pkceAuthorizeQuery("s1"), "u1", "p1")

	rec := ts.postForm("/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://app/cb"},
		"client_id":     {"c1"},
		"client_secret": {ts.secretFor(t, "c1")},
		"code_verifier": {testVerifier},
	})
	resp := decodeTokenResponse(t, rec)

	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	// confidential external lifetime
	assert.InDelta(t, 3600, resp.ExpiresIn, 1)

	claims, err := ts.signer.Verify(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "read", claims.Scope)
	assert.Equal(t, "https://app", claims.AuthorizedParty)
}

func TestClientCredentials(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.createWebClient(t)

	rec := ts.postForm("/oauth/token", url.Values{
		"grant_type":    {"client_credentials"},
		"scope":         {"read"},
		"client_id":     {"c1"},
		"client_secret": {ts.secretFor(t, "c1")},
	})
	resp := decodeTokenResponse(t, rec)

	assert.Empty(t, resp.RefreshToken)

	claims, err := ts.signer.Verify(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "c1", claims.Subject)
	assert.Equal(t, "read", claims.Scope)
}

func TestPasswordGrantPublicInternalClient(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.createNativeClient(t)

	rec := ts.postForm("/oauth/token", url.Values{
		"grant_type": {"password"},
		"username":   {"u2"},
		"password":   {"p2"},
		"client_id":  {"c2"},
	})
	resp := decodeTokenResponse(t, rec)

	assert.Empty(t, resp.RefreshToken)

	claims, err := ts.signer.Verify(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u2", claims.Subject)
	// wildcard client scope, no request scope: the subject's own scope
	assert.ElementsMatch(t, []string{"read", "write"}, strings.Fields(claims.Scope))
}

func TestRefreshGrantRevokesPredecessor(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.createWebClient(t)
	ctx := context.Background()

	code := ts.authorize(t, pkceAuthorizeQuery("s1"), "u1", "p1")
	rec := ts.postForm("/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://app/cb"},
		"client_id":     {"c1"},
		"client_secret": {ts.secretFor(t, "c1")},
		"code_verifier": {testVerifier},
	})
	first := decodeTokenResponse(t, rec)
	firstClaims, err := ts.signer.Verify(ctx, first.AccessToken)
	require.NoError(t, err)

	rec = ts.postForm("/oauth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {first.RefreshToken},
		"client_id":     {"c1"},
		"client_secret": {ts.secretFor(t, "c1")},
	})
	second := decodeTokenResponse(t, rec)
	assert.NotEmpty(t, second.AccessToken)
	assert.NotEmpty(t, second.RefreshToken)

	secondClaims, err := ts.signer.Verify(ctx, second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", secondClaims.Subject)
	assert.Equal(t, firstClaims.Scope, secondClaims.Scope)

	// The predecessor access token is now revoked
	previous, err := ts.store.GetAccessToken(ctx, firstClaims.ID)
	require.NoError(t, err)
	assert.NotNil(t, previous.RevokedAt)

	// Presenting the consumed refresh token again fails
	rec = ts.postForm("/oauth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {first.RefreshToken},
		"client_id":     {"c1"},
		"client_secret": {ts.secretFor(t, "c1")},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", decodeOAuthError(t, rec))
}

func TestReusedAuthorizationCode(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.createWebClient(t)

	code := ts.authorize(t, pkceAuthorizeQuery("s1"), "u1", "p1")
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://app/cb"},
		"client_id":     {"c1"},
		"client_secret": {ts.secretFor(t, "c1")},
		"code_verifier": {testVerifier},
	}

	decodeTokenResponse(t, ts.postForm("/oauth/token", form))

	rec := ts.postForm("/oauth/token", form)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", decodeOAuthError(t, rec))
}

func TestInvalidPKCEVerifier(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.createWebClient(t)

	code := ts.authorize(t, pkceAuthorizeQuery("s1"), "u1", "p1")
	rec := ts.postForm("/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://app/cb"},
		"client_id":     {"c1"},
		"client_secret": {ts.secretFor(t, "c1")},
		"code_verifier": {"wrong"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", decodeOAuthError(t, rec))
}

func TestTokenEndpointBoundaries(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.createWebClient(t)

	t.Run("missing client_id", func(t *testing.T) {
		rec := ts.postForm("/oauth/token", url.Values{
			"grant_type": {"client_credentials"},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_request", decodeOAuthError(t, rec))
	})

	t.Run("unknown client", func(t *testing.T) {
		rec := ts.postForm("/oauth/token", url.Values{
			"grant_type": {"client_credentials"},
			"client_id":  {"ghost"},
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "invalid_client", decodeOAuthError(t, rec))
	})

	t.Run("missing client_secret", func(t *testing.T) {
		rec := ts.postForm("/oauth/token", url.Values{
			"grant_type": {"client_credentials"},
			"client_id":  {"c1"},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_request", decodeOAuthError(t, rec))
	})

	t.Run("wrong client_secret", func(t *testing.T) {
		rec := ts.postForm("/oauth/token", url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {"c1"},
			"client_secret": {"bogus"},
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "invalid_client", decodeOAuthError(t, rec))
	})

	t.Run("unknown grant type", func(t *testing.T) {
		rec := ts.postForm("/oauth/token", url.Values{
			"grant_type":    {"jwt-bearer"},
			"client_id":     {"c1"},
			"client_secret": {ts.secretFor(t, "c1")},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "unsupported_grant_type", decodeOAuthError(t, rec))
	})

	t.Run("scope exceeding the client's", func(t *testing.T) {
		rec := ts.postForm("/oauth/token", url.Values{
			"grant_type":    {"client_credentials"},
			"scope":         {"admin"},
			"client_id":     {"c1"},
			"client_secret": {ts.secretFor(t, "c1")},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_scope", decodeOAuthError(t, rec))
	})
}

func TestTokenEndpointBasicAuth(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.createWebClient(t)

	form := url.Values{"grant_type": {"client_credentials"}, "scope": {"read"}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("c1", ts.secretFor(t, "c1"))

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	resp := decodeTokenResponse(t, rec)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestRevokedClient(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.createWebClient(t)
	require.NoError(t, ts.store.RevokeClient(context.Background(), "c1"))

	rec := ts.postForm("/oauth/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"c1"},
		"client_secret": {ts.secretFor(t, "c1")},
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_client", decodeOAuthError(t, rec))

	// Front channel shows an error page instead of redirecting
	auth := ts.get("/oauth/authorize?" + pkceAuthorizeQuery("s1").Encode())
	assert.Equal(t, http.StatusBadRequest, auth.Code)
}

func TestMismatchedRedirectURI(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.createWebClient(t)

	code := ts.authorize(t, pkceAuthorizeQuery("s1"), "u1", "p1")
	rec := ts.postForm("/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://evil/cb"},
		"client_id":     {"c1"},
		"client_secret": {ts.secretFor(t, "c1")},
		"code_verifier": {testVerifier},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", decodeOAuthError(t, rec))
}

func TestRefreshWithBroaderScope(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.createWebClient(t)

	code := ts.authorize(t, pkceAuthorizeQuery("s1"), "u1", "p1")
	first := decodeTokenResponse(t, ts.postForm("/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://app/cb"},
		"client_id":     {"c1"},
		"client_secret": {ts.secretFor(t, "c1")},
		"code_verifier": {testVerifier},
	}))

	// original token carries "read"; asking for "read write" is broader
	rec := ts.postForm("/oauth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {first.RefreshToken},
		"scope":         {"read write"},
		"client_id":     {"c1"},
		"client_secret": {ts.secretFor(t, "c1")},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_scope", decodeOAuthError(t, rec))
}

func TestAuthorizeRejectsUnregisteredRedirectURI(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.createWebClient(t)

	q := pkceAuthorizeQuery("s1")
	q.Set("redirect_uri", "https://evil/cb")
	rec := ts.get("/oauth/authorize?" + q.Encode())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, rec.Header().Get("Location"), "evil")
}

func TestAuthorizeInvalidScopeRedirects(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.createWebClient(t)

	q := pkceAuthorizeQuery("s1")
	q.Set("scope", "admin")
	rec := ts.get("/oauth/authorize?" + q.Encode())
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "invalid_scope", loc.Query().Get("error"))
	assert.Equal(t, "s1", loc.Query().Get("state"))
}

func TestDialogCancelRedirectsAccessDenied(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.createWebClient(t)

	rec := ts.get("/oauth/authorize?" + pkceAuthorizeQuery("s1").Encode())
	require.Equal(t, http.StatusFound, rec.Code)
	dialogURL, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)

	rec = ts.postForm("/oauth/authorize", url.Values{
		"p":        {dialogURL.Query().Get("p")},
		"decision": {"cancel"},
	})
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "access_denied", loc.Query().Get("error"))
	assert.Equal(t, "s1", loc.Query().Get("state"))
}

func TestDialogRejectsTamperedPayload(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.createWebClient(t)

	rec := ts.get("/oauth/authorize?" + pkceAuthorizeQuery("s1").Encode())
	require.Equal(t, http.StatusFound, rec.Code)
	dialogURL, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)

	tampered := dialogURL.Query().Get("p") + "x"
	assert.Equal(t, http.StatusBadRequest, ts.get("/oauth/dialog?p="+url.QueryEscape(tampered)).Code)

	rec = ts.postForm("/oauth/authorize", url.Values{
		"p":        {tampered},
		"decision": {"approve"},
		"username": {"u1"},
		"password": {"p1"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDialogWrongCredentialsRerenders(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.createWebClient(t)

	rec := ts.get("/oauth/authorize?" + pkceAuthorizeQuery("s1").Encode())
	require.Equal(t, http.StatusFound, rec.Code)
	dialogURL, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)

	rec = ts.postForm("/oauth/authorize", url.Values{
		"p":        {dialogURL.Query().Get("p")},
		"decision": {"approve"},
		"username": {"u1"},
		"password": {"wrong"},
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid username or password")
}

func TestDialogRendersClientDetails(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.createWebClient(t)

	rec := ts.get("/oauth/authorize?" + pkceAuthorizeQuery("s1").Encode())
	require.Equal(t, http.StatusFound, rec.Code)
	dialogURL, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)

	dialog := ts.get("/oauth/dialog?p=" + url.QueryEscape(dialogURL.Query().Get("p")))
	require.Equal(t, http.StatusOK, dialog.Code)
	assert.Contains(t, dialog.Body.String(), "web app")
	assert.Contains(t, dialog.Body.String(), "Aegis")
	assert.Contains(t, dialog.Body.String(), "read")
}

func TestUnapprovedCodeCannotBeRedeemed(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.createWebClient(t)
	ctx := context.Background()

	rec := ts.get("/oauth/authorize?" + pkceAuthorizeQuery("s1").Encode())
	require.Equal(t, http.StatusFound, rec.Code)
	dialogURL, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)

	payload, err := crypto.DecodeDialogPayload(ts.config.SecretKey, dialogURL.Query().Get("p"))
	require.NoError(t, err)
	code, err := ts.store.GetAuthorizationCodeByID(ctx, payload.AuthCodeID)
	require.NoError(t, err)

	tokenRec := ts.postForm("/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code.Code},
		"redirect_uri":  {"https://app/cb"},
		"client_id":     {"c1"},
		"client_secret": {ts.secretFor(t, "c1")},
		"code_verifier": {testVerifier},
	})
	assert.Equal(t, http.StatusBadRequest, tokenRec.Code)
	assert.Equal(t, "invalid_grant", decodeOAuthError(t, tokenRec))
}

func TestCallbackEchoesParams(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.get("/oauth/callback?code=abc&state=s1")
	require.Equal(t, http.StatusOK, rec.Code)

	var params map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &params))
	assert.Equal(t, "abc", params["code"])
	assert.Equal(t, "s1", params["state"])
}

func TestStubEndpoints(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	assert.Equal(t, http.StatusNotImplemented, ts.get("/oauth/inspect").Code)
	assert.Equal(t, http.StatusNotImplemented, ts.postForm("/oauth/purge", url.Values{}).Code)
}
