// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-oauth/aegis/pkg/authserver/scope"
)

// ClientDraft is the admin-facing input for registering a client. Everything
// derived (type, grants, secret) is computed by Normalize and never taken
// from the draft.
type ClientDraft struct {
	// ClientID is optional; a UUID is generated when empty.
	ClientID string

	Name    string
	Profile ClientProfile

	RedirectURIs []string
	Scope        string
	Internal     bool

	Domain               string
	Logo                 string
	Description          string
	LegalTermsAcceptedAt *time.Time
}

// Normalize turns a draft into a persistable Client, computing every derived
// field. It is a pure function so the rules can be tested without a live
// store; Store implementations run it on their client write path.
//
// Derivation rules:
//   - web profile -> confidential, everything else -> public
//   - grants start at {implicit, authorization_code}; internal clients add
//     password, confidential clients add client_credentials
//   - confidential clients get an HMAC-derived secret via deriveSecret
//   - "*" scope is reserved for internal clients; non-internal clients must
//     declare a non-empty scope
//   - redirect URIs must be absolute URLs
//   - a domain is required for web and user-agent-based profiles
func Normalize(draft *ClientDraft, deriveSecret SecretDeriver) (*Client, error) {
	if draft.Name == "" {
		return nil, fmt.Errorf("client name is required")
	}
	if !draft.Profile.Valid() {
		return nil, fmt.Errorf("invalid client profile: %q", draft.Profile)
	}

	clientID := draft.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	clientType := TypePublic
	if draft.Profile == ProfileWeb {
		clientType = TypeConfidential
	}

	grants := []GrantType{GrantImplicit, GrantAuthorizationCode}
	if draft.Internal {
		grants = append(grants, GrantPassword)
	}
	if clientType == TypeConfidential {
		grants = append(grants, GrantClientCredentials)
	}

	var secretKey string
	if clientType == TypeConfidential {
		secret, err := deriveSecret(clientID)
		if err != nil {
			return nil, fmt.Errorf("failed to derive client secret: %w", err)
		}
		secretKey = secret
	}

	if err := validateScope(draft.Scope, draft.Internal); err != nil {
		return nil, err
	}
	if err := validateRedirectURIs(draft.RedirectURIs); err != nil {
		return nil, err
	}

	needsDomain := draft.Profile == ProfileWeb || draft.Profile == ProfileUserAgentBased
	if needsDomain && draft.Domain == "" {
		return nil, fmt.Errorf("domain is required for %s clients", draft.Profile)
	}
	if draft.Domain != "" {
		if err := validateAbsoluteURL(draft.Domain); err != nil {
			return nil, fmt.Errorf("invalid client domain: %w", err)
		}
	}

	now := time.Now()
	return &Client{
		ClientID:             clientID,
		Name:                 draft.Name,
		Profile:              draft.Profile,
		Type:                 clientType,
		SecretKey:            secretKey,
		Grants:               grants,
		RedirectURIs:         append([]string(nil), draft.RedirectURIs...),
		Scope:                draft.Scope,
		Internal:             draft.Internal,
		Domain:               draft.Domain,
		Logo:                 draft.Logo,
		Description:          draft.Description,
		LegalTermsAcceptedAt: copyTime(draft.LegalTermsAcceptedAt),
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

func validateScope(s string, internal bool) error {
	tokens := scope.Split(s)
	if !internal {
		if len(tokens) == 0 {
			return fmt.Errorf("non-internal clients must declare a scope")
		}
		for _, tok := range tokens {
			if tok == scope.Wildcard {
				return fmt.Errorf("wildcard scope is reserved for internal clients")
			}
		}
	}
	return nil
}

func validateRedirectURIs(uris []string) error {
	for _, uri := range uris {
		if err := validateAbsoluteURL(uri); err != nil {
			return fmt.Errorf("invalid redirect URI %q: %w", uri, err)
		}
	}
	return nil
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("not an absolute URL")
	}
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}
