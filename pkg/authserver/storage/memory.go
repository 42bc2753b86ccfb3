// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-process
// deployments. All operations copy records on the way in and out so callers
// can never mutate internal state.
type MemoryStore struct {
	mu sync.RWMutex

	deriveSecret SecretDeriver

	clients       map[string]*Client            // by clientID
	clientNames   map[string]string             // name -> clientID
	clientDomains map[string]string             // domain -> clientID
	authCodes     map[string]*AuthorizationCode // by record ID
	accessTokens  map[string]*AccessToken       // by ID
	refreshTokens map[string]*RefreshToken      // by ID
}

// NewMemoryStore creates an empty in-memory store. deriveSecret is invoked
// on the client write path for confidential clients.
func NewMemoryStore(deriveSecret SecretDeriver) *MemoryStore {
	return &MemoryStore{
		deriveSecret:  deriveSecret,
		clients:       make(map[string]*Client),
		clientNames:   make(map[string]string),
		clientDomains: make(map[string]string),
		authCodes:     make(map[string]*AuthorizationCode),
		accessTokens:  make(map[string]*AccessToken),
		refreshTokens: make(map[string]*RefreshToken),
	}
}

// CreateClient normalizes and stores a client draft.
func (s *MemoryStore) CreateClient(_ context.Context, draft *ClientDraft) (*Client, error) {
	client, err := Normalize(draft, s.deriveSecret)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[client.ClientID]; ok {
		return nil, fmt.Errorf("%w: client %s", ErrAlreadyExists, client.ClientID)
	}
	if owner, ok := s.clientNames[client.Name]; ok && owner != client.ClientID {
		return nil, fmt.Errorf("%w: client name %q", ErrAlreadyExists, client.Name)
	}
	if client.Domain != "" {
		if owner, ok := s.clientDomains[client.Domain]; ok && owner != client.ClientID {
			return nil, fmt.Errorf("%w: client domain %q", ErrAlreadyExists, client.Domain)
		}
	}

	s.clients[client.ClientID] = copyClient(client)
	s.clientNames[client.Name] = client.ClientID
	if client.Domain != "" {
		s.clientDomains[client.Domain] = client.ClientID
	}
	return client, nil
}

// GetClient loads a client by ID.
func (s *MemoryStore) GetClient(_ context.Context, clientID string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: client %s", ErrNotFound, clientID)
	}
	return copyClient(client), nil
}

// UpdateClient replaces mutable metadata of an existing client. Derived
// fields are recomputed from the stored profile so callers cannot smuggle
// them in.
func (s *MemoryStore) UpdateClient(_ context.Context, client *Client) error {
	normalized, err := Normalize(&ClientDraft{
		ClientID:             client.ClientID,
		Name:                 client.Name,
		Profile:              client.Profile,
		RedirectURIs:         client.RedirectURIs,
		Scope:                client.Scope,
		Internal:             client.Internal,
		Domain:               client.Domain,
		Logo:                 client.Logo,
		Description:          client.Description,
		LegalTermsAcceptedAt: client.LegalTermsAcceptedAt,
	}, s.deriveSecret)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.clients[client.ClientID]
	if !ok {
		return fmt.Errorf("%w: client %s", ErrNotFound, client.ClientID)
	}
	if owner, ok := s.clientNames[normalized.Name]; ok && owner != client.ClientID {
		return fmt.Errorf("%w: client name %q", ErrAlreadyExists, normalized.Name)
	}
	if normalized.Domain != "" {
		if owner, ok := s.clientDomains[normalized.Domain]; ok && owner != client.ClientID {
			return fmt.Errorf("%w: client domain %q", ErrAlreadyExists, normalized.Domain)
		}
	}

	delete(s.clientNames, existing.Name)
	if existing.Domain != "" {
		delete(s.clientDomains, existing.Domain)
	}

	normalized.CreatedAt = existing.CreatedAt
	normalized.RevokedAt = existing.RevokedAt
	normalized.UpdatedAt = time.Now()

	s.clients[client.ClientID] = normalized
	s.clientNames[normalized.Name] = client.ClientID
	if normalized.Domain != "" {
		s.clientDomains[normalized.Domain] = client.ClientID
	}
	return nil
}

// RevokeClient marks a client revoked.
func (s *MemoryStore) RevokeClient(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clients[clientID]
	if !ok {
		return fmt.Errorf("%w: client %s", ErrNotFound, clientID)
	}
	if client.RevokedAt != nil {
		return fmt.Errorf("%w: client %s", ErrRevoked, clientID)
	}
	now := time.Now()
	client.RevokedAt = &now
	client.UpdatedAt = now
	return nil
}

// CreateAuthorizationCode stores a new code record.
func (s *MemoryStore) CreateAuthorizationCode(_ context.Context, code *AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authCodes[code.ID]; ok {
		return fmt.Errorf("%w: authorization code %s", ErrAlreadyExists, code.ID)
	}
	now := time.Now()
	stored := copyAuthCode(code)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.authCodes[code.ID] = stored
	return nil
}

// GetAuthorizationCodeByID loads a code record by record ID.
func (s *MemoryStore) GetAuthorizationCodeByID(_ context.Context, id string) (*AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	code, ok := s.authCodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: authorization code %s", ErrNotFound, id)
	}
	return copyAuthCode(code), nil
}

// GetAuthorizationCode loads a code record by its client and code value.
func (s *MemoryStore) GetAuthorizationCode(_ context.Context, clientID, code string) (*AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.authCodes {
		if rec.ClientID == clientID && rec.Code == code {
			return copyAuthCode(rec), nil
		}
	}
	return nil, fmt.Errorf("%w: authorization code for client %s", ErrNotFound, clientID)
}

// ApproveAuthorizationCode attaches the subject and resolved scope.
func (s *MemoryStore) ApproveAuthorizationCode(_ context.Context, id, userID, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.authCodes[id]
	if !ok {
		return fmt.Errorf("%w: authorization code %s", ErrNotFound, id)
	}
	if code.RevokedAt != nil {
		return fmt.Errorf("%w: authorization code %s", ErrRevoked, id)
	}
	code.UserID = userID
	code.Scope = scope
	code.UpdatedAt = time.Now()
	return nil
}

// RedeemAuthorizationCode revokes the code if it is not yet revoked. The
// check and the write happen under one lock, so of two concurrent
// redemptions exactly one succeeds.
func (s *MemoryStore) RedeemAuthorizationCode(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.authCodes[id]
	if !ok {
		return fmt.Errorf("%w: authorization code %s", ErrNotFound, id)
	}
	if code.RevokedAt != nil {
		return fmt.Errorf("%w: authorization code %s", ErrRevoked, id)
	}
	now := time.Now()
	code.RevokedAt = &now
	code.UpdatedAt = now
	return nil
}

// CreateAccessToken stores a new access token record.
func (s *MemoryStore) CreateAccessToken(_ context.Context, token *AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accessTokens[token.ID]; ok {
		return fmt.Errorf("%w: access token %s", ErrAlreadyExists, token.ID)
	}
	now := time.Now()
	stored := copyAccessToken(token)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.accessTokens[token.ID] = stored
	return nil
}

// GetAccessToken loads an access token record by ID.
func (s *MemoryStore) GetAccessToken(_ context.Context, id string) (*AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.accessTokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: access token %s", ErrNotFound, id)
	}
	return copyAccessToken(token), nil
}

// RevokeAccessToken revokes the access token and any refresh token that has
// it as parent.
func (s *MemoryStore) RevokeAccessToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.accessTokens[id]
	if !ok {
		return fmt.Errorf("%w: access token %s", ErrNotFound, id)
	}
	now := time.Now()
	if token.RevokedAt == nil {
		token.RevokedAt = &now
		token.UpdatedAt = now
	}
	for _, rt := range s.refreshTokens {
		if rt.AccessTokenID == id && rt.RevokedAt == nil {
			rt.RevokedAt = &now
			rt.UpdatedAt = now
		}
	}
	return nil
}

// CreateRefreshToken stores a new refresh token record.
func (s *MemoryStore) CreateRefreshToken(_ context.Context, token *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refreshTokens[token.ID]; ok {
		return fmt.Errorf("%w: refresh token %s", ErrAlreadyExists, token.ID)
	}
	now := time.Now()
	stored := copyRefreshToken(token)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.refreshTokens[token.ID] = stored
	return nil
}

// GetRefreshToken loads a refresh token record by ID.
func (s *MemoryStore) GetRefreshToken(_ context.Context, id string) (*RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.refreshTokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: refresh token %s", ErrNotFound, id)
	}
	return copyRefreshToken(token), nil
}

// RevokeRefreshToken revokes the refresh token if it is not yet revoked.
func (s *MemoryStore) RevokeRefreshToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.refreshTokens[id]
	if !ok {
		return fmt.Errorf("%w: refresh token %s", ErrNotFound, id)
	}
	if token.RevokedAt != nil {
		return fmt.Errorf("%w: refresh token %s", ErrRevoked, id)
	}
	now := time.Now()
	token.RevokedAt = &now
	token.UpdatedAt = now
	return nil
}

// Health always succeeds for the in-memory store.
func (*MemoryStore) Health(_ context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (*MemoryStore) Close() error { return nil }

func copyClient(c *Client) *Client {
	out := *c
	out.Grants = append([]GrantType(nil), c.Grants...)
	out.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	out.LegalTermsAcceptedAt = copyTime(c.LegalTermsAcceptedAt)
	out.RevokedAt = copyTime(c.RevokedAt)
	return &out
}

func copyAuthCode(a *AuthorizationCode) *AuthorizationCode {
	out := *a
	out.RevokedAt = copyTime(a.RevokedAt)
	return &out
}

func copyAccessToken(t *AccessToken) *AccessToken {
	out := *t
	out.RevokedAt = copyTime(t.RevokedAt)
	return &out
}

func copyRefreshToken(t *RefreshToken) *RefreshToken {
	out := *t
	out.RevokedAt = copyTime(t.RevokedAt)
	return &out
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)
