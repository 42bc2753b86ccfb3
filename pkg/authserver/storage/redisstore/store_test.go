// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-oauth/aegis/pkg/authserver/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewWithClient(client, "aegis:test:", func(clientID string) (string, error) {
		return "secret-for-" + clientID, nil
	})
}

func TestStore_ClientRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateClient(ctx, &storage.ClientDraft{
		ClientID:     "c1",
		Name:         "web app",
		Profile:      storage.ProfileWeb,
		Scope:        "read write",
		Domain:       "https://app.example.com",
		RedirectURIs: []string{"https://app.example.com/cb"},
	})
	require.NoError(t, err)
	assert.Equal(t, storage.TypeConfidential, created.Type)

	got, err := s.GetClient(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, created.Name, got.Name)
	assert.Equal(t, created.Grants, got.Grants)
	assert.Equal(t, "secret-for-c1", got.SecretKey)

	_, err = s.GetClient(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_ClientUniqueness(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateClient(ctx, &storage.ClientDraft{
		ClientID: "c1", Name: "alpha", Profile: storage.ProfileWeb,
		Scope: "read", Domain: "https://alpha.example.com",
	})
	require.NoError(t, err)

	_, err = s.CreateClient(ctx, &storage.ClientDraft{
		Name: "alpha", Profile: storage.ProfileNative, Scope: "read",
	})
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	_, err = s.CreateClient(ctx, &storage.ClientDraft{
		Name: "beta", Profile: storage.ProfileWeb,
		Scope: "read", Domain: "https://alpha.example.com",
	})
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	// A failed claim must release the earlier ones
	_, err = s.CreateClient(ctx, &storage.ClientDraft{
		Name: "beta", Profile: storage.ProfileWeb,
		Scope: "read", Domain: "https://beta.example.com",
	})
	require.NoError(t, err)
}

func TestStore_UpdateAndRevokeClient(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	client, err := s.CreateClient(ctx, &storage.ClientDraft{
		ClientID: "c1", Name: "alpha", Profile: storage.ProfileNative, Scope: "read",
	})
	require.NoError(t, err)

	client.Description = "updated"
	require.NoError(t, s.UpdateClient(ctx, client))
	got, err := s.GetClient(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Description)

	require.NoError(t, s.RevokeClient(ctx, "c1"))
	got, err = s.GetClient(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, got.Revoked())
	assert.ErrorIs(t, s.RevokeClient(ctx, "c1"), storage.ErrRevoked)
}

func TestStore_AuthorizationCodeRedemption(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	code := &storage.AuthorizationCode{
		ID:        uuid.NewString(),
		Code:      "opaque",
		ClientID:  "c1",
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	require.NoError(t, s.CreateAuthorizationCode(ctx, code))

	byValue, err := s.GetAuthorizationCode(ctx, "c1", "opaque")
	require.NoError(t, err)
	assert.Equal(t, code.ID, byValue.ID)

	_, err = s.GetAuthorizationCode(ctx, "other", "opaque")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.ApproveAuthorizationCode(ctx, code.ID, "u1", "read"))
	approved, err := s.GetAuthorizationCodeByID(ctx, code.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", approved.UserID)
	assert.Equal(t, "read", approved.Scope)

	require.NoError(t, s.RedeemAuthorizationCode(ctx, code.ID))
	assert.ErrorIs(t, s.RedeemAuthorizationCode(ctx, code.ID), storage.ErrRevoked)
	assert.ErrorIs(t, s.RedeemAuthorizationCode(ctx, "missing"), storage.ErrNotFound)
}

func TestStore_AccessTokenRevocationCascades(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	at := &storage.AccessToken{ID: "at1", ClientID: "c1", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.CreateAccessToken(ctx, at))
	assert.ErrorIs(t, s.CreateAccessToken(ctx, at), storage.ErrAlreadyExists)

	rt := &storage.RefreshToken{ID: "rt1", AccessTokenID: "at1", ExpiresAt: time.Now().Add(24 * time.Hour)}
	require.NoError(t, s.CreateRefreshToken(ctx, rt))

	require.NoError(t, s.RevokeAccessToken(ctx, "at1"))

	gotAT, err := s.GetAccessToken(ctx, "at1")
	require.NoError(t, err)
	assert.NotNil(t, gotAT.RevokedAt)

	gotRT, err := s.GetRefreshToken(ctx, "rt1")
	require.NoError(t, err)
	assert.NotNil(t, gotRT.RevokedAt)

	assert.ErrorIs(t, s.RevokeRefreshToken(ctx, "rt1"), storage.ErrRevoked)
}

func TestStore_Health(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	assert.NoError(t, s.Health(context.Background()))
}
