// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

// Package redisstore implements the entity store on Redis for deployments
// that need shared state across replicas. Records are JSON values under
// prefixed keys; uniqueness claims use SETNX and single-use redemption runs
// under WATCH/MULTI so concurrent requests settle in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aegis-oauth/aegis/pkg/authserver/storage"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// redemption retries under WATCH before giving up
const maxTxRetries = 5

// Config holds Redis connection configuration.
type Config struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Username and Password authenticate against Redis ACLs; both may be
	// empty for unauthenticated instances.
	Username string
	Password string

	// DB selects the logical database.
	DB int

	// KeyPrefix namespaces all keys, e.g. "aegis:oauth:".
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Store implements storage.Store with a Redis backend.
type Store struct {
	client       redis.UniversalClient
	prefix       string
	deriveSecret storage.SecretDeriver
}

// New connects to Redis and returns the store. deriveSecret runs on the
// client write path.
func New(ctx context.Context, cfg Config, deriveSecret storage.SecretDeriver) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewWithClient(client, cfg.KeyPrefix, deriveSecret), nil
}

// NewWithClient creates a Store over a pre-configured client. Useful for
// testing with miniredis.
func NewWithClient(client redis.UniversalClient, keyPrefix string, deriveSecret storage.SecretDeriver) *Store {
	return &Store{client: client, prefix: keyPrefix, deriveSecret: deriveSecret}
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Health pings Redis.
func (s *Store) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) clientKey(id string) string { return s.prefix + "client:" + id }
func (s *Store) clientNameKey(name string) string {
	return s.prefix + "client_name:" + name
}
func (s *Store) clientDomainKey(domain string) string {
	return s.prefix + "client_domain:" + domain
}
func (s *Store) authCodeKey(id string) string { return s.prefix + "authcode:" + id }
func (s *Store) authCodeLookupKey(clientID, code string) string {
	return s.prefix + "authcode_lookup:" + clientID + ":" + code
}
func (s *Store) accessTokenKey(id string) string  { return s.prefix + "access:" + id }
func (s *Store) refreshTokenKey(id string) string { return s.prefix + "refresh:" + id }
func (s *Store) refreshByAccessKey(accessID string) string {
	return s.prefix + "refresh_by_access:" + accessID
}

// CreateClient normalizes the draft and claims the uniqueness keys before
// writing the record. A lost SETNX on any claim is a uniqueness violation;
// claims taken earlier in the sequence are released again.
func (s *Store) CreateClient(ctx context.Context, draft *storage.ClientDraft) (*storage.Client, error) {
	client, err := storage.Normalize(draft, s.deriveSecret)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(client)
	if err != nil {
		return nil, fmt.Errorf("encoding client: %w", err)
	}

	claimed, err := s.client.SetNX(ctx, s.clientNameKey(client.Name), client.ClientID, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("claiming client name: %w", err)
	}
	if !claimed {
		return nil, fmt.Errorf("%w: client name %q", storage.ErrAlreadyExists, client.Name)
	}

	if client.Domain != "" {
		claimed, err = s.client.SetNX(ctx, s.clientDomainKey(client.Domain), client.ClientID, 0).Result()
		if err != nil || !claimed {
			_ = s.client.Del(ctx, s.clientNameKey(client.Name)).Err()
			if err != nil {
				return nil, fmt.Errorf("claiming client domain: %w", err)
			}
			return nil, fmt.Errorf("%w: client domain %q", storage.ErrAlreadyExists, client.Domain)
		}
	}

	claimed, err = s.client.SetNX(ctx, s.clientKey(client.ClientID), data, 0).Result()
	if err != nil || !claimed {
		_ = s.client.Del(ctx, s.clientNameKey(client.Name)).Err()
		if client.Domain != "" {
			_ = s.client.Del(ctx, s.clientDomainKey(client.Domain)).Err()
		}
		if err != nil {
			return nil, fmt.Errorf("storing client: %w", err)
		}
		return nil, fmt.Errorf("%w: client %s", storage.ErrAlreadyExists, client.ClientID)
	}

	return client, nil
}

// GetClient loads a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	var client storage.Client
	if err := s.getJSON(ctx, s.clientKey(clientID), &client); err != nil {
		return nil, fmt.Errorf("%w: client %s", err, clientID)
	}
	return &client, nil
}

// UpdateClient re-normalizes and rewrites the client record. Renames onto an
// existing name or domain are rejected.
func (s *Store) UpdateClient(ctx context.Context, client *storage.Client) error {
	existing, err := s.GetClient(ctx, client.ClientID)
	if err != nil {
		return err
	}

	normalized, err := storage.Normalize(&storage.ClientDraft{
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
	normalized.CreatedAt = existing.CreatedAt
	normalized.RevokedAt = existing.RevokedAt
	normalized.UpdatedAt = time.Now()

	if normalized.Name != existing.Name {
		claimed, err := s.client.SetNX(ctx, s.clientNameKey(normalized.Name), client.ClientID, 0).Result()
		if err != nil {
			return fmt.Errorf("claiming client name: %w", err)
		}
		if !claimed {
			return fmt.Errorf("%w: client name %q", storage.ErrAlreadyExists, normalized.Name)
		}
		_ = s.client.Del(ctx, s.clientNameKey(existing.Name)).Err()
	}
	if normalized.Domain != existing.Domain {
		if normalized.Domain != "" {
			claimed, err := s.client.SetNX(ctx, s.clientDomainKey(normalized.Domain), client.ClientID, 0).Result()
			if err != nil {
				return fmt.Errorf("claiming client domain: %w", err)
			}
			if !claimed {
				return fmt.Errorf("%w: client domain %q", storage.ErrAlreadyExists, normalized.Domain)
			}
		}
		if existing.Domain != "" {
			_ = s.client.Del(ctx, s.clientDomainKey(existing.Domain)).Err()
		}
	}

	return s.setJSON(ctx, s.clientKey(client.ClientID), normalized, 0)
}

// RevokeClient marks a client revoked.
func (s *Store) RevokeClient(ctx context.Context, clientID string) error {
	return s.updateUnderWatch(ctx, s.clientKey(clientID), "client "+clientID,
		func(data []byte) ([]byte, error) {
			var client storage.Client
			if err := json.Unmarshal(data, &client); err != nil {
				return nil, fmt.Errorf("decoding client: %w", err)
			}
			if client.RevokedAt != nil {
				return nil, fmt.Errorf("%w: client %s", storage.ErrRevoked, clientID)
			}
			now := time.Now()
			client.RevokedAt = &now
			client.UpdatedAt = now
			return json.Marshal(client)
		})
}

// CreateAuthorizationCode stores a code record plus a lookup entry keyed by
// (clientID, code value). Both expire well after the code itself so expired
// codes still answer with invalid_grant rather than vanishing.
func (s *Store) CreateAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	stored := *code
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("encoding authorization code: %w", err)
	}

	retention := time.Until(code.ExpiresAt) + 24*time.Hour
	claimed, err := s.client.SetNX(ctx, s.authCodeKey(code.ID), data, retention).Result()
	if err != nil {
		return fmt.Errorf("storing authorization code: %w", err)
	}
	if !claimed {
		return fmt.Errorf("%w: authorization code %s", storage.ErrAlreadyExists, code.ID)
	}

	if err := s.client.Set(ctx, s.authCodeLookupKey(code.ClientID, code.Code), code.ID, retention).Err(); err != nil {
		return fmt.Errorf("storing authorization code lookup: %w", err)
	}
	return nil
}

// GetAuthorizationCodeByID loads a code record by record ID.
func (s *Store) GetAuthorizationCodeByID(ctx context.Context, id string) (*storage.AuthorizationCode, error) {
	var code storage.AuthorizationCode
	if err := s.getJSON(ctx, s.authCodeKey(id), &code); err != nil {
		return nil, fmt.Errorf("%w: authorization code %s", err, id)
	}
	return &code, nil
}

// GetAuthorizationCode loads a code record by (clientID, code value).
func (s *Store) GetAuthorizationCode(ctx context.Context, clientID, code string) (*storage.AuthorizationCode, error) {
	id, err := s.client.Get(ctx, s.authCodeLookupKey(clientID, code)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: authorization code for client %s", storage.ErrNotFound, clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up authorization code: %w", err)
	}
	return s.GetAuthorizationCodeByID(ctx, id)
}

// ApproveAuthorizationCode attaches the subject and resolved scope.
func (s *Store) ApproveAuthorizationCode(ctx context.Context, id, userID, scope string) error {
	return s.updateUnderWatch(ctx, s.authCodeKey(id), "authorization code "+id,
		func(data []byte) ([]byte, error) {
			var code storage.AuthorizationCode
			if err := json.Unmarshal(data, &code); err != nil {
				return nil, fmt.Errorf("decoding authorization code: %w", err)
			}
			if code.RevokedAt != nil {
				return nil, fmt.Errorf("%w: authorization code %s", storage.ErrRevoked, id)
			}
			code.UserID = userID
			code.Scope = scope
			code.UpdatedAt = time.Now()
			return json.Marshal(&code)
		})
}

// RedeemAuthorizationCode revokes the code if it is not yet revoked. The
// revocation check and write run under WATCH, so of two concurrent
// redemptions exactly one commits; the loser re-reads the code as revoked.
func (s *Store) RedeemAuthorizationCode(ctx context.Context, id string) error {
	return s.updateUnderWatch(ctx, s.authCodeKey(id), "authorization code "+id,
		func(data []byte) ([]byte, error) {
			var code storage.AuthorizationCode
			if err := json.Unmarshal(data, &code); err != nil {
				return nil, fmt.Errorf("decoding authorization code: %w", err)
			}
			if code.RevokedAt != nil {
				return nil, fmt.Errorf("%w: authorization code %s", storage.ErrRevoked, id)
			}
			now := time.Now()
			code.RevokedAt = &now
			code.UpdatedAt = now
			return json.Marshal(&code)
		})
}

// CreateAccessToken stores an access token record. Records carry no TTL;
// revoked and expired records stay inspectable until purged.
func (s *Store) CreateAccessToken(ctx context.Context, token *storage.AccessToken) error {
	stored := *token
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("encoding access token: %w", err)
	}
	claimed, err := s.client.SetNX(ctx, s.accessTokenKey(token.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("storing access token: %w", err)
	}
	if !claimed {
		return fmt.Errorf("%w: access token %s", storage.ErrAlreadyExists, token.ID)
	}
	return nil
}

// GetAccessToken loads an access token record by ID.
func (s *Store) GetAccessToken(ctx context.Context, id string) (*storage.AccessToken, error) {
	var token storage.AccessToken
	if err := s.getJSON(ctx, s.accessTokenKey(id), &token); err != nil {
		return nil, fmt.Errorf("%w: access token %s", err, id)
	}
	return &token, nil
}

// RevokeAccessToken revokes the access token and cascades to the refresh
// tokens registered against it.
func (s *Store) RevokeAccessToken(ctx context.Context, id string) error {
	err := s.updateUnderWatch(ctx, s.accessTokenKey(id), "access token "+id,
		func(data []byte) ([]byte, error) {
			var token storage.AccessToken
			if err := json.Unmarshal(data, &token); err != nil {
				return nil, fmt.Errorf("decoding access token: %w", err)
			}
			if token.RevokedAt == nil {
				now := time.Now()
				token.RevokedAt = &now
				token.UpdatedAt = now
			}
			return json.Marshal(&token)
		})
	if err != nil {
		return err
	}

	refreshIDs, err := s.client.SMembers(ctx, s.refreshByAccessKey(id)).Result()
	if err != nil {
		return fmt.Errorf("listing refresh tokens: %w", err)
	}
	for _, refreshID := range refreshIDs {
		if err := s.RevokeRefreshToken(ctx, refreshID); err != nil &&
			!errors.Is(err, storage.ErrRevoked) && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	return nil
}

// CreateRefreshToken stores a refresh token record and registers it against
// its parent access token for revocation cascade.
func (s *Store) CreateRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	stored := *token
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("encoding refresh token: %w", err)
	}
	claimed, err := s.client.SetNX(ctx, s.refreshTokenKey(token.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("storing refresh token: %w", err)
	}
	if !claimed {
		return fmt.Errorf("%w: refresh token %s", storage.ErrAlreadyExists, token.ID)
	}

	if err := s.client.SAdd(ctx, s.refreshByAccessKey(token.AccessTokenID), token.ID).Err(); err != nil {
		return fmt.Errorf("registering refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken loads a refresh token record by ID.
func (s *Store) GetRefreshToken(ctx context.Context, id string) (*storage.RefreshToken, error) {
	var token storage.RefreshToken
	if err := s.getJSON(ctx, s.refreshTokenKey(id), &token); err != nil {
		return nil, fmt.Errorf("%w: refresh token %s", err, id)
	}
	return &token, nil
}

// RevokeRefreshToken revokes the refresh token if it is not yet revoked.
func (s *Store) RevokeRefreshToken(ctx context.Context, id string) error {
	return s.updateUnderWatch(ctx, s.refreshTokenKey(id), "refresh token "+id,
		func(data []byte) ([]byte, error) {
			var token storage.RefreshToken
			if err := json.Unmarshal(data, &token); err != nil {
				return nil, fmt.Errorf("decoding refresh token: %w", err)
			}
			if token.RevokedAt != nil {
				return nil, fmt.Errorf("%w: refresh token %s", storage.ErrRevoked, id)
			}
			now := time.Now()
			token.RevokedAt = &now
			token.UpdatedAt = now
			return json.Marshal(&token)
		})
}

// getJSON loads and decodes the value at key. A missing key maps to
// storage.ErrNotFound.
func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("loading record: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	return nil
}

func (s *Store) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("storing record: %w", err)
	}
	return nil
}

// updateUnderWatch applies mutate to the value at key inside WATCH/MULTI.
// A concurrent write aborts the transaction and the operation retries on
// the fresh value, so conditional checks inside mutate are race-free.
func (s *Store) updateUnderWatch(ctx context.Context, key, subject string, mutate func([]byte) ([]byte, error)) error {
	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, subject)
		}
		if err != nil {
			return fmt.Errorf("loading record: %w", err)
		}

		updated, err := mutate(data)
		if err != nil {
			return err
		}

		ttl, err := tx.PTTL(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("reading record TTL: %w", err)
		}
		if ttl < 0 {
			ttl = 0
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("updating %s: too many conflicting writes", subject)
}

var _ storage.Store = (*Store)(nil)
