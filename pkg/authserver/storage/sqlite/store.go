// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlite implements the entity store on SQLite. Single-use
// redemption is a conditional UPDATE so concurrent requests settle in the
// database, not in process memory.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/aegis-oauth/aegis/pkg/authserver/storage"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db           *sql.DB
	deriveSecret storage.SecretDeriver
}

// New opens (or creates) the database at path, applies pending migrations
// and returns the store. deriveSecret runs on the client write path.
func New(ctx context.Context, path string, deriveSecret storage.SecretDeriver) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// modernc sqlite supports one writer; a single connection avoids
	// SQLITE_BUSY under concurrent requests
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, deriveSecret: deriveSecret}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health pings the database.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const clientColumns = `client_id, name, profile, type, secret_key, grants, redirect_uris,
	scope, internal, domaine, logo, description, legal_terms_accepted_at,
	revoked_at, created_at, updated_at`

// CreateClient normalizes and inserts a client draft.
func (s *Store) CreateClient(ctx context.Context, draft *storage.ClientDraft) (*storage.Client, error) {
	client, err := storage.Normalize(draft, s.deriveSecret)
	if err != nil {
		return nil, err
	}

	grantsJSON, err := json.Marshal(client.Grants)
	if err != nil {
		return nil, fmt.Errorf("encoding grants: %w", err)
	}
	urisJSON, err := json.Marshal(client.RedirectURIs)
	if err != nil {
		return nil, fmt.Errorf("encoding redirect URIs: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO oauth_clients (`+clientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		client.ClientID,
		client.Name,
		string(client.Profile),
		string(client.Type),
		client.SecretKey,
		string(grantsJSON),
		string(urisJSON),
		client.Scope,
		client.Internal,
		client.Domain,
		client.Logo,
		client.Description,
		encodeNullTime(client.LegalTermsAcceptedAt),
		encodeNullTime(client.RevokedAt),
		encodeTime(client.CreatedAt),
		encodeTime(client.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: client %s", storage.ErrAlreadyExists, client.ClientID)
		}
		return nil, fmt.Errorf("inserting client: %w", err)
	}

	return client, nil
}

// GetClient loads a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM oauth_clients WHERE client_id = ?`, clientID)
	client, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: client %s", storage.ErrNotFound, clientID)
	}
	return client, err
}

// UpdateClient re-normalizes and persists mutable client metadata. The
// creation timestamp and revocation state survive the update.
func (s *Store) UpdateClient(ctx context.Context, client *storage.Client) error {
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

	grantsJSON, err := json.Marshal(normalized.Grants)
	if err != nil {
		return fmt.Errorf("encoding grants: %w", err)
	}
	urisJSON, err := json.Marshal(normalized.RedirectURIs)
	if err != nil {
		return fmt.Errorf("encoding redirect URIs: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE oauth_clients SET
			name = ?, profile = ?, type = ?, secret_key = ?, grants = ?,
			redirect_uris = ?, scope = ?, internal = ?, domaine = ?,
			logo = ?, description = ?, legal_terms_accepted_at = ?,
			updated_at = ?
		WHERE client_id = ?`,
		normalized.Name,
		string(normalized.Profile),
		string(normalized.Type),
		normalized.SecretKey,
		string(grantsJSON),
		string(urisJSON),
		normalized.Scope,
		normalized.Internal,
		normalized.Domain,
		normalized.Logo,
		normalized.Description,
		encodeNullTime(normalized.LegalTermsAcceptedAt),
		encodeTime(time.Now()),
		client.ClientID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: client %s", storage.ErrAlreadyExists, client.ClientID)
		}
		return fmt.Errorf("updating client: %w", err)
	}
	return requireAffected(res, storage.ErrNotFound, "client "+client.ClientID)
}

// RevokeClient marks a client revoked.
func (s *Store) RevokeClient(ctx context.Context, clientID string) error {
	now := encodeTime(time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE oauth_clients SET revoked_at = ?, updated_at = ?
		WHERE client_id = ? AND revoked_at IS NULL`,
		now, now, clientID)
	if err != nil {
		return fmt.Errorf("revoking client: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		if _, err := s.GetClient(ctx, clientID); err != nil {
			return err
		}
		return fmt.Errorf("%w: client %s", storage.ErrRevoked, clientID)
	}
	return nil
}

const authCodeColumns = `id, code, client_id, user_id, scope, redirect_uri, state,
	code_challenge, code_challenge_method, expires_at, revoked_at, created_at, updated_at`

// CreateAuthorizationCode inserts a new code record.
func (s *Store) CreateAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_auth_codes (`+authCodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		code.ID,
		code.Code,
		code.ClientID,
		code.UserID,
		code.Scope,
		code.RedirectURI,
		code.State,
		code.CodeChallenge,
		code.CodeChallengeMethod,
		encodeTime(code.ExpiresAt),
		encodeNullTime(code.RevokedAt),
		encodeTime(now),
		encodeTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: authorization code %s", storage.ErrAlreadyExists, code.ID)
		}
		return fmt.Errorf("inserting authorization code: %w", err)
	}
	return nil
}

// GetAuthorizationCodeByID loads a code record by record ID.
func (s *Store) GetAuthorizationCodeByID(ctx context.Context, id string) (*storage.AuthorizationCode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+authCodeColumns+` FROM oauth_auth_codes WHERE id = ?`, id)
	code, err := scanAuthCode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: authorization code %s", storage.ErrNotFound, id)
	}
	return code, err
}

// GetAuthorizationCode loads a code record by (clientID, code value).
func (s *Store) GetAuthorizationCode(ctx context.Context, clientID, code string) (*storage.AuthorizationCode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+authCodeColumns+` FROM oauth_auth_codes WHERE client_id = ? AND code = ?`,
		clientID, code)
	rec, err := scanAuthCode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: authorization code for client %s", storage.ErrNotFound, clientID)
	}
	return rec, err
}

// ApproveAuthorizationCode attaches the subject and resolved scope to a
// pending, not yet revoked code.
func (s *Store) ApproveAuthorizationCode(ctx context.Context, id, userID, scope string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE oauth_auth_codes SET user_id = ?, scope = ?, updated_at = ?
		WHERE id = ? AND revoked_at IS NULL`,
		userID, scope, encodeTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("approving authorization code: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		if _, err := s.GetAuthorizationCodeByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: authorization code %s", storage.ErrRevoked, id)
	}
	return nil
}

// RedeemAuthorizationCode revokes the code if it is not yet revoked. The
// condition lives in the UPDATE itself: of two concurrent redemptions the
// loser matches zero rows and observes ErrRevoked.
func (s *Store) RedeemAuthorizationCode(ctx context.Context, id string) error {
	now := encodeTime(time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE oauth_auth_codes SET revoked_at = ?, updated_at = ?
		WHERE id = ? AND revoked_at IS NULL`,
		now, now, id)
	if err != nil {
		return fmt.Errorf("redeeming authorization code: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		if _, err := s.GetAuthorizationCodeByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: authorization code %s", storage.ErrRevoked, id)
	}
	return nil
}

const accessTokenColumns = `id, client_id, user_id, name, scope, expires_at,
	user_agent, revoked_at, created_at, updated_at`

// CreateAccessToken inserts a new access token record.
func (s *Store) CreateAccessToken(ctx context.Context, token *storage.AccessToken) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_access_tokens (`+accessTokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		token.ID,
		token.ClientID,
		token.UserID,
		token.Name,
		token.Scope,
		encodeTime(token.ExpiresAt),
		token.UserAgent,
		encodeNullTime(token.RevokedAt),
		encodeTime(now),
		encodeTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: access token %s", storage.ErrAlreadyExists, token.ID)
		}
		return fmt.Errorf("inserting access token: %w", err)
	}
	return nil
}

// GetAccessToken loads an access token record by ID.
func (s *Store) GetAccessToken(ctx context.Context, id string) (*storage.AccessToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accessTokenColumns+` FROM oauth_access_tokens WHERE id = ?`, id)
	token, err := scanAccessToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: access token %s", storage.ErrNotFound, id)
	}
	return token, err
}

// RevokeAccessToken revokes the access token and cascades to its refresh
// tokens in one transaction.
func (s *Store) RevokeAccessToken(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	now := encodeTime(time.Now())
	res, err := tx.ExecContext(ctx, `
		UPDATE oauth_access_tokens SET revoked_at = ?, updated_at = ?
		WHERE id = ? AND revoked_at IS NULL`,
		now, now, id)
	if err != nil {
		return fmt.Errorf("revoking access token: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		var exists int
		if scanErr := tx.QueryRowContext(ctx,
			`SELECT 1 FROM oauth_access_tokens WHERE id = ?`, id).Scan(&exists); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return fmt.Errorf("%w: access token %s", storage.ErrNotFound, id)
			}
			return fmt.Errorf("looking up access token: %w", scanErr)
		}
		// Already revoked; the cascade below still runs so a partial
		// earlier failure cannot strand a live refresh token
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE oauth_refresh_tokens SET revoked_at = ?, updated_at = ?
		WHERE access_token_id = ? AND revoked_at IS NULL`,
		now, now, id); err != nil {
		return fmt.Errorf("revoking refresh tokens: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

const refreshTokenColumns = `id, access_token_id, expires_at, revoked_at, created_at, updated_at`

// CreateRefreshToken inserts a new refresh token record.
func (s *Store) CreateRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_refresh_tokens (`+refreshTokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		token.ID,
		token.AccessTokenID,
		encodeTime(token.ExpiresAt),
		encodeNullTime(token.RevokedAt),
		encodeTime(now),
		encodeTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: refresh token %s", storage.ErrAlreadyExists, token.ID)
		}
		return fmt.Errorf("inserting refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken loads a refresh token record by ID.
func (s *Store) GetRefreshToken(ctx context.Context, id string) (*storage.RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+refreshTokenColumns+` FROM oauth_refresh_tokens WHERE id = ?`, id)
	token, err := scanRefreshToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: refresh token %s", storage.ErrNotFound, id)
	}
	return token, err
}

// RevokeRefreshToken revokes the refresh token if it is not yet revoked.
func (s *Store) RevokeRefreshToken(ctx context.Context, id string) error {
	now := encodeTime(time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE oauth_refresh_tokens SET revoked_at = ?, updated_at = ?
		WHERE id = ? AND revoked_at IS NULL`,
		now, now, id)
	if err != nil {
		return fmt.Errorf("revoking refresh token: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		if _, err := s.GetRefreshToken(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: refresh token %s", storage.ErrRevoked, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*storage.Client, error) {
	var (
		c                    storage.Client
		grantsJSON, urisJSON string
		legalAt, revokedAt   sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(
		&c.ClientID, &c.Name, (*string)(&c.Profile), (*string)(&c.Type),
		&c.SecretKey, &grantsJSON, &urisJSON, &c.Scope, &c.Internal,
		&c.Domain, &c.Logo, &c.Description, &legalAt, &revokedAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(grantsJSON), &c.Grants); err != nil {
		return nil, fmt.Errorf("decoding grants: %w", err)
	}
	if err := json.Unmarshal([]byte(urisJSON), &c.RedirectURIs); err != nil {
		return nil, fmt.Errorf("decoding redirect URIs: %w", err)
	}
	if c.LegalTermsAcceptedAt, err = decodeNullTime(legalAt); err != nil {
		return nil, err
	}
	if c.RevokedAt, err = decodeNullTime(revokedAt); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanAuthCode(row rowScanner) (*storage.AuthorizationCode, error) {
	var (
		a                    storage.AuthorizationCode
		expiresAt            string
		revokedAt            sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(
		&a.ID, &a.Code, &a.ClientID, &a.UserID, &a.Scope, &a.RedirectURI,
		&a.State, &a.CodeChallenge, &a.CodeChallengeMethod,
		&expiresAt, &revokedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if a.ExpiresAt, err = decodeTime(expiresAt); err != nil {
		return nil, err
	}
	if a.RevokedAt, err = decodeNullTime(revokedAt); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanAccessToken(row rowScanner) (*storage.AccessToken, error) {
	var (
		t                    storage.AccessToken
		expiresAt            string
		revokedAt            sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(
		&t.ID, &t.ClientID, &t.UserID, &t.Name, &t.Scope,
		&expiresAt, &t.UserAgent, &revokedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if t.ExpiresAt, err = decodeTime(expiresAt); err != nil {
		return nil, err
	}
	if t.RevokedAt, err = decodeNullTime(revokedAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanRefreshToken(row rowScanner) (*storage.RefreshToken, error) {
	var (
		t                    storage.RefreshToken
		expiresAt            string
		revokedAt            sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&t.ID, &t.AccessTokenID, &expiresAt, &revokedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if t.ExpiresAt, err = decodeTime(expiresAt); err != nil {
		return nil, err
	}
	if t.RevokedAt, err = decodeNullTime(revokedAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// Timestamps are stored as RFC 3339 text so they sort and compare correctly
// in SQL.
func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func encodeNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("decoding timestamp: %w", err)
	}
	return t, nil
}

func decodeNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := decodeTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// requireAffected converts a zero-row update into sentinel.
func requireAffected(res sql.Result, sentinel error, subject string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", sentinel, subject)
	}
	return nil
}

// isUniqueViolation checks for a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sql.Tx) { _ = tx.Rollback() }

var _ storage.Store = (*Store)(nil)
