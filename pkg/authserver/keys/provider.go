// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/aegis-oauth/aegis/pkg/logger"
)

// Provider supplies the signing key for JWT operations.
// Implementations handle key sourcing (file, secret, generation).
type Provider interface {
	// SigningKey returns the current signing key.
	// Returns ErrNoSigningKey if no key is available.
	SigningKey(ctx context.Context) (*SigningKeyData, error)
}

// Config holds configuration for creating a Provider. The caller is
// responsible for populating this from their own config source.
type Config struct {
	// Algorithm is the JWS algorithm. For HS* it selects the HMACProvider;
	// otherwise a key file is expected. Empty selects DefaultAlgorithm
	// with an ephemeral generated key.
	Algorithm string

	// KeyFile is the path to a PEM-encoded private key for asymmetric
	// algorithms.
	KeyFile string

	// Secret is the shared secret for HS* algorithms.
	Secret []byte
}

// NewProviderFromConfig creates a Provider based on the configuration.
//
// Behavior:
//   - HS256/HS384/HS512: HMACProvider over Config.Secret
//   - asymmetric algorithm with KeyFile: FileProvider
//   - nothing configured: GeneratingProvider (ephemeral key for development)
func NewProviderFromConfig(cfg Config) (Provider, error) {
	switch cfg.Algorithm {
	case "HS256", "HS384", "HS512":
		return NewHMACProvider(cfg.Algorithm, cfg.Secret)
	}

	if cfg.KeyFile != "" {
		return NewFileProvider(cfg)
	}

	// Generate ephemeral key (development only)
	return NewGeneratingProvider(cfg.Algorithm), nil
}

// FileProvider loads the signing key from a PEM file at construction time;
// changes require restart.
type FileProvider struct {
	key *SigningKeyData
}

// NewFileProvider creates a provider that loads the key from Config.KeyFile.
// The key is loaded immediately and validated against Config.Algorithm when
// one is set.
func NewFileProvider(cfg Config) (*FileProvider, error) {
	if cfg.KeyFile == "" {
		return nil, fmt.Errorf("signing key file is required")
	}

	signer, err := LoadSigningKey(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	algorithm := cfg.Algorithm
	if algorithm == "" {
		algorithm, err = DeriveAlgorithm(signer)
		if err != nil {
			return nil, fmt.Errorf("failed to derive algorithm: %w", err)
		}
	} else if err := ValidateAlgorithmForKey(algorithm, signer); err != nil {
		return nil, err
	}

	keyID, err := DeriveKeyID(signer)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key ID: %w", err)
	}

	return &FileProvider{
		key: &SigningKeyData{
			KeyID:     keyID,
			Algorithm: algorithm,
			Key:       signer,
			CreatedAt: time.Now(),
		},
	}, nil
}

// SigningKey returns the loaded signing key.
// Returns a copy to prevent external mutation of internal state.
func (p *FileProvider) SigningKey(_ context.Context) (*SigningKeyData, error) {
	return p.key.clone(), nil
}

// HMACProvider holds a shared secret for the HS* algorithm family.
type HMACProvider struct {
	key *SigningKeyData
}

// NewHMACProvider creates a provider over a shared secret.
// The secret must be at least 32 bytes.
func NewHMACProvider(algorithm string, secret []byte) (*HMACProvider, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("HMAC signing secret must be at least 32 bytes, got %d", len(secret))
	}

	sum := sha256.Sum256(secret)
	return &HMACProvider{
		key: &SigningKeyData{
			KeyID:     base64.RawURLEncoding.EncodeToString(sum[:8]),
			Algorithm: algorithm,
			Secret:    append([]byte(nil), secret...),
			CreatedAt: time.Now(),
		},
	}, nil
}

// SigningKey returns the HMAC key.
func (p *HMACProvider) SigningKey(_ context.Context) (*SigningKeyData, error) {
	return p.key.clone(), nil
}

// GeneratingProvider generates an ephemeral key on first access.
// Suitable for development but NOT recommended for production.
// Generated keys are lost on restart, invalidating all issued tokens.
type GeneratingProvider struct {
	algorithm string
	mu        sync.Mutex
	key       *SigningKeyData
}

// NewGeneratingProvider creates a provider that generates an ephemeral key.
// The key is generated lazily on first SigningKey() call.
// If algorithm is empty, DefaultAlgorithm (ES256) is used.
func NewGeneratingProvider(algorithm string) *GeneratingProvider {
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	return &GeneratingProvider{algorithm: algorithm}
}

// SigningKey returns the signing key, generating one if needed.
// Thread-safe: uses mutex to ensure only one key is generated.
func (p *GeneratingProvider) SigningKey(_ context.Context) (*SigningKeyData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.key != nil {
		return p.key.clone(), nil
	}

	key, err := p.generateKey()
	if err != nil {
		return nil, err
	}

	logger.Warnw("generated ephemeral signing key - tokens will be invalid after restart",
		"algorithm", key.Algorithm,
		"key_id", key.KeyID,
	)

	p.key = key
	return p.key.clone(), nil
}

func (p *GeneratingProvider) generateKey() (*SigningKeyData, error) {
	privateKey, err := generatePrivateKey(p.algorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	keyID, err := DeriveKeyID(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key ID: %w", err)
	}

	return &SigningKeyData{
		KeyID:     keyID,
		Algorithm: p.algorithm,
		Key:       privateKey,
		CreatedAt: time.Now(),
	}, nil
}

// generatePrivateKey creates a new private key for the specified algorithm.
func generatePrivateKey(algorithm string) (crypto.Signer, error) {
	switch algorithm {
	case "ES256":
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case "ES384":
		return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case "ES512":
		return ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	default:
		return nil, fmt.Errorf("unsupported algorithm for key generation: %s", algorithm)
	}
}

// Compile-time interface checks.
var (
	_ Provider = (*FileProvider)(nil)
	_ Provider = (*HMACProvider)(nil)
	_ Provider = (*GeneratingProvider)(nil)
)
