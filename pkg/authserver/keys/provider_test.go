// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeECKeyPEM(t *testing.T) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "signing.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	require.NoError(t, os.WriteFile(path, pemBytes, 0o600))
	return path
}

func TestFileProvider(t *testing.T) {
	t.Parallel()

	path := writeECKeyPEM(t)
	p, err := NewFileProvider(Config{KeyFile: path})
	require.NoError(t, err)

	key, err := p.SigningKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ES256", key.Algorithm)
	assert.NotEmpty(t, key.KeyID)
	assert.NotNil(t, key.Key)
	assert.False(t, key.Symmetric())
}

func TestFileProvider_AlgorithmMismatch(t *testing.T) {
	t.Parallel()

	path := writeECKeyPEM(t)
	_, err := NewFileProvider(Config{KeyFile: path, Algorithm: "RS256"})
	assert.Error(t, err)
}

func TestFileProvider_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewFileProvider(Config{KeyFile: filepath.Join(t.TempDir(), "nope.pem")})
	assert.Error(t, err)
}

func TestHMACProvider(t *testing.T) {
	t.Parallel()

	secret := []byte("0123456789abcdef0123456789abcdef")
	p, err := NewHMACProvider("HS256", secret)
	require.NoError(t, err)

	key, err := p.SigningKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "HS256", key.Algorithm)
	assert.True(t, key.Symmetric())
	assert.Equal(t, secret, key.Secret)

	// The returned copy must not alias internal state
	key.Secret[0] = 'x'
	again, err := p.SigningKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, secret, again.Secret)
}

func TestHMACProvider_ShortSecret(t *testing.T) {
	t.Parallel()

	_, err := NewHMACProvider("HS256", []byte("short"))
	assert.Error(t, err)
}

func TestGeneratingProvider(t *testing.T) {
	t.Parallel()

	p := NewGeneratingProvider("")
	key, err := p.SigningKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultAlgorithm, key.Algorithm)

	// Stable across calls
	again, err := p.SigningKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, key.KeyID, again.KeyID)
}

func TestNewProviderFromConfig(t *testing.T) {
	t.Parallel()

	p, err := NewProviderFromConfig(Config{Algorithm: "HS256", Secret: []byte("0123456789abcdef0123456789abcdef")})
	require.NoError(t, err)
	assert.IsType(t, &HMACProvider{}, p)

	p, err = NewProviderFromConfig(Config{})
	require.NoError(t, err)
	assert.IsType(t, &GeneratingProvider{}, p)

	p, err = NewProviderFromConfig(Config{KeyFile: writeECKeyPEM(t)})
	require.NoError(t, err)
	assert.IsType(t, &FileProvider{}, p)
}

func TestDeriveKeyID_DistinctKeys(t *testing.T) {
	t.Parallel()

	k1, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	k2, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	id1, err := DeriveKeyID(k1)
	require.NoError(t, err)
	id2, err := DeriveKeyID(k2)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestDeriveAlgorithm(t *testing.T) {
	t.Parallel()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	alg, err := DeriveAlgorithm(rsaKey)
	require.NoError(t, err)
	assert.Equal(t, "RS256", alg)

	ecKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	alg, err = DeriveAlgorithm(ecKey)
	require.NoError(t, err)
	assert.Equal(t, "ES384", alg)
}
