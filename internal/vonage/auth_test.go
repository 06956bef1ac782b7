// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vonage

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestAppTokenSourceSignsApplicationClaims(t *testing.T) {
	key := testKey(t)
	src, err := NewAppTokenSource("app-123", key, 10*time.Minute)
	require.NoError(t, err)

	raw, err := src.Token()
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return &key.PublicKey, nil
	})
	require.NoError(t, err)
	assert.True(t, tok.Valid)
	assert.Equal(t, "RS256", tok.Method.Alg())
	assert.Equal(t, "app-123", claims["application_id"])
	assert.NotEmpty(t, claims["jti"])

	iat := claims["iat"].(float64)
	exp := claims["exp"].(float64)
	assert.InDelta(t, 600, exp-iat, 1)
}

func TestAppTokenSourceCachesUntilRenewal(t *testing.T) {
	src, err := NewAppTokenSource("app", testKey(t), 10*time.Minute)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	src.now = func() time.Time { return now }

	first, err := src.Token()
	require.NoError(t, err)
	again, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, first, again)

	now = now.Add(9*time.Minute + 30*time.Second)
	renewed, err := src.Token()
	require.NoError(t, err)
	assert.NotEqual(t, first, renewed)
}

func TestNewAppTokenSourceValidates(t *testing.T) {
	_, err := NewAppTokenSource("", testKey(t), 0)
	require.Error(t, err)
	_, err = NewAppTokenSource("app", nil, 0)
	require.Error(t, err)
}

func TestLoadPrivateKey(t *testing.T) {
	key := testKey(t)
	path := filepath.Join(t.TempDir(), "private.key")
	data := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := LoadPrivateKey(path)
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))

	_, err = LoadPrivateKey(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.key")
	require.NoError(t, os.WriteFile(bad, []byte("nope"), 0o600))
	_, err = LoadPrivateKey(bad)
	require.Error(t, err)
}
