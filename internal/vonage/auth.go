// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vonage

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const (
	defaultTokenTTL = 15 * time.Minute
	// tokens are renewed this long before they expire
	tokenRenewSkew = time.Minute
)

// TokenSource yields bearer tokens for the Voice API.
type TokenSource interface {
	Token() (string, error)
}

// AppTokenSource signs application JWTs (RS256) and caches them until shortly before expiry.
type AppTokenSource struct {
	appID string
	key   *rsa.PrivateKey
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	cached  string
	expires time.Time
}

// NewAppTokenSource returns a token source for the given application.
func NewAppTokenSource(appID string, key *rsa.PrivateKey, ttl time.Duration) (*AppTokenSource, error) {
	if appID == "" {
		return nil, errors.New("application id is required")
	}
	if key == nil {
		return nil, errors.New("private key is required")
	}
	if ttl <= tokenRenewSkew {
		ttl = defaultTokenTTL
	}
	return &AppTokenSource{appID: appID, key: key, ttl: ttl, now: time.Now}, nil
}

// LoadPrivateKey reads a PEM encoded RSA private key.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	// #nosec G304 -- key path is provided by the operator via config
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (s *AppTokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cached != "" && now.Before(s.expires.Add(-tokenRenewSkew)) {
		return s.cached, nil
	}

	exp := now.Add(s.ttl)
	claims := jwt.MapClaims{
		"application_id": s.appID,
		"iat":            now.Unix(),
		"exp":            exp.Unix(),
		"jti":            uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	s.cached = signed
	s.expires = exp
	return signed, nil
}

// StaticToken is a fixed bearer token, used against fakes and sandboxes.
type StaticToken string

func (t StaticToken) Token() (string, error) { return string(t), nil }
