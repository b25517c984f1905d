// Package oauthflow runs the browser side of connecting a platform: the
// redirect to the consent page and the callback that stores credentials
// and discovers accounts.
package oauthflow

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mhuici/tamarindo-reports-sub000/internal/platform"
	"golang.org/x/crypto/hkdf"
)

const stateKeyInfo = "oauth-state-signing-v1"

var ErrInvalidState = errors.New("invalid or expired oauth state")

// StateClaims travel through the provider inside the state parameter.
type StateClaims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tid"`
	Platform string `json:"plt"`
}

// StateSigner issues and checks HS256-signed state values. The key is
// derived from the server secret, separate from the credential key.
type StateSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewStateSigner(secret string, ttl time.Duration) (*StateSigner, error) {
	if secret == "" {
		return nil, errors.New("state secret cannot be empty")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(stateKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive state key: %w", err)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StateSigner{key: key, ttl: ttl, now: time.Now}, nil
}

// Sign binds a connect attempt to tenantID and kind.
func (s *StateSigner) Sign(tenantID string, kind platform.Kind) (string, error) {
	now := s.now()
	claims := &StateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		TenantID: tenantID,
		Platform: string(kind),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Verify parses state and checks that it was issued for kind.
func (s *StateSigner) Verify(state string, kind platform.Kind) (*StateClaims, error) {
	claims := &StateClaims{}
	tok, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.key, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if claims.TenantID == "" || claims.Platform != string(kind) {
		return nil, ErrInvalidState
	}
	return claims, nil
}
