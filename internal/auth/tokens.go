package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenStore persists refresh tokens. The pebble store implements it for
// production; MemoryTokenStore backs tests.
type TokenStore interface {
	SaveRefreshToken(token, userID string, expiresAt time.Time) error
	LookupRefreshToken(token string) (string, error)
	DeleteRefreshToken(token, userID string) error
	RevokeUserTokens(userID string) error
}

// Claims are the JWT claims carried by an access token.
type Claims struct {
	Admin bool `json:"adm,omitempty"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies access tokens and manages refresh-token
// sessions.
type Tokens struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	store      TokenStore
}

// NewTokens builds a token manager. The secret signs access tokens with
// HS256.
func NewTokens(secret string, accessTTL, refreshTTL time.Duration, store TokenStore) *Tokens {
	return &Tokens{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		store:      store,
	}
}

// AccessTTL returns the configured access-token lifetime.
func (t *Tokens) AccessTTL() time.Duration { return t.accessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (t *Tokens) RefreshTTL() time.Duration { return t.refreshTTL }

// IssueAccess signs a short-lived access token for a user.
func (t *Tokens) IssueAccess(u User) (string, error) {
	now := time.Now()
	claims := Claims{
		Admin: u.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.accessTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// VerifyAccess parses and validates an access token, returning its claims.
func (t *Tokens) VerifyAccess(tokenString string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// IssueRefresh mints and persists an opaque refresh token for a user.
func (t *Tokens) IssueRefresh(userID string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	token := hex.EncodeToString(buf)
	if err := t.store.SaveRefreshToken(token, userID, time.Now().Add(t.refreshTTL)); err != nil {
		return "", fmt.Errorf("persist refresh token: %w", err)
	}
	return token, nil
}

// Rotate consumes a refresh token and issues a replacement. The old token
// is invalid afterwards, so a stolen token works at most once.
func (t *Tokens) Rotate(oldToken string) (userID, newToken string, err error) {
	userID, err = t.store.LookupRefreshToken(oldToken)
	if err != nil {
		return "", "", ErrInvalidToken
	}
	if err := t.store.DeleteRefreshToken(oldToken, userID); err != nil {
		return "", "", fmt.Errorf("rotate refresh token: %w", err)
	}
	newToken, err = t.IssueRefresh(userID)
	if err != nil {
		return "", "", err
	}
	return userID, newToken, nil
}

// RevokeAll invalidates every refresh token of a user (logout everywhere).
func (t *Tokens) RevokeAll(userID string) error {
	return t.store.RevokeUserTokens(userID)
}
