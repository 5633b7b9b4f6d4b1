package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidToken = errors.New("invalid session token")

// Guard hashes and verifies share passwords and issues the session tokens
// that prove a caller already supplied the correct password for an
// identifier.
type Guard struct {
	secret   []byte
	tokenTTL time.Duration
}

// NewGuard creates a Guard. An empty secret gets replaced with a random one,
// which invalidates outstanding tokens across restarts.
func NewGuard(secret string, tokenTTL time.Duration) *Guard {
	if secret == "" {
		buf := make([]byte, 32)
		rand.Read(buf)
		secret = hex.EncodeToString(buf)
	}
	return &Guard{secret: []byte(secret), tokenTTL: tokenTTL}
}

// HashPassword hashes a password with bcrypt.
func (g *Guard) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func (g *Guard) CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// shareClaims bind a session token to one identifier. The jti carries a
// random UUID so every issued token is distinct.
type shareClaims struct {
	Identifier string `json:"identifier"`
	jwt.RegisteredClaims
}

// IssueToken mints a session token for identifier, valid for the guard's
// token TTL.
func (g *Guard) IssueToken(identifier string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, shareClaims{
		Identifier: identifier,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(g.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// VerifyToken reports whether tokenString is a valid session token issued
// for identifier.
func (g *Guard) VerifyToken(tokenString, identifier string) bool {
	if tokenString == "" {
		return false
	}

	claims := &shareClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil || !token.Valid {
		return false
	}

	return claims.Identifier == identifier
}
