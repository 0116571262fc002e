// Package ws provides the websocket transport: handshake authentication,
// per-connection read/write pumps, and the typed inbound control frames.
package ws

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier validates the bearer credential presented during the
// transport handshake. Verification happens once; the decoded identity is
// attached to the connection for its lifetime.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier over an HMAC secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses and validates a token, returning the user identity from
// the subject claim.
func (v *TokenVerifier) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token claims")
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token missing sub claim")
	}
	return claims.Subject, nil
}

// Sign mints a token for a user. Used by the CLI and tests; production
// token issuance lives outside this system.
func (v *TokenVerifier) Sign(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(v.secret)
}
