// Package auth validates login tokens. A login token proves control of a
// user identity to session/start; it is distinct from the session tokens the
// gateway issues afterwards.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginClaims are the claims of a login token.
type LoginClaims struct {
	jwt.RegisteredClaims
}

// VerifyLoginToken validates an HS256 login token and returns the user id
// from its subject claim.
func VerifyLoginToken(secret, tokenString string) (string, error) {
	claims := &LoginClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid login token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid login token")
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("login token has no subject")
	}
	return claims.Subject, nil
}

// IssueLoginToken mints an HS256 login token for a user. Used by tests and
// provisioning tooling.
func IssueLoginToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &LoginClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
