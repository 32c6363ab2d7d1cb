package middleware

import (
	"net/http"
	"strings"

	"moorgate/pkg/models"
)

// SessionResolver resolves a bearer session token to its session. Implemented
// by the session store; kept as an interface so the middleware stays free of
// storage imports.
type SessionResolver interface {
	ResolveSession(token string) (*models.Session, error)
}

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(c Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// SessionAuthMiddleware authenticates requests with a session token and sets
// user_id, device_id and session_token on the context. Responses to failed
// auth are never cacheable.
func SessionAuthMiddleware(resolver SessionResolver) HandlerFunc {
	return func(c Context) {
		token := BearerToken(c)
		if token == "" {
			unauthorized(c, "missing bearer token")
			return
		}

		session, err := resolver.ResolveSession(token)
		if err != nil {
			unauthorized(c, "invalid or expired session")
			return
		}

		c.Set("user_id", session.UserID)
		c.Set("device_id", session.DeviceID)
		c.Set("session_token", session.SessionToken)
		c.Next()
	}
}

func unauthorized(c Context, message string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.Header("Cache-Control", "no-store")
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrUnauthorized(message).Body())
}
