package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type contextKey string

const userContextKey contextKey = "drop24User"

// Authenticator resolves a bearer token to an Identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// AuthMiddleware validates bearer tokens and injects the authenticated user.
// Requests without a valid token are rejected with 401.
func AuthMiddleware(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := extractBearerToken(authHeader)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		identity, err := authn.Authenticate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(string(userContextKey), identity)
		c.Next()
	}
}

// OptionalAuthMiddleware injects the user when a valid bearer token is present.
// A missing, malformed or expired token leaves the request anonymous.
func OptionalAuthMiddleware(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := extractBearerToken(c.GetHeader("Authorization")); token != "" {
			if identity, err := authn.Authenticate(c.Request.Context(), token); err == nil {
				c.Set(string(userContextKey), identity)
			}
		}
		c.Next()
	}
}

// CurrentUser extracts the authenticated user from the context.
func CurrentUser(c *gin.Context) (Identity, bool) {
	value, exists := c.Get(string(userContextKey))
	if !exists {
		return Identity{}, false
	}
	user, ok := value.(Identity)
	return user, ok && user.ID != ""
}

// CallerID returns the authenticated user's id, or "" for anonymous requests.
func CallerID(c *gin.Context) string {
	user, _ := CurrentUser(c)
	return user.ID
}

func extractBearerToken(header string) string {
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
