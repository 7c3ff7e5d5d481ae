package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cloutopia/internal/pkg/jwtutil"
	"cloutopia/internal/transport/http/response"
)

const (
	ContextUserIDKey   = "user_id"
	ContextUsernameKey = "username"
)

// AuthJWT rejects requests without a valid bearer token.
func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, msg := bearerClaims(c, secret)
		if claims == nil {
			if msg == "" {
				msg = "missing authorization header"
			}
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, msg)
			c.Abort()
			return
		}
		setIdentity(c, claims)
		c.Next()
	}
}

// OptionalJWT attaches the caller's identity when a valid bearer token is
// present and lets anonymous requests through. A malformed or expired token
// is still rejected.
func OptionalJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, msg := bearerClaims(c, secret)
		if msg != "" {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, msg)
			c.Abort()
			return
		}
		if claims != nil {
			setIdentity(c, claims)
		}
		c.Next()
	}
}

// UserID returns the authenticated user's public id, if any.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextUserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

func bearerClaims(c *gin.Context, secret string) (*jwtutil.Claims, string) {
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if authHeader == "" {
		return nil, ""
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return nil, "invalid authorization scheme"
	}
	if secret == "" {
		return nil, "token authentication is not configured"
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
	claims, err := jwtutil.ParseToken(secret, token)
	if err != nil {
		return nil, "invalid or expired token"
	}
	return claims, ""
}

func setIdentity(c *gin.Context, claims *jwtutil.Claims) {
	c.Set(ContextUserIDKey, claims.UserID())
	c.Set(ContextUsernameKey, claims.Username)
}
