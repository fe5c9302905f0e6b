package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireAccessToken verifies an access token and injects identity into request context.
// It does not perform RBAC checks; those belong to internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tok := strings.TrimPrefix(raw, bearerPrefix)

		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		injectIdentity(c, claims)
		c.Next()
	}
}

// RequireWebSocketToken authenticates event-channel connections.
// Browsers cannot set headers on WebSocket dials, so the access token is
// accepted from the "token" query parameter. Must run BEFORE the upgrade.
func RequireWebSocketToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := strings.TrimSpace(c.Query("token"))
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		injectIdentity(c, claims)
		c.Next()
	}
}

func injectIdentity(c *gin.Context, claims Claims) {
	ctx := WithIdentity(c.Request.Context(), claims.UserID, claims.Role, claims.DisplayName)
	c.Request = c.Request.WithContext(ctx)

	// Also store on gin context for handler convenience.
	c.Set("user_id", claims.UserID)
	c.Set("role", claims.Role)
	c.Set("display_name", claims.DisplayName)
}
