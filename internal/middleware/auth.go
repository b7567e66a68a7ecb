package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"vocalink-backend/pkg/jwt"
	"vocalink-backend/pkg/response"
)

// Context keys set by AuthMiddleware
const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
)

// AuthMiddleware validates the bearer token and puts the caller's identity
// into the Gin context
func AuthMiddleware(jwtManager *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "Authorization header required")
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "Invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := jwtManager.ValidateToken(parts[1])
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUsername, claims.Username)
		c.Next()
	}
}

// UserID returns the authenticated user's id from the Gin context
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// Username returns the authenticated user's display name from the Gin context
func Username(c *gin.Context) string {
	return c.GetString(ContextUsername)
}
