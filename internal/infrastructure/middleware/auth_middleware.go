package middleware

import (
	"errors"
	"net/http"
	"strings"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/services"

	"github.com/gin-gonic/gin"
)

func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		// Store user info in context
		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)
		c.Set("device_session_id", claims.DeviceSessionID)
		c.Next()
	}
}

// RequireRole rejects requests from users outside the allowed roles. Must
// run after AuthMiddleware.
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		roleVal, exists := c.Get("role")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}
		role, ok := roleVal.(domain.Role)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid role context"})
			c.Abort()
			return
		}

		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
		c.Abort()
	}
}

// DeviceSessionMiddleware enforces the single-device rule on subscriber
// requests: a token whose device session id no longer matches the profile
// is rejected with 401 and a distinctive error code so the client knows to
// log out rather than refresh. Must run after AuthMiddleware.
func DeviceSessionMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		roleVal, _ := c.Get("role")
		role, _ := roleVal.(domain.Role)
		if role != domain.RoleSubscriber {
			c.Next()
			return
		}

		userID := UserIDFromContext(c)
		deviceSessionID := c.GetString("device_session_id")

		err := authService.CheckDeviceSession(c.Request.Context(), userID, deviceSessionID)
		if err != nil {
			if errors.Is(err, domain.ErrSessionSuperseded) {
				c.JSON(http.StatusUnauthorized, gin.H{
					"error": err.Error(),
					"code":  "SESSION_SUPERSEDED",
				})
				c.Abort()
				return
			}
			if errors.Is(err, domain.ErrUserInactive) {
				c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
				c.Abort()
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session check failed"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// UserIDFromContext extracts the authenticated user id, empty when absent.
func UserIDFromContext(c *gin.Context) domain.UserID {
	if v, exists := c.Get("user_id"); exists {
		if id, ok := v.(domain.UserID); ok {
			return id
		}
	}
	return ""
}

// RoleFromContext extracts the authenticated role, empty when absent.
func RoleFromContext(c *gin.Context) domain.Role {
	if v, exists := c.Get("role"); exists {
		if role, ok := v.(domain.Role); ok {
			return role
		}
	}
	return ""
}
