package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"userapikey/backend/internal/domain"
)

// RequireAdmin 要求管理员权限（Admin或Super），需放在 RequireAuth 之后
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := GetIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		if identity.Role != domain.RoleAdmin && identity.Role != domain.RoleSuper {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}

		c.Next()
	}
}
