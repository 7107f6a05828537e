package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"userapikey/backend/internal/auth"
)

// JWTAuth JWT认证中间件
type JWTAuth struct {
	sessions *auth.SessionResolver
	log      *zap.Logger
}

// NewJWTAuth 创建JWT认证中间件
func NewJWTAuth(sessions *auth.SessionResolver, log *zap.Logger) *JWTAuth {
	return &JWTAuth{
		sessions: sessions,
		log:      log,
	}
}

// RequireAuth 要求JWT认证
func (ja *JWTAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := ja.sessions.FromRequest(c.Request).CurrentUser()
		if err != nil {
			ja.log.Error("failed to resolve session", zap.Error(err), zap.String("ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "internal server error",
			})
			return
		}
		if identity == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}

		// 将用户信息存储到上下文
		c.Set(ContextKeyUserID, identity.UserID)
		c.Set(ContextKeyIdentity, identity)

		c.Next()
	}
}

// OptionalAuth 可选的JWT认证，会话故障时按匿名处理
func (ja *JWTAuth) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := ja.sessions.FromRequest(c.Request).CurrentUser()
		if err != nil {
			ja.log.Warn("failed to resolve optional session", zap.Error(err))
		}
		if identity != nil {
			c.Set(ContextKeyUserID, identity.UserID)
			c.Set(ContextKeyIdentity, identity)
		}

		c.Next()
	}
}
