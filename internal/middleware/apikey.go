package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"userapikey/backend/internal/domain"
	"userapikey/backend/internal/monitoring"
	"userapikey/backend/internal/service"
	"userapikey/backend/internal/storage"
)

// HeaderUserAPIKey 携带用户 API Key 的请求头
const HeaderUserAPIKey = "User-Api-Key"

// 密钥认证结果标签
const (
	keyAuthOK        = "ok"
	keyAuthMissing   = "missing"
	keyAuthInvalid   = "invalid"
	keyAuthForbidden = "forbidden"
	keyAuthError     = "error"
)

// UserAPIKeyAuth 用户 API Key 认证中间件
type UserAPIKeyAuth struct {
	keys    *service.KeyStore
	users   storage.UserRepository
	metrics *monitoring.Metrics // 可为 nil
	log     *zap.Logger
}

// NewUserAPIKeyAuth 创建用户 API Key 认证中间件
func NewUserAPIKeyAuth(keys *service.KeyStore, users storage.UserRepository, metrics *monitoring.Metrics, log *zap.Logger) *UserAPIKeyAuth {
	return &UserAPIKeyAuth{
		keys:    keys,
		users:   users,
		metrics: metrics,
		log:     log,
	}
}

// RequireUserAPIKey 要求有效的用户 API Key
//
// 只读密钥只能访问安全方法（GET/HEAD/OPTIONS），写密钥不受方法限制；
// 只有推送权限的密钥不能用于调用接口。
func (m *UserAPIKeyAuth) RequireUserAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := c.GetHeader(HeaderUserAPIKey)
		if secret == "" {
			m.record(keyAuthMissing)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing user api key"})
			return
		}

		key, err := m.keys.FindBySecret(secret)
		if err != nil {
			if errors.Is(err, service.ErrUserAPIKeyNotFound) {
				m.record(keyAuthInvalid)
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid user api key"})
				return
			}
			m.record(keyAuthError)
			m.log.Error("failed to look up user api key", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		user, err := m.users.GetUserByID(key.UserID)
		if err != nil || !user.IsActive {
			if err != nil && !errors.Is(err, storage.ErrUserNotFound) {
				m.record(keyAuthError)
				m.log.Error("failed to load user api key owner", zap.String("key_id", key.ID), zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
				return
			}
			m.record(keyAuthInvalid)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid user api key"})
			return
		}

		if !methodAllowed(key.Scope(), c.Request.Method) {
			m.record(keyAuthForbidden)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user api key scope does not allow this request"})
			return
		}

		m.keys.Touch(key)
		m.record(keyAuthOK)

		c.Set(ContextKeyUserID, user.ID)
		c.Set(ContextKeyIdentity, user.Identity())
		c.Set(ContextKeyUserAPIKey, key)

		c.Next()
	}
}

func (m *UserAPIKeyAuth) record(result string) {
	if m.metrics != nil {
		m.metrics.RecordKeyAuth(result)
	}
}

func methodAllowed(scope domain.Scope, method string) bool {
	if scope.Write {
		return true
	}
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return scope.Read
	default:
		return false
	}
}
