package middleware

import (
	"github.com/gin-gonic/gin"

	"userapikey/backend/internal/domain"
)

// 上下文键
const (
	ContextKeyUserID     = "userID"
	ContextKeyIdentity   = "identity"
	ContextKeyUserAPIKey = "userAPIKey"
)

// GetIdentity 读取认证中间件写入的登录身份
func GetIdentity(c *gin.Context) (*domain.Identity, bool) {
	value, exists := c.Get(ContextKeyIdentity)
	if !exists {
		return nil, false
	}
	identity, ok := value.(*domain.Identity)
	return identity, ok && identity != nil
}

// GetUserAPIKey 读取用户 API Key 中间件写入的密钥记录
func GetUserAPIKey(c *gin.Context) (*domain.UserAPIKey, bool) {
	value, exists := c.Get(ContextKeyUserAPIKey)
	if !exists {
		return nil, false
	}
	key, ok := value.(*domain.UserAPIKey)
	return key, ok && key != nil
}
