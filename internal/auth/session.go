package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"userapikey/backend/internal/auth/jwt"
	"userapikey/backend/internal/domain"
	"userapikey/backend/internal/storage"
)

// AccessTokenCookie 存放访问令牌的 cookie 名
const AccessTokenCookie = "access_token"

// TokenFromRequest 从请求中提取 JWT（优先 Authorization 头，其次 cookie）
func TokenFromRequest(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	return ""
}

// SessionResolver 根据请求解析当前登录用户
type SessionResolver struct {
	tokens   *jwt.Manager
	userRepo storage.UserRepository
	log      *zap.Logger
}

// NewSessionResolver 创建会话解析器
func NewSessionResolver(tokens *jwt.Manager, userRepo storage.UserRepository, log *zap.Logger) *SessionResolver {
	return &SessionResolver{tokens: tokens, userRepo: userRepo, log: log}
}

// FromRequest 为单个请求创建会话，用户在首次调用 CurrentUser 时才加载
func (r *SessionResolver) FromRequest(req *http.Request) *RequestSession {
	return &RequestSession{resolver: r, token: TokenFromRequest(req)}
}

// RequestSession 单个请求的会话
type RequestSession struct {
	resolver *SessionResolver
	token    string

	loaded   bool
	identity *domain.Identity
	err      error
}

// CurrentUser 返回当前登录用户的身份
//
// 没有令牌、令牌无效、用户不存在或已禁用时返回 (nil, nil)；
// 只有存储故障才返回错误。
func (s *RequestSession) CurrentUser() (*domain.Identity, error) {
	if !s.loaded {
		s.identity, s.err = s.resolve()
		s.loaded = true
	}
	return s.identity, s.err
}

func (s *RequestSession) resolve() (*domain.Identity, error) {
	if s.token == "" {
		return nil, nil
	}

	claims, err := s.resolver.tokens.ValidateToken(s.token)
	if err != nil {
		s.resolver.log.Debug("session token rejected", zap.Error(err))
		return nil, nil
	}

	user, err := s.resolver.userRepo.GetUserByID(claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, nil
	}

	return user.Identity(), nil
}
