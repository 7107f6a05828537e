package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"userapikey/backend/internal/auth"
	"userapikey/backend/internal/domain"
	"userapikey/backend/internal/middleware"
	"userapikey/backend/internal/monitoring"
)

// AuthHandler 处理认证相关的 HTTP 请求
type AuthHandler struct {
	authService *auth.Service       // 认证业务服务
	metrics     *monitoring.Metrics // 监控指标，可为 nil
	log         *zap.Logger         // 结构化日志记录器
}

// NewAuthHandler 创建新的认证处理器实例
//
// 参数:
//   - authService: 认证业务服务
//   - metrics: 监控指标
//   - log: 日志记录器
//
// 返回值:
//   - *AuthHandler: 认证处理器实例
func NewAuthHandler(authService *auth.Service, metrics *monitoring.Metrics, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		metrics:     metrics,
		log:         log,
	}
}

type userResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Username   string `json:"username"`
	Role       string `json:"role"`
	TrustLevel int    `json:"trustLevel"`
	IsActive   bool   `json:"isActive"`
}

type authResponse struct {
	User        userResponse `json:"user"`
	AccessToken string       `json:"accessToken"`
	TokenType   string       `json:"tokenType"`
	ExpiresIn   int64        `json:"expiresIn"`
}

func toUserResponse(user *domain.User) userResponse {
	return userResponse{
		ID:         user.ID,
		Email:      user.Email,
		Username:   user.Username,
		Role:       string(user.Role),
		TrustLevel: user.TrustLevel,
		IsActive:   user.IsActive,
	}
}

// Register 处理用户注册请求
// @Summary 用户注册
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body domain.RegisterRequest true "注册信息"
// @Success 201 {object} Response{data=authResponse}
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Router /v1/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req domain.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	resp, err := h.authService.Register(&req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailExists), errors.Is(err, auth.ErrUsernameExists):
			Conflict(c, GetErrorMessage(err))
		case isValidationError(err):
			BadRequest(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to register user", zap.Error(err))
			InternalError(c, "注册失败，请稍后重试")
		}
		return
	}

	if h.metrics != nil {
		h.metrics.RecordUserRegistered()
	}
	h.log.Info("user registered", zap.String("user_id", resp.User.ID))

	h.setSessionCookie(c, resp)
	Created(c, toAuthResponse(resp))
}

// Login 处理用户登录请求
// @Summary 用户登录
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body domain.LoginRequest true "登录凭证"
// @Success 200 {object} Response{data=authResponse}
// @Failure 401 {object} Response
// @Failure 403 {object} Response
// @Router /v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req domain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	resp, err := h.authService.Login(&req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			Unauthorized(c, MsgInvalidCredentials)
		case errors.Is(err, auth.ErrUserInactive):
			Forbidden(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to login", zap.Error(err))
			InternalError(c, "登录失败，请稍后重试")
		}
		return
	}

	h.setSessionCookie(c, resp)
	Success(c, toAuthResponse(resp))
}

// Logout 清除会话 cookie
// @Summary 退出登录
// @Tags 认证
// @Success 200 {object} Response
// @Router /v1/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.AccessTokenCookie, "", -1, "/", "", c.Request.TLS != nil, true)
	SuccessWithMsg(c, "已退出登录", nil)
}

// Me 获取当前用户信息
// @Summary 当前用户
// @Tags 认证
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=userResponse}
// @Failure 401 {object} Response
// @Router /v1/auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	userID := c.GetString(middleware.ContextKeyUserID)
	if userID == "" {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	user, err := h.authService.GetUserByID(userID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			NotFound(c, MsgUserNotFound)
			return
		}
		h.log.Error("failed to load user", zap.String("user_id", userID), zap.Error(err))
		InternalError(c, MsgInternalError)
		return
	}

	Success(c, toUserResponse(user))
}

// setSessionCookie 浏览器发起签发请求时依赖 cookie 会话
func (h *AuthHandler) setSessionCookie(c *gin.Context, resp *auth.AuthResponse) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.AccessTokenCookie, resp.AccessToken, int(resp.ExpiresIn), "/", "", c.Request.TLS != nil, true)
}

func toAuthResponse(resp *auth.AuthResponse) authResponse {
	return authResponse{
		User:        toUserResponse(resp.User),
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
		ExpiresIn:   resp.ExpiresIn,
	}
}

func isValidationError(err error) bool {
	for _, target := range []error{
		domain.ErrInvalidEmail,
		domain.ErrEmailTooLong,
		domain.ErrPasswordTooShort,
		domain.ErrPasswordTooLong,
		domain.ErrUsernameTooShort,
		domain.ErrUsernameTooLong,
		domain.ErrInvalidUsername,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
