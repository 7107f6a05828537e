package httptransport

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"userapikey/backend/internal/auth"
	"userapikey/backend/internal/domain"
	"userapikey/backend/internal/middleware"
	"userapikey/backend/internal/service"
)

// HeaderAuthAPIVersion 探测接口返回协议版本的响应头
const HeaderAuthAPIVersion = "Auth-Api-Version"

// UserAPIKeyHandler 处理用户 API Key 签发握手
type UserAPIKeyHandler struct {
	issuance *service.IssuanceService
	keys     *service.KeyStore
	sessions *auth.SessionResolver
	log      *zap.Logger
}

// NewUserAPIKeyHandler 创建签发处理器
func NewUserAPIKeyHandler(issuance *service.IssuanceService, keys *service.KeyStore, sessions *auth.SessionResolver, log *zap.Logger) *UserAPIKeyHandler {
	return &UserAPIKeyHandler{
		issuance: issuance,
		keys:     keys,
		sessions: sessions,
		log:      log,
	}
}

// Probe 能力探测，不需要登录
// @Summary 探测签发协议版本
// @Tags UserAPIKey
// @Success 200 "响应头 Auth-Api-Version: 1"
// @Router /user-api-key/new [head]
func (h *UserAPIKeyHandler) Probe(c *gin.Context) {
	c.Header(HeaderAuthAPIVersion, service.ProtocolVersion)
	c.Status(http.StatusOK)
}

// Issue 签发用户 API Key，成功后 302 跳转到 auth_redirect 并携带加密载荷
// @Summary 签发用户 API Key
// @Tags UserAPIKey
// @Accept x-www-form-urlencoded
// @Param access formData string true "权限字母 r/w/p"
// @Param client_id formData string true "客户端标识"
// @Param auth_redirect formData string true "回调地址"
// @Param application_name formData string true "应用名称"
// @Param public_key formData string true "PEM 公钥"
// @Param nonce formData string true "原样返回的随机串"
// @Param push_url formData string false "推送地址"
// @Success 302 "跳转到 auth_redirect?payload=..."
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Failure 403 "无响应体"
// @Router /user-api-key [post]
func (h *UserAPIKeyHandler) Issue(c *gin.Context) {
	var req domain.IssueRequest
	// form 绑定同时读取查询串与表单
	if err := c.ShouldBind(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	result, err := h.issuance.Issue(c.Request.Context(), h.sessions.FromRequest(c.Request), req)
	if err != nil {
		h.writeIssueError(c, err)
		return
	}

	c.Redirect(http.StatusFound, result.RedirectURL)
}

// writeIssueError 把签发错误映射到响应
//
// 未登录与无权限必须能被客户端区分：前者 401 带提示，后者 403 无响应体。
func (h *UserAPIKeyHandler) writeIssueError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrBadRequest):
		BadRequest(c, GetErrorMessage(err))
	case errors.Is(err, service.ErrNotAuthenticated):
		Unauthorized(c, MsgAuthRequired)
	case errors.Is(err, service.ErrForbidden):
		c.AbortWithStatus(http.StatusForbidden)
	default:
		InternalError(c, MsgIssueFailed)
	}
}

type userAPIKeyResponse struct {
	ID              string     `json:"id"`
	ClientID        string     `json:"clientId"`
	ApplicationName string     `json:"applicationName"`
	Access          string     `json:"access"`
	PushURL         *string    `json:"pushUrl,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	LastUsedAt      *time.Time `json:"lastUsedAt,omitempty"`
}

// Current 返回当前请求所用密钥的信息（User-Api-Key 认证）
// @Summary 当前用户 API Key
// @Tags UserAPIKey
// @Produce json
// @Param User-Api-Key header string true "用户 API Key"
// @Success 200 {object} Response{data=userAPIKeyResponse}
// @Failure 401 {object} Response
// @Router /v1/user-api-key/me [get]
func (h *UserAPIKeyHandler) Current(c *gin.Context) {
	key, ok := middleware.GetUserAPIKey(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	Success(c, toUserAPIKeyResponse(key))
}

// ForClient 登录用户查看自己为某个客户端签发的密钥（不含密钥本身）
// @Summary 查询客户端的 API Key
// @Tags UserAPIKey
// @Produce json
// @Security BearerAuth
// @Param client_id path string true "客户端标识"
// @Success 200 {object} Response{data=userAPIKeyResponse}
// @Failure 401 {object} Response
// @Failure 404 {object} Response
// @Router /v1/auth/user-api-keys/{client_id} [get]
func (h *UserAPIKeyHandler) ForClient(c *gin.Context) {
	userID := c.GetString(middleware.ContextKeyUserID)
	if userID == "" {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	key, err := h.keys.FindByClient(userID, c.Param("client_id"))
	if err != nil {
		if errors.Is(err, service.ErrUserAPIKeyNotFound) {
			NotFound(c, MsgUserAPIKeyMissing)
			return
		}
		h.log.Error("failed to load user api key", zap.String("user_id", userID), zap.Error(err))
		InternalError(c, MsgInternalError)
		return
	}

	Success(c, toUserAPIKeyResponse(key))
}

func toUserAPIKeyResponse(key *domain.UserAPIKey) userAPIKeyResponse {
	return userAPIKeyResponse{
		ID:              key.ID,
		ClientID:        key.ClientID,
		ApplicationName: key.ApplicationName,
		Access:          key.Scope().String(),
		PushURL:         key.PushURL,
		CreatedAt:       key.CreatedAt,
		UpdatedAt:       key.UpdatedAt,
		LastUsedAt:      key.LastUsedAt,
	}
}
