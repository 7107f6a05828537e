package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"userapikey/backend/internal/middleware"
	"userapikey/backend/internal/monitoring"
	"userapikey/backend/internal/service"
)

// ConfigHandler 签发策略管理API处理器
type ConfigHandler struct {
	configService *service.ConfigService
	metrics       *monitoring.Metrics // 可为 nil
	log           *zap.Logger
}

// NewConfigHandler 创建配置处理器
func NewConfigHandler(configService *service.ConfigService, metrics *monitoring.Metrics, log *zap.Logger) *ConfigHandler {
	return &ConfigHandler{
		configService: configService,
		metrics:       metrics,
		log:           log,
	}
}

// GetPolicy godoc
// @Summary 获取用户 API Key 签发策略
// @Tags Admin - UserAPI
// @Produce json
// @Success 200 {object} Response{data=domain.UserAPIPolicy}
// @Failure 500 {object} Response
// @Router /v1/admin/user-api/policy [get]
func (h *ConfigHandler) GetPolicy(c *gin.Context) {
	policy, err := h.configService.GetPolicy()
	if err != nil {
		h.log.Error("failed to load user api policy", zap.Error(err))
		InternalError(c, MsgPolicyGetFailed)
		return
	}

	Success(c, policy)
}

// UpdatePolicy godoc
// @Summary 更新用户 API Key 签发策略
// @Description 只影响之后的签发请求
// @Tags Admin - UserAPI
// @Accept json
// @Produce json
// @Param request body service.UpdatePolicyInput true "策略字段，省略的字段保持不变"
// @Success 200 {object} Response{data=domain.UserAPIPolicy}
// @Failure 400 {object} Response
// @Failure 403 {object} Response
// @Router /v1/admin/user-api/policy [put]
func (h *ConfigHandler) UpdatePolicy(c *gin.Context) {
	var input service.UpdatePolicyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	input.UpdatedBy = c.GetString(middleware.ContextKeyUserID)

	policy, err := h.configService.UpdatePolicy(input)
	if err != nil {
		if errors.Is(err, service.ErrBadRequest) {
			BadRequest(c, err.Error())
			return
		}
		h.log.Error("failed to update user api policy", zap.Error(err))
		InternalError(c, MsgPolicyUpdateFailed)
		return
	}

	h.recordUpdate(input.UpdatedBy)
	SuccessWithMsg(c, "签发策略已更新", policy)
}

// ResetPolicy godoc
// @Summary 恢复默认签发策略
// @Tags Admin - UserAPI
// @Produce json
// @Success 200 {object} Response{data=domain.UserAPIPolicy}
// @Router /v1/admin/user-api/policy/reset [post]
func (h *ConfigHandler) ResetPolicy(c *gin.Context) {
	updatedBy := c.GetString(middleware.ContextKeyUserID)

	policy, err := h.configService.ResetPolicy(updatedBy)
	if err != nil {
		h.log.Error("failed to reset user api policy", zap.Error(err))
		InternalError(c, MsgPolicyUpdateFailed)
		return
	}

	h.recordUpdate(updatedBy)
	SuccessWithMsg(c, "签发策略已恢复默认值", policy)
}

func (h *ConfigHandler) recordUpdate(updatedBy string) {
	if h.metrics != nil {
		h.metrics.RecordPolicyUpdate()
	}
	h.log.Info("user api policy updated", zap.String("updated_by", updatedBy))
}
