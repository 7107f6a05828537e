package httptransport

import (
	"errors"

	"userapikey/backend/internal/auth"
	"userapikey/backend/internal/crypto"
	"userapikey/backend/internal/domain"
	"userapikey/backend/internal/service"
)

// errorMessage 业务错误与中文消息的对应关系
type errorMessage struct {
	err error
	msg string
}

// 错误消息映射表（业务错误 -> 中文消息）
//
// 错误可能被多层包装，按顺序用 errors.Is 匹配，越具体的错误越靠前。
var errorMessages = []errorMessage{
	// 签发请求校验
	{domain.ErrInvalidScope, "access 参数包含无法识别的权限"},
	{domain.ErrInvalidClientID, "client_id 长度不符合要求"},
	{domain.ErrInvalidURL, "地址格式无效"},
	{domain.ErrNonceTooLong, "nonce 过长"},
	{crypto.ErrInvalidPublicKey, "公钥格式无效或长度不足"},
	{crypto.ErrPayloadTooLarge, "公钥长度不足以加密返回内容"},

	// 策略
	{service.ErrTrustLevelTooLow, "信任等级不足"},
	{service.ErrRedirectNotAllowed, "回调地址不在允许列表中"},
	{service.ErrEmptyGrant, "没有可以授予的权限"},
	{service.ErrInvalidConfig, "配置参数无效"},

	// 用户
	{domain.ErrInvalidEmail, "邮箱格式无效"},
	{domain.ErrEmailTooLong, "邮箱地址过长"},
	{domain.ErrPasswordTooShort, "密码至少 8 个字符"},
	{domain.ErrPasswordTooLong, "密码过长"},
	{domain.ErrUsernameTooShort, "用户名至少 3 个字符"},
	{domain.ErrUsernameTooLong, "用户名过长"},
	{domain.ErrInvalidUsername, "用户名格式无效"},
	{auth.ErrEmailExists, "该邮箱已被注册"},
	{auth.ErrUsernameExists, "该用户名已被使用"},
	{auth.ErrInvalidCredentials, MsgInvalidCredentials},
	{auth.ErrUserInactive, "账户已被禁用"},
	{auth.ErrUserNotFound, MsgUserNotFound},
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	for _, item := range errorMessages {
		if errors.Is(err, item.err) {
			return item.msg
		}
	}
	return err.Error()
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest = "请求参数格式错误"

	// 认证相关
	MsgAuthRequired       = "需要登录认证"
	MsgInvalidCredentials = "用户名或密码错误"
	MsgPermissionDenied   = "权限不足"
	MsgUserNotFound       = "用户不存在"

	// 签发相关
	MsgIssueFailed       = "签发 API Key 失败，请稍后重试"
	MsgUserAPIKeyMissing = "该客户端尚未签发 API Key"

	// 配置相关
	MsgPolicyGetFailed    = "获取签发策略失败"
	MsgPolicyUpdateFailed = "更新签发策略失败"

	// 服务器错误
	MsgInternalError = "服务器内部错误，请稍后重试"
)
