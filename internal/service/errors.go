package service

import (
	"errors"
	"fmt"
)

// 错误分类
//
// 具体错误通过 %w 包装分类错误，传输层只需 errors.Is 判断分类即可决定状态码。
var (
	// ErrBadRequest 请求参数无法解析或不合法
	ErrBadRequest = errors.New("bad request")
	// ErrNotAuthenticated 当前没有登录用户
	ErrNotAuthenticated = errors.New("not logged in")
	// ErrForbidden 已登录但策略拒绝
	ErrForbidden = errors.New("forbidden")
	// ErrKeyStoreUnavailable 写入冲突重试耗尽或存储故障
	ErrKeyStoreUnavailable = errors.New("key store unavailable")
	// ErrUserAPIKeyNotFound 密钥不存在或已被轮换
	ErrUserAPIKeyNotFound = errors.New("user api key not found")
)

// 拒绝原因
var (
	ErrTrustLevelTooLow   = fmt.Errorf("%w: trust level too low", ErrForbidden)
	ErrRedirectNotAllowed = fmt.Errorf("%w: auth_redirect not allowed", ErrForbidden)
	ErrEmptyGrant         = fmt.Errorf("%w: no requested scope can be granted", ErrForbidden)
)

// badRequest 把校验错误归类为 ErrBadRequest，同时保留原始错误链
func badRequest(err error) error {
	return fmt.Errorf("%w: %w", ErrBadRequest, err)
}
