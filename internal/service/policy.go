package service

import (
	"go.uber.org/zap"

	"userapikey/backend/internal/domain"
)

// PolicyGate 根据站点策略决定实际授予的权限
//
// 判断按固定顺序进行，遇到拒绝立即返回：
//  1. 必须有登录用户
//  2. 信任等级不低于策略要求
//  3. auth_redirect 必须精确匹配白名单
//  4. 推送权限需要全局开关、请求携带推送地址且地址在白名单中，否则静默丢弃
//  5. 读、写权限分别受全局开关约束，否则静默丢弃
//  6. 最终为空则拒绝
type PolicyGate struct {
	log *zap.Logger
}

// NewPolicyGate 创建策略判定器
func NewPolicyGate(log *zap.Logger) *PolicyGate {
	return &PolicyGate{log: log}
}

// Evaluate 计算授予的权限集合
//
// 参数:
//   - identity: 当前登录用户，未登录为 nil
//   - requested: 已解析的请求权限
//   - req: 原始请求（使用 AuthRedirect 与 PushURL）
//   - policy: 本次请求加载的策略快照
//
// 返回值:
//   - domain.Scope: 授予的权限，是 requested 的子集
//   - error: ErrNotAuthenticated 或包装了 ErrForbidden 的拒绝原因
func (g *PolicyGate) Evaluate(identity *domain.Identity, requested domain.Scope, req domain.IssueRequest, policy domain.UserAPIPolicy) (domain.Scope, error) {
	if identity == nil {
		return domain.Scope{}, ErrNotAuthenticated
	}

	if identity.TrustLevel < policy.MinTrustLevel {
		return domain.Scope{}, ErrTrustLevelTooLow
	}

	if !policy.IsRedirectAllowed(req.AuthRedirect) {
		return domain.Scope{}, ErrRedirectNotAllowed
	}

	granted := requested
	if granted.Push && !(policy.AllowPush && policy.IsPushURLAllowed(req.PushURL)) {
		granted.Push = false
	}
	granted = granted.Intersect(domain.Scope{Read: policy.AllowRead, Write: policy.AllowWrite, Push: true})

	if granted != requested {
		g.log.Debug("requested scope narrowed by policy",
			zap.String("user_id", identity.UserID),
			zap.String("requested", requested.String()),
			zap.String("granted", granted.String()),
		)
	}

	if granted.IsEmpty() {
		return domain.Scope{}, ErrEmptyGrant
	}
	return granted, nil
}
