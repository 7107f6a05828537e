package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"userapikey/backend/internal/crypto"
	"userapikey/backend/internal/domain"
	"userapikey/backend/internal/monitoring"
)

// ProtocolVersion 签发握手协议版本，通过探测接口的 Auth-Api-Version 响应头公布
const ProtocolVersion = "1"

// PayloadParam 回调地址上携带加密载荷的查询参数名
const PayloadParam = "payload"

// Session 提供当前请求的登录用户
//
// 未登录时返回 (nil, nil)；只有会话存储本身故障时才返回错误。
type Session interface {
	CurrentUser() (*domain.Identity, error)
}

// PolicyProvider 提供签发策略快照
type PolicyProvider interface {
	GetPolicy() (domain.UserAPIPolicy, error)
}

// IssuanceService 用户 API Key 签发握手
//
// 状态流转: Received → Validated → Authenticated → Authorized → Issued → Delivered，
// 任一步骤失败即进入 Rejected，写入 Key 之前的失败不会产生任何副作用。
type IssuanceService struct {
	policies          PolicyProvider
	gate              *PolicyGate
	keys              *KeyStore
	clientIDMinLength int
	metrics           *monitoring.Metrics // 可为 nil
	log               *zap.Logger
}

// NewIssuanceService 创建签发服务
func NewIssuanceService(policies PolicyProvider, gate *PolicyGate, keys *KeyStore, clientIDMinLength int, metrics *monitoring.Metrics, log *zap.Logger) *IssuanceService {
	return &IssuanceService{
		policies:          policies,
		gate:              gate,
		keys:              keys,
		clientIDMinLength: clientIDMinLength,
		metrics:           metrics,
		log:               log,
	}
}

// IssueResult 签发成功的结果
type IssueResult struct {
	RedirectURL string             // 带 payload 参数的回调地址
	Key         *domain.UserAPIKey // 保存后的记录
	Granted     domain.Scope       // 实际授予的权限
}

// Issue 执行一次完整的签发握手
//
// 参数:
//   - ctx: 请求上下文，用于冲突重试的等待
//   - session: 当前请求的会话
//   - req: 客户端提交的参数
//
// 返回值:
//   - *IssueResult: 成功时的回调地址与记录
//   - error: 包装了 ErrBadRequest / ErrNotAuthenticated / ErrForbidden / ErrKeyStoreUnavailable 的错误
func (s *IssuanceService) Issue(ctx context.Context, session Session, req domain.IssueRequest) (result *IssueResult, err error) {
	start := time.Now()
	defer func() {
		s.record(req, result, err, time.Since(start))
	}()

	// Validated
	requested, pub, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	// Authenticated
	identity, err := session.CurrentUser()
	if err != nil {
		return nil, fmt.Errorf("failed to load current user: %w", err)
	}
	if identity == nil {
		return nil, ErrNotAuthenticated
	}

	// Authorized
	policy, err := s.policies.GetPolicy()
	if err != nil {
		return nil, fmt.Errorf("failed to load user api policy: %w", err)
	}
	granted, err := s.gate.Evaluate(identity, requested, req, policy)
	if err != nil {
		return nil, err
	}

	// Issued
	var pushURL *string
	if granted.Push {
		pushURL = req.PushURLPtr()
	}
	key, err := s.keys.Upsert(ctx, identity.UserID, req.ClientID, granted, pushURL, req.ApplicationName)
	if err != nil {
		return nil, err
	}

	// Delivered
	payload, err := crypto.EncryptPayload(pub, crypto.Payload{
		Key:    key.Key,
		Nonce:  req.Nonce,
		Access: granted.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt payload: %w", err)
	}

	// 回调地址已与允许列表精确匹配，列表项在写入时校验过可解析
	redirect, err := AppendPayload(req.AuthRedirect, payload)
	if err != nil {
		return nil, err
	}

	return &IssueResult{
		RedirectURL: redirect,
		Key:         key,
		Granted:     granted,
	}, nil
}

// validate 校验请求参数，全部通过后返回解析好的权限与公钥
func (s *IssuanceService) validate(req domain.IssueRequest) (domain.Scope, *rsa.PublicKey, error) {
	requested, err := domain.ParseScope(req.Access)
	if err != nil {
		return domain.Scope{}, nil, badRequest(err)
	}
	if err := domain.ValidateClientID(req.ClientID, s.clientIDMinLength); err != nil {
		return domain.Scope{}, nil, badRequest(err)
	}
	if err := domain.ValidateNonce(req.Nonce); err != nil {
		return domain.Scope{}, nil, badRequest(err)
	}

	pub, err := crypto.ParsePublicKey(req.PublicKey)
	if err != nil {
		return domain.Scope{}, nil, badRequest(err)
	}
	if err := crypto.CheckCapacity(pub, req.Nonce, SecretLength); err != nil {
		return domain.Scope{}, nil, badRequest(err)
	}
	return requested, pub, nil
}

// record 记录签发结果的指标与日志
func (s *IssuanceService) record(req domain.IssueRequest, result *IssueResult, err error, elapsed time.Duration) {
	outcome := Outcome(err)
	if s.metrics != nil {
		s.metrics.RecordIssuance(outcome, elapsed)
	}

	fields := []zap.Field{
		zap.String("outcome", outcome),
		zap.String("client_id", req.ClientID),
		zap.String("requested", req.Access),
		zap.Duration("elapsed", elapsed),
	}
	switch {
	case err == nil:
		s.log.Info("user api key delivered", append(fields,
			zap.String("user_id", result.Key.UserID),
			zap.String("granted", result.Granted.String()),
		)...)
	case outcome == monitoring.OutcomeError:
		s.log.Error("user api key issuance failed", append(fields, zap.Error(err))...)
	default:
		s.log.Info("user api key issuance rejected", append(fields, zap.Error(err))...)
	}
}

// Outcome 把签发错误映射为指标标签
func Outcome(err error) string {
	switch {
	case err == nil:
		return monitoring.OutcomeIssued
	case errors.Is(err, ErrBadRequest):
		return monitoring.OutcomeBadRequest
	case errors.Is(err, ErrNotAuthenticated):
		return monitoring.OutcomeNotLoggedIn
	case errors.Is(err, ErrForbidden):
		return monitoring.OutcomeForbidden
	default:
		return monitoring.OutcomeError
	}
}

// AppendPayload 把加密载荷以 payload 参数追加到回调地址上
//
// 回调地址原有的查询参数会保留。
func AppendPayload(authRedirect, payload string) (string, error) {
	u, err := url.Parse(authRedirect)
	if err != nil {
		return "", fmt.Errorf("invalid auth_redirect: %w", err)
	}
	q := u.Query()
	q.Set(PayloadParam, payload)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
