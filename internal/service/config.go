package service

import (
	"errors"
	"fmt"
	"sync"

	"userapikey/backend/internal/domain"
	"userapikey/backend/internal/storage"
)

// ErrInvalidConfig 无效的配置
var ErrInvalidConfig = errors.New("invalid config")

// ConfigService 站点设置服务，负责用户 API Key 签发策略的读取与更新
type ConfigService struct {
	store    storage.SystemConfigRepository
	defaults domain.UserAPIPolicy
	mu       sync.Mutex // 串行化策略更新
}

// NewConfigService 创建配置服务
//
// 参数:
//   - store: 站点设置存储
//   - defaults: 数据库中没有设置时使用的策略（来自启动配置）
func NewConfigService(store storage.SystemConfigRepository, defaults domain.UserAPIPolicy) *ConfigService {
	return &ConfigService{
		store:    store,
		defaults: defaults.Clone(),
	}
}

// Bootstrap 首次启动时把启动配置中的策略写入站点设置
func (s *ConfigService) Bootstrap() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.store.GetSiteSettings()
	if err != nil {
		return err
	}
	if settings != nil {
		return nil
	}
	return s.store.SaveSiteSettings(&domain.SiteSettings{
		UserAPI:   s.defaults.Clone(),
		UpdatedBy: "bootstrap",
	})
}

// GetPolicy 返回当前策略的快照
//
// 返回的是深拷贝，调用方在一次请求内可以放心使用，后续更新不会影响它。
func (s *ConfigService) GetPolicy() (domain.UserAPIPolicy, error) {
	settings, err := s.store.GetSiteSettings()
	if err != nil {
		return domain.UserAPIPolicy{}, err
	}
	if settings == nil {
		return s.defaults.Clone(), nil
	}
	return settings.UserAPI.Clone(), nil
}

// UpdatePolicyInput 更新策略输入，nil 字段保持不变
type UpdatePolicyInput struct {
	MinTrustLevel    *int      `json:"minTrustLevel,omitempty"`
	AllowRead        *bool     `json:"allowRead,omitempty"`
	AllowWrite       *bool     `json:"allowWrite,omitempty"`
	AllowPush        *bool     `json:"allowPush,omitempty"`
	AllowedRedirects *[]string `json:"allowedRedirects,omitempty"`
	AllowedPushURLs  *[]string `json:"allowedPushUrls,omitempty"`
	UpdatedBy        string    `json:"-"` // 更新者用户ID
}

// UpdatePolicy 更新签发策略（需要管理员权限）
//
// 只影响之后加载快照的请求，正在处理的请求仍使用旧快照。
func (s *ConfigService) UpdatePolicy(input UpdatePolicyInput) (domain.UserAPIPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, err := s.GetPolicy()
	if err != nil {
		return domain.UserAPIPolicy{}, err
	}

	if input.MinTrustLevel != nil {
		if *input.MinTrustLevel < domain.MinTrustLevel || *input.MinTrustLevel > domain.MaxTrustLevel {
			return domain.UserAPIPolicy{}, badRequest(fmt.Errorf("%w: minTrustLevel must be between %d and %d",
				ErrInvalidConfig, domain.MinTrustLevel, domain.MaxTrustLevel))
		}
		policy.MinTrustLevel = *input.MinTrustLevel
	}
	if input.AllowRead != nil {
		policy.AllowRead = *input.AllowRead
	}
	if input.AllowWrite != nil {
		policy.AllowWrite = *input.AllowWrite
	}
	if input.AllowPush != nil {
		policy.AllowPush = *input.AllowPush
	}
	if input.AllowedRedirects != nil {
		list, err := normalizeURLList(*input.AllowedRedirects)
		if err != nil {
			return domain.UserAPIPolicy{}, badRequest(fmt.Errorf("%w: allowedRedirects: %w", ErrInvalidConfig, err))
		}
		policy.AllowedRedirects = list
	}
	if input.AllowedPushURLs != nil {
		list, err := normalizeURLList(*input.AllowedPushURLs)
		if err != nil {
			return domain.UserAPIPolicy{}, badRequest(fmt.Errorf("%w: allowedPushUrls: %w", ErrInvalidConfig, err))
		}
		policy.AllowedPushURLs = list
	}

	if err := s.store.SaveSiteSettings(&domain.SiteSettings{UserAPI: policy, UpdatedBy: input.UpdatedBy}); err != nil {
		return domain.UserAPIPolicy{}, err
	}
	return policy.Clone(), nil
}

// ResetPolicy 把策略恢复为启动配置中的值
func (s *ConfigService) ResetPolicy(updatedBy string) (domain.UserAPIPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	policy := s.defaults.Clone()
	if err := s.store.SaveSiteSettings(&domain.SiteSettings{UserAPI: policy, UpdatedBy: updatedBy}); err != nil {
		return domain.UserAPIPolicy{}, err
	}
	return policy.Clone(), nil
}

// normalizeURLList 去除空项与重复项，并要求每一项都能被解析
func normalizeURLList(items []string) ([]string, error) {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item == "" {
			continue
		}
		if err := domain.ValidateURL(item); err != nil {
			return nil, fmt.Errorf("%q: %w", item, err)
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out, nil
}
