package domain

import "time"

// UserAPIPolicy 用户 API Key 签发策略（站点设置）
//
// 每个请求加载一次快照，请求处理期间不会被修改。
type UserAPIPolicy struct {
	MinTrustLevel    int      `json:"minTrustLevel"`    // 申请任何 Key 所需的最低信任等级
	AllowRead        bool     `json:"allowRead"`        // 是否允许签发读权限
	AllowWrite       bool     `json:"allowWrite"`       // 是否允许签发写权限
	AllowPush        bool     `json:"allowPush"`        // 是否允许签发推送权限
	AllowedRedirects []string `json:"allowedRedirects"` // 允许的 auth_redirect（精确匹配）
	AllowedPushURLs  []string `json:"allowedPushUrls"`  // 允许的推送地址（精确匹配）
}

// DefaultUserAPIPolicy 返回默认策略
func DefaultUserAPIPolicy() UserAPIPolicy {
	return UserAPIPolicy{
		MinTrustLevel:    1,
		AllowRead:        true,
		AllowWrite:       false,
		AllowPush:        true,
		AllowedRedirects: []string{},
		AllowedPushURLs:  []string{},
	}
}

// IsRedirectAllowed 判断回调地址是否在白名单中
func (p UserAPIPolicy) IsRedirectAllowed(url string) bool {
	return containsExact(p.AllowedRedirects, url)
}

// IsPushURLAllowed 判断推送地址是否在白名单中
func (p UserAPIPolicy) IsPushURLAllowed(url string) bool {
	return containsExact(p.AllowedPushURLs, url)
}

// AllowedScope 返回全局开关允许的权限集合
func (p UserAPIPolicy) AllowedScope() Scope {
	return Scope{Read: p.AllowRead, Write: p.AllowWrite, Push: p.AllowPush}
}

// Clone 深拷贝策略，避免快照与存储共享切片
func (p UserAPIPolicy) Clone() UserAPIPolicy {
	out := p
	out.AllowedRedirects = cloneList(p.AllowedRedirects)
	out.AllowedPushURLs = cloneList(p.AllowedPushURLs)
	return out
}

// cloneList 复制切片，nil 复制为空切片，序列化时始终为 []
func cloneList(list []string) []string {
	out := make([]string, len(list))
	copy(out, list)
	return out
}

func containsExact(list []string, value string) bool {
	if value == "" {
		return false
	}
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

// SiteSettings 持久化的站点设置
type SiteSettings struct {
	ID        string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserAPI   UserAPIPolicy `json:"userApi" gorm:"serializer:json;type:text"`
	UpdatedAt time.Time     `json:"updatedAt"`
	UpdatedBy string        `json:"updatedBy" gorm:"type:varchar(36)"` // 更新者用户ID
}

// SiteSettingsID 站点设置的固定主键
const SiteSettingsID = "site"

// TableName 指定表名
func (SiteSettings) TableName() string {
	return "site_settings"
}
