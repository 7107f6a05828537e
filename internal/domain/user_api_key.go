package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// UserAPIKey 第三方客户端代表用户申请的 API Key
//
// 同一 (UserID, ClientID) 只保留一条有效记录，重复申请会覆盖权限、推送地址并轮换密钥。
type UserAPIKey struct {
	ID              string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID          string     `json:"userId" gorm:"type:varchar(36);not null;uniqueIndex:idx_user_api_keys_user_client"`
	ClientID        string     `json:"clientId" gorm:"type:varchar(255);not null;uniqueIndex:idx_user_api_keys_user_client"`
	KeyHash         string     `json:"-" gorm:"column:key_hash;type:varchar(64);uniqueIndex;not null"` // SHA-256(密钥)
	Key             string     `json:"-" gorm:"-"`                                                     // 明文密钥，仅在签发结果中存在
	ApplicationName string     `json:"applicationName" gorm:"type:varchar(255)"`
	Read            bool       `json:"read" gorm:"not null;default:false"`
	Write           bool       `json:"write" gorm:"not null;default:false"`
	Push            bool       `json:"push" gorm:"not null;default:false"`
	PushURL         *string    `json:"pushUrl,omitempty" gorm:"type:varchar(1024)"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	LastUsedAt      *time.Time `json:"lastUsedAt,omitempty"`
}

// TableName 指定表名
func (UserAPIKey) TableName() string {
	return "user_api_keys"
}

// Scope 返回记录当前的权限集合
func (k *UserAPIKey) Scope() Scope {
	return Scope{Read: k.Read, Write: k.Write, Push: k.Push}
}

// ApplyScope 用新的权限集合覆盖记录上的标志
func (k *UserAPIKey) ApplyScope(s Scope) {
	k.Read = s.Read
	k.Write = s.Write
	k.Push = s.Push
}

// UpsertResult 原子 upsert 的结果
type UpsertResult struct {
	Key         *UserAPIKey
	Created     bool   // 是否新建记录
	ReplacedKey string // 被轮换掉的旧密钥哈希（新建时为空）
}

// HashAPIKey 计算密钥的存储哈希
func HashAPIKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
