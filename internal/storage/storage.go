package storage

import (
	"errors"

	"userapikey/backend/internal/domain"
)

var (
	// ErrUserNotFound 用户未找到错误
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists 邮箱或用户名已被占用
	ErrUserExists = errors.New("user already exists")
	// ErrUserAPIKeyNotFound 用户 API Key 未找到错误
	ErrUserAPIKeyNotFound = errors.New("user api key not found")
	// ErrConflict 并发写入冲突（序列化失败、死锁、唯一索引竞争），可重试
	ErrConflict = errors.New("store conflict")
)

// UserRepository 定义用户数据存取操作。
type UserRepository interface {
	CreateUser(user *domain.User) error
	GetUserByID(id string) (*domain.User, error)
	GetUserByEmail(email string) (*domain.User, error)
	GetUserByUsername(username string) (*domain.User, error)
	UpdateUser(user *domain.User) error
	UpdateLastLogin(userID string) error
}

// UserAPIKeyRepository 定义用户 API Key 数据存取操作。
type UserAPIKeyRepository interface {
	// UpsertUserAPIKey 以 (UserID, ClientID) 为键原子地创建或更新记录。
	// 并发冲突时返回 ErrConflict，由调用方决定是否重试。
	UpsertUserAPIKey(key *domain.UserAPIKey) (*domain.UpsertResult, error)
	GetUserAPIKeyByHash(keyHash string) (*domain.UserAPIKey, error)
	GetUserAPIKeyByClient(userID, clientID string) (*domain.UserAPIKey, error)
	UpdateUserAPIKeyLastUsed(id string) error
}

// SystemConfigRepository 定义站点设置数据存取操作。
type SystemConfigRepository interface {
	GetSiteSettings() (*domain.SiteSettings, error) // 未保存过时返回 (nil, nil)
	SaveSiteSettings(settings *domain.SiteSettings) error
}

// Store 定义完整的存储接口。
type Store interface {
	UserRepository
	UserAPIKeyRepository
	SystemConfigRepository

	// 工具方法
	Close() error
	Health() error
}
