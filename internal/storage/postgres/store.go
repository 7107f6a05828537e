package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"userapikey/backend/internal/domain"
	"userapikey/backend/internal/storage"
)

// Store 基于 GORM 的关系型存储实现（PostgreSQL / MySQL）
type Store struct {
	db *gorm.DB
}

// NewStore 创建 PostgreSQL 存储实例
func NewStore(dsn string) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn))
}

// NewMySQLStore 创建 MySQL 存储实例
func NewMySQLStore(dsn string) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn))
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector) (*Store, error) {
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 静默模式
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		// 唯一索引冲突统一翻译为 gorm.ErrDuplicatedKey
		TranslateError: true,
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	store := &Store{db: db}

	if err := store.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Migrate 自动迁移数据库表结构
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&domain.User{},
		&domain.UserAPIKey{},
		&domain.SiteSettings{},
	)
}

// SetPool 调整连接池参数
func (s *Store) SetPool(maxOpen, maxIdle int, maxLifetime time.Duration) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if maxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(maxLifetime)
	}
	return nil
}

// ========== User Repository ==========

// CreateUser 创建新用户
func (s *Store) CreateUser(user *domain.User) error {
	if err := s.db.Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return storage.ErrUserExists
		}
		return err
	}
	return nil
}

// GetUserByID 根据ID获取用户
func (s *Store) GetUserByID(id string) (*domain.User, error) {
	return s.findUser("id = ?", id)
}

// GetUserByEmail 根据邮箱获取用户
func (s *Store) GetUserByEmail(email string) (*domain.User, error) {
	return s.findUser("email = ?", email)
}

// GetUserByUsername 根据用户名获取用户（不区分大小写）
func (s *Store) GetUserByUsername(username string) (*domain.User, error) {
	return s.findUser("LOWER(username) = LOWER(?)", username)
}

func (s *Store) findUser(query string, arg interface{}) (*domain.User, error) {
	var user domain.User
	if err := s.db.Where(query, arg).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpdateUser 更新用户信息
func (s *Store) UpdateUser(user *domain.User) error {
	result := s.db.Model(user).Select("*").Omit("created_at").Updates(user)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return storage.ErrUserExists
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrUserNotFound
	}
	return nil
}

// UpdateLastLogin 更新最后登录时间
func (s *Store) UpdateLastLogin(userID string) error {
	now := time.Now().UTC()
	result := s.db.Model(&domain.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{"last_login_at": now, "updated_at": now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrUserNotFound
	}
	return nil
}

// ========== User API Key Repository ==========

// UpsertUserAPIKey 在事务中锁定 (user_id, client_id) 对应的行后创建或更新
//
// 两个并发事务同时插入时，后提交者会命中唯一索引 idx_user_api_keys_user_client，
// 该错误与序列化失败、死锁一起被归类为 storage.ErrConflict。
func (s *Store) UpsertUserAPIKey(key *domain.UserAPIKey) (*domain.UpsertResult, error) {
	result := &domain.UpsertResult{}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing domain.UserAPIKey
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND client_id = ?", key.UserID, key.ClientID).
			First(&existing).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if key.ID == "" {
				key.ID = uuid.New().String()
			}
			if err := tx.Create(key).Error; err != nil {
				return err
			}
			result.Created = true
			return nil
		case err != nil:
			return err
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{
			"key_hash":         key.KeyHash,
			"application_name": key.ApplicationName,
			"read":             key.Read,
			"write":            key.Write,
			"push":             key.Push,
			"push_url":         key.PushURL,
			"updated_at":       now,
		}
		if err := tx.Model(&existing).Updates(updates).Error; err != nil {
			return err
		}

		result.ReplacedKey = existing.KeyHash
		key.ID = existing.ID
		key.CreatedAt = existing.CreatedAt
		key.UpdatedAt = now
		key.LastUsedAt = existing.LastUsedAt
		return nil
	})
	if err != nil {
		return nil, classifyError(err)
	}

	out := *key
	result.Key = &out
	return result, nil
}

// GetUserAPIKeyByHash 根据密钥哈希获取 Key
func (s *Store) GetUserAPIKeyByHash(keyHash string) (*domain.UserAPIKey, error) {
	return s.findUserAPIKey("key_hash = ?", keyHash)
}

// GetUserAPIKeyByClient 根据用户与客户端标识获取 Key
func (s *Store) GetUserAPIKeyByClient(userID, clientID string) (*domain.UserAPIKey, error) {
	return s.findUserAPIKey("user_id = ? AND client_id = ?", userID, clientID)
}

func (s *Store) findUserAPIKey(query string, args ...interface{}) (*domain.UserAPIKey, error) {
	var key domain.UserAPIKey
	if err := s.db.Where(query, args...).First(&key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrUserAPIKeyNotFound
		}
		return nil, err
	}
	return &key, nil
}

// UpdateUserAPIKeyLastUsed 更新 Key 最后使用时间
func (s *Store) UpdateUserAPIKeyLastUsed(id string) error {
	result := s.db.Model(&domain.UserAPIKey{}).Where("id = ?", id).
		UpdateColumn("last_used_at", time.Now().UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrUserAPIKeyNotFound
	}
	return nil
}

// ========== System Config Repository ==========

// GetSiteSettings 获取站点设置，未保存过时返回 nil
func (s *Store) GetSiteSettings() (*domain.SiteSettings, error) {
	var settings domain.SiteSettings
	err := s.db.Where("id = ?", domain.SiteSettingsID).First(&settings).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &settings, nil
}

// SaveSiteSettings 保存站点设置
func (s *Store) SaveSiteSettings(settings *domain.SiteSettings) error {
	settings.ID = domain.SiteSettingsID
	settings.UpdatedAt = time.Now().UTC()
	return s.db.Save(settings).Error
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 健康检查
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

var _ storage.Store = (*Store)(nil)
