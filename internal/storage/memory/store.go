package memory

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"userapikey/backend/internal/domain"
	"userapikey/backend/internal/storage"
)

// Store 使用内存保存用户、用户 API Key 与站点设置，主要用于开发验证。
//
// 所有写操作由同一把互斥锁串行化，UpsertUserAPIKey 因此天然是原子的。
type Store struct {
	mu         sync.RWMutex
	users      map[string]*domain.User       // userID -> user
	byEmail    map[string]string             // email -> userID
	byUsername map[string]string             // lower(username) -> userID
	keys       map[string]*domain.UserAPIKey // keyID -> key
	byKeyHash  map[string]string             // keyHash -> keyID
	byClient   map[string]string             // userID + "\x00" + clientID -> keyID

	settings *domain.SiteSettings
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		users:      make(map[string]*domain.User),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
		keys:       make(map[string]*domain.UserAPIKey),
		byKeyHash:  make(map[string]string),
		byClient:   make(map[string]string),
	}
}

func clientIndex(userID, clientID string) string {
	return userID + "\x00" + clientID
}

// ========== User Repository ==========

// CreateUser 创建新用户
func (s *Store) CreateUser(user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == "" {
		return errors.New("user ID is required")
	}

	// 邮箱与用户名都不允许重复（用户名不区分大小写）
	if _, exists := s.byEmail[user.Email]; exists {
		return storage.ErrUserExists
	}
	if _, exists := s.byUsername[strings.ToLower(user.Username)]; exists {
		return storage.ErrUserExists
	}

	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}

	stored := *user
	s.users[user.ID] = &stored
	s.byEmail[user.Email] = user.ID
	s.byUsername[strings.ToLower(user.Username)] = user.ID
	return nil
}

// GetUserByID 根据ID获取用户
func (s *Store) GetUserByID(id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.userLocked(id)
}

// GetUserByEmail 根据邮箱获取用户
func (s *Store) GetUserByEmail(email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.byEmail[email]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return s.userLocked(userID)
}

// GetUserByUsername 根据用户名获取用户
func (s *Store) GetUserByUsername(username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.byUsername[strings.ToLower(username)]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return s.userLocked(userID)
}

func (s *Store) userLocked(id string) (*domain.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	out := *user
	return &out, nil
}

// UpdateUser 更新用户信息
func (s *Store) UpdateUser(user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[user.ID]
	if !ok {
		return storage.ErrUserNotFound
	}

	oldUsername := strings.ToLower(current.Username)
	newUsername := strings.ToLower(user.Username)
	if oldUsername != newUsername {
		if _, exists := s.byUsername[newUsername]; exists {
			return storage.ErrUserExists
		}
		delete(s.byUsername, oldUsername)
		s.byUsername[newUsername] = user.ID
	}
	if current.Email != user.Email {
		if _, exists := s.byEmail[user.Email]; exists {
			return storage.ErrUserExists
		}
		delete(s.byEmail, current.Email)
		s.byEmail[user.Email] = user.ID
	}

	user.UpdatedAt = time.Now().UTC()
	stored := *user
	s.users[user.ID] = &stored
	return nil
}

// UpdateLastLogin 更新最后登录时间
func (s *Store) UpdateLastLogin(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}

	now := time.Now().UTC()
	user.LastLoginAt = &now
	user.UpdatedAt = now
	return nil
}

// ========== User API Key Repository ==========

// UpsertUserAPIKey 创建或更新 (UserID, ClientID) 对应的 Key
//
// 已存在时原地更新权限、推送地址、应用名与密钥哈希，保留原 ID 与创建时间。
// 新密钥哈希与其他记录冲突时返回 storage.ErrConflict。
func (s *Store) UpsertUserAPIKey(key *domain.UserAPIKey) (*domain.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, taken := s.byKeyHash[key.KeyHash]; taken {
		if existingID, ok := s.byClient[clientIndex(key.UserID, key.ClientID)]; !ok || existingID != owner {
			return nil, storage.ErrConflict
		}
	}

	now := time.Now().UTC()
	result := &domain.UpsertResult{}

	existingID, exists := s.byClient[clientIndex(key.UserID, key.ClientID)]
	if exists {
		existing := s.keys[existingID]
		result.ReplacedKey = existing.KeyHash
		delete(s.byKeyHash, existing.KeyHash)

		existing.KeyHash = key.KeyHash
		existing.ApplicationName = key.ApplicationName
		existing.ApplyScope(key.Scope())
		existing.PushURL = copyString(key.PushURL)
		existing.UpdatedAt = now
		s.byKeyHash[key.KeyHash] = existing.ID

		key.ID = existing.ID
		key.CreatedAt = existing.CreatedAt
		key.UpdatedAt = now
		key.LastUsedAt = existing.LastUsedAt
	} else {
		if key.ID == "" {
			key.ID = uuid.New().String()
		}
		key.CreatedAt = now
		key.UpdatedAt = now

		stored := *key
		stored.Key = ""
		stored.PushURL = copyString(key.PushURL)
		s.keys[key.ID] = &stored
		s.byKeyHash[key.KeyHash] = key.ID
		s.byClient[clientIndex(key.UserID, key.ClientID)] = key.ID
		result.Created = true
	}

	out := *key
	result.Key = &out
	return result, nil
}

// GetUserAPIKeyByHash 根据密钥哈希获取 Key
func (s *Store) GetUserAPIKeyByHash(keyHash string) (*domain.UserAPIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKeyHash[keyHash]
	if !ok {
		return nil, storage.ErrUserAPIKeyNotFound
	}
	return s.keyLocked(id)
}

// GetUserAPIKeyByClient 根据用户与客户端标识获取 Key
func (s *Store) GetUserAPIKeyByClient(userID, clientID string) (*domain.UserAPIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byClient[clientIndex(userID, clientID)]
	if !ok {
		return nil, storage.ErrUserAPIKeyNotFound
	}
	return s.keyLocked(id)
}

func (s *Store) keyLocked(id string) (*domain.UserAPIKey, error) {
	key, ok := s.keys[id]
	if !ok {
		return nil, storage.ErrUserAPIKeyNotFound
	}
	out := *key
	out.PushURL = copyString(key.PushURL)
	return &out, nil
}

// UpdateUserAPIKeyLastUsed 更新 Key 最后使用时间
func (s *Store) UpdateUserAPIKeyLastUsed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[id]
	if !ok {
		return storage.ErrUserAPIKeyNotFound
	}
	now := time.Now().UTC()
	key.LastUsedAt = &now
	return nil
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

// ========== System Config Repository ==========

// GetSiteSettings 获取站点设置，未保存过时返回 nil
func (s *Store) GetSiteSettings() (*domain.SiteSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.settings == nil {
		return nil, nil
	}

	// 返回设置的副本
	settings := *s.settings
	settings.UserAPI = s.settings.UserAPI.Clone()
	return &settings, nil
}

// SaveSiteSettings 保存站点设置
func (s *Store) SaveSiteSettings(settings *domain.SiteSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings.ID = domain.SiteSettingsID
	settings.UpdatedAt = time.Now().UTC()
	stored := *settings
	stored.UserAPI = settings.UserAPI.Clone()
	s.settings = &stored
	return nil
}

// Close 关闭存储
func (s *Store) Close() error {
	// 内存存储不需要关闭连接
	return nil
}

// Health 健康检查
func (s *Store) Health() error {
	// 内存存储总是健康的
	return nil
}

var _ storage.Store = (*Store)(nil)
