package hybrid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"userapikey/backend/internal/domain"
	"userapikey/backend/internal/storage"
	"userapikey/backend/internal/storage/redis"
)

// Store 混合存储实现，结合持久化存储（PostgreSQL/MySQL）和 Redis 查询缓存
//
// 用户与站点设置直接透传给持久化存储，只有按密钥哈希查询 Key 走缓存。
// 读缓存故障只记录日志；轮换后无法作废旧密钥的缓存则返回 ErrCacheInvalidation。
type Store struct {
	storage.Store

	cache *redis.Cache
	log   *zap.Logger
}

// ErrCacheInvalidation 密钥已轮换，但旧密钥的缓存条目无法作废
var ErrCacheInvalidation = errors.New("failed to invalidate cached user api key")

// revokeAttempts 作废标记的最大写入次数
const revokeAttempts = 3

// NewStore 创建混合存储实例
func NewStore(durable storage.Store, cache *redis.Cache, log *zap.Logger) *Store {
	return &Store{
		Store: durable,
		cache: cache,
		log:   log,
	}
}

// UpsertUserAPIKey 写入持久化存储后作废旧密钥的缓存
func (s *Store) UpsertUserAPIKey(key *domain.UserAPIKey) (*domain.UpsertResult, error) {
	result, err := s.Store.UpsertUserAPIKey(key)
	if err != nil {
		return nil, err
	}

	if result.ReplacedKey != "" && result.ReplacedKey != result.Key.KeyHash {
		if err := s.revoke(result.ReplacedKey); err != nil {
			s.log.Error("failed to revoke cached user api key", zap.String("key_id", result.Key.ID), zap.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrCacheInvalidation, err)
		}
	}
	return result, nil
}

// revoke 写入作废标记，失败时重试，最后退回到直接删除缓存条目
func (s *Store) revoke(keyHash string) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 10 * time.Millisecond
	expBackoff.MaxInterval = 100 * time.Millisecond

	_, err := backoff.Retry(context.Background(), func() (struct{}, error) {
		return struct{}{}, s.cache.RevokeUserAPIKey(keyHash)
	}, backoff.WithBackOff(expBackoff), backoff.WithMaxTries(revokeAttempts))
	if err == nil {
		return nil
	}

	s.log.Warn("revoke marker not written, deleting cache entry", zap.Error(err))
	if delErr := s.cache.DeleteCachedUserAPIKey(keyHash); delErr != nil {
		return errors.Join(err, delErr)
	}
	return nil
}

// GetUserAPIKeyByHash 先查 Redis，未命中再查持久化存储并回填
func (s *Store) GetUserAPIKeyByHash(keyHash string) (*domain.UserAPIKey, error) {
	cached, err := s.cache.GetCachedUserAPIKey(keyHash)
	switch {
	case err == nil:
		return cached, nil
	case errors.Is(err, redis.ErrCacheRevoked):
		return nil, storage.ErrUserAPIKeyNotFound
	case !errors.Is(err, redis.ErrCacheMiss):
		s.log.Warn("user api key cache lookup failed", zap.Error(err))
	}

	key, err := s.Store.GetUserAPIKeyByHash(keyHash)
	if err != nil {
		return nil, err
	}

	if err := s.cache.CacheUserAPIKey(key); err != nil {
		s.log.Warn("failed to cache user api key", zap.String("key_id", key.ID), zap.Error(err))
	}
	return key, nil
}

// Health 同时检查持久化存储和 Redis
func (s *Store) Health() error {
	if err := s.Store.Health(); err != nil {
		return err
	}
	if err := s.cache.Ping(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}
