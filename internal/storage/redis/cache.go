package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"userapikey/backend/internal/domain"
)

var (
	// ErrCacheMiss 缓存中不存在
	ErrCacheMiss = errors.New("cache miss")
	// ErrCacheRevoked 密钥已被轮换，缓存中留有作废标记
	ErrCacheRevoked = errors.New("cached key revoked")
)

// revokedMarker 作废标记，不是合法的 JSON 记录
const revokedMarker = "revoked"

// Cache 用户 API Key 查询缓存（密钥哈希 -> 记录）
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	ctx    context.Context
}

// cachedUserAPIKey 缓存条目，KeyHash 在领域对象的 JSON 中被隐藏，这里单独保存
type cachedUserAPIKey struct {
	*domain.UserAPIKey
	KeyHash string `json:"keyHash"`
}

// NewCache 创建 Redis 缓存实例
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{
		client: client,
		ttl:    ttl,
		ctx:    context.Background(),
	}
}

func userAPIKeyCacheKey(keyHash string) string {
	return fmt.Sprintf("userapikey:%s", keyHash)
}

// CacheUserAPIKey 缓存 Key 记录（不包含明文密钥）
//
// 使用 SETNX 写入，已存在的条目（包括作废标记）不会被覆盖，
// 因此并发读取不会把刚被轮换掉的旧记录重新写回缓存。
func (c *Cache) CacheUserAPIKey(key *domain.UserAPIKey) error {
	record := *key
	record.Key = ""
	data, err := json.Marshal(cachedUserAPIKey{UserAPIKey: &record, KeyHash: key.KeyHash})
	if err != nil {
		return err
	}
	return c.client.SetNX(c.ctx, userAPIKeyCacheKey(key.KeyHash), data, c.ttl).Err()
}

// GetCachedUserAPIKey 获取缓存的 Key 记录
func (c *Cache) GetCachedUserAPIKey(keyHash string) (*domain.UserAPIKey, error) {
	data, err := c.client.Get(c.ctx, userAPIKeyCacheKey(keyHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	if data == revokedMarker {
		return nil, ErrCacheRevoked
	}

	entry := cachedUserAPIKey{UserAPIKey: &domain.UserAPIKey{}}
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, err
	}
	entry.UserAPIKey.KeyHash = entry.KeyHash
	return entry.UserAPIKey, nil
}

// RevokeUserAPIKey 轮换密钥时用作废标记覆盖旧哈希的缓存条目
func (c *Cache) RevokeUserAPIKey(keyHash string) error {
	if keyHash == "" {
		return nil
	}
	return c.client.Set(c.ctx, userAPIKeyCacheKey(keyHash), revokedMarker, c.ttl).Err()
}

// DeleteCachedUserAPIKey 删除缓存的 Key 记录
func (c *Cache) DeleteCachedUserAPIKey(keyHash string) error {
	if keyHash == "" {
		return nil
	}
	return c.client.Del(c.ctx, userAPIKeyCacheKey(keyHash)).Err()
}

// Ping 测试 Redis 连接
func (c *Cache) Ping() error {
	return c.client.Ping(c.ctx).Err()
}
