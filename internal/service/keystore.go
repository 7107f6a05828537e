package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"userapikey/backend/internal/domain"
	"userapikey/backend/internal/monitoring"
	"userapikey/backend/internal/storage"
)

// SecretLength 明文密钥长度（16 字节随机数的十六进制）
const SecretLength = 32

// KeyStore 用户 API Key 的签发与查询
type KeyStore struct {
	repo          storage.UserAPIKeyRepository
	maxAttempts   int
	retryInterval time.Duration
	metrics       *monitoring.Metrics // 可为 nil
	log           *zap.Logger
}

// NewKeyStore 创建 KeyStore
//
// 参数:
//   - repo: Key 存储
//   - maxAttempts: 写入冲突时的最大尝试次数（含第一次）
//   - retryInterval: 首次重试前的等待时间，之后指数增长
//   - metrics: 监控指标，可为 nil
//   - log: 日志记录器
func NewKeyStore(repo storage.UserAPIKeyRepository, maxAttempts int, retryInterval time.Duration, metrics *monitoring.Metrics, log *zap.Logger) *KeyStore {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &KeyStore{
		repo:          repo,
		maxAttempts:   maxAttempts,
		retryInterval: retryInterval,
		metrics:       metrics,
		log:           log,
	}
}

// Upsert 为 (userID, clientID) 签发新密钥
//
// 已有记录时原地更新权限、推送地址和应用名并轮换密钥，旧密钥立即失效。
// storage.ErrConflict 会按指数退避重试，每次重试生成新的密钥。
//
// 返回值:
//   - *domain.UserAPIKey: 保存后的记录，Key 字段为明文密钥
//   - error: 重试耗尽返回 ErrKeyStoreUnavailable
func (s *KeyStore) Upsert(ctx context.Context, userID, clientID string, granted domain.Scope, pushURL *string, appName string) (*domain.UserAPIKey, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = s.retryInterval
	expBackoff.MaxInterval = 20 * s.retryInterval
	expBackoff.Reset()

	attempt := 0
	operation := func() (*domain.UpsertResult, error) {
		attempt++

		secret, err := generateSecret()
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		record := &domain.UserAPIKey{
			ID:              uuid.New().String(),
			UserID:          userID,
			ClientID:        clientID,
			KeyHash:         domain.HashAPIKey(secret),
			Key:             secret,
			ApplicationName: appName,
			PushURL:         pushURL,
		}
		record.ApplyScope(granted)

		result, err := s.repo.UpsertUserAPIKey(record)
		if err != nil {
			if errors.Is(err, storage.ErrConflict) {
				if s.metrics != nil {
					s.metrics.RecordUpsertConflict()
				}
				s.log.Warn("user api key upsert conflict",
					zap.String("user_id", userID),
					zap.Int("attempt", attempt),
					zap.Int("max_attempts", s.maxAttempts),
					zap.Error(err),
				)
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		result.Key.Key = secret
		return result, nil
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(s.maxAttempts)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyStoreUnavailable, err)
	}

	s.log.Info("user api key issued",
		zap.String("user_id", userID),
		zap.String("key_id", result.Key.ID),
		zap.Bool("created", result.Created),
		zap.String("scope", granted.String()),
	)
	return result.Key, nil
}

// FindBySecret 根据明文密钥查找记录
func (s *KeyStore) FindBySecret(secret string) (*domain.UserAPIKey, error) {
	if secret == "" {
		return nil, ErrUserAPIKeyNotFound
	}
	key, err := s.repo.GetUserAPIKeyByHash(domain.HashAPIKey(secret))
	if err != nil {
		if errors.Is(err, storage.ErrUserAPIKeyNotFound) {
			return nil, ErrUserAPIKeyNotFound
		}
		return nil, err
	}
	return key, nil
}

// FindByClient 查找用户为某个客户端签发的记录
func (s *KeyStore) FindByClient(userID, clientID string) (*domain.UserAPIKey, error) {
	key, err := s.repo.GetUserAPIKeyByClient(userID, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrUserAPIKeyNotFound) {
			return nil, ErrUserAPIKeyNotFound
		}
		return nil, err
	}
	return key, nil
}

// Touch 记录密钥的最近使用时间
func (s *KeyStore) Touch(key *domain.UserAPIKey) {
	if err := s.repo.UpdateUserAPIKeyLastUsed(key.ID); err != nil {
		s.log.Warn("failed to update user api key last used", zap.String("key_id", key.ID), zap.Error(err))
	}
}

// generateSecret 生成 128 位随机密钥的十六进制表示
func generateSecret() (string, error) {
	buf := make([]byte, SecretLength/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
