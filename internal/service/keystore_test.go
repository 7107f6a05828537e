package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"userapikey/backend/internal/domain"
	"userapikey/backend/internal/monitoring"
	"userapikey/backend/internal/storage"
	"userapikey/backend/internal/storage/memory"
)

// flakyRepo 前 failures 次写入返回指定错误
type flakyRepo struct {
	*memory.Store
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (r *flakyRepo) UpsertUserAPIKey(key *domain.UserAPIKey) (*domain.UpsertResult, error) {
	r.mu.Lock()
	r.calls++
	fail := r.calls <= r.failures
	r.mu.Unlock()

	if fail {
		return nil, r.err
	}
	return r.Store.UpsertUserAPIKey(key)
}

func newTestKeyStore(repo storage.UserAPIKeyRepository, attempts int) *KeyStore {
	return NewKeyStore(repo, attempts, time.Millisecond, monitoring.NewMetrics(), zap.NewNop())
}

var secretPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestKeyStore_UpsertCreatesAndRotates(t *testing.T) {
	store := memory.NewStore()
	keys := newTestKeyStore(store, 3)
	ctx := context.Background()

	first, err := keys.Upsert(ctx, "user-1", "client-1", domain.Scope{Read: true}, nil, "foo")
	require.NoError(t, err)
	assert.Regexp(t, secretPattern, first.Key)
	assert.Equal(t, domain.HashAPIKey(first.Key), first.KeyHash)

	found, err := keys.FindBySecret(first.Key)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
	assert.Equal(t, "foo", found.ApplicationName)

	pushURL := testPushURL
	second, err := keys.Upsert(ctx, "user-1", "client-1", domain.Scope{Read: true, Push: true}, &pushURL, "bar")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same (user, client) keeps one record")
	assert.NotEqual(t, first.Key, second.Key)

	_, err = keys.FindBySecret(first.Key)
	assert.ErrorIs(t, err, ErrUserAPIKeyNotFound)

	found, err = keys.FindBySecret(second.Key)
	require.NoError(t, err)
	assert.Equal(t, domain.Scope{Read: true, Push: true}, found.Scope())
	require.NotNil(t, found.PushURL)
	assert.Equal(t, testPushURL, *found.PushURL)
	assert.Equal(t, "bar", found.ApplicationName)
}

func TestKeyStore_RetriesConflicts(t *testing.T) {
	repo := &flakyRepo{Store: memory.NewStore(), failures: 2, err: storage.ErrConflict}
	keys := newTestKeyStore(repo, 3)

	key, err := keys.Upsert(context.Background(), "user-1", "client-1", domain.Scope{Read: true}, nil, "foo")
	require.NoError(t, err)
	assert.Equal(t, 3, repo.calls)

	_, err = keys.FindBySecret(key.Key)
	assert.NoError(t, err)
}

func TestKeyStore_ConflictsExhausted(t *testing.T) {
	repo := &flakyRepo{Store: memory.NewStore(), failures: 10, err: storage.ErrConflict}
	keys := newTestKeyStore(repo, 3)

	_, err := keys.Upsert(context.Background(), "user-1", "client-1", domain.Scope{Read: true}, nil, "foo")
	assert.ErrorIs(t, err, ErrKeyStoreUnavailable)
	assert.Equal(t, 3, repo.calls)

	_, err = repo.GetUserAPIKeyByClient("user-1", "client-1")
	assert.ErrorIs(t, err, storage.ErrUserAPIKeyNotFound)
}

func TestKeyStore_FindByClient(t *testing.T) {
	keys := newTestKeyStore(memory.NewStore(), 3)

	_, err := keys.FindByClient("user-1", "client-1")
	assert.ErrorIs(t, err, ErrUserAPIKeyNotFound)

	issued, err := keys.Upsert(context.Background(), "user-1", "client-1", domain.Scope{Read: true, Write: true}, nil, "foo")
	require.NoError(t, err)

	found, err := keys.FindByClient("user-1", "client-1")
	require.NoError(t, err)
	assert.Equal(t, issued.ID, found.ID)
	assert.Equal(t, domain.Scope{Read: true, Write: true}, found.Scope())
	assert.Empty(t, found.Key, "plaintext secret is never persisted")

	_, err = keys.FindByClient("user-2", "client-1")
	assert.ErrorIs(t, err, ErrUserAPIKeyNotFound)
}

func TestKeyStore_PermanentErrorNotRetried(t *testing.T) {
	repo := &flakyRepo{Store: memory.NewStore(), failures: 10, err: errors.New("disk on fire")}
	keys := newTestKeyStore(repo, 3)

	_, err := keys.Upsert(context.Background(), "user-1", "client-1", domain.Scope{Read: true}, nil, "foo")
	assert.ErrorIs(t, err, ErrKeyStoreUnavailable)
	assert.Equal(t, 1, repo.calls)
}

func TestKeyStore_ConcurrentUpsertLeavesOneRecord(t *testing.T) {
	store := memory.NewStore()
	keys := newTestKeyStore(store, 3)

	var wg sync.WaitGroup
	results := make([]*domain.UserAPIKey, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key, err := keys.Upsert(context.Background(), "user-1", "client-1", domain.Scope{Read: true}, nil, "foo")
			assert.NoError(t, err)
			results[i] = key
		}(i)
	}
	wg.Wait()

	// 最后一次写入的密钥有效，其余全部失效
	valid := 0
	for _, key := range results {
		require.NotNil(t, key)
		assert.Equal(t, results[0].ID, key.ID)
		if _, err := keys.FindBySecret(key.Key); err == nil {
			valid++
		}
	}
	assert.Equal(t, 1, valid)
}

func TestKeyStore_FindBySecretEmpty(t *testing.T) {
	keys := newTestKeyStore(memory.NewStore(), 3)

	_, err := keys.FindBySecret("")
	assert.ErrorIs(t, err, ErrUserAPIKeyNotFound)
	_, err = keys.FindBySecret("nope")
	assert.ErrorIs(t, err, ErrUserAPIKeyNotFound)
}
