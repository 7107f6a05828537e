package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"userapikey/backend/internal/domain"
	"userapikey/backend/internal/storage"
)

func newKey(userID, clientID, secret string) *domain.UserAPIKey {
	return &domain.UserAPIKey{
		UserID:          userID,
		ClientID:        clientID,
		KeyHash:         domain.HashAPIKey(secret),
		Key:             secret,
		ApplicationName: "foo",
		Read:            true,
	}
}

func TestMemoryStore_UserOperations(t *testing.T) {
	store := NewStore()

	user := &domain.User{
		ID:         "user-1",
		Email:      "alice@example.com",
		Username:   "Alice",
		TrustLevel: 1,
		IsActive:   true,
	}
	require.NoError(t, store.CreateUser(user))

	got, err := store.GetUserByID("user-1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)

	got, err = store.GetUserByUsername("alice")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.ID)

	got, err = store.GetUserByEmail("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.ID)

	// 重复的邮箱或用户名
	err = store.CreateUser(&domain.User{ID: "user-2", Email: "alice@example.com", Username: "bob"})
	assert.ErrorIs(t, err, storage.ErrUserExists)
	err = store.CreateUser(&domain.User{ID: "user-2", Email: "bob@example.com", Username: "ALICE"})
	assert.ErrorIs(t, err, storage.ErrUserExists)

	got.TrustLevel = 3
	require.NoError(t, store.UpdateUser(got))
	got, err = store.GetUserByID("user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.TrustLevel)

	require.NoError(t, store.UpdateLastLogin("user-1"))
	got, err = store.GetUserByID("user-1")
	require.NoError(t, err)
	assert.NotNil(t, got.LastLoginAt)

	_, err = store.GetUserByID("missing")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestMemoryStore_UpsertCreatesThenUpdates(t *testing.T) {
	store := NewStore()

	first, err := store.UpsertUserAPIKey(newKey("user-1", "client-1", "secret-1"))
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Empty(t, first.ReplacedKey)
	assert.NotEmpty(t, first.Key.ID)

	update := newKey("user-1", "client-1", "secret-2")
	update.ApplyScope(domain.Scope{Read: true, Write: true, Push: true})
	pushURL := "https://push.it/here"
	update.PushURL = &pushURL
	update.ApplicationName = "bar"

	second, err := store.UpsertUserAPIKey(update)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Key.ID, second.Key.ID)
	assert.Equal(t, domain.HashAPIKey("secret-1"), second.ReplacedKey)

	// 旧密钥失效，新密钥可查
	_, err = store.GetUserAPIKeyByHash(domain.HashAPIKey("secret-1"))
	assert.ErrorIs(t, err, storage.ErrUserAPIKeyNotFound)

	got, err := store.GetUserAPIKeyByHash(domain.HashAPIKey("secret-2"))
	require.NoError(t, err)
	assert.Equal(t, domain.Scope{Read: true, Write: true, Push: true}, got.Scope())
	assert.Equal(t, "bar", got.ApplicationName)
	require.NotNil(t, got.PushURL)
	assert.Equal(t, pushURL, *got.PushURL)
	assert.Empty(t, got.Key, "plaintext secret must not be persisted")

	byClient, err := store.GetUserAPIKeyByClient("user-1", "client-1")
	require.NoError(t, err)
	assert.Equal(t, got.ID, byClient.ID)
}

func TestMemoryStore_UpsertSeparatesClientsAndUsers(t *testing.T) {
	store := NewStore()

	_, err := store.UpsertUserAPIKey(newKey("user-1", "client-1", "a"))
	require.NoError(t, err)
	_, err = store.UpsertUserAPIKey(newKey("user-1", "client-2", "b"))
	require.NoError(t, err)
	_, err = store.UpsertUserAPIKey(newKey("user-2", "client-1", "c"))
	require.NoError(t, err)

	a, err := store.GetUserAPIKeyByClient("user-1", "client-1")
	require.NoError(t, err)
	b, err := store.GetUserAPIKeyByClient("user-1", "client-2")
	require.NoError(t, err)
	c, err := store.GetUserAPIKeyByClient("user-2", "client-1")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestMemoryStore_UpsertHashCollision(t *testing.T) {
	store := NewStore()

	_, err := store.UpsertUserAPIKey(newKey("user-1", "client-1", "same"))
	require.NoError(t, err)

	_, err = store.UpsertUserAPIKey(newKey("user-2", "client-1", "same"))
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestMemoryStore_ConcurrentUpsertSingleRecord(t *testing.T) {
	store := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.UpsertUserAPIKey(newKey("user-1", "client-1", fmt.Sprintf("secret-%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	store.mu.RLock()
	defer store.mu.RUnlock()
	assert.Len(t, store.keys, 1)
	assert.Len(t, store.byKeyHash, 1)
}

func TestMemoryStore_LastUsed(t *testing.T) {
	store := NewStore()

	res, err := store.UpsertUserAPIKey(newKey("user-1", "client-1", "secret"))
	require.NoError(t, err)

	require.NoError(t, store.UpdateUserAPIKeyLastUsed(res.Key.ID))
	got, err := store.GetUserAPIKeyByHash(domain.HashAPIKey("secret"))
	require.NoError(t, err)
	assert.NotNil(t, got.LastUsedAt)

	assert.ErrorIs(t, store.UpdateUserAPIKeyLastUsed("missing"), storage.ErrUserAPIKeyNotFound)
}

func TestMemoryStore_SiteSettings(t *testing.T) {
	store := NewStore()

	settings, err := store.GetSiteSettings()
	require.NoError(t, err)
	assert.Nil(t, settings)

	policy := domain.DefaultUserAPIPolicy()
	policy.AllowedRedirects = []string{"http://over.the/rainbow"}
	require.NoError(t, store.SaveSiteSettings(&domain.SiteSettings{UserAPI: policy, UpdatedBy: "admin"}))

	settings, err = store.GetSiteSettings()
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.Equal(t, domain.SiteSettingsID, settings.ID)
	assert.Equal(t, []string{"http://over.the/rainbow"}, settings.UserAPI.AllowedRedirects)

	// 修改返回值不影响已保存的设置
	settings.UserAPI.AllowedRedirects[0] = "mutated"
	again, err := store.GetSiteSettings()
	require.NoError(t, err)
	assert.Equal(t, "http://over.the/rainbow", again.UserAPI.AllowedRedirects[0])
}
