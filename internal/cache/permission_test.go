package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumchat/internal/cache"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMapCache() *mapCache { return &mapCache{data: map[string]string{}} }

func (m *mapCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", cache.ErrMiss
	}
	return v, nil
}

func (m *mapCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mapCache) Del(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *mapCache) Ping(context.Context) error { return nil }
func (m *mapCache) Close() error               { return nil }

func TestPermissionKeyIsSymmetric(t *testing.T) {
	assert.Equal(t, "permission:3:7", cache.PermissionKey(7, 3))
	assert.Equal(t, cache.PermissionKey(3, 7), cache.PermissionKey(7, 3))
}

func TestPermissionsCheck(t *testing.T) {
	ctx := context.Background()
	backend := newMapCache()
	perms := cache.NewPermissions(backend, 5*time.Minute)

	calls := 0
	load := func(context.Context) (bool, error) {
		calls++
		return true, nil
	}

	ok, err := perms.Check(ctx, 1, 2, load)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = perms.Check(ctx, 2, 1, load)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, calls)

	perms.Forget(ctx, 2, 1)
	_, err = perms.Check(ctx, 1, 2, load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestNilPermissionsAlwaysLoads(t *testing.T) {
	var perms *cache.Permissions
	calls := 0
	for i := 0; i < 2; i++ {
		ok, err := perms.Check(context.Background(), 1, 2, func(context.Context) (bool, error) {
			calls++
			return false, nil
		})
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, 2, calls)
	perms.Forget(context.Background(), 1, 2)
}
