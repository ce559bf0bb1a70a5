package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis is an in-memory RedisClient sufficient for the coordinator's
// operations. TTLs are tracked but only honored on read.
type fakeRedis struct {
	mu      sync.Mutex
	data    map[string]string
	expires map[string]time.Time
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string), expires: make(map[string]time.Time)}
}

func (f *fakeRedis) alive(key string) bool {
	exp, ok := f.expires[key]
	if ok && time.Now().After(exp) {
		delete(f.data, key)
		delete(f.expires, key)
		return false
	}
	_, ok = f.data[key]
	return ok
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alive(key) {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = "1"
	f.expires[key] = time.Now().Add(expiration)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, key := range keys {
		if f.alive(key) {
			delete(f.data, key)
			delete(f.expires, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value.(string)
	f.expires[key] = time.Now().Add(expiration)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) GetDel(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.alive(key) {
		return redis.NewStringResult("", redis.Nil)
	}
	val := f.data[key]
	delete(f.data, key)
	delete(f.expires, key)
	return redis.NewStringResult(val, nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.alive(key) {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(f.data[key], nil)
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.alive(key) {
		return redis.NewBoolResult(false, nil)
	}
	f.expires[key] = time.Now().Add(expiration)
	return redis.NewBoolResult(true, nil)
}

func TestAcquireConversation_Exclusive(t *testing.T) {
	ctx := context.Background()
	coord := NewCoordinator(newFakeRedis())

	require.NoError(t, coord.AcquireConversation(ctx, 42))

	err := coord.AcquireConversation(ctx, 42)
	assert.ErrorIs(t, err, ErrConversationBusy)

	// A different conversation is unaffected.
	require.NoError(t, coord.AcquireConversation(ctx, 43))

	require.NoError(t, coord.ReleaseConversation(ctx, 42))
	require.NoError(t, coord.AcquireConversation(ctx, 42))
}

func TestRefreshConversation_ExpiredLock(t *testing.T) {
	ctx := context.Background()
	coord := NewCoordinator(newFakeRedis())

	err := coord.RefreshConversation(ctx, 7)
	assert.Error(t, err)

	require.NoError(t, coord.AcquireConversation(ctx, 7))
	assert.NoError(t, coord.RefreshConversation(ctx, 7))
}

func TestConsumeCancel_SingleShot(t *testing.T) {
	ctx := context.Background()
	coord := NewCoordinator(newFakeRedis())

	pending, err := coord.ConsumeCancel(ctx, "M1234567890a")
	require.NoError(t, err)
	assert.False(t, pending)

	require.NoError(t, coord.RequestCancel(ctx, "M1234567890a"))

	pending, err = coord.ConsumeCancel(ctx, "M1234567890a")
	require.NoError(t, err)
	assert.True(t, pending)

	// The flag is consumed; a second read sees nothing.
	pending, err = coord.ConsumeCancel(ctx, "M1234567890a")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestDocumenterProgress(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	coord := NewCoordinator(rdb)

	progress, err := coord.DocumenterProgress(ctx, "C1234567890a")
	require.NoError(t, err)
	assert.Equal(t, "", progress)

	require.NoError(t, coord.SetDocumenterProgress(ctx, "C1234567890a", 3, 12))

	progress, err = coord.DocumenterProgress(ctx, "C1234567890a")
	require.NoError(t, err)
	assert.Equal(t, "3/12", progress)

	// Counters live under separate keys, one per dimension.
	rdb.mu.Lock()
	assert.Equal(t, "12", rdb.data["dbdocumenter:C1234567890a:total_tables"])
	assert.Equal(t, "3", rdb.data["dbdocumenter:C1234567890a:processed_tables"])
	rdb.mu.Unlock()
}
