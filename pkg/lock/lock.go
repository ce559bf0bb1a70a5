// Package lock provides the Redis-backed coordination primitives for chat
// processing: per-conversation mutual exclusion, per-map cancellation flags,
// and progress counters for long-running database documentation runs.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// conversationLockExpiry bounds how long a crashed worker can hold a
	// conversation hostage.
	conversationLockExpiry = 30 * time.Second

	// cancelFlagTTL lets an unconsumed cancellation request expire instead of
	// cancelling a future run.
	cancelFlagTTL = 5 * time.Minute
)

// ErrConversationBusy is returned when another request already holds the
// conversation lock.
var ErrConversationBusy = errors.New("conversation is already being processed")

// RedisClient is the subset of go-redis used by this package. Tests provide
// a fake.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Coordinator wraps the Redis operations behind chat processing.
type Coordinator struct {
	rdb RedisClient
}

// NewCoordinator creates a Coordinator on the given Redis client.
func NewCoordinator(rdb RedisClient) *Coordinator {
	return &Coordinator{rdb: rdb}
}

func conversationLockKey(conversationID int64) string {
	return fmt.Sprintf("chat_lock:%d", conversationID)
}

func cancelFlagKey(mapID string) string {
	return fmt.Sprintf("messages:%s:cancelled", mapID)
}

// AcquireConversation takes the per-conversation processing lock. It returns
// ErrConversationBusy if the lock is already held. The lock auto-expires so
// a crashed holder cannot wedge the conversation.
func (c *Coordinator) AcquireConversation(ctx context.Context, conversationID int64) error {
	ok, err := c.rdb.SetNX(ctx, conversationLockKey(conversationID), "1", conversationLockExpiry).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire conversation lock: %w", err)
	}
	if !ok {
		return ErrConversationBusy
	}
	return nil
}

// RefreshConversation extends the lock while the agent loop is still
// working. A lost lock is logged by the caller; processing continues.
func (c *Coordinator) RefreshConversation(ctx context.Context, conversationID int64) error {
	ok, err := c.rdb.Expire(ctx, conversationLockKey(conversationID), conversationLockExpiry).Result()
	if err != nil {
		return fmt.Errorf("failed to refresh conversation lock: %w", err)
	}
	if !ok {
		return errors.New("conversation lock expired before refresh")
	}
	return nil
}

// ReleaseConversation releases the per-conversation lock.
func (c *Coordinator) ReleaseConversation(ctx context.Context, conversationID int64) error {
	if err := c.rdb.Del(ctx, conversationLockKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("failed to release conversation lock: %w", err)
	}
	return nil
}

// RequestCancel sets the cancellation flag for all in-flight processing on a
// map. The flag expires on its own if nothing consumes it.
func (c *Coordinator) RequestCancel(ctx context.Context, mapID string) error {
	if err := c.rdb.Set(ctx, cancelFlagKey(mapID), "1", cancelFlagTTL).Err(); err != nil {
		return fmt.Errorf("failed to set cancellation flag: %w", err)
	}
	return nil
}

// ConsumeCancel atomically reads and clears the cancellation flag, returning
// whether a cancellation was pending. Consuming guarantees a single request
// cancels at most one run.
func (c *Coordinator) ConsumeCancel(ctx context.Context, mapID string) (bool, error) {
	_, err := c.rdb.GetDel(ctx, cancelFlagKey(mapID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume cancellation flag: %w", err)
	}
	return true, nil
}

// documenterProgressTTL keeps stale counters from outliving a crashed run.
const documenterProgressTTL = 10 * time.Minute

func documenterTotalKey(connectionID string) string {
	return fmt.Sprintf("dbdocumenter:%s:total_tables", connectionID)
}

func documenterProcessedKey(connectionID string) string {
	return fmt.Sprintf("dbdocumenter:%s:processed_tables", connectionID)
}

// SetDocumenterProgress records the (processed, total) counters of a database
// documentation run so concurrent requests can surface it.
func (c *Coordinator) SetDocumenterProgress(ctx context.Context, connectionID string, processed, total int) error {
	if err := c.rdb.Set(ctx, documenterTotalKey(connectionID),
		fmt.Sprintf("%d", total), documenterProgressTTL).Err(); err != nil {
		return fmt.Errorf("failed to record documenter total: %w", err)
	}
	if err := c.rdb.Set(ctx, documenterProcessedKey(connectionID),
		fmt.Sprintf("%d", processed), documenterProgressTTL).Err(); err != nil {
		return fmt.Errorf("failed to record documenter progress: %w", err)
	}
	return nil
}

// DocumenterProgress reads the counters back as "processed/total", or ""
// when no run is in flight.
func (c *Coordinator) DocumenterProgress(ctx context.Context, connectionID string) (string, error) {
	total, err := c.rdb.Get(ctx, documenterTotalKey(connectionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read documenter total: %w", err)
	}
	processed, err := c.rdb.Get(ctx, documenterProcessedKey(connectionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read documenter progress: %w", err)
	}
	return processed + "/" + total, nil
}
