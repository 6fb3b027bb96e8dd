package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gbimatch/matchmaker/internal/config"
)

type RedisCache struct {
	Client *redis.Client
}

// NewRedisCache initializes Redis client from config.
// Only Addr is mandatory, Password/DB are optional.
func NewRedisCache(cfg *config.Config) *RedisCache {
	opts := &redis.Options{
		Addr: cfg.Redis.Addr,
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB != 0 {
		opts.DB = cfg.Redis.DB
	}
	return &RedisCache{Client: redis.NewClient(opts)}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.Client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.Client.Get(ctx, key).Result()
}

func (c *RedisCache) Del(ctx context.Context, key string) error {
	return c.Client.Del(ctx, key).Err()
}

func (c *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	return c.Client.Incr(ctx, key).Result()
}

func (c *RedisCache) Decr(ctx context.Context, key string) (int64, error) {
	return c.Client.Decr(ctx, key).Result()
}

// --- like counters ---

// KeyForLikeCount generates the Redis key for a user's received-like count.
func (c *RedisCache) KeyForLikeCount(userID uint64) string {
	return fmt.Sprintf("likes:count:%d", userID)
}

func (c *RedisCache) UpdateLikeCount(ctx context.Context, userID uint64, count int64) error {
	// Always refresh TTL when updating
	return c.Client.Set(ctx, c.KeyForLikeCount(userID), count, time.Hour).Err()
}

func (c *RedisCache) GetLikeCount(ctx context.Context, userID uint64) (int64, error) {
	key := c.KeyForLikeCount(userID)
	val, err := c.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil // cache miss
	} else if err != nil {
		return 0, err
	}
	// refresh TTL on access
	_ = c.Client.Expire(ctx, key, time.Hour).Err()
	return strconv.ParseInt(val, 10, 64)
}

// --- session state ---

func keyForSession(userID uint64) string {
	return fmt.Sprintf("session:state:%d", userID)
}

// SaveSession persists a user's serialized conversation state.
func (c *RedisCache) SaveSession(ctx context.Context, userID uint64, state []byte, ttl time.Duration) error {
	return c.Client.Set(ctx, keyForSession(userID), state, ttl).Err()
}

// LoadSession returns the serialized conversation state, or (nil, nil) when
// none is stored. State loss is recoverable, never an error for the caller.
func (c *RedisCache) LoadSession(ctx context.Context, userID uint64) ([]byte, error) {
	val, err := c.Client.Get(ctx, keyForSession(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

func (c *RedisCache) DeleteSession(ctx context.Context, userID uint64) error {
	return c.Client.Del(ctx, keyForSession(userID)).Err()
}

// --- pending notifications and delivery outbox ---
//
// Pending notifications are drained by the session engine at the next safe
// transition point. The outbox is drained by the presentation layer and holds
// relayed chat messages.

func keyForPending(userID uint64) string {
	return fmt.Sprintf("notify:pending:%d", userID)
}

func keyForOutbox(userID uint64) string {
	return fmt.Sprintf("outbox:%d", userID)
}

func (c *RedisCache) PushPending(ctx context.Context, userID uint64, payload []byte, ttl time.Duration) error {
	return c.pushQueue(ctx, keyForPending(userID), payload, ttl)
}

func (c *RedisCache) DrainPending(ctx context.Context, userID uint64) ([][]byte, error) {
	return c.drainQueue(ctx, keyForPending(userID))
}

func (c *RedisCache) PushOutbox(ctx context.Context, userID uint64, payload []byte, ttl time.Duration) error {
	return c.pushQueue(ctx, keyForOutbox(userID), payload, ttl)
}

func (c *RedisCache) DrainOutbox(ctx context.Context, userID uint64) ([][]byte, error) {
	return c.drainQueue(ctx, keyForOutbox(userID))
}

func (c *RedisCache) pushQueue(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	pipe := c.Client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// drainQueue atomically reads and clears a queue.
func (c *RedisCache) drainQueue(ctx context.Context, key string) ([][]byte, error) {
	pipe := c.Client.TxPipeline()
	rangeCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	vals, err := rangeCmd.Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}
