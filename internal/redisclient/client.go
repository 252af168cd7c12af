package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"design-service/internal/models"
	"design-service/internal/util"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// TryLock sets the lock key if absent and returns the owner token on success
func (c *Client) TryLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Unlock deletes the lock only if token still owns it
func (c *Client) Unlock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}

// Locker is a distributed per-target lock. TTL bounds how long a crashed
// holder can block a target; wait bounds how long a caller polls for it.
type Locker struct {
	client *Client
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
	logger *zap.Logger
}

// NewLocker creates a Redis-backed locker
func NewLocker(client *Client, ttl, wait time.Duration) *Locker {
	return &Locker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		poll:   50 * time.Millisecond,
		logger: util.GetLogger(),
	}
}

// Acquire polls SETNX until the lock is granted or the wait bound elapses
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	deadline := start.Add(l.wait)
	defer func() { util.LockWaitLatency.Observe(time.Since(start).Seconds()) }()

	for {
		token, ok, err := l.client.TryLock(ctx, key, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return func() {
				// release must not depend on the caller's possibly cancelled context
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := l.client.Unlock(ctx, key, token); err != nil {
					l.logger.Error("Failed to release lock", zap.String("key", key), zap.Error(err))
				}
			}, nil
		}

		if time.Now().Add(l.poll).After(deadline) {
			util.LockBusyTotal.Inc()
			return nil, models.ErrBusy
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}
