package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"design-service/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *Client {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires redis")
	}
	c, err := NewClient(addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestTryLockAndUnlock(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	key := "test:" + uuid.New().String()

	token, ok, err := c.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	// a stale token cannot release someone else's lock
	require.NoError(t, c.Unlock(ctx, key, "not-the-owner"))
	_, ok, err = c.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Unlock(ctx, key, token))
	_, ok, err = c.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockerBusy(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	key := "set_design:" + uuid.New().String()

	locker := NewLocker(c, 5*time.Second, 120*time.Millisecond)

	release, err := locker.Acquire(ctx, key)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, key)
	assert.ErrorIs(t, err, models.ErrBusy)

	release()
	again, err := locker.Acquire(ctx, key)
	require.NoError(t, err)
	again()
}
