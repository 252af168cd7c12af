package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 3*time.Second, cfg.Payments.LockWait)
	assert.Equal(t, time.Minute, cfg.Payments.SweepInterval)
	assert.Equal(t, 15*time.Minute, cfg.Payments.AttemptTTL)
	assert.Equal(t, uint64(3), cfg.Gateways.MaxRetries)
}

func TestLoadRejectsInvalidDurations(t *testing.T) {
	t.Setenv("SWEEP_INTERVAL_SECONDS", "0")
	t.Setenv("LOCK_WAIT_MS", "soon")
	t.Setenv("PAYMENT_TIMEOUT_SECONDS", "-5")
	t.Setenv("GATEWAY_TIMEOUT_MS", "250")
	t.Setenv("GATEWAY_MAX_RETRIES", "many")

	cfg := Load()

	assert.Equal(t, time.Minute, cfg.Payments.SweepInterval)
	assert.Equal(t, 3*time.Second, cfg.Payments.LockWait)
	assert.Equal(t, 15*time.Minute, cfg.Payments.AttemptTTL)
	assert.Equal(t, 250*time.Millisecond, cfg.Gateways.Timeout)
	assert.Equal(t, uint64(3), cfg.Gateways.MaxRetries)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, splitList(" a:9092, ,b:9092 "))
	assert.Empty(t, splitList(""))
}
