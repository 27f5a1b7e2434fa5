package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestDefaultSections(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "agentnet-node", cfg.Node.AgentID)
	assert.Equal(t, "localhost:6379", cfg.Broker.Addr)
	assert.Equal(t, 10, cfg.Broker.PoolSize)
	assert.Equal(t, 10*time.Second, cfg.Bus.AckTimeout)
	assert.Equal(t, 100.0, cfg.Bus.PublishRate)
	assert.Equal(t, 0.5, cfg.Trust.DefaultScore)
	assert.Equal(t, 0.0, cfg.Trust.MinScore)
	assert.Equal(t, 1.0, cfg.Trust.MaxScore)
	assert.Equal(t, 5, cfg.Breaker.Threshold)
	assert.Equal(t, 300*time.Second, cfg.Breaker.RecoveryTimeout)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2.0, cfg.Retry.BackoffFactor)
	assert.Equal(t, 60*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 5*time.Minute, cfg.Registry.InactivityTTL)
	assert.Equal(t, time.Minute, cfg.Registry.SweepInterval)
	assert.Equal(t, 0.1, cfg.Memory.EvictionThreshold)
	assert.Equal(t, "AGENTNET_MEMORY_KEY", cfg.Memory.KeyEnv)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "agentnet", cfg.Metrics.Namespace)
}
