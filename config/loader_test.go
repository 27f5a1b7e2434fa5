package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.Broker.Addr)
	assert.Equal(t, 0.5, cfg.Trust.DefaultScore)
	assert.Equal(t, 5, cfg.Breaker.Threshold)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Registry.InactivityTTL)
	assert.Equal(t, 0.1, cfg.Memory.EvictionThreshold)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.Broker.Addr)
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := writeConfigFile(t, `
node:
  agent_id: ai_7
  agent_name: translator
broker:
  addr: redis.internal:6380
  db: 2
trust:
  default_score: 0.6
breaker:
  threshold: 8
  recovery_timeout: 2m
retry:
  max_attempts: 5
  backoff_factor: 1.5
  max_delay: 30s
registry:
  inactivity_ttl: 90s
memory:
  path: /var/lib/agentnet/ham.json
  eviction_threshold: 0.2
log:
  level: debug
  format: console
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "ai_7", cfg.Node.AgentID)
	assert.Equal(t, "redis.internal:6380", cfg.Broker.Addr)
	assert.Equal(t, 2, cfg.Broker.DB)
	assert.Equal(t, 0.6, cfg.Trust.DefaultScore)
	assert.Equal(t, 8, cfg.Breaker.Threshold)
	assert.Equal(t, 2*time.Minute, cfg.Breaker.RecoveryTimeout)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 1.5, cfg.Retry.BackoffFactor)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 90*time.Second, cfg.Registry.InactivityTTL)
	assert.Equal(t, "/var/lib/agentnet/ham.json", cfg.Memory.Path)
	assert.Equal(t, 0.2, cfg.Memory.EvictionThreshold)
	assert.Equal(t, "debug", cfg.Log.Level)
	// 未覆盖的字段保持默认值
	assert.Equal(t, 10*time.Second, cfg.Bus.AckTimeout)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "node: [unclosed")

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("AGENTNET_NODE_AGENT_ID", "ai_env")
	t.Setenv("AGENTNET_BROKER_ADDR", "env-redis:6379")
	t.Setenv("AGENTNET_BREAKER_RECOVERY_TIMEOUT", "45s")
	t.Setenv("AGENTNET_TRUST_DEFAULT_SCORE", "0.7")
	t.Setenv("AGENTNET_METRICS_ENABLED", "false")
	t.Setenv("AGENTNET_LOG_OUTPUT_PATHS", "stdout, /var/log/agentnet.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "ai_env", cfg.Node.AgentID)
	assert.Equal(t, "env-redis:6379", cfg.Broker.Addr)
	assert.Equal(t, 45*time.Second, cfg.Breaker.RecoveryTimeout)
	assert.Equal(t, 0.7, cfg.Trust.DefaultScore)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, []string{"stdout", "/var/log/agentnet.log"}, cfg.Log.OutputPaths)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "broker:\n  addr: file-redis:6379\n")
	t.Setenv("AGENTNET_BROKER_ADDR", "env-redis:6379")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "env-redis:6379", cfg.Broker.Addr)
}

func TestEnvInvalidValueRejected(t *testing.T) {
	t.Setenv("AGENTNET_BREAKER_THRESHOLD", "not-a-number")

	_, err := NewLoader().Load()
	require.Error(t, err)
}

func TestCustomEnvPrefix(t *testing.T) {
	t.Setenv("CUSTOM_NODE_AGENT_ID", "ai_custom")

	cfg, err := NewLoader().WithEnvPrefix("CUSTOM").Load()
	require.NoError(t, err)
	assert.Equal(t, "ai_custom", cfg.Node.AgentID)
}

func TestLoaderRunsValidators(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error { return assert.AnError }).
		Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "default config is valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing agent id",
			mutate:  func(c *Config) { c.Node.AgentID = "" },
			wantErr: "agent_id",
		},
		{
			name:    "missing broker addr",
			mutate:  func(c *Config) { c.Broker.Addr = "" },
			wantErr: "broker addr",
		},
		{
			name:    "default trust score outside bounds",
			mutate:  func(c *Config) { c.Trust.DefaultScore = 1.5 },
			wantErr: "default_score",
		},
		{
			name:    "non-positive breaker threshold",
			mutate:  func(c *Config) { c.Breaker.Threshold = 0 },
			wantErr: "threshold",
		},
		{
			name:    "non-positive retry attempts",
			mutate:  func(c *Config) { c.Retry.MaxAttempts = 0 },
			wantErr: "max_attempts",
		},
		{
			name:    "backoff factor below one",
			mutate:  func(c *Config) { c.Retry.BackoffFactor = 0.5 },
			wantErr: "backoff_factor",
		},
		{
			name:    "eviction threshold out of range",
			mutate:  func(c *Config) { c.Memory.EvictionThreshold = 1 },
			wantErr: "eviction_threshold",
		},
		{
			name:    "non-positive inactivity ttl",
			mutate:  func(c *Config) { c.Registry.InactivityTTL = 0 },
			wantErr: "inactivity_ttl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestMustLoadPanicsOnBadConfig(t *testing.T) {
	path := writeConfigFile(t, "broker: [bad")
	assert.Panics(t, func() { MustLoad(path) })
}
