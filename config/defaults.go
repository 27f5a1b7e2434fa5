// =============================================================================
// 📦 AgentNet 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Node:     DefaultNodeConfig(),
		Broker:   DefaultBrokerConfig(),
		Bus:      DefaultBusConfig(),
		Trust:    DefaultTrustConfig(),
		Breaker:  DefaultBreakerConfig(),
		Retry:    DefaultRetryConfig(),
		Registry: DefaultRegistryConfig(),
		Memory:   DefaultMemoryConfig(),
		Log:      DefaultLogConfig(),
		Metrics:  DefaultMetricsConfig(),
	}
}

// DefaultNodeConfig 返回默认节点配置
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		AgentID:   "agentnet-node",
		AgentName: "AgentNet node",
	}
}

// DefaultBrokerConfig 返回默认代理配置
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
	}
}

// DefaultBusConfig 返回默认连接器配置
func DefaultBusConfig() BusConfig {
	return BusConfig{
		AckTimeout:   10 * time.Second,
		PublishRate:  100,
		PublishBurst: 20,
	}
}

// DefaultTrustConfig 返回默认信任配置
func DefaultTrustConfig() TrustConfig {
	return TrustConfig{
		DefaultScore: 0.5,
		MinScore:     0.0,
		MaxScore:     1.0,
	}
}

// DefaultBreakerConfig 返回默认熔断器配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:       5,
		RecoveryTimeout: 300 * time.Second,
	}
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		BackoffFactor: 2.0,
		MaxDelay:      60 * time.Second,
	}
}

// DefaultRegistryConfig 返回默认注册表配置
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		InactivityTTL: 5 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// DefaultMemoryConfig 返回默认记忆存储配置
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Path:              "data/ham.json",
		KeyEnv:            "AGENTNET_MEMORY_KEY",
		EvictionThreshold: 0.1,
		BaseInterval:      3600 * time.Second,
		MinInterval:       60 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Addr:      ":9091",
		Namespace: "agentnet",
	}
}
