package hsp

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/agentnetio/agentnet/types"
)

// =============================================================================
// 🚇 传输层
// =============================================================================

// Handler consumes a raw message delivered on a topic. Handlers on the same
// subscription run sequentially in receipt order.
type Handler func(topic string, payload []byte)

// Subscription is an active topic subscription.
type Subscription interface {
	// Topic returns the subscribed topic.
	Topic() string
	// Close tears the subscription down and stops its dispatch goroutine.
	Close() error
}

// Transport 是 broker 抽象: 连接器只依赖 Publish/Subscribe, 不关心底层 broker。
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)
	Close() error
}

// TransportConfig Redis 传输配置
type TransportConfig struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// 建立连接的超时
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
}

// DefaultTransportConfig 返回默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
	}
}

// RedisTransport 基于 Redis pub/sub 的 Transport 实现
type RedisTransport struct {
	client *redis.Client
	logger *zap.Logger

	mu     sync.Mutex
	subs   []*redisSubscription
	closed bool
}

// NewRedisTransport 创建 Redis 传输并验证连接
func NewRedisTransport(config TransportConfig, logger *zap.Logger) (*RedisTransport, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	})

	// 测试连接
	dialTimeout := config.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, types.NewNetworkError("failed to connect to redis", err)
	}

	logger.Info("transport connected",
		zap.String("addr", config.Addr),
		zap.Int("pool_size", config.PoolSize),
	)

	return &RedisTransport{
		client: client,
		logger: logger.With(zap.String("component", "transport")),
	}, nil
}

// Publish 发布消息到指定主题
func (t *RedisTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return types.NewNetworkError("transport is closed", nil)
	}

	if err := t.client.Publish(ctx, topic, payload).Err(); err != nil {
		t.logger.Error("publish failed", zap.String("topic", topic), zap.Error(err))
		return types.NewNetworkError("publish failed", err)
	}
	return nil
}

// Subscribe 订阅主题; 每个订阅由单独的 goroutine 按接收顺序派发。
func (t *RedisTransport) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, types.NewNetworkError("transport is closed", nil)
	}

	pubsub := t.client.Subscribe(ctx, topic)
	// Receive 确认订阅已生效, 避免订阅与首条消息竞争。
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, types.NewNetworkError("subscribe failed", err)
	}

	sub := &redisSubscription{
		topic:  topic,
		pubsub: pubsub,
	}
	t.subs = append(t.subs, sub)

	go func() {
		for msg := range pubsub.Channel() {
			handler(msg.Channel, []byte(msg.Payload))
		}
	}()

	t.logger.Debug("subscribed", zap.String("topic", topic))
	return sub, nil
}

// Close 关闭传输及所有订阅
func (t *RedisTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	for _, sub := range t.subs {
		sub.Close()
	}
	t.subs = nil

	t.logger.Info("closing transport")
	return t.client.Close()
}

type redisSubscription struct {
	topic     string
	pubsub    *redis.PubSub
	closeOnce sync.Once
	closeErr  error
}

func (s *redisSubscription) Topic() string { return s.topic }

func (s *redisSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.pubsub.Close()
	})
	return s.closeErr
}
