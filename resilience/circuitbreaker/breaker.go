package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentnetio/agentnet/types"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// Threshold 连续失败次数阈值（触发熔断）
	Threshold int

	// RecoveryTimeout 熔断恢复等待时间（从 Open -> HalfOpen）
	RecoveryTimeout time.Duration

	// OnStateChange 状态变更回调
	OnStateChange func(from State, to State)

	// now 用于测试，默认 time.Now
	now func() time.Time
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Threshold:       5,
		RecoveryTimeout: 300 * time.Second,
	}
}

// Breaker 熔断器
// 单实例内所有状态迁移都在互斥锁保护下进行
type Breaker struct {
	config *Config
	logger *zap.Logger

	mu              sync.Mutex
	state           State
	failureCount    int       // 连续失败次数
	lastFailureTime time.Time // 最后失败时间
}

// NewBreaker 创建熔断器
func NewBreaker(config *Config, logger *zap.Logger) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// 复制一份后再校验，避免修改调用方持有的配置
	cfg := *config
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 300 * time.Second
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	return &Breaker{
		config: &cfg,
		logger: logger,
		state:  StateClosed,
	}
}

// Call 执行调用，熔断器打开时快速失败且不调用 fn
func (b *Breaker) Call(ctx context.Context, fn func() error) error {
	_, err := b.CallWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

// CallWithResult 执行调用并返回结果
// 核心逻辑：状态机转换 + 失败计数
func (b *Breaker) CallWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := b.beforeCall(); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, types.NewNetworkError("call cancelled", err)
	}

	result, err := fn()

	// 协议类错误是调用方问题，不计入熔断失败
	success := err == nil || types.IsProtocolError(err)
	b.afterCall(success)

	if err != nil {
		return nil, err
	}
	return result, nil
}

// beforeCall 调用前检查
func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		// 恢复窗口过后进入半开状态，放行一次试探调用
		if b.config.now().Sub(b.lastFailureTime) > b.config.RecoveryTimeout {
			b.setState(StateHalfOpen)
			b.logger.Info("熔断器进入半开状态")
			return nil
		}
		return types.NewError(types.ErrCircuitOpen, "circuit breaker is open")

	case StateHalfOpen:
		return nil

	default:
		return types.NewError(types.ErrInternal, "unknown breaker state")
	}
}

// afterCall 调用后处理
func (b *Breaker) afterCall(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

// onSuccess 处理成功调用
func (b *Breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failureCount = 0

	case StateHalfOpen:
		// 试探成功，恢复到关闭状态
		b.logger.Info("熔断器恢复正常")
		b.setState(StateClosed)
		b.failureCount = 0

	case StateOpen:
		// 打开状态不应该有调用
		b.logger.Warn("熔断器打开状态收到成功响应")
	}
}

// onFailure 处理失败调用
func (b *Breaker) onFailure() {
	b.failureCount++
	b.lastFailureTime = b.config.now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.Threshold {
			b.logger.Warn("熔断器打开",
				zap.Int("failure_count", b.failureCount),
				zap.Int("threshold", b.config.Threshold),
			)
			b.setState(StateOpen)
		}

	case StateHalfOpen:
		// 试探失败，重新打开
		b.logger.Warn("熔断器半开状态失败，重新打开")
		b.setState(StateOpen)
	}
}

// setState 设置状态并触发回调
func (b *Breaker) setState(newState State) {
	oldState := b.state
	b.state = newState

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, newState)
	}
}

// State 获取当前状态
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount 获取当前连续失败计数
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Reset 重置熔断器（手动恢复）
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState := b.state
	b.state = StateClosed
	b.failureCount = 0

	b.logger.Info("熔断器已重置", zap.String("from_state", oldState.String()))

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, StateClosed)
	}
}
