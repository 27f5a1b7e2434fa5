package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/agentnetio/agentnet/types"
)

// Policy 定义重试策略配置
// 遵循 KISS 原则：简单但功能完整的重试策略
type Policy struct {
	MaxAttempts   int                                               // 最大尝试次数（包含首次调用）
	BackoffFactor float64                                           // 退避基数：第 i 次重试前等待 BackoffFactor^(i-1) 秒
	MaxDelay      time.Duration                                     // 单次退避的最大延迟
	Jitter        bool                                              // 是否添加随机抖动（防止雪崩）
	OnRetry       func(attempt int, err error, delay time.Duration) // 重试回调
}

// DefaultPolicy 返回默认的重试策略
// 适用于大部分 HSP 出站发布场景
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:   3,
		BackoffFactor: 2.0,
		MaxDelay:      60 * time.Second,
		Jitter:        true,
	}
}

// Retryer 重试器接口
// 提供统一的重试能力
type Retryer interface {
	// Do 执行函数，瞬态失败时根据策略重试
	Do(ctx context.Context, fn func() error) error

	// DoWithResult 执行函数并返回结果，瞬态失败时根据策略重试
	DoWithResult(ctx context.Context, fn func() (any, error)) (any, error)
}

// backoffRetryer 基于指数退避的重试器实现
type backoffRetryer struct {
	policy *Policy
	logger *zap.Logger
}

// NewRetryer 创建指数退避重试器
func NewRetryer(policy *Policy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// 复制一份后再校验，避免修改调用方持有的策略
	p := *policy
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BackoffFactor <= 1.0 {
		p.BackoffFactor = 2.0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 60 * time.Second
	}

	return &backoffRetryer{
		policy: &p,
		logger: logger,
	}
}

// Do 实现 Retryer.Do
func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

// DoWithResult 实现 Retryer.DoWithResult
// 核心重试逻辑：指数退避 + 随机抖动 + 错误分类
// 只有网络类（瞬态）错误会被重试；协议类错误立即向上传播
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	var lastErr error
	var result any

	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		// 第一次执行不延迟
		if attempt > 0 {
			delay := r.calculateDelay(attempt - 1)

			r.logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			// 等待延迟，同时监听 context 取消
			select {
			case <-ctx.Done():
				return nil, types.NewNetworkError("retry cancelled", ctx.Err())
			case <-time.After(delay):
			}
		}

		result, lastErr = fn()

		// 成功，直接返回
		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("重试成功", zap.Int("attempt", attempt))
			}
			return result, nil
		}

		// 协议类等非瞬态错误不可重试，立即传播
		if !types.IsRetryable(lastErr) {
			r.logger.Debug("错误不可重试", zap.Error(lastErr))
			return nil, lastErr
		}
	}

	// 所有尝试都失败了
	r.logger.Warn("重试次数耗尽",
		zap.Int("attempts", r.policy.MaxAttempts),
		zap.Error(lastErr),
	)

	return nil, types.NewError(types.ErrRetriesExhausted, "all attempts failed").WithCause(lastErr)
}

// calculateDelay 计算指数退避延迟
// delay = min(MaxDelay, BackoffFactor^exponent 秒)，可选 ±25% 抖动
// 首次重试 exponent 为 0，即等待 1 秒
func (r *backoffRetryer) calculateDelay(exponent int) time.Duration {
	delay := math.Pow(r.policy.BackoffFactor, float64(exponent)) * float64(time.Second)

	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	// 添加随机抖动（±25%）
	// 目的：防止多个客户端同时重试导致的雪崩效应
	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
		if delay > float64(r.policy.MaxDelay) {
			delay = float64(r.policy.MaxDelay)
		}
	}

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}
