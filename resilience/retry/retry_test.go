package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentnetio/agentnet/types"
)

func testPolicy() *Policy {
	return &Policy{
		MaxAttempts:   3,
		BackoffFactor: 2.0,
		MaxDelay:      10 * time.Millisecond,
		Jitter:        false,
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 2.0, p.BackoffFactor)
	assert.Equal(t, 60*time.Second, p.MaxDelay)
	assert.True(t, p.Jitter)
}

func TestNewRetryer_ValidatesPolicy(t *testing.T) {
	r := NewRetryer(&Policy{MaxAttempts: -1, BackoffFactor: 0.5, MaxDelay: -time.Second}, zap.NewNop())
	br := r.(*backoffRetryer)
	assert.Equal(t, 3, br.policy.MaxAttempts)
	assert.Equal(t, 2.0, br.policy.BackoffFactor)
	assert.Equal(t, 60*time.Second, br.policy.MaxDelay)
}

func TestNewRetryer_DoesNotMutateCallerPolicy(t *testing.T) {
	p := &Policy{MaxAttempts: -1, BackoffFactor: 0.5, MaxDelay: -time.Second}
	NewRetryer(p, zap.NewNop())

	// 校验只作用于内部副本，调用方持有的策略保持原样
	assert.Equal(t, -1, p.MaxAttempts)
	assert.Equal(t, 0.5, p.BackoffFactor)
	assert.Equal(t, -time.Second, p.MaxDelay)
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	r := NewRetryer(testPolicy(), zap.NewNop())

	var calls int32
	err := r.Do(context.Background(), func() error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(1), calls)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	r := NewRetryer(testPolicy(), zap.NewNop())

	var calls int32
	err := r.Do(context.Background(), func() error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return types.NewNetworkError("broker unavailable", nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls)
}

func TestDo_NeverExceedsMaxAttempts(t *testing.T) {
	r := NewRetryer(testPolicy(), zap.NewNop())

	var calls int32
	err := r.Do(context.Background(), func() error {
		atomic.AddInt32(&calls, 1)
		return types.NewNetworkError("timeout", nil)
	})

	require.Error(t, err)
	assert.Equal(t, int32(3), calls)
	assert.True(t, types.IsRetriesExhausted(err))

	// 聚合错误必须携带最后一次失败原因
	var terr *types.Error
	require.ErrorAs(t, err, &terr)
	require.NotNil(t, terr.Cause)
	assert.True(t, types.IsNetworkError(terr.Cause))
}

func TestDo_ExhaustedErrorKeepsFailureClass(t *testing.T) {
	p := &Policy{MaxAttempts: 2, BackoffFactor: 2.0, MaxDelay: 10 * time.Millisecond}
	r := NewRetryer(p, zap.NewNop())

	err := r.Do(context.Background(), func() error {
		return types.NewNetworkError("broker unavailable", nil)
	})

	require.Error(t, err)
	assert.True(t, types.IsRetriesExhausted(err))
	// 调用方按网络类错误处理耗尽错误，分类必须穿透聚合层
	assert.True(t, types.IsNetworkError(err))
	assert.False(t, types.IsProtocolError(err))
}

func TestDo_FirstRetryWaitsBaseDelay(t *testing.T) {
	p := &Policy{MaxAttempts: 3, BackoffFactor: 2.0, MaxDelay: time.Minute, Jitter: false}
	ctx, cancel := context.WithCancel(context.Background())

	var delays []time.Duration
	p.OnRetry = func(_ int, _ error, d time.Duration) {
		delays = append(delays, d)
		cancel() // 只关心首次退避，立即中止等待
	}
	r := NewRetryer(p, zap.NewNop())

	err := r.Do(ctx, func() error {
		return types.NewNetworkError("timeout", nil)
	})

	require.Error(t, err)
	// 首次退避为 BackoffFactor^0 = 1 秒
	assert.Equal(t, []time.Duration{time.Second}, delays)
}

func TestDo_ProtocolErrorNotRetried(t *testing.T) {
	r := NewRetryer(testPolicy(), zap.NewNop())

	var calls int32
	protoErr := types.NewProtocolError("malformed envelope", nil)
	err := r.Do(context.Background(), func() error {
		atomic.AddInt32(&calls, 1)
		return protoErr
	})

	require.Error(t, err)
	assert.Equal(t, int32(1), calls)
	assert.True(t, types.IsProtocolError(err))
}

func TestDo_PlainErrorNotRetried(t *testing.T) {
	r := NewRetryer(testPolicy(), zap.NewNop())

	var calls int32
	err := r.Do(context.Background(), func() error {
		atomic.AddInt32(&calls, 1)
		return errors.New("unclassified")
	})

	require.Error(t, err)
	assert.Equal(t, int32(1), calls)
}

func TestDo_ContextCancelAbortsBackoff(t *testing.T) {
	p := testPolicy()
	p.MaxDelay = 5 * time.Second
	p.BackoffFactor = 100 // 强制长退避
	r := NewRetryer(p, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())

	var calls int32
	done := make(chan error, 1)
	go func() {
		done <- r.Do(ctx, func() error {
			atomic.AddInt32(&calls, 1)
			return types.NewNetworkError("timeout", nil)
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not honour cancellation")
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	p := testPolicy()
	var seen []int
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		seen = append(seen, attempt)
	}
	r := NewRetryer(p, zap.NewNop())

	_ = r.Do(context.Background(), func() error {
		return types.NewNetworkError("timeout", nil)
	})

	assert.Equal(t, []int{1, 2}, seen)
}

func TestCalculateDelay_CappedAtMaxDelay(t *testing.T) {
	p := &Policy{MaxAttempts: 10, BackoffFactor: 2.0, MaxDelay: 3 * time.Second, Jitter: false}
	r := NewRetryer(p, zap.NewNop()).(*backoffRetryer)

	assert.Equal(t, 2*time.Second, r.calculateDelay(1))
	assert.Equal(t, 3*time.Second, r.calculateDelay(2)) // 4s capped to 3s
	assert.Equal(t, 3*time.Second, r.calculateDelay(9))
}

func TestCalculateDelay_JitterStaysWithinCap(t *testing.T) {
	p := &Policy{MaxAttempts: 5, BackoffFactor: 2.0, MaxDelay: time.Second, Jitter: true}
	r := NewRetryer(p, zap.NewNop()).(*backoffRetryer)

	for i := 1; i < 5; i++ {
		for trial := 0; trial < 50; trial++ {
			d := r.calculateDelay(i)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, time.Second)
		}
	}
}

func TestDoWithResult_ReturnsValue(t *testing.T) {
	r := NewRetryer(testPolicy(), zap.NewNop())

	got, err := r.DoWithResult(context.Background(), func() (any, error) {
		return "payload", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "payload", got)
}
