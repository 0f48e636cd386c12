// Package retry 提供带抖动的指数退避重试器。
// 错误分类通过 Temporary() 接口断言完成，未知错误默认视为瞬时故障。
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy 定义退避参数。零值无意义，请从 DefaultPolicy 出发调整。
type Policy struct {
	MaxRetries   int           // 最大重试次数（不含首次调用）
	InitialDelay time.Duration // 首次重试前的等待
	MaxDelay     time.Duration // 单次等待上限
	Multiplier   float64       // 每轮放大倍数
	Jitter       float64       // 抖动比例，0.25 表示 ±25%
}

// DefaultPolicy 与上游嵌入/补全调用的默认口径一致：
// 最多 12 次重试，500ms 起步，封顶 30s。
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   12,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.25,
	}
}

// temporary 匹配自带可重试标志的错误（如 llm.Error）。
type temporary interface {
	Temporary() bool
}

// IsRetryable 判定 err 是否值得重试。context 取消/超时永不重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true
}

// Retryer 按 Policy 执行函数直到成功或重试耗尽。
type Retryer struct {
	policy Policy
	logger *zap.Logger
}

// New 创建重试器。logger 为 nil 时使用 Nop。
func New(policy Policy, logger *zap.Logger) *Retryer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 2.0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 500 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	return &Retryer{policy: policy, logger: logger}
}

// Do 重试无返回值的操作。
func (r *Retryer) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := DoWithResult(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoWithResult 重试带返回值的操作，返回最后一次的结果与错误。
func DoWithResult[T any](ctx context.Context, r *Retryer, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	delay := r.policy.InitialDelay

	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) || attempt >= r.policy.MaxRetries {
			return zero, err
		}

		wait := jitter(delay, r.policy.Jitter)
		r.logger.Warn("operation failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * r.policy.Multiplier)
		if delay > r.policy.MaxDelay {
			delay = r.policy.MaxDelay
		}
	}
}

// jitter 在 ±fraction 范围内扰动 d，避免重试风暴同步。
func jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	delta := float64(d) * fraction
	return time.Duration(float64(d) - delta + rand.Float64()*2*delta)
}
