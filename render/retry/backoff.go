package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// Policy 定义确定性的指数退避策略
// 不加抖动：1s, 2s, 4s ... 的等待序列必须可被测试精确观察
type Policy struct {
	MaxAttempts  int                                               // 最大尝试次数（含首次）
	InitialDelay time.Duration                                     // 首次等待
	MaxDelay     time.Duration                                     // 等待上限
	Multiplier   float64                                           // 倍增因子
	Retryable    func(err error) bool                              // 为空则所有错误都可重试
	OnRetry      func(attempt int, err error, delay time.Duration) // 重试回调
}

// DefaultPolicy 返回默认策略：3 次尝试，1 秒起步，每次翻倍，上限 30 秒
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// normalize 参数校验
func (p *Policy) normalize() {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
}

// Delay 返回第 n 次等待的时长（n 从 1 开始）
// delay = initial * multiplier^(n-1)，不超过 MaxDelay
func (p *Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(n-1))
	if delay > float64(p.MaxDelay) || math.IsInf(delay, 0) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Schedule 返回两次尝试之间的全部等待序列（长度为 MaxAttempts-1）
func (p *Policy) Schedule() []time.Duration {
	out := make([]time.Duration, 0, p.MaxAttempts)
	for n := 1; n < p.MaxAttempts; n++ {
		out = append(out, p.Delay(n))
	}
	return out
}

// Sleeper 在 ctx 取消时提前返回
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext 是默认 Sleeper：非阻塞调用方，仅挂起当前 goroutine
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ErrExhausted 所有尝试都失败
var ErrExhausted = errors.New("retry attempts exhausted")

// Retryer 顺序执行尝试，绝不并发扇出
type Retryer struct {
	policy *Policy
	logger *zap.Logger
	sleep  Sleeper
}

// Option 配置 Retryer
type Option func(*Retryer)

// WithSleeper 替换等待实现（测试中用于记录等待序列）
func WithSleeper(s Sleeper) Option {
	return func(r *Retryer) {
		if s != nil {
			r.sleep = s
		}
	}
}

// New 创建重试器
func New(policy *Policy, logger *zap.Logger, opts ...Option) *Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	p := *policy
	p.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Retryer{policy: &p, logger: logger, sleep: SleepContext}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy 返回生效中的策略副本
func (r *Retryer) Policy() Policy {
	return *r.policy
}

// Do 执行 fn，失败时按策略等待后重试
// 返回实际尝试次数；全部失败时错误包装 ErrExhausted 与最后一次错误
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		// 第一次执行不延迟
		if attempt > 1 {
			delay := r.policy.Delay(attempt - 1)

			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			if err := r.sleep(ctx, delay); err != nil {
				return attempt - 1, fmt.Errorf("retry cancelled: %w", err)
			}
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			if attempt > 1 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return attempt, nil
		}

		if r.policy.Retryable != nil && !r.policy.Retryable(lastErr) {
			r.logger.Debug("error not retryable", zap.Error(lastErr))
			return attempt, lastErr
		}
	}

	r.logger.Warn("retry attempts exhausted",
		zap.Int("attempts", r.policy.MaxAttempts),
		zap.Error(lastErr),
	)

	return r.policy.MaxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, r.policy.MaxAttempts, lastErr)
}
