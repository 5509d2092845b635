// Package retry wraps remote calls with bounded retries, exponential backoff
// and an optional minimum-interval rate limiter shared by every call an
// engine issues.
package retry

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/bundlehub/internal/apperr"
)

// permanentError 标记不应重试的失败。
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent 包装 err，使 Do 立即返回而不再重试；Do 返回的是原始 err。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Policy 描述重试次数与退避参数。Attempts 为首次调用之外的额外重试次数。
type Policy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultPolicy 返回 3 次重试、1s 起步、30s 封顶的默认策略。
func DefaultPolicy() Policy {
	return Policy{
		Attempts:     3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// Executor 执行带退避的调用。零值不可用，请使用 NewExecutor。
type Executor struct {
	policy  Policy
	limiter *RateLimiter
	logger  *logrus.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	onRetry func(attempt int, err error)
}

// Option 调整 Executor 的可选行为（主要用于测试与指标挂钩）。
type Option func(*Executor)

// WithSleep 替换退避等待函数。
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// WithRetryHook 在每次失败且即将重试时回调。
func WithRetryHook(fn func(attempt int, err error)) Option {
	return func(e *Executor) {
		e.onRetry = fn
	}
}

// NewExecutor 构造 Executor，limiter 可为 nil 表示不限速。
func NewExecutor(policy Policy, limiter *RateLimiter, logger *logrus.Logger, opts ...Option) *Executor {
	if policy.Attempts < 0 {
		policy.Attempts = 0
	}
	if policy.MaxDelay < policy.InitialDelay {
		policy.MaxDelay = policy.InitialDelay
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	e := &Executor{
		policy:  policy,
		limiter: limiter,
		logger:  logger,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy 返回生效的重试策略。
func (e *Executor) Policy() Policy {
	return e.policy
}

// Do 执行 op：成功立即返回；失败且仍有剩余次数时等待 delay，随后 delay 翻倍（不超过
// MaxDelay）并重试；最后一次失败的错误原样返回。限速器在包括首次在内的每次尝试前生效。
func Do[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := e.policy.Attempts + 1
	delay := e.policy.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, apperr.Wrap(apperr.KindNetwork, err, "request cancelled")
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return zero, apperr.Wrap(apperr.KindNetwork, err, "rate limiter wait cancelled")
			}
		}

		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		var permanent *permanentError
		if errors.As(err, &permanent) {
			return zero, permanent.err
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}

		e.logger.WithFields(logrus.Fields{
			"action":       "retry",
			"attempt":      attempt,
			"max_attempts": maxAttempts,
			"delay":        delay.String(),
		}).WithError(err).Warn("remote_call_failed_retrying")
		if e.onRetry != nil {
			e.onRetry(attempt, err)
		}

		if err := e.sleep(ctx, delay); err != nil {
			return zero, apperr.Wrap(apperr.KindNetwork, err, "retry backoff cancelled")
		}
		delay = nextDelay(delay, e.policy.MaxDelay)
	}
	return zero, lastErr
}

func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if next < current || next > max {
		return max
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
