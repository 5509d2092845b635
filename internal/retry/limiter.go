package retry

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter 保证相邻两次远端调用之间至少间隔 minInterval（令牌桶容量为 1）。
type RateLimiter struct {
	minInterval time.Duration
	limiter     *rate.Limiter

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter 构造限速器；minInterval <= 0 时返回 nil，调用方据此跳过限速。
func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	if minInterval <= 0 {
		return nil
	}
	return &RateLimiter{
		minInterval: minInterval,
		limiter:     rate.NewLimiter(rate.Every(minInterval), 1),
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// MinInterval returns the configured spacing between calls.
func (l *RateLimiter) MinInterval() time.Duration {
	if l == nil {
		return 0
	}
	return l.minInterval
}

// Wait 预约一个令牌并等待到可执行时刻；ctx 取消时归还预约。
func (l *RateLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	now := l.now()
	reservation := l.limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	if err := l.sleep(ctx, delay); err != nil {
		reservation.CancelAt(l.now())
		return err
	}
	return nil
}
