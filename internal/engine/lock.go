package engine

import (
	"context"
	"sync"
	"time"

	"github.com/any-hub/bundlehub/internal/apperr"
)

// lockManager 以 key 集合表示正在进行的下载。获取失败时按 poll 间隔轮询，
// 每轮先检查 ready 以便在其他 goroutine 完成下载后直接返回。
type lockManager struct {
	poll        time.Duration
	maxAttempts int

	mu   sync.Mutex
	held map[string]struct{}

	sleep func(ctx context.Context, d time.Duration) error
}

func newLockManager(poll, timeout time.Duration) *lockManager {
	m := &lockManager{
		poll:  poll,
		held:  make(map[string]struct{}),
		sleep: sleepContext,
	}
	if poll > 0 && timeout > 0 {
		m.maxAttempts = int(timeout / poll)
	}
	if m.poll < time.Millisecond {
		m.poll = time.Millisecond
	}
	return m
}

// acquire 获取 key。返回 done=true 表示 ready 已满足，调用方无需再持锁；
// 否则返回 release，必须在所有退出路径上调用。ready 总在 m.mu 下求值，
// 因此不会与其他调用方的获取或释放交错。
func (m *lockManager) acquire(ctx context.Context, key string, ready func() bool) (release func(), done bool, err error) {
	waited := 0
	for {
		m.mu.Lock()
		if ready != nil && ready() {
			m.mu.Unlock()
			return nil, true, nil
		}
		if _, busy := m.held[key]; !busy {
			m.held[key] = struct{}{}
			m.mu.Unlock()
			return m.releaseFunc(key), false, nil
		}
		m.mu.Unlock()

		if m.maxAttempts > 0 {
			if waited >= m.maxAttempts {
				return nil, false, apperr.New(apperr.KindTimeout,
					"timeout waiting for download of %s; another caller may have stalled", key)
			}
			waited++
		}

		if err := m.sleep(ctx, m.poll); err != nil {
			return nil, false, apperr.Wrap(apperr.KindNetwork, err, "waiting for download of %s cancelled", key)
		}
	}
}

func (m *lockManager) releaseFunc(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}
}

// isHeld 报告 key 当前是否被持有。
func (m *lockManager) isHeld(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
