// internal/pkg/lock/lock.go
package lock

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"couponhub/internal/pkg/logger"
)

// ErrLockAcquisitionFailed 表示在等待超时内没有抢到锁。
var ErrLockAcquisitionFailed = errors.New("lock acquisition failed")

// Handle 代表一次成功的加锁。Release 必须幂等，
// 且只有当前持有者才能真正解锁（租约过期后锁可能已易主）。
type Handle interface {
	Release(ctx context.Context) error
}

// Locker 是跨进程互斥原语的抽象，按任意字符串 key 加锁。
// wait 是抢锁的最长等待时间，lease 是持有租约的上限，
// 持有者崩溃后租约到期锁自动释放，避免无限饥饿。
type Locker interface {
	Acquire(ctx context.Context, key string, wait, lease time.Duration) (Handle, error)
}

// WithLock 在持有分布式锁的情况下执行 fn。
// 对应注解式锁切面的显式写法：调用方直接传入算好的 key，
// 抢锁失败时返回带 failureMessage 的 ErrLockAcquisitionFailed。
func WithLock(ctx context.Context, locker Locker, key string, wait, lease time.Duration, failureMessage string, fn func(ctx context.Context) error) error {
	handle, err := locker.Acquire(ctx, key, wait, lease)
	if err != nil {
		return errors.Wrap(ErrLockAcquisitionFailed, failureMessage)
	}
	defer func() {
		if err := handle.Release(ctx); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("lock_key", key).Msg("failed to release distributed lock")
		}
	}()

	return fn(ctx)
}
