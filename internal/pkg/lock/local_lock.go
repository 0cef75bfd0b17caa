// internal/pkg/lock/local_lock.go
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LocalLocker 是 Locker 的进程内实现，单实例部署和测试用。
// 没有租约：持有者不释放锁就一直占着。
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{})}
}

func (l *LocalLocker) channel(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[key]
	if !ok {
		// 容量 1 的 channel 当信号量用
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	return ch
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, wait, lease time.Duration) (Handle, error) {
	ch := l.channel(key)
	select {
	case ch <- struct{}{}:
		return &localHandle{ch: ch}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
		return nil, fmt.Errorf("%w: key=%s wait=%s", ErrLockAcquisitionFailed, key, wait)
	}
}

type localHandle struct {
	ch   chan struct{}
	once sync.Once
}

func (h *localHandle) Release(ctx context.Context) error {
	h.once.Do(func() { <-h.ch })
	return nil
}
