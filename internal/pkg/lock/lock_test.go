package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithLockRunsAndReleases(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	ran := false
	err := WithLock(ctx, locker, "lock:coupon-template:1", time.Second, time.Second, "busy", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	// fn 返回后锁必须已释放，能立刻再次拿到
	handle, err := locker.Acquire(ctx, "lock:coupon-template:1", 10*time.Millisecond, time.Second)
	require.NoError(t, err)
	require.NoError(t, handle.Release(ctx))
}

func TestWithLockReleasesOnError(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	wantErr := assert.AnError
	err := WithLock(ctx, locker, "k", time.Second, time.Second, "busy", func(ctx context.Context) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	// 业务报错也不能漏释放
	handle, err := locker.Acquire(ctx, "k", 10*time.Millisecond, time.Second)
	require.NoError(t, err)
	require.NoError(t, handle.Release(ctx))
}

func TestWithLockWrapsAcquisitionFailure(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	// 先占住锁
	handle, err := locker.Acquire(ctx, "k", time.Second, time.Second)
	require.NoError(t, err)
	defer handle.Release(ctx)

	err = WithLock(ctx, locker, "k", 20*time.Millisecond, time.Second, "too many requests", func(ctx context.Context) error {
		t.Fatal("没拿到锁不该执行业务逻辑")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockAcquisitionFailed)
	assert.Contains(t, err.Error(), "too many requests")
}

func TestWithLockMutualExclusion(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var mu sync.Mutex
	inCritical := 0
	maxInCritical := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(ctx, locker, "k", 5*time.Second, time.Second, "busy", func(ctx context.Context) error {
				mu.Lock()
				inCritical++
				if inCritical > maxInCritical {
					maxInCritical = inCritical
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inCritical--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInCritical, "同一个 key 上的临界区不允许并发")
}

func TestLocalLockerIndependentKeys(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	h1, err := locker.Acquire(ctx, "a", time.Second, time.Second)
	require.NoError(t, err)
	defer h1.Release(ctx)

	// 不同 key 互不阻塞
	h2, err := locker.Acquire(ctx, "b", 10*time.Millisecond, time.Second)
	require.NoError(t, err)
	require.NoError(t, h2.Release(ctx))
}
