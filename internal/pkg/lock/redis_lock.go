// internal/pkg/lock/redis_lock.go
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"couponhub/internal/pkg/redis"
)

const (
	releaseScriptName = "lock_release"
	// 只有 value 仍然是自己的 token 时才删除，防止释放掉别人的租约
	releaseScript = `
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
else
    return 0
end
`
	// 抢锁失败后的重试间隔
	retryInterval = 50 * time.Millisecond
)

// RedisLocker 基于 SET NX PX + token 实现 Locker。
// PX 即租约：持有者崩溃后 key 到期自动删除。
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker 创建 Redis 锁实例，并注册释放脚本。
func NewRedisLocker(client *redis.Client) (*RedisLocker, error) {
	if err := client.LoadScriptFromContent(releaseScriptName, releaseScript); err != nil {
		return nil, fmt.Errorf("failed to load lock release script: %w", err)
	}
	return &RedisLocker{client: client}, nil
}

// Acquire 轮询 SET NX 直到拿到锁或超过 wait。
func (l *RedisLocker) Acquire(ctx context.Context, key string, wait, lease time.Duration) (Handle, error) {
	token := uuid.New().String()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.client.GetClient().SetNX(ctx, key, token, lease).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock acquire failed: %w", err)
		}
		if ok {
			return &redisHandle{locker: l, key: key, token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: key=%s wait=%s", ErrLockAcquisitionFailed, key, wait)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

type redisHandle struct {
	locker *RedisLocker
	key    string
	token  string
}

// Release 幂等释放：token 不匹配（租约过期被他人接管）时静默不做任何事。
func (h *redisHandle) Release(ctx context.Context) error {
	_, err := h.locker.client.RunScript(ctx, releaseScriptName, []string{h.key}, h.token)
	return err
}
