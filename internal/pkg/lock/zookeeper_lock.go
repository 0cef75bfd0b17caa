// internal/pkg/lock/zookeeper_lock.go
package lock

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"context"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
)

const lockRoot = "/distributed_locks" // 所有分布式锁的根节点

// ZookeeperLocker 基于临时顺序节点实现 Locker。
// 租约由 ZooKeeper 会话保证：持有者断连后临时节点自动删除，
// 因此 Acquire 的 lease 参数在这个实现里不参与计时。
type ZookeeperLocker struct {
	conn *zk.Conn
}

// NewZookeeperLocker 连接 ZooKeeper 并确保锁根节点存在。
func NewZookeeperLocker(addrs []string) (*ZookeeperLocker, error) {
	conn, _, err := zk.Connect(addrs, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}
	if _, err := conn.Create(lockRoot, []byte(""), 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
		conn.Close()
		return nil, fmt.Errorf("failed to create lock root node: %w", err)
	}
	return &ZookeeperLocker{conn: conn}, nil
}

// Acquire 在 /distributed_locks/<key> 下创建临时顺序节点并排队等待。
func (l *ZookeeperLocker) Acquire(ctx context.Context, key string, wait, lease time.Duration) (Handle, error) {
	lockPath := lockRoot + "/" + sanitizeKey(key)
	if _, err := l.conn.Create(lockPath, []byte(""), 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
		return nil, fmt.Errorf("failed to create lock path node %s: %w", lockPath, err)
	}

	// 1. 创建自己的临时顺序节点，格式: <lockPath>/lock-<seq>
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(lockPath+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return nil, fmt.Errorf("failed to create sequential node: %w", err)
	}

	deadline := time.Now().Add(wait)
	for {
		// 2. 获取锁路径下的所有子节点并排序
		children, _, err := l.conn.Children(lockPath)
		if err != nil {
			l.conn.Delete(nodePath, -1)
			return nil, fmt.Errorf("failed to get children nodes: %w", err)
		}
		sort.Strings(children)

		// 3. 自己是最小节点则获得锁
		myNodeName := strings.TrimPrefix(nodePath, lockPath+"/")
		if myNodeName == children[0] {
			return &zkHandle{conn: l.conn, nodePath: nodePath}, nil
		}

		// 4. 否则监听前一个节点，等它释放
		prevNodeIndex := -1
		for i, child := range children {
			if child == myNodeName {
				prevNodeIndex = i - 1
				break
			}
		}
		if prevNodeIndex < 0 {
			l.conn.Delete(nodePath, -1)
			return nil, errors.New("cannot find previous node, something is wrong")
		}
		prevNodePath := lockPath + "/" + children[prevNodeIndex]

		exists, _, eventChan, err := l.conn.ExistsW(prevNodePath)
		if err != nil {
			if err == zk.ErrNoNode {
				continue
			}
			l.conn.Delete(nodePath, -1)
			return nil, fmt.Errorf("failed to watch previous node: %w", err)
		}
		if !exists {
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			l.conn.Delete(nodePath, -1)
			return nil, fmt.Errorf("%w: key=%s wait=%s", ErrLockAcquisitionFailed, key, wait)
		}

		select {
		case event := <-eventChan:
			if event.Type == zk.EventNodeDeleted {
				continue
			}
		case <-time.After(remaining):
			l.conn.Delete(nodePath, -1)
			return nil, fmt.Errorf("%w: key=%s wait=%s", ErrLockAcquisitionFailed, key, wait)
		case <-ctx.Done():
			l.conn.Delete(nodePath, -1)
			return nil, ctx.Err()
		}
	}
}

// Close 断开 ZooKeeper 连接，会话上的所有临时节点随之消失。
func (l *ZookeeperLocker) Close() {
	l.conn.Close()
}

type zkHandle struct {
	conn     *zk.Conn
	nodePath string
}

// Release 删除自己的节点。节点已不存在时视为成功（幂等）。
func (h *zkHandle) Release(ctx context.Context) error {
	err := h.conn.Delete(h.nodePath, -1)
	if err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	return nil
}

// sanitizeKey 把业务 key 里的 '/' 替换掉，避免生成多级节点。
func sanitizeKey(key string) string {
	return strings.ReplaceAll(key, "/", "_")
}
