// internal/service/coupon/port/queue.go
package port

import (
	"context"
	"time"
)

// RankedSet 是按分值排序的排队结构（Redis Sorted Set 的抽象）。
// 发券协调器用它记录每个模板的排队位次，分值 = 入队毫秒时间戳。
type RankedSet interface {
	// Add 插入成员并刷新整个 key 的 TTL，活动结束后队列自然清理。
	Add(ctx context.Context, key, member string, score float64, ttl time.Duration) error
	// Rank 返回成员的 0 基位次；成员不存在时返回 -1。
	Rank(ctx context.Context, key, member string) (int64, error)
	// Remove 删除成员。成员不存在时是 no-op。
	Remove(ctx context.Context, key, member string) error
	// Card 返回当前队列长度。
	Card(ctx context.Context, key string) (int64, error)
}

// LogRecord 是有序日志中的一条记录。
type LogRecord struct {
	ID     string
	Values map[string]string
}

// OrderedLog 是支持消费组语义的追加日志（Redis Stream 的抽象）。
// 多个 worker 以竞争消费者方式分摊记录，正常情况下每条只投递给其中一个。
type OrderedLog interface {
	Append(ctx context.Context, stream string, values map[string]string) (string, error)
	// EnsureGroup 保证 stream 和消费组存在：stream 缺失时先写一条引导记录，
	// 组已存在（BUSYGROUP）视为成功。
	EnsureGroup(ctx context.Context, stream, group string) error
	// ReadGroup 以指定消费者身份拉取最多 count 条新记录，最多阻塞 block。
	// 没有新记录时返回空切片而不是错误。
	ReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]LogRecord, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	Delete(ctx context.Context, stream string, ids ...string) error
}
