// internal/service/coupon/infrastructure/redis_queue.go
package infrastructure

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	redispkg "couponhub/internal/pkg/redis"
	"couponhub/internal/service/coupon/port"
)

// RedisRankedSet 用 Redis Sorted Set 实现排队结构。
type RedisRankedSet struct {
	client *redispkg.Client
}

func NewRedisRankedSet(client *redispkg.Client) *RedisRankedSet {
	return &RedisRankedSet{client: client}
}

func (s *RedisRankedSet) Add(ctx context.Context, key, member string, score float64, ttl time.Duration) error {
	pipe := s.client.GetClient().Pipeline()
	pipe.ZAdd(ctx, key, goredis.Z{Score: score, Member: member})
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisRankedSet) Rank(ctx context.Context, key, member string) (int64, error) {
	rank, err := s.client.GetClient().ZRank(ctx, key, member).Result()
	if err == goredis.Nil {
		return -1, nil
	}
	return rank, err
}

func (s *RedisRankedSet) Remove(ctx context.Context, key, member string) error {
	return s.client.GetClient().ZRem(ctx, key, member).Err()
}

func (s *RedisRankedSet) Card(ctx context.Context, key string) (int64, error) {
	return s.client.GetClient().ZCard(ctx, key).Result()
}

// RedisOrderedLog 用 Redis Stream + 消费组实现有序工作流。
type RedisOrderedLog struct {
	client *redispkg.Client
}

func NewRedisOrderedLog(client *redispkg.Client) *RedisOrderedLog {
	return &RedisOrderedLog{client: client}
}

func (l *RedisOrderedLog) Append(ctx context.Context, stream string, values map[string]string) (string, error) {
	args := make(map[string]interface{}, len(values))
	for k, v := range values {
		args[k] = v
	}
	return l.client.GetClient().XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		Values: args,
	}).Result()
}

// EnsureGroup 保证 stream 和消费组都存在。
// stream 不存在时先写一条引导记录（XGROUP CREATE 需要 key 存在），
// 组已存在返回的 BUSYGROUP 视为成功。
func (l *RedisOrderedLog) EnsureGroup(ctx context.Context, stream, group string) error {
	rdb := l.client.GetClient()

	exists, err := rdb.Exists(ctx, stream).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		if _, err := l.Append(ctx, stream, map[string]string{"bootstrap": "1"}); err != nil {
			return fmt.Errorf("failed to bootstrap stream %s: %w", stream, err)
		}
	}

	err = rdb.XGroupCreate(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", group, stream, err)
	}
	return nil
}

func (l *RedisOrderedLog) ReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]port.LogRecord, error) {
	streams, err := l.client.GetClient().XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err == goredis.Nil {
		// 阻塞超时，没有新记录
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var records []port.LogRecord
	for _, s := range streams {
		for _, msg := range s.Messages {
			values := make(map[string]string, len(msg.Values))
			for k, v := range msg.Values {
				if str, ok := v.(string); ok {
					values[k] = str
				}
			}
			records = append(records, port.LogRecord{ID: msg.ID, Values: values})
		}
	}
	return records, nil
}

func (l *RedisOrderedLog) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return l.client.GetClient().XAck(ctx, stream, group, ids...).Err()
}

func (l *RedisOrderedLog) Delete(ctx context.Context, stream string, ids ...string) error {
	return l.client.GetClient().XDel(ctx, stream, ids...).Err()
}
