// internal/service/coupon/infrastructure/memory_queue.go
package infrastructure

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"couponhub/internal/service/coupon/port"
)

// MemoryRankedSet 是 RankedSet 的进程内实现，供测试和单机开发使用。
// 不实现 TTL：测试生命周期远短于任何合理的队列 TTL。
type MemoryRankedSet struct {
	mu   sync.Mutex
	sets map[string]map[string]float64
}

func NewMemoryRankedSet() *MemoryRankedSet {
	return &MemoryRankedSet{sets: make(map[string]map[string]float64)}
}

func (s *MemoryRankedSet) Add(ctx context.Context, key, member string, score float64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sets[key] == nil {
		s.sets[key] = make(map[string]float64)
	}
	s.sets[key][member] = score
	return nil
}

func (s *MemoryRankedSet) Rank(ctx context.Context, key, member string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		return -1, nil
	}
	score, ok := set[member]
	if !ok {
		return -1, nil
	}

	// 与 Redis 一致：按 (score, member) 排序后的 0 基位次
	var rank int64
	for m, sc := range set {
		if sc < score || (sc == score && m < member) {
			rank++
		}
	}
	return rank, nil
}

func (s *MemoryRankedSet) Remove(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.sets[key]; ok {
		delete(set, member)
	}
	return nil
}

func (s *MemoryRankedSet) Card(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.sets[key])), nil
}

// Members 按位次返回所有成员，测试断言用。
func (s *MemoryRankedSet) Members(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[key]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		if set[members[i]] == set[members[j]] {
			return members[i] < members[j]
		}
		return set[members[i]] < set[members[j]]
	})
	return members
}

// MemoryOrderedLog 是 OrderedLog 的进程内实现。
// 同一个组内的消费者共享一个投递游标，每条记录只投给一个消费者，
// 模拟 Redis Stream 消费组在正常路径上的行为（不做 pending 重投）。
type MemoryOrderedLog struct {
	mu      sync.Mutex
	streams map[string]*memoryStream
}

type memoryStream struct {
	records   []port.LogRecord
	nextID    int64
	delivered map[string]map[string]bool // group -> record id -> delivered
	acked     map[string]map[string]bool // group -> record id -> acked
}

func NewMemoryOrderedLog() *MemoryOrderedLog {
	return &MemoryOrderedLog{streams: make(map[string]*memoryStream)}
}

func (l *MemoryOrderedLog) getStream(name string) *memoryStream {
	if s, ok := l.streams[name]; ok {
		return s
	}
	s := &memoryStream{
		delivered: make(map[string]map[string]bool),
		acked:     make(map[string]map[string]bool),
	}
	l.streams[name] = s
	return s
}

func (l *MemoryOrderedLog) Append(ctx context.Context, stream string, values map[string]string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.getStream(stream)
	s.nextID++
	id := strconv.FormatInt(s.nextID, 10) + "-0"
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	s.records = append(s.records, port.LogRecord{ID: id, Values: copied})
	return id, nil
}

func (l *MemoryOrderedLog) EnsureGroup(ctx context.Context, stream, group string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.getStream(stream)
	if s.delivered[group] == nil {
		s.delivered[group] = make(map[string]bool)
		s.acked[group] = make(map[string]bool)
	}
	return nil
}

func (l *MemoryOrderedLog) ReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]port.LogRecord, error) {
	deadline := time.Now().Add(block)
	for {
		if records := l.take(stream, group, count); len(records) > 0 {
			return records, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (l *MemoryOrderedLog) take(stream, group string, count int) []port.LogRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.getStream(stream)
	if s.delivered[group] == nil {
		s.delivered[group] = make(map[string]bool)
		s.acked[group] = make(map[string]bool)
	}

	var out []port.LogRecord
	for _, rec := range s.records {
		if len(out) >= count {
			break
		}
		if s.delivered[group][rec.ID] {
			continue
		}
		s.delivered[group][rec.ID] = true
		out = append(out, rec)
	}
	return out
}

func (l *MemoryOrderedLog) Ack(ctx context.Context, stream, group string, ids ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.getStream(stream)
	if s.acked[group] == nil {
		s.acked[group] = make(map[string]bool)
	}
	for _, id := range ids {
		s.acked[group][id] = true
	}
	return nil
}

func (l *MemoryOrderedLog) Delete(ctx context.Context, stream string, ids ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.getStream(stream)
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := s.records[:0]
	for _, rec := range s.records {
		if !drop[rec.ID] {
			kept = append(kept, rec)
		}
	}
	s.records = kept
	return nil
}

// Records 返回 stream 里的全部记录，测试断言用。
func (l *MemoryOrderedLog) Records(stream string) []port.LogRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.getStream(stream)
	out := make([]port.LogRecord, len(s.records))
	copy(out, s.records)
	return out
}
