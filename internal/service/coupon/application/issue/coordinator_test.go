package issue_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"couponhub/internal/service/coupon/application/issue"
	"couponhub/internal/service/coupon/infrastructure"
)

func newCoordinator(t *testing.T) (*issue.Coordinator, *infrastructure.MemoryRankedSet, *infrastructure.MemoryOrderedLog) {
	t.Helper()
	ranks := infrastructure.NewMemoryRankedSet()
	log := infrastructure.NewMemoryOrderedLog()
	coordinator := issue.NewCoordinator(ranks, log, issue.Config{
		QueueKeyPrefix:          "coupon:queue-position",
		QueueTTL:                24 * time.Hour,
		AverageProcessingMillis: 50,
		RequestStreamKey:        "coupon:request-stream",
	}, otel.Tracer("test"))
	return coordinator, ranks, log
}

func TestEnqueueAssignsSequentialRanks(t *testing.T) {
	coordinator, _, log := newCoordinator(t)
	ctx := context.Background()

	const n = 5
	for i := 0; i < n; i++ {
		result, err := coordinator.Enqueue(ctx, 42, int64(100+i))
		require.NoError(t, err)

		assert.NotEmpty(t, result.RequestID)
		assert.Equal(t, int64(42), result.TemplateID)
		assert.Equal(t, int64(i), result.QueueRank, "位次必须按入队顺序递增")
		assert.Equal(t, int64(i)*50, result.EstimatedWaitMillis)

		// 入队时间按毫秒打分，隔开一点避免同分
		time.Sleep(2 * time.Millisecond)
	}

	records := log.Records("coupon:request-stream")
	require.Len(t, records, n)
	for i, record := range records {
		assert.NotEmpty(t, record.Values[issue.FieldRequestID])
		assert.Equal(t, "42", record.Values[issue.FieldTemplateID])
		assert.Equal(t, strconv.Itoa(100+i), record.Values[issue.FieldUserID])
		assert.NotEmpty(t, record.Values[issue.FieldRequestedAt])
	}
}

func TestEnqueueSeparateQueuesPerTemplate(t *testing.T) {
	coordinator, _, _ := newCoordinator(t)
	ctx := context.Background()

	first, err := coordinator.Enqueue(ctx, 1, 100)
	require.NoError(t, err)
	second, err := coordinator.Enqueue(ctx, 2, 100)
	require.NoError(t, err)

	// 不同模板各排各的队
	assert.Equal(t, int64(0), first.QueueRank)
	assert.Equal(t, int64(0), second.QueueRank)
}

func TestCompleteRemovesQueueEntry(t *testing.T) {
	coordinator, ranks, _ := newCoordinator(t)
	ctx := context.Background()

	result, err := coordinator.Enqueue(ctx, 42, 100)
	require.NoError(t, err)

	require.NoError(t, coordinator.Complete(ctx, 42, result.RequestID))

	depth, err := ranks.Card(ctx, "coupon:queue-position:42")
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)

	// 重复 Complete 是 no-op
	assert.NoError(t, coordinator.Complete(ctx, 42, result.RequestID))
	assert.NoError(t, coordinator.Complete(ctx, 42, "no-such-request"))
}

func TestRanksShiftAfterHeadCompletes(t *testing.T) {
	coordinator, ranks, _ := newCoordinator(t)
	ctx := context.Background()

	head, err := coordinator.Enqueue(ctx, 42, 100)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = coordinator.Enqueue(ctx, 42, 101)
	require.NoError(t, err)

	require.NoError(t, coordinator.Complete(ctx, 42, head.RequestID))

	members := ranks.Members("coupon:queue-position:42")
	require.Len(t, members, 1)

	rank, err := ranks.Rank(ctx, "coupon:queue-position:42", members[0])
	require.NoError(t, err)
	assert.Equal(t, int64(0), rank, "队头出队后后面的请求整体前移")
}
