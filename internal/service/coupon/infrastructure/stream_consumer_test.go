package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"couponhub/internal/pkg/lock"
	"couponhub/internal/service/coupon/application"
	"couponhub/internal/service/coupon/application/issue"
	"couponhub/internal/service/coupon/domain"
)

const (
	testRequestStream = "coupon:request-stream"
	testIssueStream   = "coupon:issue-stream"
)

type consumerFixture struct {
	consumer    *IssueRequestConsumer
	coordinator *issue.Coordinator
	log         *MemoryOrderedLog
	ranks       *MemoryRankedSet
	templates   *MemoryCouponTemplateRepository
}

func newConsumerFixture(t *testing.T) *consumerFixture {
	t.Helper()
	templates := NewMemoryCouponTemplateRepository()
	service := application.NewCouponService(
		templates,
		NewMemoryCouponRepository(),
		NewMemoryAvailabilityCache(templates),
		NewStubUserClient(),
		NewMemoryTransactionManager(),
		lock.NewLocalLocker(),
		nil,
		otel.Tracer("test"),
		time.Second,
		time.Second,
	)

	ranks := NewMemoryRankedSet()
	log := NewMemoryOrderedLog()
	coordinator := issue.NewCoordinator(ranks, log, issue.Config{
		QueueKeyPrefix:          "coupon:queue-position",
		QueueTTL:                time.Hour,
		AverageProcessingMillis: 50,
		RequestStreamKey:        testRequestStream,
	}, otel.Tracer("test"))

	consumer := NewIssueRequestConsumer(log, coordinator, service, ConsumerConfig{
		Enabled:          true,
		RequestStreamKey: testRequestStream,
		IssueStreamKey:   testIssueStream,
		Group:            "coupon-issue-group",
		ConsumerPrefix:   "test-consumer",
		PollTimeout:      50 * time.Millisecond,
		Concurrency:      2,
	})
	return &consumerFixture{
		consumer:    consumer,
		coordinator: coordinator,
		log:         log,
		ranks:       ranks,
		templates:   templates,
	}
}

func TestConsumerProcessesQueuedRequests(t *testing.T) {
	f := newConsumerFixture(t)
	f.templates.Put(&domain.CouponTemplate{
		ID:            42,
		Status:        domain.TemplateActive,
		Type:          domain.TypeAmount,
		Value:         10,
		TotalQuantity: 10,
	})
	ctx := context.Background()

	requestIDs := make(map[string]bool)
	for i := 0; i < 3; i++ {
		result, err := f.coordinator.Enqueue(ctx, 42, int64(100+i))
		require.NoError(t, err)
		requestIDs[result.RequestID] = true
	}

	require.NoError(t, f.consumer.Start(ctx))
	defer f.consumer.Stop(ctx)

	require.Eventually(t, func() bool {
		return len(f.log.Records(testIssueStream)) == 3
	}, 3*time.Second, 10*time.Millisecond, "每个请求都要产出一条结果")

	for _, record := range f.log.Records(testIssueStream) {
		assert.True(t, requestIDs[record.Values[issue.FieldRequestID]])
		assert.Equal(t, resultStatusSuccess, record.Values[resultStatusField])
		assert.Equal(t, "42", record.Values[issue.FieldTemplateID])
		assert.NotEmpty(t, record.Values["couponId"])
		assert.NotEmpty(t, record.Values["remainingQuantity"])
	}

	// 处理完后排队项和请求记录都要清掉
	require.Eventually(t, func() bool {
		depth, _ := f.ranks.Card(ctx, "coupon:queue-position:42")
		return depth == 0 && len(f.log.Records(testRequestStream)) == 0
	}, 3*time.Second, 10*time.Millisecond)

	template, err := f.templates.FindByID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 3, template.IssuedQuantity)
}

func TestConsumerPublishesFailureResult(t *testing.T) {
	f := newConsumerFixture(t)
	f.templates.Put(&domain.CouponTemplate{
		ID:             42,
		Status:         domain.TemplateActive,
		TotalQuantity:  1,
		IssuedQuantity: 1, // 已售罄
	})
	ctx := context.Background()

	result, err := f.coordinator.Enqueue(ctx, 42, 100)
	require.NoError(t, err)

	require.NoError(t, f.consumer.Start(ctx))
	defer f.consumer.Stop(ctx)

	require.Eventually(t, func() bool {
		return len(f.log.Records(testIssueStream)) == 1
	}, 3*time.Second, 10*time.Millisecond)

	record := f.log.Records(testIssueStream)[0]
	assert.Equal(t, result.RequestID, record.Values[issue.FieldRequestID])
	assert.Equal(t, resultStatusFailed, record.Values[resultStatusField])
	assert.Equal(t, "42", record.Values[issue.FieldTemplateID])
	assert.NotEmpty(t, record.Values[resultErrorField])

	// 失败的请求也要出队，不能重投
	require.Eventually(t, func() bool {
		depth, _ := f.ranks.Card(ctx, "coupon:queue-position:42")
		return depth == 0 && len(f.log.Records(testRequestStream)) == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestConsumerDropsMalformedRecords(t *testing.T) {
	f := newConsumerFixture(t)
	ctx := context.Background()

	// 缺 userId 的坏记录
	_, err := f.log.Append(ctx, testRequestStream, map[string]string{
		issue.FieldRequestID:  "broken-request",
		issue.FieldTemplateID: "42",
	})
	require.NoError(t, err)

	require.NoError(t, f.consumer.Start(ctx))
	defer f.consumer.Stop(ctx)

	// 坏记录被直接 ack 丢弃，不产出结果
	require.Eventually(t, func() bool {
		return len(f.log.Records(testRequestStream)) == 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.Empty(t, f.log.Records(testIssueStream))
}
