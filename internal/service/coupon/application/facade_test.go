package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"couponhub/internal/service/coupon/application"
	"couponhub/internal/service/coupon/application/issue"
	"couponhub/internal/service/coupon/domain"
	"couponhub/internal/service/coupon/infrastructure"
)

func newFacadeFixture(t *testing.T, asyncEnabled bool) (*application.CouponIssueFacade, *serviceFixture, *infrastructure.MemoryOrderedLog) {
	t.Helper()
	f := newServiceFixture(t)

	log := infrastructure.NewMemoryOrderedLog()
	coordinator := issue.NewCoordinator(infrastructure.NewMemoryRankedSet(), log, issue.Config{
		QueueKeyPrefix:          "coupon:queue-position",
		QueueTTL:                24 * time.Hour,
		AverageProcessingMillis: 50,
		RequestStreamKey:        "coupon:request-stream",
	}, otel.Tracer("test"))

	facade := application.NewCouponIssueFacade(
		infrastructure.NewStubUserClient(),
		infrastructure.NewMemoryAvailabilityCache(f.templates),
		coordinator,
		f.service,
		asyncEnabled,
		otel.Tracer("test"),
	)
	return facade, f, log
}

func TestRequestIssueSyncPath(t *testing.T) {
	facade, f, _ := newFacadeFixture(t, false)
	f.putTemplate(10, 1)

	result, err := facade.RequestIssue(context.Background(), application.IssueCouponCommand{TemplateID: 1, UserID: 100})
	require.NoError(t, err)

	require.NotNil(t, result.Sync, "同步模式直接带发放结果")
	assert.Nil(t, result.Queued)
	assert.Equal(t, 9, result.Sync.RemainingQuantity)
}

func TestRequestIssueQueuedPath(t *testing.T) {
	facade, f, log := newFacadeFixture(t, true)
	f.putTemplate(10, 1)

	result, err := facade.RequestIssue(context.Background(), application.IssueCouponCommand{TemplateID: 1, UserID: 100})
	require.NoError(t, err)

	require.NotNil(t, result.Queued, "异步模式返回排队应答")
	assert.Nil(t, result.Sync)
	assert.Equal(t, int64(0), result.Queued.QueueRank)
	assert.NotEmpty(t, result.Queued.RequestID)

	// 排队路径不直接发券
	template, err := f.templates.FindByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, template.IssuedQuantity)

	// 请求已经进了工作流，等 worker 处理
	assert.Len(t, log.Records("coupon:request-stream"), 1)
}

func TestRequestIssuePrecheckRejectsExhausted(t *testing.T) {
	facade, f, log := newFacadeFixture(t, true)
	f.templates.Put(&domain.CouponTemplate{
		ID:             1,
		Status:         domain.TemplateActive,
		TotalQuantity:  5,
		IssuedQuantity: 5,
	})

	_, err := facade.RequestIssue(context.Background(), application.IssueCouponCommand{TemplateID: 1, UserID: 100})
	assert.ErrorIs(t, err, domain.ErrTemplateExhausted)

	// 预检挡掉的请求不该进队列
	assert.Empty(t, log.Records("coupon:request-stream"))
}

func TestRequestIssueRejectsUnknownUserBeforeQueueing(t *testing.T) {
	facade, f, log := newFacadeFixture(t, true)
	f.putTemplate(10, 1)

	_, err := facade.RequestIssue(context.Background(), application.IssueCouponCommand{TemplateID: 1, UserID: 0})
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.Empty(t, log.Records("coupon:request-stream"))
}
