// internal/service/coupon/application/facade.go
package application

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"couponhub/internal/service/coupon/application/issue"
	"couponhub/internal/service/coupon/domain"
	"couponhub/internal/service/coupon/port"
)

// IssueResult 二选一：同步路径直接带发放结果，排队路径带排队应答。
type IssueResult struct {
	Sync   *IssueCouponOutput `json:"sync,omitempty"`
	Queued *issue.QueueResult `json:"queued,omitempty"`
}

// CouponIssueFacade 在入口处做用户校验和缓存预检，
// 再按配置决定走同步发放还是排队受理。
type CouponIssueFacade struct {
	users        port.UserClient
	cache        port.AvailabilityCache
	coordinator  *issue.Coordinator
	service      *CouponService
	asyncEnabled bool
	tracer       trace.Tracer
}

// NewCouponIssueFacade 创建发券门面。
func NewCouponIssueFacade(
	users port.UserClient,
	cache port.AvailabilityCache,
	coordinator *issue.Coordinator,
	service *CouponService,
	asyncEnabled bool,
	tracer trace.Tracer,
) *CouponIssueFacade {
	return &CouponIssueFacade{
		users:        users,
		cache:        cache,
		coordinator:  coordinator,
		service:      service,
		asyncEnabled: asyncEnabled,
		tracer:       tracer,
	}
}

// RequestIssue 受理一次发券请求。
// 缓存预检只用来廉价地挡掉明显无望的请求，最终准入在校验核心里。
func (f *CouponIssueFacade) RequestIssue(ctx context.Context, cmd IssueCouponCommand) (*IssueResult, error) {
	ctx, span := f.tracer.Start(ctx, "facade.RequestIssue")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("coupon.template_id", cmd.TemplateID),
		attribute.Int64("user.id", cmd.UserID),
		attribute.Bool("coupon.async_enabled", f.asyncEnabled),
	)

	if err := f.users.EnsureUserExists(ctx, cmd.UserID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	availability, err := f.cache.GetOrLoad(ctx, cmd.TemplateID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !availability.CanIssue(time.Now()) {
		return nil, domain.ErrTemplateExhausted
	}

	if !f.asyncEnabled {
		output, err := f.service.IssueCoupon(ctx, cmd)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		return &IssueResult{Sync: output}, nil
	}

	queued, err := f.coordinator.Enqueue(ctx, cmd.TemplateID, cmd.UserID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("coupon.queue_rank", queued.QueueRank))
	return &IssueResult{Queued: queued}, nil
}
