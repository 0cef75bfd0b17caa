// internal/service/coupon/application/service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"couponhub/internal/pkg/lock"
	"couponhub/internal/pkg/logger"
	"couponhub/internal/pkg/metrics"
	"couponhub/internal/service/coupon/domain"
	"couponhub/internal/service/coupon/port"
)

const (
	couponLockPrefix   = "lock:coupon-template:"
	lockFailureMessage = "too many issuance requests, please retry later"

	// 模板没配结束时间时的默认有效期
	defaultValidity = 7 * 24 * time.Hour
)

// CouponService 是唯一允许发券的代码路径。
// 两个入口共享同一个校验核心，只在加锁纪律上不同：
// 同步路径在分布式锁里跑，worker 路径依赖条件自增兜底。
type CouponService struct {
	templates domain.CouponTemplateRepository
	coupons   domain.CouponRepository
	cache     port.AvailabilityCache
	users     port.UserClient
	tx        port.TransactionManager
	locker    lock.Locker
	events    port.IssuedEventPublisher // 可以为 nil（例如测试环境）
	tracer    trace.Tracer

	lockWait  time.Duration
	lockLease time.Duration
}

// NewCouponService 创建发券服务实例。
func NewCouponService(
	templates domain.CouponTemplateRepository,
	coupons domain.CouponRepository,
	cache port.AvailabilityCache,
	users port.UserClient,
	tx port.TransactionManager,
	locker lock.Locker,
	events port.IssuedEventPublisher,
	tracer trace.Tracer,
	lockWait, lockLease time.Duration,
) *CouponService {
	return &CouponService{
		templates: templates,
		coupons:   coupons,
		cache:     cache,
		users:     users,
		tx:        tx,
		locker:    locker,
		events:    events,
		tracer:    tracer,
		lockWait:  lockWait,
		lockLease: lockLease,
	}
}

// IssueCoupon 是同步路径的入口：整个校验核心在按模板加的分布式锁 + 存储事务里执行。
func (s *CouponService) IssueCoupon(ctx context.Context, cmd IssueCouponCommand) (*IssueCouponOutput, error) {
	ctx, span := s.tracer.Start(ctx, "service.IssueCoupon")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("coupon.template_id", cmd.TemplateID),
		attribute.Int64("user.id", cmd.UserID),
	)

	var output *IssueCouponOutput
	lockKey := fmt.Sprintf("%s%d", couponLockPrefix, cmd.TemplateID)
	err := lock.WithLock(ctx, s.locker, lockKey, s.lockWait, s.lockLease, lockFailureMessage, func(ctx context.Context) error {
		return s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			var err error
			output, err = s.issueCouponInternal(ctx, cmd)
			return err
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	metrics.CouponsIssued.WithLabelValues("sync").Inc()
	return output, nil
}

// IssueCouponWithoutLock 是 worker 路径的入口。
// 请求已经被 Stream 的竞争消费者机制分摊，最终准入由条件自增保证，
// 所以这里不再抢分布式锁。
func (s *CouponService) IssueCouponWithoutLock(ctx context.Context, cmd IssueCouponCommand) (*IssueCouponOutput, error) {
	ctx, span := s.tracer.Start(ctx, "service.IssueCouponWithoutLock")
	defer span.End()

	var output *IssueCouponOutput
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		output, err = s.issueCouponInternal(ctx, cmd)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	metrics.CouponsIssued.WithLabelValues("worker").Inc()
	return output, nil
}

// issueCouponInternal 是校验核心。调用方负责事务与加锁边界。
func (s *CouponService) issueCouponInternal(ctx context.Context, cmd IssueCouponCommand) (*IssueCouponOutput, error) {
	// 1. 用户必须存在
	if err := s.users.EnsureUserExists(ctx, cmd.UserID); err != nil {
		return nil, err
	}

	// 2. 行级排他读模板，串行化其他同步路径调用者
	template, err := s.templates.FindByIDForUpdate(ctx, cmd.TemplateID)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	// 3. 状态 + 窗口 + 余量
	if !template.CanIssue(now) {
		metrics.CouponsRejected.WithLabelValues("exhausted_or_inactive").Inc()
		return nil, domain.ErrTemplateExhausted
	}

	// 4. 每人限领。worker 路径上这一步没有锁保护，同一用户的
	// 并发请求可能都通过；限领一张的模板由落库时的唯一索引兜底。
	issuedCount, err := s.coupons.CountByUserAndTemplate(ctx, cmd.UserID, template.ID)
	if err != nil {
		return nil, err
	}
	if !template.CanIssueForUser(issuedCount) {
		metrics.CouponsRejected.WithLabelValues("per_user_limit").Inc()
		return nil, domain.ErrPerUserLimitExceeded
	}

	// 5. 真正的准入闸门：条件自增。即使 3/4 两步读到的是旧数据，
	// 这一步也不可能把 issued 加过 total。
	updated, err := s.templates.IncrementIssuedQuantity(ctx, template.ID)
	if err != nil {
		return nil, err
	}
	if !updated {
		// 和另一次发放撞车了，属于正常竞态
		metrics.CouponsRejected.WithLabelValues("exhausted_or_inactive").Inc()
		return nil, domain.ErrTemplateExhausted
	}
	template.IssuedQuantity++

	// 6. 计算过期时间：模板结束时间，没有就 now + 7 天
	expiry := now.Add(defaultValidity)
	if template.EndAt != nil {
		expiry = *template.EndAt
	}

	// 7. 落券
	templateID := template.ID
	coupon := &domain.Coupon{
		UserID:     cmd.UserID,
		TemplateID: &templateID,
		Type:       template.Type,
		Value:      template.Value,
		Status:     domain.StatusAvailable,
		IssuedAt:   now,
		ExpiredAt:  &expiry,
		LimitOne:   template.LimitQuantity == 1,
	}
	if err := s.coupons.Save(ctx, coupon); err != nil {
		// 限领一张的模板靠唯一索引兜底：同一用户的并发请求
		// 可能都通过第 4 步的计数检查，落库时第二条会撞索引。
		if errors.Is(err, domain.ErrPerUserLimitExceeded) {
			metrics.CouponsRejected.WithLabelValues("per_user_limit").Inc()
		}
		return nil, err
	}

	// 8. 就地递增缓存里的已发数量，缩小快照滞后窗口。失败不影响发券结果。
	if err := s.cache.IncrementIssuedQuantity(ctx, template.ID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int64("template_id", template.ID).Msg("failed to bump cached issued quantity")
	}

	remaining := template.RemainingQuantity()
	if s.events != nil {
		if err := s.events.PublishIssued(ctx, coupon, remaining); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Int64("coupon_id", coupon.ID).Msg("failed to publish coupon issued event")
		}
	}

	return &IssueCouponOutput{
		Coupon:            toCouponOutput(coupon),
		RemainingQuantity: remaining,
	}, nil
}

// GetUserCoupons 返回用户的全部券，读取时做懒过期：
// 过了有效期还 AVAILABLE 的券就地转为 EXPIRED 并持久化。
// 过期是单调且幂等的，不需要任何锁保护。
func (s *CouponService) GetUserCoupons(ctx context.Context, userID int64) ([]CouponOutput, error) {
	ctx, span := s.tracer.Start(ctx, "service.GetUserCoupons")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userID))

	if err := s.users.EnsureUserExists(ctx, userID); err != nil {
		return nil, err
	}

	coupons, err := s.coupons.FindAllByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	outputs := make([]CouponOutput, 0, len(coupons))
	for _, c := range coupons {
		if c.Status == domain.StatusAvailable && c.IsExpired(now) {
			c.Expire()
			if err := s.coupons.Save(ctx, c); err != nil {
				return nil, err
			}
		}
		outputs = append(outputs, toCouponOutput(c))
	}
	return outputs, nil
}

// UseCoupon 在订单支付事件到达后把券核销掉。
func (s *CouponService) UseCoupon(ctx context.Context, couponID, orderID int64) error {
	ctx, span := s.tracer.Start(ctx, "service.UseCoupon")
	defer span.End()

	coupon, err := s.coupons.FindByID(ctx, couponID)
	if err != nil {
		return err
	}
	coupon.MarkUsed(orderID, time.Now())
	return s.coupons.Save(ctx, coupon)
}
