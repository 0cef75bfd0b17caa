package application_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"couponhub/internal/pkg/lock"
	"couponhub/internal/service/coupon/application"
	"couponhub/internal/service/coupon/domain"
	"couponhub/internal/service/coupon/infrastructure"
)

type serviceFixture struct {
	service   *application.CouponService
	templates *infrastructure.MemoryCouponTemplateRepository
	coupons   *infrastructure.MemoryCouponRepository
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	templates := infrastructure.NewMemoryCouponTemplateRepository()
	coupons := infrastructure.NewMemoryCouponRepository()
	service := application.NewCouponService(
		templates,
		coupons,
		infrastructure.NewMemoryAvailabilityCache(templates),
		infrastructure.NewStubUserClient(),
		infrastructure.NewMemoryTransactionManager(),
		lock.NewLocalLocker(),
		nil,
		otel.Tracer("test"),
		2*time.Second,
		5*time.Second,
	)
	return &serviceFixture{service: service, templates: templates, coupons: coupons}
}

func (f *serviceFixture) putTemplate(total, limit int) {
	f.templates.Put(&domain.CouponTemplate{
		ID:            1,
		Title:         "闪购立减券",
		Type:          domain.TypeAmount,
		Value:         10,
		Status:        domain.TemplateActive,
		TotalQuantity: total,
		LimitQuantity: limit,
	})
}

func TestIssueCouponHappyPath(t *testing.T) {
	f := newServiceFixture(t)
	f.putTemplate(10, 1)

	output, err := f.service.IssueCoupon(context.Background(), application.IssueCouponCommand{TemplateID: 1, UserID: 100})
	require.NoError(t, err)

	assert.Equal(t, 9, output.RemainingQuantity)
	assert.Equal(t, domain.StatusAvailable, output.Coupon.Status)
	assert.Equal(t, domain.TypeAmount, output.Coupon.Type)
	assert.Equal(t, float64(10), output.Coupon.Value)
	require.NotNil(t, output.Coupon.TemplateID)
	assert.Equal(t, int64(1), *output.Coupon.TemplateID)

	saved, err := f.coupons.FindByID(context.Background(), output.Coupon.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), saved.UserID)
}

func TestIssueCouponDefaultValidity(t *testing.T) {
	f := newServiceFixture(t)
	f.putTemplate(10, 0)

	before := time.Now()
	output, err := f.service.IssueCoupon(context.Background(), application.IssueCouponCommand{TemplateID: 1, UserID: 100})
	require.NoError(t, err)

	// 模板没配结束时间时，有效期是发放时刻 + 7 天
	require.NotNil(t, output.Coupon.ExpiredAt)
	expected := before.Add(7 * 24 * time.Hour)
	assert.WithinDuration(t, expected, *output.Coupon.ExpiredAt, time.Minute)
}

func TestIssueCouponExpiryFollowsTemplateEnd(t *testing.T) {
	f := newServiceFixture(t)
	end := time.Now().Add(48 * time.Hour)
	f.templates.Put(&domain.CouponTemplate{
		ID:            1,
		Status:        domain.TemplateActive,
		Type:          domain.TypePercent,
		Value:         15,
		TotalQuantity: 10,
		EndAt:         &end,
	})

	output, err := f.service.IssueCoupon(context.Background(), application.IssueCouponCommand{TemplateID: 1, UserID: 100})
	require.NoError(t, err)

	require.NotNil(t, output.Coupon.ExpiredAt)
	assert.True(t, output.Coupon.ExpiredAt.Equal(end), "配置了结束时间时券随活动一起过期")
}

func TestIssueCouponNeverOversells(t *testing.T) {
	f := newServiceFixture(t)
	f.putTemplate(5, 1)

	const attempts = 10
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.service.IssueCoupon(context.Background(), application.IssueCouponCommand{
				TemplateID: 1,
				UserID:     int64(100 + i),
			})
		}(i)
	}
	wg.Wait()

	succeeded, exhausted := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case assert.ErrorIs(t, err, domain.ErrTemplateExhausted):
			exhausted++
		}
	}
	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 5, exhausted)

	template, err := f.templates.FindByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 5, template.IssuedQuantity, "issued 不可能超过 total")
}

func TestIssueCouponPerUserLimit(t *testing.T) {
	f := newServiceFixture(t)
	f.putTemplate(10, 1)
	ctx := context.Background()

	_, err := f.service.IssueCoupon(ctx, application.IssueCouponCommand{TemplateID: 1, UserID: 100})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = f.service.IssueCoupon(ctx, application.IssueCouponCommand{TemplateID: 1, UserID: 100})
		assert.ErrorIs(t, err, domain.ErrPerUserLimitExceeded)
	}

	template, err := f.templates.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, template.IssuedQuantity, "被限领挡掉的请求不消耗库存")
}

func TestIssueCouponPerUserLimitUnderConcurrency(t *testing.T) {
	f := newServiceFixture(t)
	f.putTemplate(3, 1)

	// 同一个用户并发抢 3 次，加锁路径下只有第一次能成
	const attempts = 3
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.service.IssueCoupon(context.Background(), application.IssueCouponCommand{
				TemplateID: 1,
				UserID:     100,
			})
		}(i)
	}
	wg.Wait()

	succeeded, limited := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case assert.ErrorIs(t, err, domain.ErrPerUserLimitExceeded):
			limited++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, limited)
}

func TestIssueCouponRejectsUnknownUser(t *testing.T) {
	f := newServiceFixture(t)
	f.putTemplate(10, 1)

	_, err := f.service.IssueCoupon(context.Background(), application.IssueCouponCommand{TemplateID: 1, UserID: -1})
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestIssueCouponRejectsUnknownTemplate(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.IssueCoupon(context.Background(), application.IssueCouponCommand{TemplateID: 999, UserID: 100})
	assert.ErrorIs(t, err, domain.ErrTemplateNotFound)
}

func TestIssueCouponRejectsInactiveTemplate(t *testing.T) {
	f := newServiceFixture(t)
	f.templates.Put(&domain.CouponTemplate{
		ID:            1,
		Status:        domain.TemplateDraft,
		TotalQuantity: 10,
	})

	_, err := f.service.IssueCoupon(context.Background(), application.IssueCouponCommand{TemplateID: 1, UserID: 100})
	assert.ErrorIs(t, err, domain.ErrTemplateExhausted)
}

func TestGetUserCouponsLazyExpiry(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	require.NoError(t, f.coupons.Save(ctx, &domain.Coupon{
		UserID:    100,
		Type:      domain.TypeAmount,
		Value:     5,
		Status:    domain.StatusAvailable,
		IssuedAt:  past.Add(-24 * time.Hour),
		ExpiredAt: &past,
	}))

	outputs, err := f.service.GetUserCoupons(ctx, 100)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, domain.StatusExpired, outputs[0].Status)

	// 懒过期必须落库，而不是只改返回值
	persisted, err := f.coupons.FindByID(ctx, outputs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, persisted.Status)

	// 再读一遍结果不变
	outputs, err = f.service.GetUserCoupons(ctx, 100)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, domain.StatusExpired, outputs[0].Status)
}

func TestUseCoupon(t *testing.T) {
	f := newServiceFixture(t)
	f.putTemplate(10, 1)
	ctx := context.Background()

	output, err := f.service.IssueCoupon(ctx, application.IssueCouponCommand{TemplateID: 1, UserID: 100})
	require.NoError(t, err)

	require.NoError(t, f.service.UseCoupon(ctx, output.Coupon.ID, 7001))

	used, err := f.coupons.FindByID(ctx, output.Coupon.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUsed, used.Status)
	assert.Equal(t, int64(7001), *used.OrderID)
}
