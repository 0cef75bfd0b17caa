package infrastructure

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"couponhub/internal/service/coupon/domain"
)

func TestMemoryTemplateConditionalIncrement(t *testing.T) {
	repo := NewMemoryCouponTemplateRepository()
	repo.Put(&domain.CouponTemplate{ID: 1, Status: domain.TemplateActive, TotalQuantity: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		updated, err := repo.IncrementIssuedQuantity(ctx, 1)
		require.NoError(t, err)
		assert.True(t, updated)
	}

	// 第三次必须被条件挡住
	updated, err := repo.IncrementIssuedQuantity(ctx, 1)
	require.NoError(t, err)
	assert.False(t, updated)

	template, err := repo.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, template.IssuedQuantity)
}

func TestMemoryCouponRepositoryLimitOneGuard(t *testing.T) {
	repo := NewMemoryCouponRepository()
	ctx := context.Background()
	templateID := int64(1)

	first := &domain.Coupon{UserID: 100, TemplateID: &templateID, Status: domain.StatusAvailable, LimitOne: true}
	require.NoError(t, repo.Save(ctx, first))

	// 同用户同模板再插一条限领券要撞"唯一索引"
	dup := &domain.Coupon{UserID: 100, TemplateID: &templateID, Status: domain.StatusAvailable, LimitOne: true}
	assert.ErrorIs(t, repo.Save(ctx, dup), domain.ErrPerUserLimitExceeded)

	// 别的用户不受影响
	other := &domain.Coupon{UserID: 200, TemplateID: &templateID, Status: domain.StatusAvailable, LimitOne: true}
	assert.NoError(t, repo.Save(ctx, other))

	// 不限领一张的模板可以重复领
	loose := &domain.Coupon{UserID: 100, TemplateID: &templateID, Status: domain.StatusAvailable}
	assert.NoError(t, repo.Save(ctx, loose))
	assert.NoError(t, repo.Save(ctx, &domain.Coupon{UserID: 100, TemplateID: &templateID, Status: domain.StatusAvailable}))

	// 更新已有的券（核销）不触发守卫
	first.Status = domain.StatusUsed
	assert.NoError(t, repo.Save(ctx, first))
}
