package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCouponExpireIsIdempotent(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	coupon := &Coupon{
		ID:        1,
		UserID:    10,
		Status:    StatusAvailable,
		IssuedAt:  past.Add(-time.Hour),
		ExpiredAt: &past,
	}

	assert.True(t, coupon.IsExpired(time.Now()))

	coupon.Expire()
	assert.Equal(t, StatusExpired, coupon.Status)

	// 重复过期是 no-op
	coupon.Expire()
	assert.Equal(t, StatusExpired, coupon.Status)
}

func TestCouponExpireDoesNotTouchUsed(t *testing.T) {
	usedAt := time.Now()
	coupon := &Coupon{ID: 1, Status: StatusUsed, UsedAt: &usedAt}

	coupon.Expire()
	assert.Equal(t, StatusUsed, coupon.Status, "已使用的券不能被转成过期")
}

func TestCouponMarkUsed(t *testing.T) {
	future := time.Now().Add(time.Hour)
	coupon := &Coupon{ID: 1, Status: StatusAvailable, ExpiredAt: &future}

	now := time.Now()
	coupon.MarkUsed(42, now)

	assert.Equal(t, StatusUsed, coupon.Status)
	assert.Equal(t, int64(42), *coupon.OrderID)
	assert.Equal(t, now, *coupon.UsedAt)
	assert.False(t, coupon.IsAvailable(now))
}

func TestCouponMarkUsedOnlyOnce(t *testing.T) {
	coupon := &Coupon{ID: 1, Status: StatusAvailable}
	coupon.MarkUsed(1, time.Now())
	coupon.MarkUsed(2, time.Now())

	assert.Equal(t, int64(1), *coupon.OrderID, "重复核销不能改写第一次的订单号")
}

func TestCouponIsAvailable(t *testing.T) {
	future := time.Now().Add(time.Hour)
	coupon := &Coupon{Status: StatusAvailable, ExpiredAt: &future}
	assert.True(t, coupon.IsAvailable(time.Now()))
	assert.False(t, coupon.IsAvailable(future.Add(time.Minute)), "过了有效期即不可用")
}
