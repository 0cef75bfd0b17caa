// internal/service/coupon/domain/coupon.go
package domain

import "time"

// CouponStatus 定义了已发放优惠券的生命周期状态。
// 状态转移是单向的：AVAILABLE → USED | EXPIRED，USED 和 EXPIRED 是终态。
type CouponStatus string

const (
	StatusAvailable CouponStatus = "AVAILABLE"
	StatusUsed      CouponStatus = "USED"
	StatusExpired   CouponStatus = "EXPIRED"
)

// Coupon 代表一张发到用户手里的券。
// Type/Value 在发放时从模板拷贝，之后管理员改模板不影响已发的券。
type Coupon struct {
	ID         int64
	UserID     int64
	TemplateID *int64 // 手工发放的券可以没有模板
	Type       CouponType
	Value      float64
	Status     CouponStatus
	IssuedAt   time.Time
	UsedAt     *time.Time
	ExpiredAt  *time.Time
	OrderID    *int64
	// LimitOne 在模板每人限领一张时为 true。
	// 存储层以此构造唯一索引，兜住 worker 路径上计数检查的竞态。
	LimitOne bool
}

// IsExpired 判断券在指定时间是否已过期。
func (c *Coupon) IsExpired(at time.Time) bool {
	if c.Status == StatusExpired {
		return true
	}
	return c.ExpiredAt != nil && at.After(*c.ExpiredAt)
}

// IsAvailable 判断券是否仍可使用。
func (c *Coupon) IsAvailable(at time.Time) bool {
	return c.Status == StatusAvailable && !c.IsExpired(at)
}

// Expire 把券置为过期。已过期时是 no-op，所以懒过期可以安全重放。
func (c *Coupon) Expire() {
	if c.Status == StatusAvailable {
		c.Status = StatusExpired
	}
}

// MarkUsed 在订单支付后核销这张券。
func (c *Coupon) MarkUsed(orderID int64, usedAt time.Time) {
	if c.Status != StatusAvailable {
		return
	}
	c.Status = StatusUsed
	c.UsedAt = &usedAt
	c.OrderID = &orderID
}
