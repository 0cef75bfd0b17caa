// internal/service/coupon/application/dto.go
package application

import (
	"time"

	"couponhub/internal/service/coupon/domain"
)

// IssueCouponCommand 是一次发券请求的最小参数集合。
type IssueCouponCommand struct {
	TemplateID int64 `json:"templateId"`
	UserID     int64 `json:"userId"`
}

// CouponOutput 是对外返回的券视图。
type CouponOutput struct {
	ID         int64               `json:"id"`
	TemplateID *int64              `json:"templateId,omitempty"`
	Type       domain.CouponType   `json:"type"`
	Value      float64             `json:"value"`
	Status     domain.CouponStatus `json:"status"`
	IssuedAt   time.Time           `json:"issuedAt"`
	ExpiredAt  *time.Time          `json:"expiredAt,omitempty"`
	UsedAt     *time.Time          `json:"usedAt,omitempty"`
	OrderID    *int64              `json:"orderId,omitempty"`
}

// IssueCouponOutput 是同步发券成功的应答。
type IssueCouponOutput struct {
	Coupon            CouponOutput `json:"coupon"`
	RemainingQuantity int          `json:"remainingQuantity"`
}

func toCouponOutput(c *domain.Coupon) CouponOutput {
	return CouponOutput{
		ID:         c.ID,
		TemplateID: c.TemplateID,
		Type:       c.Type,
		Value:      c.Value,
		Status:     c.Status,
		IssuedAt:   c.IssuedAt,
		ExpiredAt:  c.ExpiredAt,
		UsedAt:     c.UsedAt,
		OrderID:    c.OrderID,
	}
}
