// internal/service/coupon/infrastructure/gorm_model.go
package infrastructure

import (
	"time"

	"couponhub/internal/service/coupon/domain"
)

// CouponTemplateModel 是 coupon_templates 表的数据库模型。
type CouponTemplateModel struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	Title          string `gorm:"size:255;not null"`
	Type           string `gorm:"size:32;not null"`
	Value          float64
	Status         string `gorm:"size:32;not null"`
	TotalQuantity  int    `gorm:"not null"`
	IssuedQuantity int    `gorm:"not null"`
	LimitQuantity  int    `gorm:"not null"`
	StartAt        *time.Time
	EndAt          *time.Time
}

func (CouponTemplateModel) TableName() string { return "coupon_templates" }

// CouponModel 是 coupons 表的数据库模型。
// user_id + coupon_template_id 上有联合索引，加速每人限领的计数查询。
// limit_one 只在模板每人限领一张时写 1，其余写 NULL：
// MySQL 唯一索引不约束 NULL，因此索引只对限领一张的模板生效。
type CouponModel struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	UserID           int64  `gorm:"not null;index:idx_coupons_user_template,priority:1;uniqueIndex:uidx_coupons_limit_one,priority:1"`
	CouponTemplateID *int64 `gorm:"index:idx_coupons_user_template,priority:2;uniqueIndex:uidx_coupons_limit_one,priority:2"`
	Type             string `gorm:"size:32;not null"`
	Value            float64
	Status           string    `gorm:"size:32;not null"`
	IssuedAt         time.Time `gorm:"not null"`
	UsedAt           *time.Time
	ExpiredAt        *time.Time
	OrderID          *int64
	LimitOne         *bool `gorm:"uniqueIndex:uidx_coupons_limit_one,priority:3"`
}

func (CouponModel) TableName() string { return "coupons" }

func toDomainTemplate(m *CouponTemplateModel) *domain.CouponTemplate {
	return &domain.CouponTemplate{
		ID:             m.ID,
		Title:          m.Title,
		Type:           domain.CouponType(m.Type),
		Value:          m.Value,
		Status:         domain.TemplateStatus(m.Status),
		TotalQuantity:  m.TotalQuantity,
		IssuedQuantity: m.IssuedQuantity,
		LimitQuantity:  m.LimitQuantity,
		StartAt:        m.StartAt,
		EndAt:          m.EndAt,
	}
}

func toDomainCoupon(m *CouponModel) *domain.Coupon {
	return &domain.Coupon{
		ID:         m.ID,
		UserID:     m.UserID,
		TemplateID: m.CouponTemplateID,
		Type:       domain.CouponType(m.Type),
		Value:      m.Value,
		Status:     domain.CouponStatus(m.Status),
		IssuedAt:   m.IssuedAt,
		UsedAt:     m.UsedAt,
		ExpiredAt:  m.ExpiredAt,
		OrderID:    m.OrderID,
		LimitOne:   m.LimitOne != nil && *m.LimitOne,
	}
}

func toCouponModel(c *domain.Coupon) *CouponModel {
	model := &CouponModel{
		ID:               c.ID,
		UserID:           c.UserID,
		CouponTemplateID: c.TemplateID,
		Type:             string(c.Type),
		Value:            c.Value,
		Status:           string(c.Status),
		IssuedAt:         c.IssuedAt,
		UsedAt:           c.UsedAt,
		ExpiredAt:        c.ExpiredAt,
		OrderID:          c.OrderID,
	}
	if c.LimitOne {
		limitOne := true
		model.LimitOne = &limitOne
	}
	return model
}
