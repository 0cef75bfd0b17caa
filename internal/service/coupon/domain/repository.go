// internal/service/coupon/domain/repository.go
package domain

import (
	"context"
	"time"
)

// CouponTemplateRepository 是模板的出站端口。
type CouponTemplateRepository interface {
	FindByID(ctx context.Context, templateID int64) (*CouponTemplate, error)
	// FindByIDForUpdate 以行级排他锁读取模板，用于串行化同步路径上的校验。
	FindByIDForUpdate(ctx context.Context, templateID int64) (*CouponTemplate, error)
	// IncrementIssuedQuantity 执行唯一的原子准入操作：
	// UPDATE ... SET issued_quantity = issued_quantity + 1 WHERE id = ? AND issued_quantity < total_quantity
	// 返回是否真的加上了。余量不足时返回 false，而不是错误。
	IncrementIssuedQuantity(ctx context.Context, templateID int64) (bool, error)
}

// CouponRepository 是已发放券的出站端口。
type CouponRepository interface {
	Save(ctx context.Context, coupon *Coupon) error
	FindByID(ctx context.Context, couponID int64) (*Coupon, error)
	FindAllByUserID(ctx context.Context, userID int64) ([]*Coupon, error)
	CountByUserAndTemplate(ctx context.Context, userID, templateID int64) (int, error)
}

// TemplateAvailability 是模板可用性的缓存快照，仅用于读侧减压，
// 永远不作为最终准入依据（以 IncrementIssuedQuantity 为准）。
type TemplateAvailability struct {
	TemplateID     int64
	Status         TemplateStatus
	TotalQuantity  int
	IssuedQuantity int
	LimitQuantity  int
	StartAt        *time.Time
	EndAt          *time.Time
}

// RemainingQuantity 返回快照里的剩余量，不会为负。
func (a *TemplateAvailability) RemainingQuantity() int {
	if r := a.TotalQuantity - a.IssuedQuantity; r > 0 {
		return r
	}
	return 0
}

// CanIssue 基于快照做的廉价预检，结果可能因缓存滞后而偏旧。
func (a *TemplateAvailability) CanIssue(at time.Time) bool {
	return a.Status == TemplateActive &&
		a.RemainingQuantity() > 0 &&
		(a.StartAt == nil || !at.Before(*a.StartAt)) &&
		(a.EndAt == nil || !at.After(*a.EndAt))
}

// AvailabilityFromTemplate 从模板生成快照。
func AvailabilityFromTemplate(t *CouponTemplate) *TemplateAvailability {
	return &TemplateAvailability{
		TemplateID:     t.ID,
		Status:         t.Status,
		TotalQuantity:  t.TotalQuantity,
		IssuedQuantity: t.IssuedQuantity,
		LimitQuantity:  t.LimitQuantity,
		StartAt:        t.StartAt,
		EndAt:          t.EndAt,
	}
}
