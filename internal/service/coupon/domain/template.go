// internal/service/coupon/domain/template.go
package domain

import "time"

// CouponType 定义了优惠券的折扣方式。
type CouponType string

const (
	TypePercent CouponType = "PERCENT" // 按比例折扣
	TypeAmount  CouponType = "AMOUNT"  // 固定金额
	TypeGift    CouponType = "GIFT"    // 赠品
)

// TemplateStatus 定义了发放活动模板的生命周期状态。
type TemplateStatus string

const (
	TemplateDraft    TemplateStatus = "DRAFT"
	TemplateActive   TemplateStatus = "ACTIVE"
	TemplateDisabled TemplateStatus = "DISABLED"
)

// CouponTemplate 代表一个发券活动：总量、每人限领、有效窗口。
// IssuedQuantity 只允许通过仓储层的条件自增修改，这是防超发的唯一准入闸门。
type CouponTemplate struct {
	ID             int64
	Title          string
	Type           CouponType
	Value          float64
	Status         TemplateStatus
	TotalQuantity  int
	IssuedQuantity int
	LimitQuantity  int // 0 表示不限
	StartAt        *time.Time
	EndAt          *time.Time
}

// IsActive 判断模板在指定时间点是否处于可发放窗口。
func (t *CouponTemplate) IsActive(at time.Time) bool {
	return t.Status == TemplateActive &&
		(t.StartAt == nil || !at.Before(*t.StartAt)) &&
		(t.EndAt == nil || !at.After(*t.EndAt))
}

// RemainingQuantity 返回剩余可发数量。
func (t *CouponTemplate) RemainingQuantity() int {
	return t.TotalQuantity - t.IssuedQuantity
}

// CanIssue 判断当前是否还能发券：状态激活、在窗口内且有余量。
func (t *CouponTemplate) CanIssue(at time.Time) bool {
	return t.IsActive(at) && t.RemainingQuantity() > 0
}

// CanIssueForUser 判断某个用户是否还能再领一张。
func (t *CouponTemplate) CanIssueForUser(currentUserIssuedCount int) bool {
	return t.LimitQuantity <= 0 || currentUserIssuedCount < t.LimitQuantity
}
