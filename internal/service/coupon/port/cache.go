// internal/service/coupon/port/cache.go
package port

import (
	"context"

	"couponhub/internal/service/coupon/domain"
)

// AvailabilityCache 是模板可用性快照的 read-through 缓存端口。
// 纯粹用于读侧减压，最终准入以数据库的条件自增为准。
type AvailabilityCache interface {
	// GetOrLoad 命中返回缓存快照，未命中时回源加载并写缓存。
	// 模板不存在时返回 domain.ErrTemplateNotFound。
	GetOrLoad(ctx context.Context, templateID int64) (*domain.TemplateAvailability, error)
	// SaveSnapshot 用模板当前状态覆盖快照并续 TTL。
	SaveSnapshot(ctx context.Context, template *domain.CouponTemplate) error
	// IncrementIssuedQuantity 在缓存条目存在时就地加一，
	// 降低权威写入与下次回源之间的脏读窗口。条目不存在时什么都不做。
	IncrementIssuedQuantity(ctx context.Context, templateID int64) error
}
