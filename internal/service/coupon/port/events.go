// internal/service/coupon/port/events.go
package port

import (
	"context"

	"couponhub/internal/service/coupon/domain"
)

// IssuedEventPublisher 在成功发券后向外广播事件（Kafka 等）。
// 发布失败不回滚发券，属于 best-effort 的出站通知。
type IssuedEventPublisher interface {
	PublishIssued(ctx context.Context, coupon *domain.Coupon, remainingQuantity int) error
}

// TransactionManager 把校验核心包进一个存储事务里执行。
// fn 返回错误时整个事务回滚，不留下部分状态。
type TransactionManager interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
