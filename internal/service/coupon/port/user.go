// internal/service/coupon/port/user.go
package port

import "context"

// UserClient 是用户服务的出站端口。
// 发券前只需要确认用户存在，不需要用户的任何其他信息。
type UserClient interface {
	// EnsureUserExists 用户不存在时返回 domain.ErrUserNotFound。
	EnsureUserExists(ctx context.Context, userID int64) error
}
