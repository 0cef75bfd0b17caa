// internal/service/coupon/domain/errors.go
package domain

import "github.com/pkg/errors"

// 发券链路的业务错误。全部属于 4xx 级别的拒绝，不做自动重试。
var (
	ErrUserNotFound         = errors.New("user not found")
	ErrTemplateNotFound     = errors.New("coupon template not found")
	ErrTemplateExhausted    = errors.New("coupon template is exhausted or not active")
	ErrPerUserLimitExceeded = errors.New("per-user issuance limit exceeded")
	ErrCouponNotFound       = errors.New("coupon not found")
)
