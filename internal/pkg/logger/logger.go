// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"os"

	"couponhub/internal/pkg/tracing"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init 配置全局 zerolog，并附加统一的 service 字段。
func Init(serviceName string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zlog.Logger = zerolog.New(os.Stderr).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// Ctx 返回一个绑定了 trace_id 的 logger。
// 如果 context 中已经注入过 logger（例如 HTTP 中间件），直接复用；
// 否则基于全局 logger 派生一个带当前 trace_id 的实例。
func Ctx(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	traceID := tracing.GetTraceIDFromContext(ctx)
	l := zlog.With().Str("trace_id", traceID).Logger()
	return &l
}

// WithContext 把带 trace_id 的 logger 注入 context，供下游 handler 使用。
func WithContext(ctx context.Context) context.Context {
	traceID := tracing.GetTraceIDFromContext(ctx)
	l := zlog.With().Str("trace_id", traceID).Logger()
	return l.WithContext(ctx)
}
