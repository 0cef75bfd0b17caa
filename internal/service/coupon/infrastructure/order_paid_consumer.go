// internal/service/coupon/infrastructure/order_paid_consumer.go
package infrastructure

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"couponhub/internal/pkg/logger"
	"couponhub/internal/pkg/mq"
	"couponhub/internal/service/coupon/application"
)

// OrderPaidEvent 是订单服务在支付完成后发出的事件。
// 只有带券下单的订单会携带 couponId。
type OrderPaidEvent struct {
	OrderID  int64  `json:"orderId"`
	UserID   int64  `json:"userId"`
	CouponID *int64 `json:"couponId,omitempty"`
	PaidAt   int64  `json:"paidAt"` // epoch millis
}

// OrderPaidConsumerAdapter 监听订单支付事件并核销对应的券。
type OrderPaidConsumerAdapter struct {
	reader  *kafka.Reader
	service *application.CouponService
	wg      sync.WaitGroup
	stopped bool
}

func NewOrderPaidConsumerAdapter(reader *kafka.Reader, service *application.CouponService) *OrderPaidConsumerAdapter {
	return &OrderPaidConsumerAdapter{
		reader:  reader,
		service: service,
	}
}

// Start 开始监听订单支付主题，长期运行直到 Stop。
func (a *OrderPaidConsumerAdapter) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.reader.Config().Topic).Msg("order paid consumer started")
		for {
			if a.stopped {
				return
			}
			// FetchMessage 不自动提交 offset，处理完再提交
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("order paid consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("failed to fetch order paid message, retrying")
				time.Sleep(time.Second)
				continue
			}

			a.processMessage(ctx, msg)

			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("failed to commit order paid message")
			}
		}
	}()
}

// Stop 优雅地停止消费者。
func (a *OrderPaidConsumerAdapter) Stop() {
	a.stopped = true
	a.reader.Close()
	a.wg.Wait()
}

// processMessage 反序列化事件并核销券。核销是幂等的，重复投递无害。
func (a *OrderPaidConsumerAdapter) processMessage(parentCtx context.Context, msg kafka.Message) {
	var event OrderPaidEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logger.Ctx(parentCtx).Error().Err(err).Msg("failed to unmarshal order paid event, skipping")
		return
	}
	if event.CouponID == nil {
		// 没用券的订单，和我们无关
		return
	}

	propagator := otel.GetTextMapPropagator()
	headerCarrier := mq.KafkaHeaderCarrier(msg.Headers)
	ctx := propagator.Extract(parentCtx, &headerCarrier)

	if err := a.service.UseCoupon(ctx, *event.CouponID, event.OrderID); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Int64("coupon_id", *event.CouponID).
			Int64("order_id", event.OrderID).
			Msg("failed to mark coupon as used")
	}
}
