// internal/service/coupon/infrastructure/issued_event_producer.go
package infrastructure

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"couponhub/internal/pkg/mq"
	"couponhub/internal/service/coupon/domain"
)

// CouponIssuedEvent 是发券成功后广播到 Kafka 的事件体。
type CouponIssuedEvent struct {
	CouponID          int64   `json:"couponId"`
	TemplateID        *int64  `json:"templateId,omitempty"`
	UserID            int64   `json:"userId"`
	Type              string  `json:"type"`
	Value             float64 `json:"value"`
	RemainingQuantity int     `json:"remainingQuantity"`
	IssuedAt          int64   `json:"issuedAt"` // epoch millis
}

// KafkaIssuedEventProducer 把发券事件写入 Kafka，按用户 ID 分区保证同一用户有序。
type KafkaIssuedEventProducer struct {
	writer *kafka.Writer
}

func NewKafkaIssuedEventProducer(brokers []string, topic string) *KafkaIssuedEventProducer {
	return &KafkaIssuedEventProducer{writer: mq.NewWriter(brokers, topic)}
}

func (p *KafkaIssuedEventProducer) PublishIssued(ctx context.Context, coupon *domain.Coupon, remainingQuantity int) error {
	event := CouponIssuedEvent{
		CouponID:          coupon.ID,
		TemplateID:        coupon.TemplateID,
		UserID:            coupon.UserID,
		Type:              string(coupon.Type),
		Value:             coupon.Value,
		RemainingQuantity: remainingQuantity,
		IssuedAt:          coupon.IssuedAt.UnixMilli(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	key := []byte(strconv.FormatInt(coupon.UserID, 10))

	// 发布是 best-effort，不能拖垮发券事务
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return mq.ProduceMessage(ctx, p.writer, key, payload)
}

func (p *KafkaIssuedEventProducer) Close() error {
	return p.writer.Close()
}
