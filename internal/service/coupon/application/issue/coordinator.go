// internal/service/coupon/application/issue/coordinator.go
package issue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"couponhub/internal/pkg/metrics"
	"couponhub/internal/service/coupon/port"
)

// Stream 记录的字段名。入队和 worker 消费两侧共用。
const (
	FieldRequestID   = "requestId"
	FieldTemplateID  = "templateId"
	FieldUserID      = "userId"
	FieldRequestedAt = "requestedAt"
)

// Config 是协调器的运行参数，全部来自配置文件。
type Config struct {
	QueueKeyPrefix          string        // 每个模板一个排队 Sorted Set，例如 coupon:queue-position:42
	QueueTTL                time.Duration // 被遗弃的队列靠 TTL 自清理
	AverageProcessingMillis int64         // 估算等待时间用的常量，不是实测值
	RequestStreamKey        string        // worker 消费的工作流
}

// QueueResult 是排队路径的即时应答：位次和预估等待时间。
type QueueResult struct {
	RequestID           string `json:"requestId"`
	TemplateID          int64  `json:"templateId"`
	QueueRank           int64  `json:"queueRank"`
	EstimatedWaitMillis int64  `json:"estimatedWaitMillis"`
}

// Coordinator 负责发券请求的快速受理：不碰数据库，
// 只往排队结构和工作流各写一条记录，让调用方立刻拿到位次。
type Coordinator struct {
	ranks  port.RankedSet
	log    port.OrderedLog
	cfg    Config
	tracer trace.Tracer
}

// NewCoordinator 创建一个发券协调器。
func NewCoordinator(ranks port.RankedSet, log port.OrderedLog, cfg Config, tracer trace.Tracer) *Coordinator {
	return &Coordinator{ranks: ranks, log: log, cfg: cfg, tracer: tracer}
}

// Enqueue 受理一个发券请求：生成 requestId，按入队时间记录位次，
// 再把工作记录追加到请求流。位次越小代表越早入队。
func (c *Coordinator) Enqueue(ctx context.Context, templateID, userID int64) (*QueueResult, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.Enqueue")
	defer span.End()

	requestID := uuid.New().String()
	queueKey := c.queueKey(templateID)
	now := time.Now()

	span.SetAttributes(
		attribute.String("coupon.request_id", requestID),
		attribute.Int64("coupon.template_id", templateID),
	)

	if err := c.ranks.Add(ctx, queueKey, requestID, float64(now.UnixMilli()), c.cfg.QueueTTL); err != nil {
		return nil, fmt.Errorf("failed to add request to ranking queue: %w", err)
	}

	// 已知缺口：这里失败时排队项已写入，只能等 TTL 清掉，没有补偿动作。
	_, err := c.log.Append(ctx, c.cfg.RequestStreamKey, map[string]string{
		FieldRequestID:   requestID,
		FieldTemplateID:  strconv.FormatInt(templateID, 10),
		FieldUserID:      strconv.FormatInt(userID, 10),
		FieldRequestedAt: now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append request to work stream: %w", err)
	}

	rank, err := c.ranks.Rank(ctx, queueKey, requestID)
	if err != nil || rank < 0 {
		rank = 0
	}

	c.refreshQueueDepth(ctx, templateID)

	return &QueueResult{
		RequestID:           requestID,
		TemplateID:          templateID,
		QueueRank:           rank,
		EstimatedWaitMillis: rank * c.cfg.AverageProcessingMillis,
	}, nil
}

// Complete 把处理完的请求从排队结构里摘掉。
// 重复调用或 requestId 不存在时都是 no-op。
func (c *Coordinator) Complete(ctx context.Context, templateID int64, requestID string) error {
	if err := c.ranks.Remove(ctx, c.queueKey(templateID), requestID); err != nil {
		return fmt.Errorf("failed to remove request from ranking queue: %w", err)
	}
	c.refreshQueueDepth(ctx, templateID)
	return nil
}

func (c *Coordinator) queueKey(templateID int64) string {
	return fmt.Sprintf("%s:%d", c.cfg.QueueKeyPrefix, templateID)
}

func (c *Coordinator) refreshQueueDepth(ctx context.Context, templateID int64) {
	if depth, err := c.ranks.Card(ctx, c.queueKey(templateID)); err == nil {
		metrics.QueueDepth.WithLabelValues(strconv.FormatInt(templateID, 10)).Set(float64(depth))
	}
}
