// internal/service/coupon/infrastructure/stream_consumer.go
package infrastructure

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"couponhub/internal/pkg/logger"
	"couponhub/internal/pkg/metrics"
	"couponhub/internal/service/coupon/application"
	"couponhub/internal/service/coupon/application/issue"
	"couponhub/internal/service/coupon/port"
)

// 结果记录的字段名
const (
	resultStatusField   = "status"
	resultRecordIDField = "recordId"
	resultErrorField    = "error"

	resultStatusSuccess = "SUCCESS"
	resultStatusFailed  = "FAILED"
)

// ConsumerConfig 是发券 worker 的运行参数。
type ConsumerConfig struct {
	Enabled          bool
	RequestStreamKey string
	IssueStreamKey   string
	Group            string
	ConsumerPrefix   string
	PollTimeout      time.Duration
	Concurrency      int
	ReadBatchSize    int
}

// IssueRequestConsumer 以竞争消费者方式消费发券请求流。
// 每条记录恰好被处理一次（at-most-once）：不管成功、业务拒绝
// 还是基础设施错误，都发布结果、清理排队项并 ack，绝不重投。
// 发券失败大多是永久性的（售罄/非会员/活动未开始），重试没有意义。
type IssueRequestConsumer struct {
	log         port.OrderedLog
	coordinator *issue.Coordinator
	service     *application.CouponService
	cfg         ConsumerConfig

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewIssueRequestConsumer 创建发券 worker。
func NewIssueRequestConsumer(log port.OrderedLog, coordinator *issue.Coordinator, service *application.CouponService, cfg ConsumerConfig) *IssueRequestConsumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ReadBatchSize <= 0 {
		cfg.ReadBatchSize = 16
	}
	return &IssueRequestConsumer{
		log:         log,
		coordinator: coordinator,
		service:     service,
		cfg:         cfg,
	}
}

// Start 确保消费组存在，然后拉起 Concurrency 个消费 goroutine。
// 每个实例使用唯一的消费者身份，多进程部署时自动分摊流量。
func (c *IssueRequestConsumer) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		logger.Ctx(ctx).Info().Msg("coupon issue worker disabled via configuration")
		return nil
	}

	if err := c.log.EnsureGroup(ctx, c.cfg.RequestStreamKey, c.cfg.Group); err != nil {
		return fmt.Errorf("failed to ensure consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.group, ctx = errgroup.WithContext(ctx)

	for i := 0; i < c.cfg.Concurrency; i++ {
		consumerID := fmt.Sprintf("%s-%s", c.cfg.ConsumerPrefix, uuid.New().String()[:8])
		c.group.Go(func() error {
			c.consumeLoop(ctx, consumerID)
			return nil
		})
		logger.Ctx(ctx).Info().
			Str("consumer", consumerID).
			Str("group", c.cfg.Group).
			Str("stream", c.cfg.RequestStreamKey).
			Dur("poll_timeout", c.cfg.PollTimeout).
			Msg("coupon issue worker started")
	}
	return nil
}

// Stop 取消所有消费 goroutine 并等待退出。
func (c *IssueRequestConsumer) Stop(ctx context.Context) {
	if c.cancel == nil {
		return
	}
	c.cancel()
	_ = c.group.Wait()
	logger.Ctx(ctx).Info().Msg("coupon issue worker stopped")
}

func (c *IssueRequestConsumer) consumeLoop(ctx context.Context, consumerID string) {
	for {
		if ctx.Err() != nil {
			return
		}
		records, err := c.log.ReadGroup(ctx, c.cfg.RequestStreamKey, c.cfg.Group, consumerID, c.cfg.ReadBatchSize, c.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Ctx(ctx).Error().Err(err).Msg("failed to read from request stream, backing off")
			// 避免基础设施故障时空转
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for _, record := range records {
			c.handleRecord(ctx, record)
		}
	}
}

// handleRecord 处理一条发券请求记录。
// 字段残缺的记录直接 ack 丢弃：坏输入重试也不会变好。
func (c *IssueRequestConsumer) handleRecord(ctx context.Context, record port.LogRecord) {
	requestID := record.Values[issue.FieldRequestID]
	templateID, tErr := strconv.ParseInt(record.Values[issue.FieldTemplateID], 10, 64)
	userID, uErr := strconv.ParseInt(record.Values[issue.FieldUserID], 10, 64)

	if requestID == "" || tErr != nil || uErr != nil {
		c.ack(ctx, record.ID)
		return
	}

	start := time.Now()
	output, err := c.service.IssueCouponWithoutLock(ctx, application.IssueCouponCommand{
		TemplateID: templateID,
		UserID:     userID,
	})
	metrics.WorkerProcessingSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("request_id", requestID).Msg("failed to process coupon issue request")
		c.publishResult(ctx, requestID, record.ID, resultStatusFailed, map[string]string{
			resultErrorField:      err.Error(),
			issue.FieldTemplateID: strconv.FormatInt(templateID, 10),
		})
	} else {
		c.publishResult(ctx, requestID, record.ID, resultStatusSuccess, map[string]string{
			"couponId":            strconv.FormatInt(output.Coupon.ID, 10),
			issue.FieldTemplateID: strconv.FormatInt(templateID, 10),
			"remainingQuantity":   strconv.Itoa(output.RemainingQuantity),
		})
	}

	// 无论成败都要清理排队项并 ack，保证每条请求只被处理一次
	if err := c.coordinator.Complete(ctx, templateID, requestID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("request_id", requestID).Msg("failed to remove queue position entry")
	}
	c.ack(ctx, record.ID)
}

func (c *IssueRequestConsumer) publishResult(ctx context.Context, requestID, recordID, status string, payload map[string]string) {
	body := map[string]string{
		issue.FieldRequestID: requestID,
		resultStatusField:    status,
		resultRecordIDField:  recordID,
	}
	for k, v := range payload {
		body[k] = v
	}
	if _, err := c.log.Append(ctx, c.cfg.IssueStreamKey, body); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("request_id", requestID).Msg("failed to publish issue result")
	}
}

func (c *IssueRequestConsumer) ack(ctx context.Context, recordID string) {
	if err := c.log.Ack(ctx, c.cfg.RequestStreamKey, c.cfg.Group, recordID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("record_id", recordID).Msg("failed to ack stream record")
	}
	if err := c.log.Delete(ctx, c.cfg.RequestStreamKey, recordID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("record_id", recordID).Msg("failed to delete stream record")
	}
}
