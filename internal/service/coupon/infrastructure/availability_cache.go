// internal/service/coupon/infrastructure/availability_cache.go
package infrastructure

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redispkg "couponhub/internal/pkg/redis"
	"couponhub/internal/service/coupon/domain"
)

const templateCacheKeyPrefix = "coupon:template"

// Hash 字段名
const (
	statusField         = "status"
	totalQuantityField  = "totalQuantity"
	issuedQuantityField = "issuedQuantity"
	limitQuantityField  = "limitQuantity"
	startAtField        = "startAt"
	endAtField          = "endAt"
)

// RedisAvailabilityCache 把模板可用性快照存在 Redis Hash 里，
// 只靠 TTL 失效。权威数据在 MySQL，这里只为读侧减压。
type RedisAvailabilityCache struct {
	client    *redispkg.Client
	templates domain.CouponTemplateRepository
	ttl       time.Duration
}

// NewRedisAvailabilityCache 创建缓存实例。
func NewRedisAvailabilityCache(client *redispkg.Client, templates domain.CouponTemplateRepository, ttl time.Duration) *RedisAvailabilityCache {
	return &RedisAvailabilityCache{client: client, templates: templates, ttl: ttl}
}

// GetOrLoad 先查缓存，未命中时回源数据库并写缓存（read-through）。
func (c *RedisAvailabilityCache) GetOrLoad(ctx context.Context, templateID int64) (*domain.TemplateAvailability, error) {
	cached, err := c.readFromCache(ctx, templateID)
	if err == nil && cached != nil {
		return cached, nil
	}

	template, err := c.templates.FindByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if err := c.SaveSnapshot(ctx, template); err != nil {
		// 写缓存失败不影响本次读
		return domain.AvailabilityFromTemplate(template), nil
	}
	return domain.AvailabilityFromTemplate(template), nil
}

// SaveSnapshot 覆盖写入快照并续 TTL。
func (c *RedisAvailabilityCache) SaveSnapshot(ctx context.Context, template *domain.CouponTemplate) error {
	key := c.cacheKey(template.ID)
	payload := map[string]interface{}{
		statusField:         string(template.Status),
		totalQuantityField:  strconv.Itoa(template.TotalQuantity),
		issuedQuantityField: strconv.Itoa(template.IssuedQuantity),
		limitQuantityField:  strconv.Itoa(template.LimitQuantity),
		startAtField:        formatInstant(template.StartAt),
		endAtField:          formatInstant(template.EndAt),
	}

	pipe := c.client.GetClient().Pipeline()
	pipe.HSet(ctx, key, payload)
	pipe.Expire(ctx, key, c.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// IncrementIssuedQuantity 缓存条目存在时就地 +1，减小快照滞后。
// 条目不存在时不做任何事：下次读会回源到权威数据。
func (c *RedisAvailabilityCache) IncrementIssuedQuantity(ctx context.Context, templateID int64) error {
	key := c.cacheKey(templateID)
	exists, err := c.client.GetClient().Exists(ctx, key).Result()
	if err != nil || exists == 0 {
		return err
	}
	pipe := c.client.GetClient().Pipeline()
	pipe.HIncrBy(ctx, key, issuedQuantityField, 1)
	pipe.Expire(ctx, key, c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisAvailabilityCache) readFromCache(ctx context.Context, templateID int64) (*domain.TemplateAvailability, error) {
	entries, err := c.client.GetClient().HGetAll(ctx, c.cacheKey(templateID)).Result()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	status, ok := entries[statusField]
	if !ok {
		return nil, nil
	}

	availability := &domain.TemplateAvailability{
		TemplateID: templateID,
		Status:     domain.TemplateStatus(status),
		StartAt:    parseInstant(entries[startAtField]),
		EndAt:      parseInstant(entries[endAtField]),
	}
	availability.TotalQuantity, _ = strconv.Atoi(entries[totalQuantityField])
	availability.IssuedQuantity, _ = strconv.Atoi(entries[issuedQuantityField])
	availability.LimitQuantity, _ = strconv.Atoi(entries[limitQuantityField])
	return availability, nil
}

func (c *RedisAvailabilityCache) cacheKey(templateID int64) string {
	return fmt.Sprintf("%s:%d", templateCacheKeyPrefix, templateID)
}

// 时间戳以 epoch 毫秒存储，空串表示没有设置。
func formatInstant(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseInstant(s string) *time.Time {
	if s == "" {
		return nil
	}
	millis, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(millis)
	return &t
}
