package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func activeTemplate(total, issued, limit int) *CouponTemplate {
	return &CouponTemplate{
		ID:             1,
		Title:          "新人立减券",
		Type:           TypeAmount,
		Value:          10,
		Status:         TemplateActive,
		TotalQuantity:  total,
		IssuedQuantity: issued,
		LimitQuantity:  limit,
	}
}

func TestTemplateIsActive(t *testing.T) {
	now := time.Now()
	start := now.Add(-time.Hour)
	end := now.Add(time.Hour)

	template := activeTemplate(100, 0, 1)
	template.StartAt = &start
	template.EndAt = &end

	assert.True(t, template.IsActive(now))
	assert.False(t, template.IsActive(now.Add(-2*time.Hour)), "活动开始前不可发")
	assert.False(t, template.IsActive(now.Add(2*time.Hour)), "活动结束后不可发")

	template.Status = TemplateDraft
	assert.False(t, template.IsActive(now), "草稿状态不可发")

	template.Status = TemplateDisabled
	assert.False(t, template.IsActive(now), "停用状态不可发")
}

func TestTemplateIsActiveWithoutWindow(t *testing.T) {
	// 没配时间窗口的模板只看状态
	template := activeTemplate(100, 0, 1)
	assert.True(t, template.IsActive(time.Now()))
}

func TestTemplateCanIssue(t *testing.T) {
	now := time.Now()

	template := activeTemplate(5, 4, 0)
	assert.True(t, template.CanIssue(now))

	template.IssuedQuantity = 5
	assert.False(t, template.CanIssue(now), "发完后不可再发")
	assert.Equal(t, 0, template.RemainingQuantity())
}

func TestTemplateCanIssueForUser(t *testing.T) {
	template := activeTemplate(100, 0, 2)

	assert.True(t, template.CanIssueForUser(0))
	assert.True(t, template.CanIssueForUser(1))
	assert.False(t, template.CanIssueForUser(2), "达到每人限领后不可再领")

	template.LimitQuantity = 0
	assert.True(t, template.CanIssueForUser(1000), "limit=0 表示不限量")
}
