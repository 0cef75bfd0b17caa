// internal/service/coupon/infrastructure/memory_repository.go
package infrastructure

import (
	"context"
	"sync"

	"couponhub/internal/service/coupon/domain"
)

// MemoryCouponTemplateRepository 是模板仓储的进程内实现，测试和本地开发用。
// 条件自增的原子性由互斥锁保证，语义和 SQL 版本一致。
type MemoryCouponTemplateRepository struct {
	mu        sync.Mutex
	templates map[int64]*domain.CouponTemplate
}

func NewMemoryCouponTemplateRepository() *MemoryCouponTemplateRepository {
	return &MemoryCouponTemplateRepository{templates: make(map[int64]*domain.CouponTemplate)}
}

// Put 写入一个模板（测试数据准备用）。
func (r *MemoryCouponTemplateRepository) Put(template *domain.CouponTemplate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *template
	r.templates[template.ID] = &copied
}

func (r *MemoryCouponTemplateRepository) FindByID(ctx context.Context, templateID int64) (*domain.CouponTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	template, ok := r.templates[templateID]
	if !ok {
		return nil, domain.ErrTemplateNotFound
	}
	copied := *template
	return &copied, nil
}

func (r *MemoryCouponTemplateRepository) FindByIDForUpdate(ctx context.Context, templateID int64) (*domain.CouponTemplate, error) {
	// 进程内实现没有行锁，准入完全依赖条件自增
	return r.FindByID(ctx, templateID)
}

func (r *MemoryCouponTemplateRepository) IncrementIssuedQuantity(ctx context.Context, templateID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	template, ok := r.templates[templateID]
	if !ok {
		return false, domain.ErrTemplateNotFound
	}
	if template.IssuedQuantity >= template.TotalQuantity {
		return false, nil
	}
	template.IssuedQuantity++
	return true, nil
}

// MemoryCouponRepository 是券仓储的进程内实现。
type MemoryCouponRepository struct {
	mu      sync.Mutex
	coupons map[int64]*domain.Coupon
	nextID  int64
}

func NewMemoryCouponRepository() *MemoryCouponRepository {
	return &MemoryCouponRepository{coupons: make(map[int64]*domain.Coupon)}
}

func (r *MemoryCouponRepository) Save(ctx context.Context, coupon *domain.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if coupon.ID == 0 {
		// 和 MySQL 的 (user_id, coupon_template_id, limit_one) 唯一索引同语义
		if coupon.LimitOne && coupon.TemplateID != nil {
			for _, existing := range r.coupons {
				if existing.LimitOne && existing.UserID == coupon.UserID &&
					existing.TemplateID != nil && *existing.TemplateID == *coupon.TemplateID {
					return domain.ErrPerUserLimitExceeded
				}
			}
		}
		r.nextID++
		coupon.ID = r.nextID
	}
	copied := *coupon
	r.coupons[coupon.ID] = &copied
	return nil
}

func (r *MemoryCouponRepository) FindByID(ctx context.Context, couponID int64) (*domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	coupon, ok := r.coupons[couponID]
	if !ok {
		return nil, domain.ErrCouponNotFound
	}
	copied := *coupon
	return &copied, nil
}

func (r *MemoryCouponRepository) FindAllByUserID(ctx context.Context, userID int64) ([]*domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Coupon
	for id := int64(1); id <= r.nextID; id++ {
		if coupon, ok := r.coupons[id]; ok && coupon.UserID == userID {
			copied := *coupon
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *MemoryCouponRepository) CountByUserAndTemplate(ctx context.Context, userID, templateID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, coupon := range r.coupons {
		if coupon.UserID == userID && coupon.TemplateID != nil && *coupon.TemplateID == templateID {
			count++
		}
	}
	return count, nil
}

// MemoryTransactionManager 直接执行 fn，没有回滚能力。
// 进程内仓储的每个操作本身就是原子的，测试里够用。
type MemoryTransactionManager struct{}

func NewMemoryTransactionManager() *MemoryTransactionManager {
	return &MemoryTransactionManager{}
}

func (m *MemoryTransactionManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// MemoryAvailabilityCache 每次直接回源仓储，没有真正的缓存层。
type MemoryAvailabilityCache struct {
	templates domain.CouponTemplateRepository
}

func NewMemoryAvailabilityCache(templates domain.CouponTemplateRepository) *MemoryAvailabilityCache {
	return &MemoryAvailabilityCache{templates: templates}
}

func (c *MemoryAvailabilityCache) GetOrLoad(ctx context.Context, templateID int64) (*domain.TemplateAvailability, error) {
	template, err := c.templates.FindByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return domain.AvailabilityFromTemplate(template), nil
}

func (c *MemoryAvailabilityCache) SaveSnapshot(ctx context.Context, template *domain.CouponTemplate) error {
	return nil
}

func (c *MemoryAvailabilityCache) IncrementIssuedQuantity(ctx context.Context, templateID int64) error {
	return nil
}
