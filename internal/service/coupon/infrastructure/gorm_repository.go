// internal/service/coupon/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"couponhub/internal/service/coupon/domain"
)

// txKey 用于在 context 里携带当前事务。
// 仓储方法统一从 context 取连接，这样同一个事务里的所有操作共享一个 tx。
type txKey struct{}

func dbFromContext(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return fallback.WithContext(ctx)
}

// GormTransactionManager 基于 gorm 事务实现 TransactionManager。
type GormTransactionManager struct {
	db *gorm.DB
}

func NewGormTransactionManager(db *gorm.DB) *GormTransactionManager {
	return &GormTransactionManager{db: db}
}

// WithinTransaction 开启事务并把 tx 注入 context；fn 报错时整体回滚。
func (m *GormTransactionManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// GormCouponTemplateRepository 是模板仓储的 GORM 实现。
type GormCouponTemplateRepository struct {
	db *gorm.DB
}

func NewGormCouponTemplateRepository(db *gorm.DB) *GormCouponTemplateRepository {
	return &GormCouponTemplateRepository{db: db}
}

func (r *GormCouponTemplateRepository) FindByID(ctx context.Context, templateID int64) (*domain.CouponTemplate, error) {
	var model CouponTemplateModel
	err := dbFromContext(ctx, r.db).First(&model, templateID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTemplateNotFound
		}
		return nil, err
	}
	return toDomainTemplate(&model), nil
}

// FindByIDForUpdate 用 SELECT ... FOR UPDATE 读取模板，
// 让加锁路径上的多个调用者在数据库层面排队。
func (r *GormCouponTemplateRepository) FindByIDForUpdate(ctx context.Context, templateID int64) (*domain.CouponTemplate, error) {
	var model CouponTemplateModel
	err := dbFromContext(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&model, templateID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTemplateNotFound
		}
		return nil, err
	}
	return toDomainTemplate(&model), nil
}

// IncrementIssuedQuantity 是整条链路里唯一的原子准入操作。
// WHERE issued_quantity < total_quantity 保证并发下也不可能加过总量。
func (r *GormCouponTemplateRepository) IncrementIssuedQuantity(ctx context.Context, templateID int64) (bool, error) {
	result := dbFromContext(ctx, r.db).
		Model(&CouponTemplateModel{}).
		Where("id = ? AND issued_quantity < total_quantity", templateID).
		UpdateColumn("issued_quantity", gorm.Expr("issued_quantity + 1"))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GormCouponRepository 是券仓储的 GORM 实现。
type GormCouponRepository struct {
	db *gorm.DB
}

func NewGormCouponRepository(db *gorm.DB) *GormCouponRepository {
	return &GormCouponRepository{db: db}
}

// Save 插入或更新一张券；插入时回填自增 ID。
// 限领一张的模板在 (user_id, coupon_template_id, limit_one) 上有唯一索引，
// 撞索引说明同一用户的另一次发放已经先落库。
func (r *GormCouponRepository) Save(ctx context.Context, coupon *domain.Coupon) error {
	model := toCouponModel(coupon)
	if err := dbFromContext(ctx, r.db).Save(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrPerUserLimitExceeded
		}
		return err
	}
	coupon.ID = model.ID
	return nil
}

func (r *GormCouponRepository) FindByID(ctx context.Context, couponID int64) (*domain.Coupon, error) {
	var model CouponModel
	err := dbFromContext(ctx, r.db).First(&model, couponID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCouponNotFound
		}
		return nil, err
	}
	return toDomainCoupon(&model), nil
}

func (r *GormCouponRepository) FindAllByUserID(ctx context.Context, userID int64) ([]*domain.Coupon, error) {
	var models []CouponModel
	err := dbFromContext(ctx, r.db).
		Where("user_id = ?", userID).
		Order("id").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	coupons := make([]*domain.Coupon, 0, len(models))
	for i := range models {
		coupons = append(coupons, toDomainCoupon(&models[i]))
	}
	return coupons, nil
}

func (r *GormCouponRepository) CountByUserAndTemplate(ctx context.Context, userID, templateID int64) (int, error) {
	var count int64
	err := dbFromContext(ctx, r.db).
		Model(&CouponModel{}).
		Where("user_id = ? AND coupon_template_id = ?", userID, templateID).
		Count(&count).Error
	return int(count), err
}
