package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/arena-backend/internal/platform/logger"
	"github.com/yungbote/arena-backend/internal/types"
)

type ActiveRuleRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rule *types.ActiveRule) (*types.ActiveRule, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ActiveRule, error)
	ListActive(ctx context.Context, tx *gorm.DB) ([]*types.ActiveRule, error)
	Deactivate(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	CountActive(ctx context.Context, tx *gorm.DB) (int64, error)
}

type activeRuleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewActiveRuleRepo(db *gorm.DB, baseLog *logger.Logger) ActiveRuleRepo {
	return &activeRuleRepo{db: db, log: baseLog.With("repo", "ActiveRuleRepo")}
}

func (r *activeRuleRepo) Create(ctx context.Context, tx *gorm.DB, rule *types.ActiveRule) (*types.ActiveRule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if rule == nil {
		return nil, nil
	}

	if err := transaction.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, err
	}
	return rule, nil
}

func (r *activeRuleRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ActiveRule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var result types.ActiveRule
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&result).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

func (r *activeRuleRepo) ListActive(ctx context.Context, tx *gorm.DB) ([]*types.ActiveRule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.ActiveRule
	if err := transaction.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *activeRuleRepo) Deactivate(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	return transaction.WithContext(ctx).
		Model(&types.ActiveRule{}).
		Where("id = ?", id).
		Update("is_active", false).Error
}

func (r *activeRuleRepo) CountActive(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.ActiveRule{}).
		Where("is_active = ?", true).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
