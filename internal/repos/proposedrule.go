package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/arena-backend/internal/platform/logger"
	"github.com/yungbote/arena-backend/internal/types"
)

type ProposedRuleRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rule *types.ProposedRule) (*types.ProposedRule, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ProposedRule, error)
	Save(ctx context.Context, tx *gorm.DB, rule *types.ProposedRule) error
	ListByStatus(ctx context.Context, tx *gorm.DB, status string) ([]*types.ProposedRule, error)
	CountByStatus(ctx context.Context, tx *gorm.DB) (map[string]int64, error)
}

type proposedRuleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProposedRuleRepo(db *gorm.DB, baseLog *logger.Logger) ProposedRuleRepo {
	return &proposedRuleRepo{db: db, log: baseLog.With("repo", "ProposedRuleRepo")}
}

func (r *proposedRuleRepo) Create(ctx context.Context, tx *gorm.DB, rule *types.ProposedRule) (*types.ProposedRule, error) {
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

func (r *proposedRuleRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ProposedRule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var result types.ProposedRule
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

func (r *proposedRuleRepo) Save(ctx context.Context, tx *gorm.DB, rule *types.ProposedRule) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if rule == nil {
		return nil
	}
	return transaction.WithContext(ctx).Save(rule).Error
}

func (r *proposedRuleRepo) ListByStatus(ctx context.Context, tx *gorm.DB, status string) ([]*types.ProposedRule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	query := transaction.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var results []*types.ProposedRule
	if err := query.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *proposedRuleRepo) CountByStatus(ctx context.Context, tx *gorm.DB) (map[string]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var rows []groupCount
	if err := transaction.WithContext(ctx).
		Model(&types.ProposedRule{}).
		Select("status AS key, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Count
	}
	return out, nil
}
