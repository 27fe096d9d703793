package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/arena-backend/internal/platform/logger"
	"github.com/yungbote/arena-backend/internal/types"
)

type ErrorPatternRepo interface {
	Create(ctx context.Context, tx *gorm.DB, pattern *types.ErrorPattern) (*types.ErrorPattern, error)
	// GetByKeyForUpdate takes a row lock on the pattern so concurrent upserts
	// for the same key are serialized. Must be called inside a transaction.
	GetByKeyForUpdate(ctx context.Context, tx *gorm.DB, patternKey string) (*types.ErrorPattern, error)
	Save(ctx context.Context, tx *gorm.DB, pattern *types.ErrorPattern) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ErrorPattern, error)
	// ListProposalCandidates returns patterns with occurrences >= minOccurrences
	// whose proposal latch is unset, highest occurrences first.
	ListProposalCandidates(ctx context.Context, tx *gorm.DB, minOccurrences, limit int) ([]*types.ErrorPattern, error)
	// SetProposedLatch claims the one-way proposal latch. The update is a
	// compare-and-set on has_proposed_rule so concurrent scans cannot both
	// claim the same pattern; it returns false when another claim won.
	SetProposedLatch(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error)
	ListAll(ctx context.Context, tx *gorm.DB) ([]*types.ErrorPattern, error)
	SumOccurrencesByCategory(ctx context.Context, tx *gorm.DB) (map[string]int64, error)
}

type errorPatternRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewErrorPatternRepo(db *gorm.DB, baseLog *logger.Logger) ErrorPatternRepo {
	return &errorPatternRepo{db: db, log: baseLog.With("repo", "ErrorPatternRepo")}
}

func (r *errorPatternRepo) Create(ctx context.Context, tx *gorm.DB, pattern *types.ErrorPattern) (*types.ErrorPattern, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if pattern == nil {
		return nil, nil
	}

	if err := transaction.WithContext(ctx).Create(pattern).Error; err != nil {
		return nil, err
	}
	return pattern, nil
}

func (r *errorPatternRepo) GetByKeyForUpdate(ctx context.Context, tx *gorm.DB, patternKey string) (*types.ErrorPattern, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	query := transaction.WithContext(ctx)
	// sqlite (tests) serializes writers on its own and rejects FOR UPDATE.
	if transaction.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var result types.ErrorPattern
	if err := query.
		Where("pattern_key = ?", patternKey).
		First(&result).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

func (r *errorPatternRepo) Save(ctx context.Context, tx *gorm.DB, pattern *types.ErrorPattern) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if pattern == nil {
		return nil
	}
	return transaction.WithContext(ctx).Save(pattern).Error
}

func (r *errorPatternRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ErrorPattern, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var result types.ErrorPattern
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

func (r *errorPatternRepo) ListProposalCandidates(ctx context.Context, tx *gorm.DB, minOccurrences, limit int) ([]*types.ErrorPattern, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.ErrorPattern
	if limit <= 0 {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("occurrences >= ? AND has_proposed_rule = ?", minOccurrences, false).
		Order("occurrences DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *errorPatternRepo) SetProposedLatch(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	result := transaction.WithContext(ctx).
		Model(&types.ErrorPattern{}).
		Where("id = ? AND has_proposed_rule = ?", id, false).
		Update("has_proposed_rule", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *errorPatternRepo) ListAll(ctx context.Context, tx *gorm.DB) ([]*types.ErrorPattern, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.ErrorPattern
	if err := transaction.WithContext(ctx).
		Order("occurrences DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *errorPatternRepo) SumOccurrencesByCategory(ctx context.Context, tx *gorm.DB) (map[string]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var rows []groupCount
	if err := transaction.WithContext(ctx).
		Model(&types.ErrorPattern{}).
		Select("category AS key, SUM(occurrences) AS count").
		Group("category").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Count
	}
	return out, nil
}
