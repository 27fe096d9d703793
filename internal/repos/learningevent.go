package repos

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/arena-backend/internal/platform/logger"
	"github.com/yungbote/arena-backend/internal/types"
)

type LearningEventRepo interface {
	Create(ctx context.Context, tx *gorm.DB, events []*types.LearningEvent) ([]*types.LearningEvent, error)
	CountByType(ctx context.Context, tx *gorm.DB) (map[string]int64, error)
	CountByModel(ctx context.Context, tx *gorm.DB) (map[string]int64, error)
	RecentCreatedAt(ctx context.Context, tx *gorm.DB, limit int) ([]time.Time, error)
}

type learningEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLearningEventRepo(db *gorm.DB, baseLog *logger.Logger) LearningEventRepo {
	return &learningEventRepo{db: db, log: baseLog.With("repo", "LearningEventRepo")}
}

func (r *learningEventRepo) Create(ctx context.Context, tx *gorm.DB, events []*types.LearningEvent) ([]*types.LearningEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(events) == 0 {
		return []*types.LearningEvent{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

type groupCount struct {
	Key   string `gorm:"column:key"`
	Count int64  `gorm:"column:count"`
}

func (r *learningEventRepo) CountByType(ctx context.Context, tx *gorm.DB) (map[string]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var rows []groupCount
	if err := transaction.WithContext(ctx).
		Model(&types.LearningEvent{}).
		Select("type AS key, COUNT(*) AS count").
		Group("type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Count
	}
	return out, nil
}

func (r *learningEventRepo) CountByModel(ctx context.Context, tx *gorm.DB) (map[string]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var rows []groupCount
	if err := transaction.WithContext(ctx).
		Model(&types.LearningEvent{}).
		Select("model_id AS key, COUNT(*) AS count").
		Group("model_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Count
	}
	return out, nil
}

func (r *learningEventRepo) RecentCreatedAt(ctx context.Context, tx *gorm.DB, limit int) ([]time.Time, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if limit <= 0 {
		return nil, nil
	}

	var stamps []time.Time
	if err := transaction.WithContext(ctx).
		Model(&types.LearningEvent{}).
		Order("created_at DESC").
		Limit(limit).
		Pluck("created_at", &stamps).Error; err != nil {
		return nil, err
	}
	return stamps, nil
}
