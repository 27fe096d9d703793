package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/arena-backend/internal/platform/logger"
	"github.com/yungbote/arena-backend/internal/types"
)

type ChatRepo interface {
	Create(ctx context.Context, tx *gorm.DB, chats []*types.Chat) ([]*types.Chat, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Chat, error)
	GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Chat, error)
}

type chatRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatRepo(db *gorm.DB, baseLog *logger.Logger) ChatRepo {
	return &chatRepo{db: db, log: baseLog.With("repo", "ChatRepo")}
}

func (r *chatRepo) Create(ctx context.Context, tx *gorm.DB, chats []*types.Chat) ([]*types.Chat, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(chats) == 0 {
		return []*types.Chat{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&chats).Error; err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *chatRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Chat, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var result types.Chat
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

func (r *chatRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Chat, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.Chat
	if userID == uuid.Nil {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
