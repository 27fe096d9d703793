package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
)

// ChatMessage is one side of a turn. Assistant rows carry the aggregated arena
// result: ModelIDs is "+"-joined when several models contributed.
type ChatMessage struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ChatID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"chat_id"`
	Chat         *Chat          `gorm:"constraint:OnDelete:CASCADE;foreignKey:ChatID;references:ID" json:"chat,omitempty"`
	Role         string         `gorm:"not null" json:"role"`
	Content      string         `gorm:"type:text;not null" json:"content"`
	ModelIDs     string         `gorm:"column:model_ids" json:"model_ids,omitempty"`
	InputTokens  int            `gorm:"not null;default:0" json:"input_tokens"`
	OutputTokens int            `gorm:"not null;default:0" json:"output_tokens"`
	Cost         float64        `gorm:"not null;default:0" json:"cost"`
	Metadata     datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ChatMessage) TableName() string { return "chat_message" }
