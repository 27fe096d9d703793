package types

import (
	"time"

	"github.com/google/uuid"
)

// ActiveRule is an independent snapshot of an approved ProposedRule; later
// edits to the proposal (if any) do not propagate. Soft-deleted via
// IsActive=false, never hard-deleted.
type ActiveRule struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Title        string    `gorm:"not null" json:"title"`
	Instruction  string    `gorm:"type:text;not null" json:"instruction"`
	Category     string    `gorm:"not null;index" json:"category"`
	Severity     string    `gorm:"not null" json:"severity"`
	ApprovedByID uuid.UUID `gorm:"type:uuid;column:approved_by_id;not null" json:"approved_by_id"`
	IsActive     bool      `gorm:"not null;default:true;index" json:"is_active"`
	UsageCount   int       `gorm:"not null;default:0" json:"usage_count"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

func (ActiveRule) TableName() string { return "active_rule" }
