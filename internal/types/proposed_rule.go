package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// SeverityRank orders severities for rule rendering; higher sorts first.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

const (
	RuleStatusPending  = "PENDING"
	RuleStatusApproved = "APPROVED"
	RuleStatusRejected = "REJECTED"
)

// ProposedRule is generated from a sufficiently-evidenced ErrorPattern.
// APPROVED and REJECTED are terminal.
type ProposedRule struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Title            string         `gorm:"not null" json:"title"`
	Description      string         `gorm:"type:text;not null" json:"description"`
	Instruction      string         `gorm:"type:text;not null" json:"instruction"`
	Category         string         `gorm:"not null;index" json:"category"`
	Severity         string         `gorm:"not null" json:"severity"`
	Confidence       float64        `gorm:"not null" json:"confidence"`
	Examples         datatypes.JSON `gorm:"type:jsonb" json:"examples"`
	AffectedModels   datatypes.JSON `gorm:"type:jsonb;column:affected_models" json:"affected_models"`
	TriggerPatternID uuid.UUID      `gorm:"type:uuid;column:trigger_pattern_id;not null;index" json:"trigger_pattern_id"`
	Status           string         `gorm:"not null;default:'PENDING';index" json:"status"`
	RejectionReason  *string        `gorm:"column:rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
}

func (ProposedRule) TableName() string { return "proposed_rule" }
