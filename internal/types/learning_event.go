package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	EventTypeCorrection   = "CORRECTION"
	EventTypeFeedback     = "FEEDBACK"
	EventTypeRegeneration = "REGENERATION"
	EventTypeReport       = "REPORT"
)

func IsValidEventType(t string) bool {
	switch t {
	case EventTypeCorrection, EventTypeFeedback, EventTypeRegeneration, EventTypeReport:
		return true
	}
	return false
}

// LearningEvent is an append-only log row; rows are never mutated or deleted.
type LearningEvent struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Type      string         `gorm:"not null;index" json:"type"`
	ModelID   string         `gorm:"column:model_id;not null;index" json:"model_id"`
	ChatID    *uuid.UUID     `gorm:"type:uuid;index" json:"chat_id,omitempty"`
	UserID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Content   datatypes.JSON `gorm:"type:jsonb;not null" json:"content"`
	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
}

func (LearningEvent) TableName() string { return "learning_event" }

// CorrectionPayload is the structured content of CORRECTION (and REGENERATION /
// REPORT) events.
type CorrectionPayload struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
	Feedback  string `json:"feedback,omitempty"`
}

// FeedbackPayload is the structured content of FEEDBACK events.
type FeedbackPayload struct {
	IsPositive bool   `json:"is_positive"`
	Reason     string `json:"reason,omitempty"`
	Excerpt    string `json:"excerpt,omitempty"`
}

// EventPayload is a tagged union over the per-type payloads. It is only
// serialized at the storage boundary; domain code works with the struct.
type EventPayload struct {
	Correction *CorrectionPayload `json:"correction,omitempty"`
	Feedback   *FeedbackPayload   `json:"feedback,omitempty"`
}

func (p EventPayload) ToJSON() (datatypes.JSON, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode event payload: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func ParseEventPayload(raw datatypes.JSON) (EventPayload, error) {
	var p EventPayload
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode event payload: %w", err)
	}
	return p, nil
}
