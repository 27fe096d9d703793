package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Error categories, in classification precedence order (first match wins).
const (
	CategoryFactual     = "FACTUAL"
	CategoryFormatting  = "FORMATTING"
	CategoryCode        = "CODE"
	CategoryMath        = "MATH"
	CategoryTone        = "TONE"
	CategoryContext     = "CONTEXT"
	CategoryLogic       = "LOGIC"
	CategoryLanguage    = "LANGUAGE"
	CategoryInstruction = "INSTRUCTION"
)

// PatternExample is one retained original/corrected pair, each side truncated
// before storage.
type PatternExample struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
}

// ErrorPattern is the mutable aggregate keyed by the lexical pattern key.
// HasProposedRule is a one-way latch: once true it never resets, even as
// occurrences keep growing.
type ErrorPattern struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	PatternKey      string         `gorm:"column:pattern_key;uniqueIndex;not null" json:"pattern_key"`
	Category        string         `gorm:"not null;index" json:"category"`
	Occurrences     int            `gorm:"not null;default:0" json:"occurrences"`
	ModelIDs        datatypes.JSON `gorm:"type:jsonb;column:model_ids" json:"model_ids"`
	UserIDs         datatypes.JSON `gorm:"type:jsonb;column:user_ids" json:"user_ids"`
	Examples        datatypes.JSON `gorm:"type:jsonb" json:"examples"`
	FirstSeen       time.Time      `gorm:"not null" json:"first_seen"`
	LastSeen        time.Time      `gorm:"not null" json:"last_seen"`
	HasProposedRule bool           `gorm:"not null;default:false;index" json:"has_proposed_rule"`
}

func (ErrorPattern) TableName() string { return "error_pattern" }

func (p *ErrorPattern) ExampleList() []PatternExample {
	var out []PatternExample
	if len(p.Examples) > 0 {
		_ = json.Unmarshal(p.Examples, &out)
	}
	return out
}

func (p *ErrorPattern) ModelIDList() []string {
	var out []string
	if len(p.ModelIDs) > 0 {
		_ = json.Unmarshal(p.ModelIDs, &out)
	}
	return out
}

func (p *ErrorPattern) UserIDList() []string {
	var out []string
	if len(p.UserIDs) > 0 {
		_ = json.Unmarshal(p.UserIDs, &out)
	}
	return out
}
