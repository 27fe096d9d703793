package types

// Capability tags used by AUTO_SELECT task matching.
const (
	CapabilityCoding   = "coding"
	CapabilityAnalysis = "analysis"
	CapabilityCreative = "creative"
	CapabilityMath     = "math"
	CapabilityGeneral  = "general"
)

// ArenaModel is a catalog entry for one callable provider model. The catalog is
// static configuration (YAML), not a database row; rates are USD per 1K tokens.
type ArenaModel struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Provider    string  `yaml:"provider"`
	Capability  string  `yaml:"capability"`
	Tier        int     `yaml:"tier"`
	InputRate   float64 `yaml:"input_rate"`
	OutputRate  float64 `yaml:"output_rate"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
	IsActive    bool    `yaml:"is_active"`
}

// Cost prices a single call against this model's rate card.
func (m ArenaModel) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000.0*m.InputRate + float64(outputTokens)/1000.0*m.OutputRate
}
