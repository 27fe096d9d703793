package services

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/arena-backend/internal/platform/logger"
	"github.com/yungbote/arena-backend/internal/types"
)

// ModelCatalog resolves which provider models a user may address and carries
// the static per-model rate table. Tier/quota gating is owned by the account
// layer; this catalog only filters inactive entries.
type ModelCatalog interface {
	Available(ctx context.Context, userID uuid.UUID) ([]types.ArenaModel, error)
	Get(id string) (types.ArenaModel, bool)
	Default() (types.ArenaModel, error)
}

type modelCatalog struct {
	log    *logger.Logger
	models []types.ArenaModel
	byID   map[string]types.ArenaModel
}

type catalogFile struct {
	Models []types.ArenaModel `yaml:"models"`
}

// NewModelCatalog loads the catalog from the YAML file at ARENA_MODELS_PATH,
// falling back to the built-in default set when unset or unreadable.
func NewModelCatalog(baseLog *logger.Logger) (ModelCatalog, error) {
	serviceLog := baseLog.With("service", "ModelCatalog")

	models := defaultModels()
	if path := os.Getenv("ARENA_MODELS_PATH"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			serviceLog.Warn("Could not read model catalog file, using built-in defaults", "path", path, "error", err)
		} else {
			var file catalogFile
			if err := yaml.Unmarshal(raw, &file); err != nil {
				return nil, fmt.Errorf("parse model catalog %s: %w", path, err)
			}
			if len(file.Models) > 0 {
				models = file.Models
			}
		}
	}

	return newModelCatalogFrom(serviceLog, models)
}

func newModelCatalogFrom(serviceLog *logger.Logger, models []types.ArenaModel) (ModelCatalog, error) {
	byID := make(map[string]types.ArenaModel, len(models))
	for _, m := range models {
		if m.ID == "" {
			return nil, fmt.Errorf("model catalog entry missing id")
		}
		if _, dup := byID[m.ID]; dup {
			return nil, fmt.Errorf("duplicate model id %q in catalog", m.ID)
		}
		byID[m.ID] = m
	}

	// Stable tier ordering; entries within a tier keep file order.
	ordered := make([]types.ArenaModel, len(models))
	copy(ordered, models)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Tier < ordered[j].Tier })

	serviceLog.Info("Model catalog loaded", "models", len(ordered))
	return &modelCatalog{log: serviceLog, models: ordered, byID: byID}, nil
}

func (c *modelCatalog) Available(ctx context.Context, userID uuid.UUID) ([]types.ArenaModel, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("user id required")
	}
	out := make([]types.ArenaModel, 0, len(c.models))
	for _, m := range c.models {
		if m.IsActive {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *modelCatalog) Get(id string) (types.ArenaModel, bool) {
	m, ok := c.byID[id]
	return m, ok
}

func (c *modelCatalog) Default() (types.ArenaModel, error) {
	for _, m := range c.models {
		if m.IsActive {
			return m, nil
		}
	}
	return types.ArenaModel{}, fmt.Errorf("model catalog has no active models")
}

func defaultModels() []types.ArenaModel {
	return []types.ArenaModel{
		{
			ID: "gpt-4o-mini", Name: "GPT-4o mini", Provider: "openai",
			Capability: types.CapabilityGeneral, Tier: 1,
			InputRate: 0.00015, OutputRate: 0.0006,
			MaxTokens: 2048, Temperature: 0.7, IsActive: true,
		},
		{
			ID: "gpt-4o", Name: "GPT-4o", Provider: "openai",
			Capability: types.CapabilityCoding, Tier: 2,
			InputRate: 0.0025, OutputRate: 0.01,
			MaxTokens: 4096, Temperature: 0.7, IsActive: true,
		},
		{
			ID: "claude-3-7-sonnet", Name: "Claude 3.7 Sonnet", Provider: "anthropic",
			Capability: types.CapabilityAnalysis, Tier: 2,
			InputRate: 0.003, OutputRate: 0.015,
			MaxTokens: 4096, Temperature: 0.7, IsActive: true,
		},
		{
			ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", Provider: "google",
			Capability: types.CapabilityCreative, Tier: 2,
			InputRate: 0.00125, OutputRate: 0.005,
			MaxTokens: 4096, Temperature: 0.8, IsActive: true,
		},
		{
			ID: "deepseek-r1", Name: "DeepSeek R1", Provider: "deepseek",
			Capability: types.CapabilityMath, Tier: 2,
			InputRate: 0.00055, OutputRate: 0.00219,
			MaxTokens: 4096, Temperature: 0.3, IsActive: true,
		},
	}
}
