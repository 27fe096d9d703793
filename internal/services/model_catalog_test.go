package services

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/arena-backend/internal/types"
)

func TestModelCatalogBuiltinDefaults(t *testing.T) {
	t.Setenv("ARENA_MODELS_PATH", "")

	catalog, err := NewModelCatalog(testLogger())
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}

	def, err := catalog.Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if def.ID != "gpt-4o-mini" {
		t.Fatalf("default=%q, want the tier-1 generalist", def.ID)
	}

	available, err := catalog.Available(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(available) != 5 {
		t.Fatalf("available=%d, want 5 built-in models", len(available))
	}
	// Tier ordering: the tier-1 generalist leads.
	if available[0].ID != "gpt-4o-mini" {
		t.Fatalf("first available=%q", available[0].ID)
	}
}

func TestModelCatalogLoadsYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	content := `models:
  - id: big-brain
    name: Big Brain
    provider: testlab
    capability: analysis
    tier: 2
    input_rate: 0.004
    output_rate: 0.016
    max_tokens: 8192
    temperature: 0.5
    is_active: true
  - id: small-brain
    name: Small Brain
    provider: testlab
    capability: general
    tier: 1
    input_rate: 0.0002
    output_rate: 0.0008
    max_tokens: 2048
    temperature: 0.7
    is_active: true
  - id: retired
    name: Retired
    provider: testlab
    capability: coding
    tier: 1
    input_rate: 0.001
    output_rate: 0.002
    max_tokens: 2048
    temperature: 0.7
    is_active: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog file: %v", err)
	}
	t.Setenv("ARENA_MODELS_PATH", path)

	catalog, err := NewModelCatalog(testLogger())
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}

	m, ok := catalog.Get("big-brain")
	if !ok {
		t.Fatal("big-brain missing from catalog")
	}
	if m.Capability != types.CapabilityAnalysis || m.MaxTokens != 8192 {
		t.Fatalf("big-brain loaded wrong: %+v", m)
	}

	available, err := catalog.Available(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	// Inactive entries are filtered; tier 1 sorts ahead of tier 2.
	if len(available) != 2 {
		t.Fatalf("available=%d, want 2 (retired filtered out)", len(available))
	}
	if available[0].ID != "small-brain" || available[1].ID != "big-brain" {
		t.Fatalf("tier order wrong: %s, %s", available[0].ID, available[1].ID)
	}

	def, err := catalog.Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if def.ID != "small-brain" {
		t.Fatalf("default=%q, want first active by tier", def.ID)
	}
}

func TestModelCatalogUnreadableFileFallsBack(t *testing.T) {
	t.Setenv("ARENA_MODELS_PATH", filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	catalog, err := NewModelCatalog(testLogger())
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	if _, ok := catalog.Get("gpt-4o-mini"); !ok {
		t.Fatal("fallback defaults not loaded")
	}
}

func TestModelCatalogMalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(path, []byte("models: [not: valid: yaml"), 0o644); err != nil {
		t.Fatalf("write catalog file: %v", err)
	}
	t.Setenv("ARENA_MODELS_PATH", path)

	if _, err := NewModelCatalog(testLogger()); err == nil {
		t.Fatal("malformed catalog accepted")
	}
}

func TestModelCatalogRejectsDuplicatesAndMissingIDs(t *testing.T) {
	dup := []types.ArenaModel{
		testModel("twin", types.CapabilityGeneral, 0.001, 0.002),
		testModel("twin", types.CapabilityCoding, 0.002, 0.004),
	}
	if _, err := newModelCatalogFrom(testLogger(), dup); err == nil {
		t.Fatal("duplicate model id accepted")
	}

	missing := []types.ArenaModel{{Name: "anonymous"}}
	if _, err := newModelCatalogFrom(testLogger(), missing); err == nil {
		t.Fatal("model without id accepted")
	}
}

func TestModelCatalogAvailableRequiresUser(t *testing.T) {
	catalog, err := newModelCatalogFrom(testLogger(), defaultTestModels())
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	if _, err := catalog.Available(context.Background(), uuid.Nil); err == nil {
		t.Fatal("nil user accepted")
	}
}

func TestArenaModelCost(t *testing.T) {
	m := testModel("priced", types.CapabilityGeneral, 0.002, 0.01)

	cases := []struct {
		name     string
		in, out  int
		wantCost float64
	}{
		{"zero_usage", 0, 0, 0},
		{"round_thousands", 1000, 1000, 0.012},
		{"partial_thousands", 500, 250, 0.0035},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := m.Cost(tc.in, tc.out); math.Abs(got-tc.wantCost) > 1e-12 {
				t.Fatalf("Cost(%d, %d)=%v, want %v", tc.in, tc.out, got, tc.wantCost)
			}
		})
	}
}
