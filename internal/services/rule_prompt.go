package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yungbote/arena-backend/internal/platform/logger"
	"github.com/yungbote/arena-backend/internal/repos"
	"github.com/yungbote/arena-backend/internal/types"
)

const (
	rulePromptCacheKey = "arena:rule_prompt"
	rulePromptCacheTTL = 5 * time.Minute
)

// RulePromptService renders the learned-rules block injected into every model
// call's system message. One global cache entry: rules are system-wide, not
// user-scoped. Approval invalidates synchronously, so new rules are visible on
// the very next orchestrator call instead of waiting out the TTL.
type RulePromptService interface {
	Current(ctx context.Context) (string, error)
	Invalidate(ctx context.Context) error
}

type rulePromptService struct {
	log   *logger.Logger
	rules repos.ActiveRuleRepo
	cache RuleCache
}

func NewRulePromptService(baseLog *logger.Logger, ruleRepo repos.ActiveRuleRepo, cache RuleCache) RulePromptService {
	return &rulePromptService{
		log:   baseLog.With("service", "RulePromptService"),
		rules: ruleRepo,
		cache: cache,
	}
}

func (s *rulePromptService) Current(ctx context.Context) (string, error) {
	if cached, ok, err := s.cache.Get(ctx, rulePromptCacheKey); err == nil && ok {
		return cached, nil
	} else if err != nil {
		s.log.Warn("Rule prompt cache read failed, recomputing", "error", err)
	}

	active, err := s.rules.ListActive(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("list active rules: %w", err)
	}

	text := RenderRulePrompt(active)

	if err := s.cache.Set(ctx, rulePromptCacheKey, text, rulePromptCacheTTL); err != nil {
		s.log.Warn("Rule prompt cache write failed", "error", err)
	}
	return text, nil
}

func (s *rulePromptService) Invalidate(ctx context.Context) error {
	return s.cache.Del(ctx, rulePromptCacheKey)
}

func severitySymbol(severity string) string {
	switch severity {
	case types.SeverityCritical:
		return "[!!]"
	case types.SeverityHigh:
		return "[!]"
	case types.SeverityMedium:
		return "[*]"
	default:
		return "[-]"
	}
}

// RenderRulePrompt formats active rules as a numbered list, severity desc then
// usage desc. Empty rule set renders to the empty string: no block at all.
func RenderRulePrompt(rules []*types.ActiveRule) string {
	if len(rules) == 0 {
		return ""
	}

	ordered := make([]*types.ActiveRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := types.SeverityRank(ordered[i].Severity), types.SeverityRank(ordered[j].Severity)
		if ri != rj {
			return ri > rj
		}
		return ordered[i].UsageCount > ordered[j].UsageCount
	})

	var b strings.Builder
	b.WriteString("Learned rules from prior user corrections. Apply each of them to every response:\n")
	for i, rule := range ordered {
		fmt.Fprintf(&b, "%d. %s %s: %s\n", i+1, severitySymbol(rule.Severity), rule.Title, rule.Instruction)
	}
	return b.String()
}
