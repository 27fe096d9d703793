package services

import (
	"context"
	"time"

	"github.com/yungbote/arena-backend/internal/platform/logger"
	"github.com/yungbote/arena-backend/internal/repos"
	"github.com/yungbote/arena-backend/internal/types"
)

const activityBuckets = 7

// recentEventWindow bounds how many event timestamps feed the activity series.
const recentEventWindow = 200

type ActivityBucket struct {
	Timestamp time.Time `json:"timestamp"`
	Count     int64     `json:"count"`
}

type RuleCounts struct {
	Proposed int64 `json:"proposed"`
	Active   int64 `json:"active"`
	Rejected int64 `json:"rejected"`
}

type StatsOverview struct {
	EventsByType           map[string]int64 `json:"events_by_type"`
	EventsByModel          map[string]int64 `json:"events_by_model"`
	OccurrencesByCategory  map[string]int64 `json:"occurrences_by_category"`
	Rules                  RuleCounts       `json:"rules"`
	RecentActivity         []ActivityBucket `json:"recent_activity"`
}

// StatsService is read-only aggregation over the learning tables; no side
// effects, purely derived.
type StatsService interface {
	Overview(ctx context.Context) (*StatsOverview, error)
}

type statsService struct {
	log       *logger.Logger
	events    repos.LearningEventRepo
	patterns  repos.ErrorPatternRepo
	proposals repos.ProposedRuleRepo
	rules     repos.ActiveRuleRepo
}

func NewStatsService(
	baseLog *logger.Logger,
	eventRepo repos.LearningEventRepo,
	patternRepo repos.ErrorPatternRepo,
	proposalRepo repos.ProposedRuleRepo,
	ruleRepo repos.ActiveRuleRepo,
) StatsService {
	return &statsService{
		log:       baseLog.With("service", "StatsService"),
		events:    eventRepo,
		patterns:  patternRepo,
		proposals: proposalRepo,
		rules:     ruleRepo,
	}
}

func (s *statsService) Overview(ctx context.Context) (*StatsOverview, error) {
	eventsByType, err := s.events.CountByType(ctx, nil)
	if err != nil {
		return nil, err
	}
	eventsByModel, err := s.events.CountByModel(ctx, nil)
	if err != nil {
		return nil, err
	}
	byCategory, err := s.patterns.SumOccurrencesByCategory(ctx, nil)
	if err != nil {
		return nil, err
	}
	proposalCounts, err := s.proposals.CountByStatus(ctx, nil)
	if err != nil {
		return nil, err
	}
	activeCount, err := s.rules.CountActive(ctx, nil)
	if err != nil {
		return nil, err
	}
	stamps, err := s.events.RecentCreatedAt(ctx, nil, recentEventWindow)
	if err != nil {
		return nil, err
	}

	return &StatsOverview{
		EventsByType:          eventsByType,
		EventsByModel:         eventsByModel,
		OccurrencesByCategory: byCategory,
		Rules: RuleCounts{
			Proposed: proposalCounts[types.RuleStatusPending],
			Active:   activeCount,
			Rejected: proposalCounts[types.RuleStatusRejected],
		},
		RecentActivity: bucketRecentActivity(stamps),
	}, nil
}

// bucketRecentActivity groups by raw creation-timestamp equality, newest
// first, at most 7 buckets. This undercounts distinct days; it mirrors the
// upstream behavior until product clarifies calendar bucketing.
func bucketRecentActivity(stamps []time.Time) []ActivityBucket {
	var out []ActivityBucket
	for _, ts := range stamps {
		if len(out) > 0 && out[len(out)-1].Timestamp.Equal(ts) {
			out[len(out)-1].Count++
			continue
		}
		if len(out) == activityBuckets {
			break
		}
		out = append(out, ActivityBucket{Timestamp: ts, Count: 1})
	}
	return out
}
