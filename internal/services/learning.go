package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/arena-backend/internal/platform/logger"
	"github.com/yungbote/arena-backend/internal/repos"
	"github.com/yungbote/arena-backend/internal/types"
)

var (
	ErrRuleNotFound     = errors.New("rule not found")
	ErrAlreadyProcessed = errors.New("rule already processed")
	ErrReasonRequired   = errors.New("rejection reason required")
)

const (
	// generalErrorKey is the fallback pattern key when no diff tokens exist.
	generalErrorKey = "general_error"

	patternKeyTokenWindow = 20
	patternKeyMaxTokens   = 5
	exampleMaxChars       = 500

	// proposalMinOccurrences is the evidence bar for generating a rule
	// proposal; proposalScanLimit bounds how many candidate patterns one
	// recorded event may promote.
	proposalMinOccurrences = 3
	proposalScanLimit      = 5

	// maxRetainedExamples bounds the per-pattern example and membership
	// lists; occurrences keeps counting past the retained window.
	maxRetainedExamples = 20

	mineQueueSize = 256
)

type RecordEventInput struct {
	Type    string
	ModelID string
	ChatID  *uuid.UUID
	UserID  uuid.UUID
	Payload types.EventPayload
}

// LearningService records correction/feedback events, mines them into
// deduplicated error patterns, and promotes sufficiently-evidenced patterns
// into rule proposals. It also owns the proposal approval state machine.
type LearningService interface {
	RecordEvent(ctx context.Context, input RecordEventInput) (*types.LearningEvent, error)
	ApproveProposal(ctx context.Context, proposalID, approvedBy uuid.UUID) (*types.ActiveRule, error)
	RejectProposal(ctx context.Context, proposalID uuid.UUID, reason string) (*types.ProposedRule, error)
	DeactivateRule(ctx context.Context, ruleID uuid.UUID) error
	ListPatterns(ctx context.Context) ([]*types.ErrorPattern, error)
	ListProposals(ctx context.Context, status string) ([]*types.ProposedRule, error)
	ListActiveRules(ctx context.Context) ([]*types.ActiveRule, error)
	// Close drains the mining queue and stops the worker.
	Close() error
}

// ErrorClassifier buckets a correction's combined text into an error category.
// The keyword implementation is the default; the interface exists so it can be
// swapped for a semantic classifier without touching the state machine.
type ErrorClassifier interface {
	Classify(text string) string
}

type mineJob struct {
	event   *types.LearningEvent
	payload types.EventPayload
}

type learningService struct {
	db         *gorm.DB
	log        *logger.Logger
	events     repos.LearningEventRepo
	patterns   repos.ErrorPatternRepo
	proposals  repos.ProposedRuleRepo
	rules      repos.ActiveRuleRepo
	rulePrompt RulePromptService
	classifier ErrorClassifier

	jobs     chan mineJob
	pending  sync.WaitGroup
	workerWG sync.WaitGroup

	// closeMu guards closing so an enqueue cannot race Close() onto a
	// closed channel; once closing, jobs run inline.
	closeMu sync.Mutex
	closing bool
}

func NewLearningService(
	db *gorm.DB,
	baseLog *logger.Logger,
	eventRepo repos.LearningEventRepo,
	patternRepo repos.ErrorPatternRepo,
	proposalRepo repos.ProposedRuleRepo,
	ruleRepo repos.ActiveRuleRepo,
	rulePrompt RulePromptService,
) LearningService {
	s := &learningService{
		db:         db,
		log:        baseLog.With("service", "LearningService"),
		events:     eventRepo,
		patterns:   patternRepo,
		proposals:  proposalRepo,
		rules:      ruleRepo,
		rulePrompt: rulePrompt,
		classifier: keywordClassifier{},
		jobs:       make(chan mineJob, mineQueueSize),
	}
	s.workerWG.Add(1)
	go s.mineWorker()
	return s
}

// RecordEvent persists the event, then hands it to the mining worker. Mining
// runs off the request path and its errors are logged and swallowed: they
// must never fail the user's submission.
func (s *learningService) RecordEvent(ctx context.Context, input RecordEventInput) (*types.LearningEvent, error) {
	if !types.IsValidEventType(input.Type) {
		return nil, fmt.Errorf("unknown event type %q", input.Type)
	}
	if strings.TrimSpace(input.ModelID) == "" {
		return nil, fmt.Errorf("model id required")
	}
	if input.UserID == uuid.Nil {
		return nil, fmt.Errorf("user id required")
	}

	content, err := input.Payload.ToJSON()
	if err != nil {
		return nil, err
	}

	event := &types.LearningEvent{
		ID:        uuid.New(),
		Type:      input.Type,
		ModelID:   input.ModelID,
		ChatID:    input.ChatID,
		UserID:    input.UserID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	created, err := s.events.Create(ctx, nil, []*types.LearningEvent{event})
	if err != nil {
		return nil, fmt.Errorf("record learning event: %w", err)
	}
	event = created[0]

	s.enqueueMine(mineJob{event: event, payload: input.Payload})
	return event, nil
}

func (s *learningService) enqueueMine(job mineJob) {
	s.closeMu.Lock()
	if s.closing {
		s.closeMu.Unlock()
		s.runMineJob(job)
		return
	}
	s.pending.Add(1)
	select {
	case s.jobs <- job:
		s.closeMu.Unlock()
	default:
		s.closeMu.Unlock()
		// Queue saturated: mine on the request path rather than drop the
		// signal.
		s.log.Warn("Mining queue full, processing inline", "event_id", job.event.ID.String())
		s.runMineJob(job)
		s.pending.Done()
	}
}

func (s *learningService) mineWorker() {
	defer s.workerWG.Done()
	for job := range s.jobs {
		s.runMineJob(job)
		s.pending.Done()
	}
}

// runMineJob is detached from the request context: the caller's request is
// already answered by the time mining runs.
func (s *learningService) runMineJob(job mineJob) {
	ctx := context.Background()
	if err := s.minePattern(ctx, job.event, job.payload); err != nil {
		s.log.Error("Pattern mining failed, event remains recorded", "event_id", job.event.ID.String(), "error", err)
		return
	}
	if err := s.scanForProposals(ctx); err != nil {
		s.log.Error("Rule proposal scan failed", "event_id", job.event.ID.String(), "error", err)
	}
}

// waitForMining blocks until every enqueued job has settled.
func (s *learningService) waitForMining() {
	s.pending.Wait()
}

func (s *learningService) Close() error {
	s.closeMu.Lock()
	alreadyClosing := s.closing
	s.closing = true
	s.closeMu.Unlock()
	if alreadyClosing {
		return nil
	}
	s.pending.Wait()
	close(s.jobs)
	s.workerWG.Wait()
	return nil
}

func (s *learningService) minePattern(ctx context.Context, event *types.LearningEvent, payload types.EventPayload) error {
	var original, corrected, feedback string
	if payload.Correction != nil {
		original = payload.Correction.Original
		corrected = payload.Correction.Corrected
		feedback = payload.Correction.Feedback
	}
	if payload.Feedback != nil {
		feedback = strings.TrimSpace(feedback + " " + payload.Feedback.Reason)
	}

	key := ExtractPatternKey(original, corrected)
	category := s.classifier.Classify(original + " " + corrected + " " + feedback)
	now := time.Now().UTC()

	return s.db.Transaction(func(tx *gorm.DB) error {
		existing, err := s.patterns.GetByKeyForUpdate(ctx, tx, key)
		if err != nil {
			return err
		}

		example := types.PatternExample{
			Original:  truncate(original, exampleMaxChars),
			Corrected: truncate(corrected, exampleMaxChars),
		}

		if existing == nil {
			pattern := &types.ErrorPattern{
				ID:          uuid.New(),
				PatternKey:  key,
				Category:    category,
				Occurrences: 1,
				ModelIDs:    mustJSON([]string{event.ModelID}),
				UserIDs:     mustJSON([]string{event.UserID.String()}),
				Examples:    mustJSON([]types.PatternExample{example}),
				FirstSeen:   now,
				LastSeen:    now,
			}
			_, err := s.patterns.Create(ctx, tx, pattern)
			return err
		}

		existing.Occurrences++
		existing.LastSeen = now
		existing.Examples = mustJSON(capTail(append(existing.ExampleList(), example), maxRetainedExamples))
		existing.ModelIDs = mustJSON(capTail(appendMember(existing.ModelIDList(), event.ModelID), maxRetainedExamples))
		existing.UserIDs = mustJSON(capTail(appendMember(existing.UserIDList(), event.UserID.String()), maxRetainedExamples))
		return s.patterns.Save(ctx, tx, existing)
	})
}

// scanForProposals promotes up to proposalScanLimit patterns that cleared the
// evidence bar and have not proposed before. The latch is one-way: a promoted
// pattern never proposes again, no matter how its occurrences grow.
func (s *learningService) scanForProposals(ctx context.Context) error {
	candidates, err := s.patterns.ListProposalCandidates(ctx, nil, proposalMinOccurrences, proposalScanLimit)
	if err != nil {
		return err
	}

	for _, pattern := range candidates {
		if _, err := s.proposeForPattern(ctx, pattern); err != nil {
			return err
		}
	}
	return nil
}

// proposeForPattern claims the pattern's latch and creates the proposal in one
// transaction. The latch claim goes first: a concurrent scan that read the same
// unlatched candidate loses the compare-and-set and creates nothing, so one
// pattern can never carry two proposals.
func (s *learningService) proposeForPattern(ctx context.Context, pattern *types.ErrorPattern) (bool, error) {
	tmpl := templateFor(pattern.Category)
	confidence := float64(pattern.Occurrences) / 10.0
	if confidence > 1 {
		confidence = 1
	}

	proposal := &types.ProposedRule{
		ID:               uuid.New(),
		Title:            tmpl.title,
		Description:      fmt.Sprintf(tmpl.description, pattern.PatternKey, pattern.Occurrences),
		Instruction:      tmpl.instruction,
		Category:         pattern.Category,
		Severity:         tmpl.severity,
		Confidence:       confidence,
		Examples:         pattern.Examples,
		AffectedModels:   pattern.ModelIDs,
		TriggerPatternID: pattern.ID,
		Status:           types.RuleStatusPending,
	}

	claimed := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		claimed, err = s.patterns.SetProposedLatch(ctx, tx, pattern.ID)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}
		_, err = s.proposals.Create(ctx, tx, proposal)
		return err
	})
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	s.log.Info("Rule proposal created",
		"proposal_id", proposal.ID.String(),
		"pattern_key", pattern.PatternKey,
		"occurrences", pattern.Occurrences,
		"confidence", confidence,
	)
	return true, nil
}

// ApproveProposal transitions PENDING -> APPROVED, snapshots an ActiveRule and
// invalidates the rule-prompt cache so the rule is visible on the next turn.
func (s *learningService) ApproveProposal(ctx context.Context, proposalID, approvedBy uuid.UUID) (*types.ActiveRule, error) {
	var rule *types.ActiveRule

	err := s.db.Transaction(func(tx *gorm.DB) error {
		proposal, err := s.proposals.GetByID(ctx, tx, proposalID)
		if err != nil {
			return err
		}
		if proposal == nil {
			return ErrRuleNotFound
		}
		if proposal.Status != types.RuleStatusPending {
			return ErrAlreadyProcessed
		}

		proposal.Status = types.RuleStatusApproved
		proposal.UpdatedAt = time.Now().UTC()
		if err := s.proposals.Save(ctx, tx, proposal); err != nil {
			return err
		}

		rule = &types.ActiveRule{
			ID:           uuid.New(),
			Title:        proposal.Title,
			Instruction:  proposal.Instruction,
			Category:     proposal.Category,
			Severity:     proposal.Severity,
			ApprovedByID: approvedBy,
			IsActive:     true,
		}
		_, err = s.rules.Create(ctx, tx, rule)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.rulePrompt.Invalidate(ctx); err != nil {
		s.log.Warn("Rule prompt invalidation failed after approval; TTL will catch up", "error", err)
	}
	return rule, nil
}

// RejectProposal transitions PENDING -> REJECTED. Purely a status/audit
// change: no ActiveRule, no cache invalidation.
func (s *learningService) RejectProposal(ctx context.Context, proposalID uuid.UUID, reason string) (*types.ProposedRule, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	var proposal *types.ProposedRule
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		proposal, err = s.proposals.GetByID(ctx, tx, proposalID)
		if err != nil {
			return err
		}
		if proposal == nil {
			return ErrRuleNotFound
		}
		if proposal.Status != types.RuleStatusPending {
			return ErrAlreadyProcessed
		}

		proposal.Status = types.RuleStatusRejected
		proposal.RejectionReason = &reason
		proposal.UpdatedAt = time.Now().UTC()
		return s.proposals.Save(ctx, tx, proposal)
	})
	if err != nil {
		return nil, err
	}
	return proposal, nil
}

func (s *learningService) DeactivateRule(ctx context.Context, ruleID uuid.UUID) error {
	rule, err := s.rules.GetByID(ctx, nil, ruleID)
	if err != nil {
		return err
	}
	if rule == nil {
		return ErrRuleNotFound
	}
	if err := s.rules.Deactivate(ctx, nil, ruleID); err != nil {
		return err
	}
	if err := s.rulePrompt.Invalidate(ctx); err != nil {
		s.log.Warn("Rule prompt invalidation failed after deactivation; TTL will catch up", "error", err)
	}
	return nil
}

func (s *learningService) ListPatterns(ctx context.Context) ([]*types.ErrorPattern, error) {
	return s.patterns.ListAll(ctx, nil)
}

func (s *learningService) ListProposals(ctx context.Context, status string) ([]*types.ProposedRule, error) {
	return s.proposals.ListByStatus(ctx, nil, status)
}

func (s *learningService) ListActiveRules(ctx context.Context) ([]*types.ActiveRule, error) {
	return s.rules.ListActive(ctx, nil)
}

// --- pattern key & classification ---

// ExtractPatternKey derives the lexical fingerprint deduplicating recurring
// error types: the first 5 of the first 20 lowercased tokens present in the
// original but absent from the corrected text, joined by "_". Two semantic
// twins phrased differently will not collide; that is accepted.
func ExtractPatternKey(original, corrected string) string {
	origTokens := firstTokens(original, patternKeyTokenWindow)
	corrTokens := firstTokens(corrected, patternKeyTokenWindow)

	inCorrected := make(map[string]bool, len(corrTokens))
	for _, t := range corrTokens {
		inCorrected[t] = true
	}

	var diff []string
	for _, t := range origTokens {
		if !inCorrected[t] {
			diff = append(diff, t)
			if len(diff) == patternKeyMaxTokens {
				break
			}
		}
	}
	if len(diff) == 0 {
		return generalErrorKey
	}
	return strings.Join(diff, "_")
}

func firstTokens(text string, n int) []string {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) > n {
		tokens = tokens[:n]
	}
	return tokens
}

// categoryKeywords is checked in order; the order IS the tie-break policy and
// must not be reordered, or classification stops being reproducible.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{types.CategoryFactual, []string{"falsch", "incorrect", "wrong", "untrue", "inaccurate", "fakt", "fact"}},
	{types.CategoryFormatting, []string{"format", "markdown", "layout", "struktur", "structure", "bullet", "tabelle", "table"}},
	{types.CategoryCode, []string{"code", "funktion", "function", "bug", "syntax", "compile", "variable"}},
	{types.CategoryMath, []string{"math", "mathe", "berechnung", "calculation", "rechnung", "equation", "formel", "formula"}},
	{types.CategoryTone, []string{"ton", "tone", "freundlich", "polite", "rude", "unhöflich", "förmlich", "formal"}},
	{types.CategoryContext, []string{"kontext", "context", "zusammenhang", "missverstanden", "misunderstood", "ignored"}},
	{types.CategoryLogic, []string{"logik", "logic", "widerspruch", "contradiction", "inconsistent", "unlogisch"}},
	{types.CategoryLanguage, []string{"sprache", "language", "grammatik", "grammar", "rechtschreibung", "spelling", "übersetzung", "translation"}},
}

// keywordClassifier is the default ErrorClassifier: first matching bucket
// wins, no match falls through to INSTRUCTION.
type keywordClassifier struct{}

func (keywordClassifier) Classify(text string) string {
	lowered := strings.ToLower(text)
	for _, bucket := range categoryKeywords {
		for _, kw := range bucket.keywords {
			if strings.Contains(lowered, kw) {
				return bucket.category
			}
		}
	}
	return types.CategoryInstruction
}

// ClassifyError applies the default keyword classifier to the combined
// original+corrected+feedback text.
func ClassifyError(text string) string {
	return keywordClassifier{}.Classify(text)
}

// --- proposal templates ---

type ruleTemplate struct {
	title       string
	description string
	instruction string
	severity    string
}

var ruleTemplates = map[string]ruleTemplate{
	types.CategoryFactual: {
		title:       "Verify factual claims",
		description: "Recurring factual corrections around pattern %q (%d occurrences).",
		instruction: "Double-check factual statements before asserting them. If a claim is uncertain, say so explicitly instead of guessing.",
		severity:    types.SeverityHigh,
	},
	types.CategoryFormatting: {
		title:       "Respect requested formatting",
		description: "Recurring formatting corrections around pattern %q (%d occurrences).",
		instruction: "Follow the user's formatting requests exactly: structure, markdown, lists and tables as asked.",
		severity:    types.SeverityLow,
	},
	types.CategoryCode: {
		title:       "Validate code before answering",
		description: "Recurring code corrections around pattern %q (%d occurrences).",
		instruction: "Mentally trace code for syntax and logic errors before presenting it. Prefer runnable, complete snippets.",
		severity:    types.SeverityHigh,
	},
	types.CategoryMath: {
		title:       "Recompute mathematical results",
		description: "Recurring calculation corrections around pattern %q (%d occurrences).",
		instruction: "Carry out calculations step by step and verify the final result before answering.",
		severity:    types.SeverityHigh,
	},
	types.CategoryTone: {
		title:       "Match the expected tone",
		description: "Recurring tone feedback around pattern %q (%d occurrences).",
		instruction: "Keep responses respectful and match the user's preferred register.",
		severity:    types.SeverityMedium,
	},
	types.CategoryContext: {
		title:       "Use the conversation context",
		description: "Recurring context misses around pattern %q (%d occurrences).",
		instruction: "Re-read the prior turns before answering; do not ignore constraints the user already stated.",
		severity:    types.SeverityMedium,
	},
	types.CategoryLogic: {
		title:       "Check reasoning consistency",
		description: "Recurring logic corrections around pattern %q (%d occurrences).",
		instruction: "Verify that conclusions follow from premises and do not contradict earlier statements in the same answer.",
		severity:    types.SeverityHigh,
	},
	types.CategoryLanguage: {
		title:       "Mind grammar and language",
		description: "Recurring language corrections around pattern %q (%d occurrences).",
		instruction: "Answer in the user's language with correct grammar and spelling.",
		severity:    types.SeverityLow,
	},
	types.CategoryInstruction: {
		title:       "Follow instructions precisely",
		description: "Recurring instruction misses around pattern %q (%d occurrences).",
		instruction: "Follow the user's instructions exactly as given; when they are ambiguous, ask instead of assuming.",
		severity:    types.SeverityMedium,
	},
}

// templateFor falls back to the INSTRUCTION template for unmapped categories.
func templateFor(category string) ruleTemplate {
	if tmpl, ok := ruleTemplates[category]; ok {
		return tmpl
	}
	return ruleTemplates[types.CategoryInstruction]
}

// --- small helpers ---

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// capTail keeps the most recent n entries.
func capTail[T any](list []T, n int) []T {
	if len(list) <= n {
		return list
	}
	return list[len(list)-n:]
}

func appendMember(list []string, member string) []string {
	for _, existing := range list {
		if existing == member {
			return list
		}
	}
	return append(list, member)
}

func mustJSON(v any) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte("null"))
	}
	return datatypes.JSON(raw)
}
