package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/arena-backend/internal/repos"
	"github.com/yungbote/arena-backend/internal/types"
)

type learningEnv struct {
	svc        LearningService
	raw        *learningService
	rulePrompt RulePromptService
	patterns   repos.ErrorPatternRepo
	proposals  repos.ProposedRuleRepo
	rules      repos.ActiveRuleRepo
}

func newLearningEnv(t *testing.T) *learningEnv {
	t.Helper()

	db := openTestDB(t)
	log := testLogger()

	eventRepo := repos.NewLearningEventRepo(db, log)
	patternRepo := repos.NewErrorPatternRepo(db, log)
	proposalRepo := repos.NewProposedRuleRepo(db, log)
	ruleRepo := repos.NewActiveRuleRepo(db, log)
	rulePrompt := NewRulePromptService(log, ruleRepo, NewMemoryRuleCache())

	svc := NewLearningService(db, log, eventRepo, patternRepo, proposalRepo, ruleRepo, rulePrompt)
	t.Cleanup(func() { _ = svc.Close() })

	return &learningEnv{
		svc:        svc,
		raw:        svc.(*learningService),
		rulePrompt: rulePrompt,
		patterns:   patternRepo,
		proposals:  proposalRepo,
		rules:      ruleRepo,
	}
}

// record submits an event and waits for the mining worker to settle.
func (e *learningEnv) record(t *testing.T, input RecordEventInput) *types.LearningEvent {
	t.Helper()
	event, err := e.svc.RecordEvent(context.Background(), input)
	if err != nil {
		t.Fatalf("record event: %v", err)
	}
	e.raw.waitForMining()
	return event
}

func correctionInput(userID uuid.UUID, modelID string) RecordEventInput {
	return RecordEventInput{
		Type:    types.EventTypeCorrection,
		ModelID: modelID,
		UserID:  userID,
		Payload: types.EventPayload{
			Correction: &types.CorrectionPayload{
				Original:  "Paris is the capital of Germany",
				Corrected: "Paris is the capital of France",
				Feedback:  "that was incorrect",
			},
		},
	}
}

func (e *learningEnv) mustPattern(t *testing.T, key string) *types.ErrorPattern {
	t.Helper()
	patterns, err := e.patterns.ListAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("list patterns: %v", err)
	}
	for _, p := range patterns {
		if p.PatternKey == key {
			return p
		}
	}
	t.Fatalf("pattern %q not found among %d patterns", key, len(patterns))
	return nil
}

func TestRecordEventValidation(t *testing.T) {
	env := newLearningEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	cases := []struct {
		name  string
		input RecordEventInput
	}{
		{"unknown_type", RecordEventInput{Type: "NONSENSE", ModelID: "gpt-4o", UserID: userID}},
		{"empty_model", RecordEventInput{Type: types.EventTypeCorrection, ModelID: "  ", UserID: userID}},
		{"nil_user", RecordEventInput{Type: types.EventTypeCorrection, ModelID: "gpt-4o", UserID: uuid.Nil}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.svc.RecordEvent(ctx, tc.input); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestRecordEventMinesPattern(t *testing.T) {
	env := newLearningEnv(t)
	userID := uuid.New()

	event := env.record(t, correctionInput(userID, "gpt-4o"))
	if event.ID == uuid.Nil {
		t.Fatal("event id not assigned")
	}

	pattern := env.mustPattern(t, "germany")
	if pattern.Occurrences != 1 {
		t.Fatalf("occurrences=%d, want 1", pattern.Occurrences)
	}
	if pattern.Category != types.CategoryFactual {
		t.Fatalf("category=%q, want %q", pattern.Category, types.CategoryFactual)
	}
	if got := pattern.ModelIDList(); len(got) != 1 || got[0] != "gpt-4o" {
		t.Fatalf("model ids=%v, want [gpt-4o]", got)
	}
	if got := pattern.UserIDList(); len(got) != 1 || got[0] != userID.String() {
		t.Fatalf("user ids=%v, want [%s]", got, userID)
	}
	examples := pattern.ExampleList()
	if len(examples) != 1 {
		t.Fatalf("examples=%d, want 1", len(examples))
	}
	if examples[0].Original != "Paris is the capital of Germany" {
		t.Fatalf("example original=%q", examples[0].Original)
	}
}

func TestRecordEventUpsertsSamePattern(t *testing.T) {
	env := newLearningEnv(t)
	userID := uuid.New()

	env.record(t, correctionInput(userID, "gpt-4o"))
	env.record(t, correctionInput(userID, "claude-3-7-sonnet"))

	pattern := env.mustPattern(t, "germany")
	if pattern.Occurrences != 2 {
		t.Fatalf("occurrences=%d, want 2", pattern.Occurrences)
	}
	if got := pattern.ModelIDList(); len(got) != 2 {
		t.Fatalf("model ids=%v, want two distinct entries", got)
	}
	// Same user twice stays one entry.
	if got := pattern.UserIDList(); len(got) != 1 {
		t.Fatalf("user ids=%v, want single deduplicated entry", got)
	}
	if got := len(pattern.ExampleList()); got != 2 {
		t.Fatalf("examples=%d, want 2", got)
	}
	if !pattern.LastSeen.After(pattern.FirstSeen) && !pattern.LastSeen.Equal(pattern.FirstSeen) {
		t.Fatalf("last seen %v precedes first seen %v", pattern.LastSeen, pattern.FirstSeen)
	}
}

func TestRecordEventWithoutCorrectionFallsBackToGeneralError(t *testing.T) {
	env := newLearningEnv(t)

	env.record(t, RecordEventInput{
		Type:    types.EventTypeFeedback,
		ModelID: "gpt-4o",
		UserID:  uuid.New(),
		Payload: types.EventPayload{
			Feedback: &types.FeedbackPayload{IsPositive: false, Reason: "just do what I asked"},
		},
	})

	pattern := env.mustPattern(t, "general_error")
	if pattern.Category != types.CategoryInstruction {
		t.Fatalf("category=%q, want %q", pattern.Category, types.CategoryInstruction)
	}
}

func TestPatternRetentionIsBoundedWhileOccurrencesKeepCounting(t *testing.T) {
	env := newLearningEnv(t)
	userID := uuid.New()

	total := maxRetainedExamples + 5
	for i := 0; i < total; i++ {
		env.record(t, correctionInput(userID, "gpt-4o"))
	}

	pattern := env.mustPattern(t, "germany")
	if pattern.Occurrences != total {
		t.Fatalf("occurrences=%d, want %d", pattern.Occurrences, total)
	}
	if got := len(pattern.ExampleList()); got != maxRetainedExamples {
		t.Fatalf("retained examples=%d, want %d", got, maxRetainedExamples)
	}
}

func TestThirdOccurrenceCreatesExactlyOneProposal(t *testing.T) {
	env := newLearningEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	for i := 0; i < 2; i++ {
		env.record(t, correctionInput(userID, "gpt-4o"))
	}
	pending, err := env.proposals.ListByStatus(ctx, nil, types.RuleStatusPending)
	if err != nil {
		t.Fatalf("list proposals: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("proposals before threshold=%d, want 0", len(pending))
	}

	// Third occurrence crosses the evidence bar.
	env.record(t, correctionInput(userID, "gpt-4o"))
	pending, err = env.proposals.ListByStatus(ctx, nil, types.RuleStatusPending)
	if err != nil {
		t.Fatalf("list proposals: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("proposals at threshold=%d, want 1", len(pending))
	}

	proposal := pending[0]
	if proposal.Category != types.CategoryFactual {
		t.Fatalf("proposal category=%q, want FACTUAL", proposal.Category)
	}
	if proposal.Severity != types.SeverityHigh {
		t.Fatalf("proposal severity=%q, want HIGH", proposal.Severity)
	}
	if proposal.Confidence != 0.3 {
		t.Fatalf("confidence=%v, want 0.3", proposal.Confidence)
	}
	if !strings.Contains(proposal.Description, `"germany"`) || !strings.Contains(proposal.Description, "3 occurrences") {
		t.Fatalf("description %q missing pattern key or count", proposal.Description)
	}

	pattern := env.mustPattern(t, "germany")
	if !pattern.HasProposedRule {
		t.Fatal("proposal latch not set")
	}

	// The latch is one-way: further occurrences never re-propose.
	for i := 0; i < 7; i++ {
		env.record(t, correctionInput(userID, "gpt-4o"))
	}
	all, err := env.proposals.ListByStatus(ctx, nil, "")
	if err != nil {
		t.Fatalf("list all proposals: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("proposals after extra events=%d, want 1", len(all))
	}
	if env.mustPattern(t, "germany").Occurrences != 10 {
		t.Fatalf("occurrences=%d, want 10", env.mustPattern(t, "germany").Occurrences)
	}
}

func TestConcurrentScansProposeExactlyOnce(t *testing.T) {
	env := newLearningEnv(t)
	ctx := context.Background()

	seeded := &types.ErrorPattern{
		ID:          uuid.New(),
		PatternKey:  "repeat_offender",
		Category:    types.CategoryFactual,
		Occurrences: 3,
		FirstSeen:   time.Now().UTC(),
		LastSeen:    time.Now().UTC(),
	}
	if _, err := env.patterns.Create(ctx, nil, seeded); err != nil {
		t.Fatalf("seed pattern: %v", err)
	}

	// Two scans that both read the candidate before either latched it:
	// only the compare-and-set winner may create the proposal.
	first, err := env.raw.proposeForPattern(ctx, seeded)
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	second, err := env.raw.proposeForPattern(ctx, seeded)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if !first || second {
		t.Fatalf("claims first=%v second=%v, want exactly one winner", first, second)
	}

	proposals, err := env.proposals.ListByStatus(ctx, nil, "")
	if err != nil {
		t.Fatalf("list proposals: %v", err)
	}
	count := 0
	for _, p := range proposals {
		if p.TriggerPatternID == seeded.ID {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("proposals for pattern=%d, want exactly 1", count)
	}
}

func TestRecordEventAfterCloseMinesInline(t *testing.T) {
	env := newLearningEnv(t)
	userID := uuid.New()

	env.record(t, correctionInput(userID, "gpt-4o"))
	if err := env.svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Late submissions must not panic on the drained queue; they mine on
	// the request path instead.
	if _, err := env.svc.RecordEvent(context.Background(), correctionInput(userID, "gpt-4o")); err != nil {
		t.Fatalf("record after close: %v", err)
	}
	if err := env.svc.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if got := env.mustPattern(t, "germany").Occurrences; got != 2 {
		t.Fatalf("occurrences=%d, want 2", got)
	}
}

func TestProposalConfidenceIsCappedAtOne(t *testing.T) {
	env := newLearningEnv(t)
	ctx := context.Background()

	seeded := &types.ErrorPattern{
		ID:          uuid.New(),
		PatternKey:  "chronic_offender",
		Category:    types.CategoryCode,
		Occurrences: 25,
		FirstSeen:   time.Now().UTC(),
		LastSeen:    time.Now().UTC(),
	}
	if _, err := env.patterns.Create(ctx, nil, seeded); err != nil {
		t.Fatalf("seed pattern: %v", err)
	}

	// Any recorded event triggers the proposal scan.
	env.record(t, correctionInput(uuid.New(), "gpt-4o"))

	pending, err := env.proposals.ListByStatus(ctx, nil, types.RuleStatusPending)
	if err != nil {
		t.Fatalf("list proposals: %v", err)
	}
	var found *types.ProposedRule
	for _, p := range pending {
		if p.TriggerPatternID == seeded.ID {
			found = p
		}
	}
	if found == nil {
		t.Fatal("no proposal for seeded pattern")
	}
	if found.Confidence != 1.0 {
		t.Fatalf("confidence=%v, want capped 1.0", found.Confidence)
	}
}

func TestApproveProposal(t *testing.T) {
	env := newLearningEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	adminID := uuid.New()

	for i := 0; i < 3; i++ {
		env.record(t, correctionInput(userID, "gpt-4o"))
	}
	pending, err := env.proposals.ListByStatus(ctx, nil, types.RuleStatusPending)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending=%d err=%v, want exactly one", len(pending), err)
	}
	proposal := pending[0]

	// Warm the prompt cache before approval so the test also proves
	// invalidation, not just recomputation.
	if prompt, err := env.rulePrompt.Current(ctx); err != nil || prompt != "" {
		t.Fatalf("prompt before approval=%q err=%v, want empty", prompt, err)
	}

	rule, err := env.svc.ApproveProposal(ctx, proposal.ID, adminID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if rule.Title != proposal.Title || rule.Instruction != proposal.Instruction {
		t.Fatal("active rule does not snapshot the proposal")
	}
	if rule.ApprovedByID != adminID {
		t.Fatalf("approved by=%s, want %s", rule.ApprovedByID, adminID)
	}
	if !rule.IsActive {
		t.Fatal("new rule not active")
	}

	updated, err := env.proposals.GetByID(ctx, nil, proposal.ID)
	if err != nil {
		t.Fatalf("reload proposal: %v", err)
	}
	if updated.Status != types.RuleStatusApproved {
		t.Fatalf("status=%q, want APPROVED", updated.Status)
	}

	prompt, err := env.rulePrompt.Current(ctx)
	if err != nil {
		t.Fatalf("prompt after approval: %v", err)
	}
	if !strings.Contains(prompt, rule.Title) {
		t.Fatalf("prompt %q missing approved rule title %q", prompt, rule.Title)
	}

	// Terminal state: a second approval must fail.
	if _, err := env.svc.ApproveProposal(ctx, proposal.ID, adminID); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("second approve err=%v, want ErrAlreadyProcessed", err)
	}
}

func TestApproveUnknownProposal(t *testing.T) {
	env := newLearningEnv(t)
	if _, err := env.svc.ApproveProposal(context.Background(), uuid.New(), uuid.New()); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("err=%v, want ErrRuleNotFound", err)
	}
}

func TestRejectProposal(t *testing.T) {
	env := newLearningEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		env.record(t, correctionInput(userID, "gpt-4o"))
	}
	pending, err := env.proposals.ListByStatus(ctx, nil, types.RuleStatusPending)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending=%d err=%v, want exactly one", len(pending), err)
	}
	proposal := pending[0]

	if _, err := env.svc.RejectProposal(ctx, proposal.ID, "   "); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("blank reason err=%v, want ErrReasonRequired", err)
	}

	rejected, err := env.svc.RejectProposal(ctx, proposal.ID, "duplicate of an existing rule")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != types.RuleStatusRejected {
		t.Fatalf("status=%q, want REJECTED", rejected.Status)
	}
	if rejected.RejectionReason == nil || *rejected.RejectionReason != "duplicate of an existing rule" {
		t.Fatalf("rejection reason=%v", rejected.RejectionReason)
	}

	// No rule materializes from a rejection.
	rules, err := env.svc.ListActiveRules(ctx)
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("active rules=%d, want 0", len(rules))
	}

	// REJECTED is terminal in both directions.
	if _, err := env.svc.ApproveProposal(ctx, proposal.ID, uuid.New()); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("approve after reject err=%v, want ErrAlreadyProcessed", err)
	}
	if _, err := env.svc.RejectProposal(ctx, proposal.ID, "again"); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("reject after reject err=%v, want ErrAlreadyProcessed", err)
	}
}

func TestDeactivateRule(t *testing.T) {
	env := newLearningEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		env.record(t, correctionInput(userID, "gpt-4o"))
	}
	pending, _ := env.proposals.ListByStatus(ctx, nil, types.RuleStatusPending)
	rule, err := env.svc.ApproveProposal(ctx, pending[0].ID, uuid.New())
	if err != nil {
		t.Fatalf("approve: %v", err)
	}

	if err := env.svc.DeactivateRule(ctx, rule.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	rules, err := env.svc.ListActiveRules(ctx)
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("active rules=%d, want 0 after deactivation", len(rules))
	}
	if prompt, err := env.rulePrompt.Current(ctx); err != nil || prompt != "" {
		t.Fatalf("prompt after deactivation=%q err=%v, want empty", prompt, err)
	}

	if err := env.svc.DeactivateRule(ctx, uuid.New()); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("unknown rule err=%v, want ErrRuleNotFound", err)
	}
}
