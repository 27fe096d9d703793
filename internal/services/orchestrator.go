package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/arena-backend/internal/platform/logger"
	"github.com/yungbote/arena-backend/internal/repos"
	"github.com/yungbote/arena-backend/internal/types"
)

var orchestratorTracer = otel.Tracer("arena/orchestrator")

// Arena modes.
const (
	ModeAutoSelect    = "AUTO_SELECT"
	ModeCollaborative = "COLLABORATIVE"
	ModeDivideConquer = "DIVIDE_CONQUER"
	ModeProject       = "PROJECT"
	ModeTester        = "TESTER"
)

func IsValidMode(mode string) bool {
	switch mode {
	case ModeAutoSelect, ModeCollaborative, ModeDivideConquer, ModeProject, ModeTester:
		return true
	}
	return false
}

const historyWindow = 20

// maxFanout caps how many models the multi-model modes address per turn.
const maxFanout = 3

const defaultSystemInstruction = "You are a helpful assistant. Answer clearly and concisely."

// Consensus threshold and the fixed agreement heuristic used by TESTER mode.
const consensusThreshold = 0.8

// OrchestratorResult is the single aggregated outcome of one user turn.
// ModelIDs carries every model that contributed; the persisted form joins them
// with "+".
type OrchestratorResult struct {
	Response     string         `json:"response"`
	ModelIDs     []string       `json:"model_ids"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	Cost         float64        `json:"cost"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (r *OrchestratorResult) JoinedModelIDs() string {
	return strings.Join(r.ModelIDs, "+")
}

// Orchestrator turns one user turn into one or more provider calls and a
// single aggregated result. It is stateless: every call re-fetches history and
// rules, so any instance can serve any request.
type Orchestrator interface {
	ProcessMessage(ctx context.Context, userID, chatID uuid.UUID, content, mode string, selectedModels []string) (*OrchestratorResult, error)
}

type orchestrator struct {
	log        *logger.Logger
	catalog    ModelCatalog
	client     ModelClient
	messages   repos.ChatMessageRepo
	rulePrompt RulePromptService
}

func NewOrchestrator(
	baseLog *logger.Logger,
	catalog ModelCatalog,
	client ModelClient,
	messageRepo repos.ChatMessageRepo,
	rulePrompt RulePromptService,
) Orchestrator {
	return &orchestrator{
		log:        baseLog.With("service", "Orchestrator"),
		catalog:    catalog,
		client:     client,
		messages:   messageRepo,
		rulePrompt: rulePrompt,
	}
}

func (o *orchestrator) ProcessMessage(ctx context.Context, userID, chatID uuid.UUID, content, mode string, selectedModels []string) (*OrchestratorResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("content must not be empty")
	}
	if !IsValidMode(mode) {
		return nil, fmt.Errorf("unknown arena mode %q", mode)
	}

	ctx, span := orchestratorTracer.Start(ctx, "arena.turn", trace.WithAttributes(
		attribute.String("arena.mode", mode),
		attribute.String("chat.id", chatID.String()),
	))
	defer span.End()

	available, err := o.catalog.Available(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return nil, fmt.Errorf("no models available for user")
	}

	models := resolveModels(available, selectedModels)
	if len(models) == 0 {
		fallback, err := o.catalog.Default()
		if err != nil {
			return nil, err
		}
		models = []types.ArenaModel{fallback}
	}

	history, err := o.messages.GetRecentByChatID(ctx, nil, chatID, historyWindow)
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}

	rulesText, err := o.rulePrompt.Current(ctx)
	if err != nil {
		o.log.Warn("Rule prompt unavailable, proceeding without learned rules", "error", err)
		rulesText = ""
	}

	system := buildSystemMessage(rulesText)

	o.log.Info("Dispatching arena turn",
		"mode", mode,
		"chat_id", chatID.String(),
		"models", len(models),
		"history", len(history),
	)

	switch mode {
	case ModeAutoSelect:
		return o.runAutoSelect(ctx, content, models, history, system)
	case ModeCollaborative:
		return o.runCollaborative(ctx, content, models, history, system)
	case ModeDivideConquer:
		return o.runDivideConquer(ctx, content, models, history, system)
	case ModeProject:
		return o.runProject(ctx, content, models, history, system)
	case ModeTester:
		return o.runTester(ctx, content, models, history, system)
	}
	return nil, fmt.Errorf("unknown arena mode %q", mode)
}

// resolveModels intersects the user's selection with the available list,
// preserving available-list order. Empty intersection is resolved by the
// caller via the default model.
func resolveModels(available []types.ArenaModel, selected []string) []types.ArenaModel {
	if len(selected) == 0 {
		return available
	}
	want := make(map[string]bool, len(selected))
	for _, id := range selected {
		want[id] = true
	}
	var out []types.ArenaModel
	for _, m := range available {
		if want[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

// buildSystemMessage prepends the learned-rules block to the default
// instruction when rules exist; no rules means the default instruction alone.
func buildSystemMessage(rulesText string) string {
	if rulesText == "" {
		return defaultSystemInstruction
	}
	return rulesText + "\n" + defaultSystemInstruction
}

func buildMessages(system string, history []*types.ChatMessage, userContent string) []ModelMessage {
	messages := make([]ModelMessage, 0, len(history)+2)
	messages = append(messages, ModelMessage{Role: "system", Content: system})
	for _, h := range history {
		role := h.Role
		if role != types.MessageRoleAssistant {
			role = types.MessageRoleUser
		}
		messages = append(messages, ModelMessage{Role: role, Content: h.Content})
	}
	messages = append(messages, ModelMessage{Role: "user", Content: userContent})
	return messages
}

// subResult is one settled provider call inside a mode. Failed calls carry
// zero tokens and cost with the error folded into Text.
type subResult struct {
	Model  types.ArenaModel
	Text   string
	In     int
	Out    int
	Cost   float64
	Failed bool
}

// callModel never returns an error: a provider failure becomes a synthetic
// zero-cost result so multi-model modes degrade instead of aborting.
func (o *orchestrator) callModel(ctx context.Context, model types.ArenaModel, system string, history []*types.ChatMessage, userContent string) subResult {
	ctx, span := orchestratorTracer.Start(ctx, "model.call", trace.WithAttributes(
		attribute.String("model.id", model.ID),
	))
	defer span.End()

	res, err := o.client.Invoke(ctx, model, buildMessages(system, history, userContent), model.MaxTokens, model.Temperature)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider call failed")
		o.log.Warn("Provider call failed", "model_id", model.ID, "error", err)
		return subResult{
			Model:  model,
			Text:   fmt.Sprintf("[%s unavailable: %v]", model.Name, err),
			Failed: true,
		}
	}
	span.SetAttributes(
		attribute.Int("model.input_tokens", res.InputTokens),
		attribute.Int("model.output_tokens", res.OutputTokens),
	)
	return subResult{
		Model: model,
		Text:  res.Content,
		In:    res.InputTokens,
		Out:   res.OutputTokens,
		Cost:  model.Cost(res.InputTokens, res.OutputTokens),
	}
}

func aggregate(response string, mode string, results []subResult, extra map[string]any) *OrchestratorResult {
	out := &OrchestratorResult{
		Response: response,
		Metadata: map[string]any{"mode": mode},
	}
	anyFailed := false
	for _, r := range results {
		out.ModelIDs = append(out.ModelIDs, r.Model.ID)
		out.InputTokens += r.In
		out.OutputTokens += r.Out
		out.Cost += r.Cost
		if r.Failed {
			anyFailed = true
		}
	}
	if anyFailed {
		out.Metadata["error"] = true
	}
	for k, v := range extra {
		out.Metadata[k] = v
	}
	return out
}

// --- AUTO_SELECT ---

var taskPatterns = []struct {
	task string
	re   *regexp.Regexp
}{
	{types.CapabilityCoding, regexp.MustCompile(`(?i)\b(code|coding|program|function|debug|implement|compile|script|algorithm|api)\b`)},
	{types.CapabilityAnalysis, regexp.MustCompile(`(?i)\b(analy[sz]e|analysis|compare|evaluate|assess|research|summari[sz]e)\b`)},
	{types.CapabilityCreative, regexp.MustCompile(`(?i)\b(write|story|poem|creative|imagine|design|brainstorm)\b`)},
	{types.CapabilityMath, regexp.MustCompile(`(?i)\b(math|calculate|equation|solve|proof|integral|derivative|probability)\b`)},
}

// classifyTask maps content to a task type via ordered keyword checks; first
// match wins, no match means general.
func classifyTask(content string) string {
	for _, p := range taskPatterns {
		if p.re.MatchString(content) {
			return p.task
		}
	}
	return types.CapabilityGeneral
}

// selectModel scores every model and picks the best; ties keep the earliest
// list position, so selection is deterministic for a fixed catalog.
func selectModel(content string, models []types.ArenaModel) types.ArenaModel {
	task := classifyTask(content)
	best := 0
	bestScore := score(models[0], task)
	for i := 1; i < len(models); i++ {
		if s := score(models[i], task); s > bestScore {
			best, bestScore = i, s
		}
	}
	return models[best]
}

func score(m types.ArenaModel, task string) float64 {
	if m.Capability == task {
		return 10
	}
	if m.Capability == types.CapabilityGeneral {
		// Cheaper generalists win when nothing matches the task.
		return -(m.InputRate + m.OutputRate)
	}
	return 0
}

func (o *orchestrator) runAutoSelect(ctx context.Context, content string, models []types.ArenaModel, history []*types.ChatMessage, system string) (*OrchestratorResult, error) {
	model := selectModel(content, models)
	res := o.callModel(ctx, model, system, history, content)
	return aggregate(res.Text, ModeAutoSelect, []subResult{res}, map[string]any{
		"task_type": classifyTask(content),
	}), nil
}

// --- fan-out helper for the parallel modes ---

// fanOut dispatches one call per prompt concurrently and waits for every call
// to settle; there is no first-wins short circuit. Results keep prompt order.
func (o *orchestrator) fanOut(ctx context.Context, models []types.ArenaModel, system string, history []*types.ChatMessage, prompts []string) []subResult {
	results := make([]subResult, len(prompts))
	g, gctx := errgroup.WithContext(ctx)
	for i := range prompts {
		i := i
		g.Go(func() error {
			results[i] = o.callModel(gctx, models[i], system, history, prompts[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// --- COLLABORATIVE ---

func (o *orchestrator) runCollaborative(ctx context.Context, content string, models []types.ArenaModel, history []*types.ChatMessage, system string) (*OrchestratorResult, error) {
	if len(models) > maxFanout {
		models = models[:maxFanout]
	}
	prompts := make([]string, len(models))
	for i := range prompts {
		prompts[i] = content
	}

	results := o.fanOut(ctx, models, system, history, prompts)

	// Verbatim concatenation under per-model headers: disagreement is
	// surfaced, not hidden.
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "### %s\n%s", r.Model.Name, r.Text)
	}

	return aggregate(b.String(), ModeCollaborative, results, nil), nil
}

// --- DIVIDE_CONQUER ---

var divideSteps = []struct {
	header   string
	template string
}{
	{"Analysis", "Analyze: %s"},
	{"Solution", "Build a solution for: %s"},
	{"Optimization", "Optimize: %s"},
}

func (o *orchestrator) runDivideConquer(ctx context.Context, content string, models []types.ArenaModel, history []*types.ChatMessage, system string) (*OrchestratorResult, error) {
	assigned := make([]types.ArenaModel, len(divideSteps))
	prompts := make([]string, len(divideSteps))
	for i, step := range divideSteps {
		assigned[i] = models[i%len(models)]
		prompts[i] = fmt.Sprintf(step.template, content)
	}

	results := o.fanOut(ctx, assigned, system, history, prompts)

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## Step %d: %s (%s)\n%s", i+1, divideSteps[i].header, r.Model.Name, r.Text)
	}

	return aggregate(b.String(), ModeDivideConquer, results, nil), nil
}

// --- PROJECT ---

func (o *orchestrator) runProject(ctx context.Context, content string, models []types.ArenaModel, history []*types.ChatMessage, system string) (*OrchestratorResult, error) {
	planner := models[0]
	executor := planner
	if len(models) > 1 {
		executor = models[1]
	}
	reviewer := executor
	if len(models) > 2 {
		reviewer = models[2]
	}

	// Each phase embeds the previous phase's raw output, so the three calls
	// cannot run concurrently.
	planPrompt := fmt.Sprintf("Create a concise step-by-step plan for the following task. Output only the plan.\n\nTask: %s", content)
	planRes := o.callModel(ctx, planner, system, history, planPrompt)

	execPrompt := fmt.Sprintf("Execute the following plan for the given task. Produce the complete result.\n\nTask: %s\n\nPlan:\n%s", content, planRes.Text)
	execRes := o.callModel(ctx, executor, system, history, execPrompt)

	reviewPrompt := fmt.Sprintf("Review the following execution of a task. Point out mistakes and concrete improvements.\n\nTask: %s\n\nExecution:\n%s", content, execRes.Text)
	reviewRes := o.callModel(ctx, reviewer, system, history, reviewPrompt)

	response := fmt.Sprintf("%s\n\n## Review (%s)\n%s", execRes.Text, reviewer.Name, reviewRes.Text)

	return aggregate(response, ModeProject, []subResult{planRes, execRes, reviewRes}, map[string]any{
		"phases": []string{"plan", "execute", "review"},
	}), nil
}

// --- TESTER ---

func (o *orchestrator) runTester(ctx context.Context, content string, models []types.ArenaModel, history []*types.ChatMessage, system string) (*OrchestratorResult, error) {
	if len(models) > maxFanout {
		models = models[:maxFanout]
	}
	prompts := make([]string, len(models))
	for i := range prompts {
		prompts[i] = content
	}

	results := o.fanOut(ctx, models, system, history, prompts)

	responded := 0
	for _, r := range results {
		if !r.Failed {
			responded++
		}
	}

	// Fixed agreement heuristic, not a semantic comparison.
	agreement := 1.0
	if responded > 1 {
		agreement = 0.7
	}
	consensus := agreement > consensusThreshold

	if consensus {
		first := results[0]
		return aggregate(first.Text, ModeTester, results, map[string]any{
			"agreement": agreement,
			"consensus": true,
		}), nil
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "### %s\n%s", r.Model.Name, r.Text)
	}

	return aggregate(b.String(), ModeTester, results, map[string]any{
		"agreement": agreement,
		"consensus": false,
	}), nil
}
