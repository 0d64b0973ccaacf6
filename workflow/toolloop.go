package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/VitalyOstanin/flowcraft-sub000/llm"
	"github.com/VitalyOstanin/flowcraft-sub000/tools"
	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

// Tool loop defaults.
const (
	DefaultToolCallTimeout = 10 * time.Second
	DefaultMaxToolRounds   = 10
)

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractedBlock is one tool-call JSON fragment found in a model response,
// together with the calls it declares. The fragment is the exact substring to
// replace when folding results back into the text.
type ExtractedBlock struct {
	Fragment string
	Calls    []types.ToolCall
}

// ExtractToolCalls finds tool-call declarations in a model response. The
// whole response is tried as a JSON object first, then fenced code blocks.
// Malformed JSON is not an error: it simply yields no calls.
func ExtractToolCalls(response string) []ExtractedBlock {
	if calls, ok := parseToolCallObject(response); ok {
		return []ExtractedBlock{{Fragment: response, Calls: calls}}
	}

	var blocks []ExtractedBlock
	for _, m := range fencedJSONRe.FindAllStringSubmatch(response, -1) {
		if calls, ok := parseToolCallObject(m[1]); ok {
			blocks = append(blocks, ExtractedBlock{Fragment: m[0], Calls: calls})
		}
	}
	return blocks
}

// HasToolCalls reports whether the response declares any tool calls.
func HasToolCalls(response string) bool {
	return len(ExtractToolCalls(response)) > 0
}

func parseToolCallObject(text string) ([]types.ToolCall, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}

	var payload struct {
		ToolCalls []struct {
			Name       string         `json:"name"`
			Parameters map[string]any `json:"parameters"`
		} `json:"tool_calls"`
	}
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return nil, false
	}

	calls := make([]types.ToolCall, 0, len(payload.ToolCalls))
	for _, c := range payload.ToolCalls {
		if c.Name == "" {
			continue
		}
		params := make(map[string]types.Value, len(c.Parameters))
		for k, v := range c.Parameters {
			params[k] = types.FromAny(v)
		}
		calls = append(calls, types.ToolCall{Name: c.Name, Parameters: params})
	}
	if len(calls) == 0 {
		return nil, false
	}
	return calls, true
}

// ContinuationPolicy decides whether the tool loop should issue another model
// round-trip. Implementations see the latest response text (with tool results
// already substituted in), whether that response declared new tool calls, and
// how many operations have executed so far.
type ContinuationPolicy interface {
	ShouldContinue(response string, hasNewCalls bool, executedOps int) bool
}

// PhraseContinuationPolicy is the default policy: an explicit completion
// phrase always stops the loop; otherwise new calls, an unmet operation
// minimum, or explicit continuation phrasing keep it going.
type PhraseContinuationPolicy struct {
	CompletionPhrases   []string
	ContinuationPhrases []string
	MinOperations       int
}

// DefaultContinuationPolicy returns the stock phrase sets.
func DefaultContinuationPolicy() *PhraseContinuationPolicy {
	return &PhraseContinuationPolicy{
		CompletionPhrases: []string{
			DirectiveStageComplete,
			"ALL OPERATIONS COMPLETE",
			"CONTINUE_EXECUTION: FALSE",
		},
		ContinuationPhrases: []string{
			"CONTINUE_EXECUTION: TRUE",
			"NEXT OPERATION",
			"CONTINUING WITH",
			"ПРОДОЛЖАЮ",
		},
	}
}

// WithMinOperations returns a copy with the per-stage operation minimum set.
func (p *PhraseContinuationPolicy) WithMinOperations(n int) *PhraseContinuationPolicy {
	cp := *p
	cp.CompletionPhrases = append([]string(nil), p.CompletionPhrases...)
	cp.ContinuationPhrases = append([]string(nil), p.ContinuationPhrases...)
	cp.MinOperations = n
	return &cp
}

// ShouldContinue implements ContinuationPolicy.
func (p *PhraseContinuationPolicy) ShouldContinue(response string, hasNewCalls bool, executedOps int) bool {
	upper := strings.ToUpper(response)
	for _, phrase := range p.CompletionPhrases {
		if strings.Contains(upper, strings.ToUpper(phrase)) {
			return false
		}
	}
	if hasNewCalls {
		return true
	}
	if p.MinOperations > 0 && executedOps < p.MinOperations {
		return true
	}
	for _, phrase := range p.ContinuationPhrases {
		if strings.Contains(upper, strings.ToUpper(phrase)) {
			return true
		}
	}
	return false
}

// Accumulator keeps the ordered log of every tool invocation in one stage
// iteration plus the model's last natural-language synthesis.
type Accumulator struct {
	records  []types.ToolResult
	final    string
	limitHit bool
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Add appends one invocation outcome to the log.
func (a *Accumulator) Add(res types.ToolResult) {
	a.records = append(a.records, res)
}

// SetFinal records the latest synthesized model text.
func (a *Accumulator) SetFinal(text string) {
	a.final = text
}

// MarkLimitReached notes that the round cap forced termination.
func (a *Accumulator) MarkLimitReached() {
	a.limitHit = true
}

// Records returns the invocation log in execution order.
func (a *Accumulator) Records() []types.ToolResult {
	return a.records
}

// Operations returns the qualified tool names in execution order.
func (a *Accumulator) Operations() []string {
	out := make([]string, len(a.records))
	for i, r := range a.records {
		out[i] = r.Name
	}
	return out
}

// FailureCount returns how many invocations errored.
func (a *Accumulator) FailureCount() int {
	n := 0
	for _, r := range a.records {
		if r.IsError() {
			n++
		}
	}
	return n
}

// Format renders the per-call summary followed by the final synthesis.
func (a *Accumulator) Format() string {
	if len(a.records) == 0 && !a.limitHit {
		return a.final
	}

	var b strings.Builder
	b.WriteString("=== Executed operations ===\n")
	for i, r := range a.records {
		marker := "[ok]"
		if r.IsError() {
			marker = "[error]"
		}
		fmt.Fprintf(&b, "%d. %s %s\n", i+1, marker, r.Name)
		if len(r.Parameters) > 0 {
			fmt.Fprintf(&b, "   Parameters: %s\n", truncate(types.Map(r.Parameters).Text(), 300))
		}
		fmt.Fprintf(&b, "   Result: %s\n", truncate(r.Text(), 300))
	}
	if a.limitHit {
		fmt.Fprintf(&b, "\nTool round limit reached; remaining operations were not executed.\n")
	}
	if a.final != "" {
		b.WriteString("\n=== Final summary ===\n")
		b.WriteString(a.final)
	}
	return b.String()
}

// ContextSummary renders a compact result digest for continuation prompts.
func (a *Accumulator) ContextSummary() string {
	var b strings.Builder
	for _, r := range a.records {
		fmt.Fprintf(&b, "- %s: %s\n", r.Name, truncate(r.Text(), 200))
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// ToolLoop runs the tool-call accumulation protocol for one stage iteration:
// extract calls, execute them, fold results into the text and keep prompting
// the model while the continuation policy says so.
type ToolLoop struct {
	Manager     *tools.Manager
	Policy      ContinuationPolicy
	CallTimeout time.Duration
	MaxRounds   int
	Logger      *zap.Logger
	Metrics     Metrics
}

// NewToolLoop creates a loop with the default timeout, round cap and policy.
func NewToolLoop(manager *tools.Manager) *ToolLoop {
	return &ToolLoop{
		Manager:     manager,
		Policy:      DefaultContinuationPolicy(),
		CallTimeout: DefaultToolCallTimeout,
		MaxRounds:   DefaultMaxToolRounds,
		Logger:      zap.NewNop(),
		Metrics:     NopMetrics{},
	}
}

// Run drives the loop starting from an already-obtained model response.
// minOps is the stage's expected minimum operation count (0 disables it).
// Tool failures are folded into the accumulated text; only model provider
// failures surface as errors.
func (l *ToolLoop) Run(ctx context.Context, provider llm.Provider, systemPrompt string, conversation []types.Message, response string, minOps int) (*Accumulator, error) {
	acc := NewAccumulator()
	policy := l.Policy
	if policy == nil {
		policy = DefaultContinuationPolicy()
	}
	if minOps > 0 {
		if pp, ok := policy.(*PhraseContinuationPolicy); ok {
			policy = pp.WithMinOperations(minOps)
		}
	}

	var catalogue []types.ToolDescriptor
	if l.Manager != nil {
		catalogue = l.Manager.Catalogue(ctx)
	}

	convo := append([]types.Message(nil), conversation...)
	current := response
	rounds := 0

	for {
		blocks := ExtractToolCalls(current)
		if len(blocks) > 0 {
			current = l.executeBlocks(ctx, blocks, current, acc, catalogue)
		}
		acc.SetFinal(current)
		convo = append(convo, types.NewModelMessage(current))

		if !policy.ShouldContinue(current, len(blocks) > 0, len(acc.Records())) {
			break
		}
		if rounds >= l.maxRounds() {
			acc.MarkLimitReached()
			l.Logger.Warn("tool loop round limit reached",
				zap.Int("rounds", rounds),
				zap.Int("operations", len(acc.Records())),
			)
			break
		}
		rounds++

		convo = append(convo, types.NewUserMessage(l.continuationPrompt(acc)))
		next, err := provider.Complete(ctx, systemPrompt, convo)
		if err != nil {
			return acc, err
		}
		current = next
	}

	return acc, nil
}

func (l *ToolLoop) maxRounds() int {
	if l.MaxRounds > 0 {
		return l.MaxRounds
	}
	return DefaultMaxToolRounds
}

func (l *ToolLoop) callTimeout() time.Duration {
	if l.CallTimeout > 0 {
		return l.CallTimeout
	}
	return DefaultToolCallTimeout
}

// executeBlocks dispatches every call of every block, folds outcomes into the
// accumulator in declaration order and substitutes result text into the
// response so the conversation stays coherent.
func (l *ToolLoop) executeBlocks(ctx context.Context, blocks []ExtractedBlock, text string, acc *Accumulator, catalogue []types.ToolDescriptor) string {
	var flat []types.ToolCall
	for _, block := range blocks {
		flat = append(flat, block.Calls...)
	}

	results := make([]types.ToolResult, len(flat))
	g, gctx := errgroup.WithContext(ctx)
	for i := range flat {
		i := i
		g.Go(func() error {
			results[i] = l.callOne(gctx, flat[i], catalogue)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		acc.Add(res)
	}

	idx := 0
	for _, block := range blocks {
		lines := make([]string, 0, len(block.Calls))
		for range block.Calls {
			lines = append(lines, renderResultLine(results[idx]))
			idx++
		}
		text = strings.Replace(text, block.Fragment, strings.Join(lines, "\n"), 1)
	}
	return text
}

func renderResultLine(res types.ToolResult) string {
	if res.IsError() {
		return res.Error
	}
	return fmt.Sprintf("Result %s: %s", res.Name, res.Result)
}

func (l *ToolLoop) callOne(ctx context.Context, call types.ToolCall, catalogue []types.ToolDescriptor) types.ToolResult {
	server, tool := types.SplitToolName(call.Name)
	res := types.ToolResult{Name: call.Name, Parameters: call.Parameters}

	if l.Manager == nil {
		res.Error = fmt.Sprintf("Error %s: no tool sessions are configured", call.Name)
		return res
	}

	start := time.Now()
	text, err := l.Manager.Call(ctx, server, tool, call.Parameters, l.callTimeout())
	res.Duration = time.Since(start)

	if l.Metrics != nil {
		l.Metrics.ToolInvoked(server, tool, err != nil, res.Duration)
	}

	if err != nil {
		res.Error = l.errorEntry(call, err, catalogue)
		l.Logger.Warn("tool call failed",
			zap.String("tool", call.Name),
			zap.String("code", string(types.GetErrorCode(err))),
			zap.Duration("duration", res.Duration),
		)
		return res
	}

	res.Result = text
	l.Logger.Debug("tool call succeeded",
		zap.String("tool", call.Name),
		zap.Duration("duration", res.Duration),
	)
	return res
}

// errorEntry renders a tool failure as corrective context for the model:
// the error itself, a targeted hint and the expected parameter schema.
func (l *ToolLoop) errorEntry(call types.ToolCall, err error, catalogue []types.ToolDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error %s: %s", call.Name, errorMessage(err))

	server, _ := types.SplitToolName(call.Name)
	switch types.GetErrorCode(err) {
	case types.ErrToolSessionMissing:
		servers := l.Manager.Servers()
		if len(servers) == 0 {
			b.WriteString("\nHint: no tool servers are registered")
		} else {
			fmt.Fprintf(&b, "\nHint: available tool servers: %s", strings.Join(servers, ", "))
		}
	case types.ErrToolTimeout:
		b.WriteString("\nHint: the call exceeded the execution timeout, try a narrower request")
	default:
		if names := serverTools(catalogue, server); len(names) > 0 && !hasDescriptor(catalogue, call.Name) {
			fmt.Fprintf(&b, "\nHint: tools available on server %s: %s", server, strings.Join(names, ", "))
		} else if mentionsParameterProblem(err) {
			b.WriteString("\nHint: a required parameter may be missing or invalid, check the schema")
		}
	}

	if desc, ok := findDescriptor(catalogue, call.Name); ok && len(desc.Schema) > 0 {
		fmt.Fprintf(&b, "\nExpected parameters: %s", string(desc.Schema))
	}
	return b.String()
}

func errorMessage(err error) string {
	if te, ok := err.(*types.Error); ok {
		if te.Cause != nil {
			return fmt.Sprintf("%s: %v", te.Message, te.Cause)
		}
		return te.Message
	}
	return err.Error()
}

func mentionsParameterProblem(err error) bool {
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "required") ||
		strings.Contains(text, "missing") ||
		strings.Contains(text, "invalid")
}

func findDescriptor(catalogue []types.ToolDescriptor, qualified string) (types.ToolDescriptor, bool) {
	for _, d := range catalogue {
		if d.QualifiedName() == qualified {
			return d, true
		}
	}
	return types.ToolDescriptor{}, false
}

func hasDescriptor(catalogue []types.ToolDescriptor, qualified string) bool {
	_, ok := findDescriptor(catalogue, qualified)
	return ok
}

func serverTools(catalogue []types.ToolDescriptor, server string) []string {
	var names []string
	for _, d := range catalogue {
		if d.Server == server {
			names = append(names, d.Name)
		}
	}
	return names
}

func (l *ToolLoop) continuationPrompt(acc *Accumulator) string {
	var b strings.Builder
	b.WriteString("Tool results so far:\n")
	b.WriteString(acc.ContextSummary())
	ops := acc.Operations()
	fmt.Fprintf(&b, "\nExecuted operations (%d): %s\n", len(ops), strings.Join(ops, ", "))
	b.WriteString("\nContinue with any remaining operations using the JSON tool_calls format, ")
	b.WriteString("or summarize the results if everything is done.")
	return b.String()
}
