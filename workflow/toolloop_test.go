package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VitalyOstanin/flowcraft-sub000/llm"
	"github.com/VitalyOstanin/flowcraft-sub000/tools"
	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// newFSManager registers an in-memory "fs" server with a read tool.
func newFSManager() *tools.Manager {
	session := tools.NewMemorySession().AddTool(
		types.ToolDescriptor{
			Name:        "read",
			Description: "read a file",
			Schema:      json.RawMessage(`{"type":"object","required":["path"]}`),
		},
		func(_ context.Context, params map[string]types.Value) (string, error) {
			path, _ := params["path"].AsString()
			if path == "" {
				return "", fmt.Errorf("missing required parameter path")
			}
			return "contents of " + path, nil
		},
	)
	mgr := tools.NewManager()
	mgr.Register("fs", session)
	return mgr
}

func toolCallJSON(name string, params map[string]any) string {
	payload := map[string]any{
		"tool_calls": []map[string]any{{"name": name, "parameters": params}},
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

// alwaysContinue forces another round regardless of the response.
type alwaysContinue struct{}

func (alwaysContinue) ShouldContinue(string, bool, int) bool { return true }

// ---------------------------------------------------------------------------
// Extraction
// ---------------------------------------------------------------------------

func TestExtractToolCalls_WholeResponse(t *testing.T) {
	response := toolCallJSON("fs.read", map[string]any{"path": "notes.txt"})

	blocks := ExtractToolCalls(response)
	require.Len(t, blocks, 1)
	assert.Equal(t, response, blocks[0].Fragment)
	require.Len(t, blocks[0].Calls, 1)
	assert.Equal(t, "fs.read", blocks[0].Calls[0].Name)
	path, _ := blocks[0].Calls[0].Parameters["path"].AsString()
	assert.Equal(t, "notes.txt", path)
}

func TestExtractToolCalls_FencedBlocks(t *testing.T) {
	response := "Reading both files now.\n" +
		"```json\n" + toolCallJSON("fs.read", map[string]any{"path": "a.txt"}) + "\n```\n" +
		"and then\n" +
		"```\n" + toolCallJSON("fs.read", map[string]any{"path": "b.txt"}) + "\n```\n"

	blocks := ExtractToolCalls(response)
	require.Len(t, blocks, 2)
	assert.Contains(t, blocks[0].Fragment, "a.txt")
	assert.Contains(t, blocks[1].Fragment, "b.txt")
	assert.True(t, HasToolCalls(response))
}

func TestExtractToolCalls_MalformedYieldsNothing(t *testing.T) {
	assert.Empty(t, ExtractToolCalls("just prose, no calls"))
	assert.Empty(t, ExtractToolCalls(`{"tool_calls": [{"name": }]}`))
	assert.Empty(t, ExtractToolCalls("```json\n{\"tool_calls\": \"not a list\"}\n```"))
	assert.Empty(t, ExtractToolCalls(`{"tool_calls": [{"parameters": {"x": 1}}]}`))
	assert.False(t, HasToolCalls("STAGE_COMPLETE"))
}

func TestExtractToolCalls_SubstitutedTextHasNoCalls(t *testing.T) {
	// The rendering of an executed call must not parse as a new call,
	// otherwise the loop would re-execute it forever.
	assert.Empty(t, ExtractToolCalls("Result fs.read: contents of a.txt"))
	assert.Empty(t, ExtractToolCalls("Error fs.read: missing required parameter path"))
}

func TestSplitToolName_MissingServer(t *testing.T) {
	server, tool := types.SplitToolName("orphan")
	assert.Equal(t, "unknown", server)
	assert.Equal(t, "orphan", tool)

	server, tool = types.SplitToolName("fs.deep.read")
	assert.Equal(t, "fs", server)
	assert.Equal(t, "deep.read", tool)
}

// ---------------------------------------------------------------------------
// Continuation policy
// ---------------------------------------------------------------------------

func TestPhraseContinuationPolicy_CompletionWins(t *testing.T) {
	p := DefaultContinuationPolicy().WithMinOperations(5)

	// Even with new calls and an unmet minimum, an explicit completion
	// phrase terminates the loop.
	assert.False(t, p.ShouldContinue("done, STAGE_COMPLETE", true, 1))
	assert.False(t, p.ShouldContinue("all operations complete", true, 0))
	assert.False(t, p.ShouldContinue("CONTINUE_EXECUTION: FALSE", true, 0))
}

func TestPhraseContinuationPolicy_NewCallsContinue(t *testing.T) {
	p := DefaultContinuationPolicy()
	assert.True(t, p.ShouldContinue("more work", true, 3))
}

func TestPhraseContinuationPolicy_MinOperations(t *testing.T) {
	p := DefaultContinuationPolicy().WithMinOperations(3)

	assert.True(t, p.ShouldContinue("quiet response", false, 1))
	assert.False(t, p.ShouldContinue("quiet response", false, 3))
}

func TestPhraseContinuationPolicy_ContinuationPhrases(t *testing.T) {
	p := DefaultContinuationPolicy()

	assert.True(t, p.ShouldContinue("CONTINUE_EXECUTION: TRUE", false, 0))
	assert.True(t, p.ShouldContinue("продолжаю со следующей операцией", false, 2))
	assert.False(t, p.ShouldContinue("here is the summary", false, 2))
}

// ---------------------------------------------------------------------------
// Accumulator
// ---------------------------------------------------------------------------

func TestAccumulator_Format(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(types.ToolResult{
		Name:       "fs.read",
		Parameters: map[string]types.Value{"path": types.String("a.txt")},
		Result:     "contents of a.txt",
	})
	acc.Add(types.ToolResult{Name: "fs.write", Error: "Error fs.write: disk full"})
	acc.SetFinal("Both files handled.")

	out := acc.Format()
	assert.Contains(t, out, "=== Executed operations ===")
	assert.Contains(t, out, "1. [ok] fs.read")
	assert.Contains(t, out, "Parameters: {path=a.txt}")
	assert.Contains(t, out, "2. [error] fs.write")
	assert.Contains(t, out, "=== Final summary ===")
	assert.Contains(t, out, "Both files handled.")
	assert.Equal(t, 1, acc.FailureCount())
	assert.Equal(t, []string{"fs.read", "fs.write"}, acc.Operations())
}

func TestAccumulator_Format_NoOperations(t *testing.T) {
	acc := NewAccumulator()
	acc.SetFinal("nothing to execute")
	assert.Equal(t, "nothing to execute", acc.Format())
}

func TestAccumulator_Format_LimitNotice(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(types.ToolResult{Name: "fs.read", Result: "ok"})
	acc.MarkLimitReached()

	assert.Contains(t, acc.Format(), "Tool round limit reached")
}

func TestAccumulator_TruncatesLongResults(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(types.ToolResult{Name: "fs.read", Result: strings.Repeat("x", 1000)})

	out := acc.Format()
	assert.Contains(t, out, "...")
	assert.Less(t, len(out), 500)
}

// ---------------------------------------------------------------------------
// Loop execution
// ---------------------------------------------------------------------------

func TestToolLoop_Run_SingleRound(t *testing.T) {
	loop := NewToolLoop(newFSManager())
	provider := llm.NewScriptedProvider("test", "unused")

	// The response both calls a tool and declares completion, so the loop
	// executes the call and stops without another model round-trip.
	response := "```json\n" + toolCallJSON("fs.read", map[string]any{"path": "plan.md"}) + "\n```\nSTAGE_COMPLETE"
	acc, err := loop.Run(context.Background(), provider, "system", nil, response, 0)
	require.NoError(t, err)

	require.Len(t, acc.Records(), 1)
	assert.Equal(t, "contents of plan.md", acc.Records()[0].Result)
	assert.Contains(t, acc.Format(), "Result fs.read: contents of plan.md")
	assert.Zero(t, provider.Calls(), "no continuation round expected")
}

func TestToolLoop_Run_ExecutionTriggersSynthesisRound(t *testing.T) {
	loop := NewToolLoop(newFSManager())
	provider := llm.NewScriptedProvider("test", "The plan file is short. STAGE_COMPLETE")

	// Without a completion phrase, executed calls always earn one more
	// round-trip so the model can react to the results.
	response := toolCallJSON("fs.read", map[string]any{"path": "plan.md"})
	acc, err := loop.Run(context.Background(), provider, "system", nil, response, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, provider.Calls())
	assert.Contains(t, acc.Format(), "The plan file is short.")
}

func TestToolLoop_Run_SubstitutesResultsInPlace(t *testing.T) {
	loop := NewToolLoop(newFSManager())
	provider := llm.NewScriptedProvider("test", "unused")

	response := "Reading the plan:\n" +
		"```json\n" + toolCallJSON("fs.read", map[string]any{"path": "plan.md"}) + "\n```\n" +
		"STAGE_COMPLETE"
	acc, err := loop.Run(context.Background(), provider, "system", nil, response, 0)
	require.NoError(t, err)

	final := acc.Format()
	assert.Contains(t, final, "Reading the plan:")
	assert.Contains(t, final, "Result fs.read: contents of plan.md")
	assert.NotContains(t, final, "```json")
	assert.NotContains(t, final, "tool_calls")
}

func TestToolLoop_Run_MissingSessionNamesServer(t *testing.T) {
	loop := NewToolLoop(newFSManager())
	provider := llm.NewScriptedProvider("test", "unused")

	response := toolCallJSON("calendar.book", map[string]any{"date": "01.06"})
	acc, err := loop.Run(context.Background(), provider, "system", nil, response, 0)
	require.NoError(t, err)

	require.Len(t, acc.Records(), 1)
	entry := acc.Records()[0].Error
	assert.Contains(t, entry, "calendar")
	assert.Contains(t, entry, "available tool servers: fs")
	assert.Equal(t, 1, acc.FailureCount())
}

func TestToolLoop_Run_UnknownToolGetsCatalogueHint(t *testing.T) {
	loop := NewToolLoop(newFSManager())
	provider := llm.NewScriptedProvider("test", "unused")

	response := toolCallJSON("fs.delete", map[string]any{"path": "a.txt"})
	acc, err := loop.Run(context.Background(), provider, "system", nil, response, 0)
	require.NoError(t, err)

	entry := acc.Records()[0].Error
	assert.Contains(t, entry, "fs.delete")
	assert.Contains(t, entry, "tools available on server fs: read")
}

func TestToolLoop_Run_ParameterErrorCarriesSchema(t *testing.T) {
	loop := NewToolLoop(newFSManager())
	provider := llm.NewScriptedProvider("test", "unused")

	// Empty path makes the tool fail with a "missing required" error.
	response := toolCallJSON("fs.read", map[string]any{"path": ""})
	acc, err := loop.Run(context.Background(), provider, "system", nil, response, 0)
	require.NoError(t, err)

	entry := acc.Records()[0].Error
	assert.Contains(t, entry, "missing required parameter path")
	assert.Contains(t, entry, "a required parameter may be missing")
	assert.Contains(t, entry, `Expected parameters: {"type":"object","required":["path"]}`)
}

func TestToolLoop_Run_Timeout(t *testing.T) {
	session := tools.NewMemorySession().AddTool(
		types.ToolDescriptor{Name: "slow"},
		func(ctx context.Context, _ map[string]types.Value) (string, error) {
			return "never", nil
		},
	)
	session.SetLag("slow", 200*time.Millisecond)
	mgr := tools.NewManager()
	mgr.Register("fs", session)

	loop := NewToolLoop(mgr)
	loop.CallTimeout = 20 * time.Millisecond
	provider := llm.NewScriptedProvider("test", "unused")

	response := toolCallJSON("fs.slow", nil)
	acc, err := loop.Run(context.Background(), provider, "system", nil, response, 0)
	require.NoError(t, err)

	entry := acc.Records()[0].Error
	assert.Contains(t, entry, "timed out")
	assert.Contains(t, entry, "execution timeout")
}

func TestToolLoop_Run_MinOperationsDrivesContinuation(t *testing.T) {
	loop := NewToolLoop(newFSManager())
	provider := llm.NewScriptedProvider("test",
		"No further actions for now.",
		toolCallJSON("fs.read", map[string]any{"path": "second.md"}),
		"ALL OPERATIONS COMPLETE",
	)

	// The quiet second response would normally stop the loop, but only one of
	// the two expected operations has run, so the loop prompts again.
	response := toolCallJSON("fs.read", map[string]any{"path": "first.md"})
	acc, err := loop.Run(context.Background(), provider, "system", nil, response, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"fs.read", "fs.read"}, acc.Operations())
	assert.Equal(t, 3, provider.Calls())
	assert.Contains(t, acc.Format(), "ALL OPERATIONS COMPLETE")
}

func TestToolLoop_Run_RoundCap(t *testing.T) {
	loop := NewToolLoop(newFSManager())
	loop.Policy = alwaysContinue{}
	loop.MaxRounds = 2
	provider := llm.NewScriptedProvider("test", "still thinking")

	acc, err := loop.Run(context.Background(), provider, "system", nil, "no calls here", 0)
	require.NoError(t, err)

	assert.Equal(t, 2, provider.Calls())
	assert.Contains(t, acc.Format(), "Tool round limit reached")
}

func TestToolLoop_Run_ProviderErrorSurfaces(t *testing.T) {
	loop := NewToolLoop(newFSManager())
	provider := &llm.FuncProvider{Fn: func(context.Context, string, []types.Message) (string, error) {
		return "", types.NewError(types.ErrProviderNetwork, "connection reset")
	}}

	// The response itself asks to continue, forcing a provider round-trip.
	_, err := loop.Run(context.Background(), provider, "system", nil, "CONTINUE_EXECUTION: TRUE", 0)
	require.Error(t, err)
	assert.Equal(t, types.ErrProviderNetwork, types.GetErrorCode(err))
}

func TestToolLoop_Run_NoManagerStillFoldsErrors(t *testing.T) {
	loop := NewToolLoop(nil)
	provider := llm.NewScriptedProvider("test", "unused")

	response := toolCallJSON("fs.read", map[string]any{"path": "a.txt"})
	acc, err := loop.Run(context.Background(), provider, "system", nil, response, 0)
	require.NoError(t, err)

	require.Len(t, acc.Records(), 1)
	assert.Contains(t, acc.Records()[0].Error, "no tool sessions are configured")
}
