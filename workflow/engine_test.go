package workflow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VitalyOstanin/flowcraft-sub000/llm"
	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

func tripConfig(stages ...string) WorkflowConfig {
	cfg := WorkflowConfig{Name: "trip_planner"}
	for _, name := range stages {
		cfg.Stages = append(cfg.Stages, StageConfig{Name: name, Role: "planner"})
	}
	return cfg
}

func runToSuspension(t *testing.T, eng *Engine, cfg WorkflowConfig, task string) *Suspension {
	t.Helper()
	out, err := eng.Run(context.Background(), cfg, task)
	require.NoError(t, err)
	require.True(t, out.Suspended(), "expected the run to suspend")
	return out.Suspension
}

func runOutput(t *testing.T, res *Result, stage string) map[string]types.Value {
	t.Helper()
	out, ok := res.Outputs[stage].AsMap()
	require.True(t, ok, "stage %s has no map output", stage)
	return out
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestEngine_Run_CompletesMultiStageWorkflow(t *testing.T) {
	provider := llm.NewScriptedProvider("test", "STAGE_COMPLETE")
	eng := NewEngine(provider)

	out, err := eng.Run(context.Background(), tripConfig("plan", "book"), "plan a trip to Lisbon")
	require.NoError(t, err)
	require.False(t, out.Suspended())

	res := out.Result
	assert.True(t, res.Success)
	assert.False(t, res.Cancelled)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "trip_planner", res.Workflow)
	assert.Equal(t, []string{"plan", "book"}, res.CompletedStages)
	assert.Empty(t, res.FailedStages)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 2, provider.Calls())

	// Both stages share the planner role, so the same agent serves them.
	planAgent, _ := runOutput(t, res, "plan")["agent"].AsString()
	bookAgent, _ := runOutput(t, res, "book")["agent"].AsString()
	assert.Equal(t, "planner_0", planAgent)
	assert.Equal(t, planAgent, bookAgent)

	rec, err := eng.History().Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, rec.Status)
	assert.True(t, rec.Success)
}

func TestEngine_Run_EmptyWorkflowSucceeds(t *testing.T) {
	provider := llm.NewScriptedProvider("test", "STAGE_COMPLETE")
	eng := NewEngine(provider)

	out, err := eng.Run(context.Background(), WorkflowConfig{Name: "noop"}, "nothing to do")
	require.NoError(t, err)
	require.False(t, out.Suspended())

	res := out.Result
	assert.True(t, res.Success)
	assert.Empty(t, res.CompletedStages)
	assert.Empty(t, res.FailedStages)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 0, provider.Calls())
}

func TestEngine_Run_CompilationErrorAborts(t *testing.T) {
	eng := NewEngine(llm.NewScriptedProvider("test", "STAGE_COMPLETE"))
	cfg := tripConfig("plan", "plan")

	out, err := eng.Run(context.Background(), cfg, "plan a trip")
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Equal(t, types.ErrGraphCompilation, types.GetErrorCode(err))
}

func TestEngine_Run_PartitionsFailedStages(t *testing.T) {
	provider := &llm.FuncProvider{
		ProviderName: "flaky",
		Fn: func(_ context.Context, systemPrompt string, _ []types.Message) (string, error) {
			if strings.Contains(systemPrompt, "Current stage: charge") {
				return "", types.NewError(types.ErrProviderNetwork, "card processor offline")
			}
			return "STAGE_COMPLETE", nil
		},
	}
	eng := NewEngine(provider)

	out, err := eng.Run(context.Background(), tripConfig("reserve", "charge", "notify"), "book the hotel")
	require.NoError(t, err)
	require.False(t, out.Suspended())

	res := out.Result
	assert.False(t, res.Success)
	assert.Equal(t, []string{"reserve", "notify"}, res.CompletedStages)
	assert.Equal(t, []string{"charge"}, res.FailedStages)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "Stage charge: card processor offline")

	rec, err := eng.History().Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, rec.Status)
}

func TestEngine_Run_StageIterationLimitFailsStage(t *testing.T) {
	provider := llm.NewScriptedProvider("test", "Not done yet, I'll now keep polishing the itinerary.")
	eng := NewEngine(provider, WithMaxStageIterations(2))

	out, err := eng.Run(context.Background(), tripConfig("polish"), "polish the itinerary")
	require.NoError(t, err)

	res := out.Result
	assert.False(t, res.Success)
	assert.Equal(t, []string{"polish"}, res.FailedStages)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "iteration limit exceeded (2)")
	assert.Equal(t, 2, provider.Calls())
}

func TestEngine_Run_IterationBoundForcesResult(t *testing.T) {
	provider := llm.NewScriptedProvider("test", "STAGE_COMPLETE")
	eng := NewEngine(provider, WithMaxRunIterations(2))

	out, err := eng.Run(context.Background(), tripConfig("collect", "refine", "ship"), "plan everything")
	require.NoError(t, err)
	require.False(t, out.Suspended())

	// Two iterations cover the start node and the first stage only.
	res := out.Result
	assert.False(t, res.Success)
	assert.Equal(t, []string{"collect"}, res.CompletedStages)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[len(res.Errors)-1], "run iteration limit exceeded (2)")

	rec, err := eng.History().Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, rec.Status)
}

func TestEngine_Run_ContextCancelledAborts(t *testing.T) {
	eng := NewEngine(llm.NewScriptedProvider("test", "STAGE_COMPLETE"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := eng.Run(ctx, tripConfig("plan"), "plan a trip")
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Equal(t, types.ErrRunCancelled, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "run aborted by context")
}

func TestEngine_Run_EmitsLifecycleEvents(t *testing.T) {
	var events []Event
	eng := NewEngine(llm.NewScriptedProvider("test", "STAGE_COMPLETE"),
		WithEmitter(EmitterFunc(func(e Event) { events = append(events, e) })))

	out, err := eng.Run(context.Background(), tripConfig("plan"), "plan a trip")
	require.NoError(t, err)
	require.True(t, out.Result.Success)

	kinds := make([]EventKind, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []EventKind{
		EventRunStarted,
		EventNodeEntered,
		EventNodeEntered,
		EventStageStarted,
		EventStageCompleted,
		EventNodeEntered,
		EventRunFinished,
	}, kinds)
	assert.Equal(t, StartNodeName, events[1].Node)
	assert.Equal(t, "plan", events[3].Stage)
	assert.Equal(t, out.Result.RunID, events[0].RunID)
}

// ---------------------------------------------------------------------------
// Suspension and resume
// ---------------------------------------------------------------------------

func TestEngine_Run_SuspendsOnConfirmation(t *testing.T) {
	provider := llm.NewScriptedProvider("test",
		"CONFIRM_DATA: Are the dates 01.06 - 10.06 correct?",
		"Dates locked. STAGE_COMPLETE")
	eng := NewEngine(provider)

	out, err := eng.Run(context.Background(), tripConfig("collect_dates"), "plan a trip")
	require.NoError(t, err)
	require.True(t, out.Suspended())
	assert.Nil(t, out.Result)

	susp := out.Suspension
	assert.NotEmpty(t, susp.Token)
	assert.NotEmpty(t, susp.RunID)
	assert.Equal(t, "trip_planner", susp.Workflow)
	assert.Equal(t, "Are the dates 01.06 - 10.06 correct?", susp.Prompt)

	rec, err := eng.History().Get(context.Background(), susp.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusSuspended, rec.Status)

	// Without a signing secret the token doubles as the pending record id.
	p, err := eng.Pending().Load(context.Background(), susp.Token)
	require.NoError(t, err)
	assert.Equal(t, "collect_dates", p.NodeName)
}

func TestEngine_Resume_ConfirmationContinuesStage(t *testing.T) {
	provider := llm.NewScriptedProvider("test",
		"CONFIRM_DATA: Are the dates 01.06 - 10.06 correct?",
		"Dates locked. STAGE_COMPLETE")
	eng := NewEngine(provider)
	susp := runToSuspension(t, eng, tripConfig("collect_dates"), "plan a trip")

	out, err := eng.Resume(context.Background(), susp.Token, "да")
	require.NoError(t, err)
	require.False(t, out.Suspended())

	res := out.Result
	assert.True(t, res.Success)
	assert.Equal(t, []string{"collect_dates"}, res.CompletedStages)
	assert.Equal(t, 2, provider.Calls())

	// The stage resumed its own conversation instead of starting over.
	iterations, ok := runOutput(t, res, "collect_dates")["iterations"].AsInt()
	require.True(t, ok)
	assert.Equal(t, 2, iterations)

	rec, err := eng.History().Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, rec.Status)
}

func TestEngine_Resume_ModifyAnswerFoldsParameters(t *testing.T) {
	var (
		calls    int
		captured []types.Message
	)
	provider := &llm.FuncProvider{
		ProviderName: "probe",
		Fn: func(_ context.Context, _ string, conversation []types.Message) (string, error) {
			calls++
			if calls == 1 {
				return "CONFIRM_DATA: Keep the trip at 7 days?", nil
			}
			captured = append([]types.Message(nil), conversation...)
			return "Updated to 10 days. STAGE_COMPLETE", nil
		},
	}
	eng := NewEngine(provider)
	susp := runToSuspension(t, eng, tripConfig("adjust"), "plan a trip")

	out, err := eng.Resume(context.Background(), susp.Token, "make it 10 days")
	require.NoError(t, err)
	require.False(t, out.Suspended())
	assert.True(t, out.Result.Success)
	assert.Equal(t, 2, calls)

	var folded bool
	for _, msg := range captured {
		if strings.Contains(msg.Content, "[modify days=10] make it 10 days") {
			folded = true
		}
	}
	assert.True(t, folded, "classified answer was not folded into the conversation")
}

func TestEngine_Resume_CancellationWord(t *testing.T) {
	provider := llm.NewScriptedProvider("test",
		"CONFIRM_DATA: Are the dates correct?",
		"STAGE_COMPLETE")
	eng := NewEngine(provider)
	susp := runToSuspension(t, eng, tripConfig("collect_dates"), "plan a trip")

	out, err := eng.Resume(context.Background(), susp.Token, "quit")
	require.NoError(t, err)
	require.False(t, out.Suspended())

	res := out.Result
	assert.True(t, res.Cancelled)
	assert.False(t, res.Success)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[len(res.Errors)-1], "run cancelled by user")

	rec, err := eng.History().Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCancelled, rec.Status)
	assert.True(t, rec.Cancelled)

	// The pending record is gone, the token cannot be replayed.
	_, err = eng.Resume(context.Background(), susp.Token, "да")
	require.Error(t, err)
	assert.Equal(t, types.ErrUnknownToken, types.GetErrorCode(err))
}

func TestEngine_Resume_EmptyAnswerAsksAgainThenCancels(t *testing.T) {
	provider := llm.NewScriptedProvider("test",
		"CONFIRM_DATA: Are the dates correct?",
		"STAGE_COMPLETE")
	eng := NewEngine(provider)
	susp := runToSuspension(t, eng, tripConfig("collect_dates"), "plan a trip")

	out, err := eng.Resume(context.Background(), susp.Token, "   ")
	require.NoError(t, err)
	require.True(t, out.Suspended())
	assert.Equal(t, susp.Token, out.Suspension.Token)
	assert.Equal(t,
		"Empty answer received, send empty again to cancel. Are the dates correct?",
		out.Suspension.Prompt)

	out, err = eng.Resume(context.Background(), susp.Token, "")
	require.NoError(t, err)
	require.False(t, out.Suspended())
	assert.True(t, out.Result.Cancelled)
	require.NotEmpty(t, out.Result.Errors)
	assert.Contains(t, out.Result.Errors[len(out.Result.Errors)-1],
		"run cancelled after repeated empty input")
}

func TestEngine_Resume_UnknownToken(t *testing.T) {
	eng := NewEngine(llm.NewScriptedProvider("test", "STAGE_COMPLETE"))

	_, err := eng.Resume(context.Background(), "no-such-token", "да")
	require.Error(t, err)
	assert.Equal(t, types.ErrUnknownToken, types.GetErrorCode(err))
}

func TestEngine_Resume_SignedTokenRoundTrip(t *testing.T) {
	provider := llm.NewScriptedProvider("test",
		"CONFIRM_DATA: Are the dates correct?",
		"Dates locked. STAGE_COMPLETE")
	eng := NewEngine(provider, WithTokenCodec(NewTokenCodec("wf-secret", time.Minute)))
	susp := runToSuspension(t, eng, tripConfig("collect_dates"), "plan a trip")

	assert.Len(t, strings.Split(susp.Token, "."), 3)

	out, err := eng.Resume(context.Background(), susp.Token, "да")
	require.NoError(t, err)
	require.False(t, out.Suspended())
	assert.True(t, out.Result.Success)

	_, err = eng.Resume(context.Background(), "not-a-signed-token", "да")
	require.Error(t, err)
	assert.Equal(t, types.ErrUnknownToken, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "invalid resume token")
}

// ---------------------------------------------------------------------------
// Suspension inside a subgraph
// ---------------------------------------------------------------------------

func TestEngine_Resume_AnswersHumanNodeInsideSubgraph(t *testing.T) {
	gatherProvider := llm.NewScriptedProvider("test", "STAGE_COMPLETE")
	gather := NewAgentNode(StageOptions{Name: "gather", Role: "planner"},
		NewStageRunner(NewProviders(gatherProvider)), nil)

	sub, err := NewSubgraph("advisor", "asks for travel dates and summarizes").
		AddNode(gather).
		AddNode(NewHumanInputNode("ask", "When do you travel?", "travel_dates", nil)).
		AddNode(completingAgent("summarize")).
		AddEdge("gather", "ask").
		AddEdge("ask", "summarize").
		Build()
	require.NoError(t, err)

	registry := NewRegistry(nil)
	require.NoError(t, registry.Register(sub))

	eng := NewEngine(llm.NewScriptedProvider("engine"), WithRegistry(registry))
	cfg := WorkflowConfig{Name: "trip_planner", Stages: []StageConfig{
		{Name: "advise", Subgraph: "advisor"},
	}}

	susp := runToSuspension(t, eng, cfg, "plan a trip")
	assert.Equal(t, "When do you travel?", susp.Prompt)

	p, err := eng.Pending().Load(context.Background(), susp.Token)
	require.NoError(t, err)
	assert.Equal(t, "advise", p.NodeName)
	assert.Equal(t, "ask", p.State.CurrentNode)

	out, err := eng.Resume(context.Background(), susp.Token, "01.06 - 10.06")
	require.NoError(t, err)
	require.False(t, out.Suspended())

	res := out.Result
	assert.True(t, res.Success)
	assert.Equal(t, []string{"advise"}, res.CompletedStages)
	// The completed inner stage was not re-run after the resume.
	assert.Equal(t, 1, gatherProvider.Calls())
}
