package quick

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VitalyOstanin/flowcraft-sub000/config"
	"github.com/VitalyOstanin/flowcraft-sub000/testutil"
	"github.com/VitalyOstanin/flowcraft-sub000/testutil/fixtures"
	"github.com/VitalyOstanin/flowcraft-sub000/testutil/mocks"
	"github.com/VitalyOstanin/flowcraft-sub000/tools"
	"github.com/VitalyOstanin/flowcraft-sub000/types"
	"github.com/VitalyOstanin/flowcraft-sub000/workflow"
)

func writeWorkflowFile(t *testing.T, yamlText string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlText), 0o644))
	return path
}

func stageOutput(t *testing.T, res *workflow.Result, stage string) map[string]types.Value {
	t.Helper()
	out, ok := res.Outputs[stage].AsMap()
	require.True(t, ok, "stage %s has no map output", stage)
	return out
}

// ---------------------------------------------------------------------------
// NewEngine
// ---------------------------------------------------------------------------

func TestNewEngine_RequiresProvider(t *testing.T) {
	eng, err := NewEngine()
	require.Error(t, err)
	assert.Nil(t, eng)
	assert.Contains(t, err.Error(), "a provider is required")
}

func TestNewEngine_SuspendResumeRoundTrip(t *testing.T) {
	emitter := mocks.NewRecordingEmitter()
	provider := mocks.NewMockProvider().WithResponses(
		fixtures.ConfirmDataResponse("Dates correct?"),
		fixtures.StageCompleteResponse("records updated"),
	)
	eng, err := NewEngine(WithProvider(provider), WithEmitter(emitter))
	require.NoError(t, err)

	ctx := testutil.TestContext(t)
	out, err := eng.Run(ctx, fixtures.SingleStageWorkflow(), "update the records")
	require.NoError(t, err)
	require.True(t, out.Suspended(), "expected the confirmation to suspend the run")
	assert.Contains(t, out.Suspension.Prompt, "Dates correct?")

	final, err := eng.Resume(ctx, out.Suspension.Token, fixtures.AffirmativeAnswers()[0])
	require.NoError(t, err)
	require.False(t, final.Suspended())
	assert.True(t, final.Result.Success)
	assert.Equal(t, []string{"analyze"}, final.Result.CompletedStages)

	assert.Equal(t, 1, emitter.CountKind(workflow.EventRunSuspended))
	assert.Equal(t, 1, emitter.CountKind(workflow.EventRunResumed))
	kinds := emitter.Kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, workflow.EventRunFinished, kinds[len(kinds)-1])
}

// ---------------------------------------------------------------------------
// Run / RunDef
// ---------------------------------------------------------------------------

func TestRun_FileWorkflowCompletes(t *testing.T) {
	path := writeWorkflowFile(t, fixtures.PipelineYAML())
	provider := mocks.NewMockProvider().WithResponses(
		fixtures.StageCompleteResponse("analysis ready"),
		fixtures.StageCompleteResponse("changes applied"),
		fixtures.StageCompleteResponse("review passed"),
	)

	out, err := Run(testutil.TestContext(t), path, "rework the import pipeline", WithProvider(provider))
	require.NoError(t, err)
	require.False(t, out.Suspended())

	res := out.Result
	assert.True(t, res.Success)
	assert.Equal(t, "pipeline", res.Workflow)
	assert.Equal(t, []string{"analyze", "execute", "review"}, res.CompletedStages)
	assert.Equal(t, 3, provider.CallCount())
}

func TestRun_MissingFile(t *testing.T) {
	out, err := Run(testutil.TestContext(t), filepath.Join(t.TempDir(), "absent.yaml"), "task",
		WithProvider(mocks.NewMockProvider()))
	require.Error(t, err)
	assert.Nil(t, out)
}

func TestRunDef_ResolvesRoleModels(t *testing.T) {
	models := config.ModelConfig{
		Default: "small-model",
		Roles:   map[string]string{"analyst": "large-model"},
	}
	provider := mocks.NewMockProvider().WithResponse(fixtures.StageCompleteResponse(""))

	out, err := RunDef(testutil.TestContext(t), fixtures.PipelineDef(), "summarize the release",
		WithProvider(provider), WithModels(models))
	require.NoError(t, err)
	require.False(t, out.Suspended())
	require.True(t, out.Result.Success)

	// Role override, stage pin and default each resolve independently.
	analyzeModel, _ := stageOutput(t, out.Result, "analyze")["model"].AsString()
	executeModel, _ := stageOutput(t, out.Result, "execute")["model"].AsString()
	reviewModel, _ := stageOutput(t, out.Result, "review")["model"].AsString()
	assert.Equal(t, "large-model", analyzeModel)
	assert.Equal(t, "gpt-4o", executeModel)
	assert.Equal(t, "small-model", reviewModel)
}

func TestRunDef_ExecutesToolWorkflow(t *testing.T) {
	session := mocks.NewFakeSession().WithTool("check", "monday 10:00 is free")
	manager := tools.NewManager()
	manager.Register("calendar", session)

	provider := mocks.NewMockProvider().WithResponses(fixtures.ToolLoopScript("calendar.check")...)
	eng, err := NewEngine(WithProvider(provider), WithTools(manager))
	require.NoError(t, err)

	out, err := eng.Run(testutil.TestContext(t), fixtures.ToolWorkflow("calendar", 1), "check availability")
	require.NoError(t, err)
	require.False(t, out.Suspended())
	assert.True(t, out.Result.Success)

	require.Equal(t, 1, session.CallCount())
	assert.Equal(t, "check", session.Calls()[0].Tool)

	text := stageOutput(t, out.Result, "operate")["output"].Text()
	assert.Contains(t, text, "calendar.check")
	assert.Contains(t, text, "monday 10:00 is free")
}

// ---------------------------------------------------------------------------
// WorkflowFromDef
// ---------------------------------------------------------------------------

func TestWorkflowFromDef_FillsModelsFromRoles(t *testing.T) {
	models := config.ModelConfig{
		Default: "base",
		Roles:   map[string]string{"reviewer": "strict"},
	}

	cfg := WorkflowFromDef(fixtures.PipelineDef(), models)
	assert.Equal(t, "pipeline", cfg.Name)
	require.Len(t, cfg.Stages, 3)

	assert.Equal(t, "base", cfg.Stages[0].Model, "unpinned stage falls back to the default model")
	assert.Equal(t, "gpt-4o", cfg.Stages[1].Model, "a pinned model is kept as is")
	assert.Equal(t, "strict", cfg.Stages[2].Model, "role override beats the default")
	assert.True(t, cfg.Stages[2].Skippable)
}
