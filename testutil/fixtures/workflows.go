// =============================================================================
// 📦 测试数据工厂 - 工作流配置测试数据
// =============================================================================
// 提供预定义的工作流配置与 YAML 定义文本，用于测试
// =============================================================================
package fixtures

import (
	"github.com/VitalyOstanin/flowcraft-sub000/config"
	"github.com/VitalyOstanin/flowcraft-sub000/workflow"
)

// =============================================================================
// 🎯 WorkflowConfig 工厂
// =============================================================================

// SingleStageWorkflow 返回单阶段工作流配置
func SingleStageWorkflow() workflow.WorkflowConfig {
	return workflow.WorkflowConfig{
		Name:        "single",
		Description: "one analyst stage",
		Stages: []workflow.StageConfig{
			{Name: "analyze", Role: "analyst", Description: "Analyze the task"},
		},
	}
}

// PipelineWorkflow 返回典型的三阶段流水线配置
func PipelineWorkflow() workflow.WorkflowConfig {
	return workflow.WorkflowConfig{
		Name:        "pipeline",
		Description: "analyze, execute, review",
		Stages: []workflow.StageConfig{
			{Name: "analyze", Role: "analyst", Description: "Analyze the task"},
			{Name: "execute", Role: "executor", Description: "Execute the plan"},
			{Name: "review", Role: "reviewer", Description: "Review the outcome", Skippable: true},
		},
	}
}

// ToolWorkflow 返回带工具服务器绑定的单阶段配置
func ToolWorkflow(server string, minOps int) workflow.WorkflowConfig {
	return workflow.WorkflowConfig{
		Name:        "tooling",
		Description: "one stage with tool access",
		Stages: []workflow.StageConfig{
			{
				Name:        "operate",
				Role:        "executor",
				Description: "Run the requested operations",
				ToolServers: []string{server},
				MinToolOps:  minOps,
			},
		},
	}
}

// SubgraphWorkflow 返回引用子图的配置；parent 的第二个 stage 展开 child
func SubgraphWorkflow(child string) workflow.WorkflowConfig {
	return workflow.WorkflowConfig{
		Name:        "parent",
		Description: "stage then nested workflow",
		Stages: []workflow.StageConfig{
			{Name: "prepare", Role: "analyst", Description: "Prepare inputs"},
			{Name: "nested", Subgraph: child, Description: "Delegate to nested workflow"},
		},
	}
}

// =============================================================================
// 📄 YAML 定义工厂
// =============================================================================

// PipelineYAML 返回三阶段流水线的 YAML 定义文本
func PipelineYAML() string {
	return `name: pipeline
description: analyze, execute, review
stages:
  - name: analyze
    role: analyst
    description: Analyze the task
  - name: execute
    role: executor
    description: Execute the plan
    model: gpt-4o
  - name: review
    role: reviewer
    description: Review the outcome
    skippable: true
`
}

// ToolYAML 返回带工具绑定的 YAML 定义文本
func ToolYAML() string {
	return `name: tooling
description: one stage with tool access
stages:
  - name: operate
    role: executor
    description: Run the requested operations
    tool_servers: [calendar]
    min_tool_ops: 2
`
}

// InvalidYAML 返回校验必然失败的定义文本（阶段名重复）
func InvalidYAML() string {
	return `name: broken
stages:
  - name: same
    role: analyst
  - name: same
    role: reviewer
`
}

// =============================================================================
// 🧩 定义与记录工厂
// =============================================================================

// PipelineDef 返回与 PipelineYAML 等价的已解析定义
func PipelineDef() *config.WorkflowDef {
	return &config.WorkflowDef{
		Name:        "pipeline",
		Description: "analyze, execute, review",
		Stages: []config.StageDef{
			{Name: "analyze", Role: "analyst", Description: "Analyze the task"},
			{Name: "execute", Role: "executor", Description: "Execute the plan", Model: "gpt-4o"},
			{Name: "review", Role: "reviewer", Description: "Review the outcome", Skippable: true},
		},
	}
}

// CompletedRun 返回一条成功完成的运行记录
func CompletedRun(runID, workflowName string) *workflow.RunRecord {
	return &workflow.RunRecord{
		RunID:           runID,
		Workflow:        workflowName,
		Task:            "fixture task",
		Status:          workflow.RunStatusCompleted,
		Success:         true,
		CompletedStages: []string{"analyze", "execute", "review"},
	}
}
