// Copyright (c) Flowcraft Authors.
// Licensed under the MIT License.

// Package workflow 实现多阶段任务编排引擎的核心运行时。
//
// # 概述
//
// workflow 包将声明式的阶段列表(WorkflowConfig)编译为可执行的节点图,
// 并驱动图的逐节点执行。每个阶段由一个角色化的模型代理承担,阶段内部
// 支持多轮模型往返、工具调用累积循环以及人工确认暂停点。执行状态
// (State)在节点之间以写时复制的方式传递,最终汇总为 RunResult。
//
// # 核心接口与类型
//
//   - State / Context / RunResult: 工作流执行状态、任务上下文与最终结果
//   - Node: 图节点接口,内置 Start / Agent / HumanInput / Conditional /
//     SubgraphNode / End 六种节点
//   - StageRunner: 阶段迭代状态机,驱动模型往返与指令协议
//   - ResponseClassifier: 模型输出指令解析与用户回答意图分类(可替换)
//   - ContinuationPolicy: 工具循环继续/终止判定策略(可参数化)
//   - Builder / Graph: 工作流配置到节点图的编译器与编译缓存
//   - Registry / Subgraph: 子图注册表、检索与链式校验,支持组合子图
//   - Engine: 顶层运行循环,Run / Resume 入口与挂起恢复
//   - PendingStore: 人工输入挂起记录的持久化接口
//   - HistoryStore: 运行历史记录接口
//
// # 主要能力
//
//   - 阶段图编译: 线性阶段链 + 条件分支 + 子图包装,编译结果按名缓存
//   - 阶段协议: CONFIRM_DATA / REQUEST_APPROVAL / STAGE_COMPLETE 指令识别,
//     回退关键字分类器,迭代上限硬失败
//   - 工具循环: JSON 工具调用提取、并行分发、结果回填与继续判定
//   - 人机协作: 挂起令牌签发与校验,回答意图分类(确认/拒绝/修改/不明确)
//   - 可观测性: 结构化日志、事件发射器与指标接口
//
// 使用示例:
//
//	engine := workflow.NewEngine(provider,
//		workflow.WithLogger(logger),
//		workflow.WithToolManager(manager),
//	)
//	outcome, err := engine.Run(ctx, cfg, "plan a 5 day trip to Rome")
//	if outcome.Suspended() {
//		outcome, err = engine.Resume(ctx, outcome.Suspension.Token, "да")
//	}
package workflow
