// Copyright (c) Flowcraft Authors.
// Licensed under the MIT License.

/*
Package types 提供 flowcraft 工作流引擎的全局共享类型定义。

# 概述

types 是引擎最底层的公共包，不依赖任何内部包，为 workflow、llm、tools、
config 等上层模块提供统一的类型契约。所有跨包共享的枚举、结构体和错误码
均定义于此，以避免循环依赖。

# 核心类型

  - Value / Kind      — 带标签联合的变体值（string/number/bool/list/map），
    用于 stage 输出、用户输入与工具参数等松散结构
  - Message / Role    — 角色标注的对话消息（system / user / model / tool）
  - ToolCall          — 模型发出的结构化工具调用（server.tool + 参数）
  - ToolDescriptor    — 工具目录条目（name + description + JSON Schema）
  - ToolResult        — 工具执行结果（文本结果或错误 + 耗时）
  - Error / ErrorCode — 结构化错误体系，含 Stage 归属、Retryable 标记

# 设计约束

本包保持零内部依赖。任何需要跨包共享的新类型应优先考虑放在这里。
*/
package types
