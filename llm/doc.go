// Copyright (c) Flowcraft Authors.
// Licensed under the MIT License.

/*
Package llm 定义引擎消费的语言模型接口。

# 概述

引擎不关心具体厂商的 HTTP 客户端（认证、重试、流式传输均由宿主应用提供的
Provider 实现负责），只依赖一个最小契约：给定系统提示词与对话历史，返回
一段文本。失败以带类型码的 *types.Error 呈现，引擎将其视为 stage 级失败。

# 核心类型

  - Provider          — Complete / CompleteStream / Name
  - StreamChunk       — 流式补全的增量片段
  - RateLimitedProvider — 基于令牌桶的限流包装器
  - ScriptedProvider  — 按脚本应答的确定性实现（测试与示例用）
  - TokenCounter / TiktokenCounter — 提示词预算所需的 token 计数
*/
package llm
