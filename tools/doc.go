// Copyright (c) Flowcraft Authors.
// Licensed under the MIT License.

/*
Package tools 定义工具执行接口与会话管理。

# 概述

工具传输层（子进程、会话协议、服务器生命周期）在引擎之外；本包只约定
"按名字调用工具拿到文本结果"这一契约，并提供按服务器名索引的会话管理器。
宿主应用在 stage 运行前注册已建立的会话句柄，引擎在工具循环中查找并调用。

# 核心类型

  - Session        — 单个工具服务器的已建立会话（ListTools / CallTool）
  - Manager        — 名字 → Session 的并发安全注册表，聚合目录
  - MemorySession  — 可脚本化的内存实现（测试与示例用）
*/
package tools
