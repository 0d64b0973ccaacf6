// Copyright (c) Flowcraft Authors.
// Licensed under the MIT License.

/*
Package main 提供 Flowcraft 命令行程序入口。

# 概述

cmd/flowcraft 是 Flowcraft 工作流引擎的可执行入口，提供工作流执行、
挂起恢复、观测服务、运行历史迁移和版本查询等子命令。程序支持 YAML
配置文件加载、结构化日志（zap）、Prometheus 指标采集以及工作流目录
热重载。

# 核心类型

  - Server           — 观测服务器，单端口暴露探针、指标、事件流与运行历史
  - runtime          — run/resume 共用的引擎装配（provider、存储、事件输出）
  - runtimeStores    — 历史与挂起存储的后端装配（memory/database/mongo/redis）
  - Middleware       — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：run（执行工作流，挂起时交互续跑）、resume（按令牌恢复）、
    serve（观测服务器）、migrate（运行历史迁移）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    OTelTracing、MetricsMiddleware、RateLimiter（基于 IP）、
    BearerAuth（JWT HS256，密钥为空时关闭认证）
  - 工作流热重载：FileWatcher 监听目录变更，引擎按名失效缓存
  - 观测端点：/ws（事件流）、/runs、/pending、/workflows 均为只读
  - 优雅关闭：信号监听 → 停止监听器 → 关闭 HTTP → 关闭 Hub → 关闭存储
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
