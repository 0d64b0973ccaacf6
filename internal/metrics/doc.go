// Copyright (c) Flowcraft Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、
工作流运行、阶段、模型、工具、缓存与数据库七个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

Collector 同时实现 workflow.Metrics 接口，可直接挂到引擎上，
让运行与阶段生命周期自动产出指标。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    按 method/path/status 分组，路径中的运行 ID 归一化为 :id。
  - 运行指标：启动/结束/挂起计数与运行耗时，按 workflow 分组，
    结束计数附带 status 维度（completed/failed/cancelled）。
  - 阶段指标：完成计数与阶段耗时，按 workflow/stage/status 分组。
  - 模型指标：往返计数与往返耗时，按 workflow/model 分组。
  - 工具指标：调用计数与调用耗时，按 server/tool/status 分组。
  - 缓存指标：命中与未命中计数，按 cache_type 分组。
  - 数据库指标：活跃/空闲连接数 Gauge、查询耗时 Histogram，
    按 database/operation 分组。
*/
package metrics
