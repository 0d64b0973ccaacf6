// Copyright (c) Flowcraft Authors.
// Licensed under the MIT License.

/*
包 server 提供观测服务：HTTP 服务器生命周期管理、健康检查、
Prometheus 指标路由与工作流事件的 WebSocket 广播。

# 概述

本包通过 Manager 封装 net/http.Server，统一管理监听、服务、
关闭与错误传播流程。支持 HTTP 与 TLS 两种启动模式，内置
SIGINT/SIGTERM 信号处理。NewMux 组装健康检查、版本、/metrics
与 /ws 事件流路由，Hub 把引擎事件实时推送给 WebSocket 订阅者。

# 核心类型

  - Manager：HTTP 服务器管理器，持有 http.Server、net.Listener
    与异步错误通道，提供 Start/StartTLS/Shutdown/WaitForShutdown
    等生命周期方法，并按 MaxConns 限制并发连接数。
  - Config：服务器配置，包含监听地址、读写超时、空闲超时、
    最大请求头大小、连接数上限与优雅关闭超时。
  - HealthHandler：存活（/health、/healthz）与就绪（/ready、
    /readyz）探针，就绪检查通过 RegisterCheck 注册依赖探测。
  - Hub：workflow.Emitter 实现，把运行事件广播给所有 /ws 订阅者，
    慢客户端按缓冲丢弃事件，不阻塞运行路径。

# 主要能力

  - 非阻塞启动：Start/StartTLS 在后台 goroutine 中运行服务，
    主线程不阻塞。
  - 优雅关闭：Shutdown 在配置的超时内完成请求排空与连接释放。
  - 信号监听：WaitForShutdown 监听 SIGINT/SIGTERM，收到信号后
    自动触发优雅关闭流程。
  - 连接上限：MaxConns 大于 0 时通过 netutil.LimitListener 限制
    并发连接数。
  - 事件广播：Hub 将运行生命周期事件以 JSON 文本帧推送给订阅者，
    Close 时以 GoingAway 状态断开全部连接。
*/
package server
