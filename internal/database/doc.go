// Copyright (c) Flowcraft Authors.
// Licensed under the MIT License.

/*
包 database 提供基于 GORM 的数据库连接池管理与运行历史持久化，
支持健康检查、统计信息采集与事务重试。

# 概述

本包通过 PoolManager 封装 GORM 与 database/sql 的连接池配置，
统一管理连接生命周期、空闲回收与最大连接数限制。后台健康检查
定时探活，异常时通过 zap 日志输出诊断信息。HistoryStore 与
MongoHistory 在其上实现 workflow.HistoryStore，使运行记录跨
进程重启后仍可查询。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置，包含最大空闲连接数、最大打开连接数、
    连接最大生命周期、空闲超时与健康检查间隔。
  - Config：连接配置，Driver 支持 postgres/mysql/sqlite/sqlite3，
    经 Open 统一创建带连接池的实例。
  - HistoryStore：关系库运行历史，按 run_id 覆盖写入，
    支持按工作流过滤、分页列出与按启动时间清理。
  - MongoHistory：MongoDB 运行历史，语义与 HistoryStore 一致。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 连接池调优：通过 MaxIdleConns/MaxOpenConns/ConnMaxLifetime 精细控制。
  - 健康检查：后台定时 PingContext 探活，输出连接数与空闲数。
  - 事务管理：WithTransaction 提供单次事务执行，
    WithTransactionRetry 支持指数退避重试（死锁、序列化失败等场景）。
  - 运行历史：fc_runs 表经 InitSchema 自动迁移或 migration 包
    版本化 SQL 创建，记录运行状态、阶段结果与耗时。
  - 统计采集：GetStats 返回结构化的连接池运行指标。
*/
package database
