// Package config 提供 Flowcraft 的配置管理功能。
//
// 包含运行配置加载（默认值 → YAML 文件 → 环境变量）、
// 工作流定义的 YAML 存储与文件变更监听重载。
package config
