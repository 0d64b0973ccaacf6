// =============================================================================
// 📦 Flowcraft 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Engine:    DefaultEngineConfig(),
		Model:     DefaultModelConfig(),
		Workflows: DefaultWorkflowsConfig(),
		Suspend:   DefaultSuspendConfig(),
		History:   DefaultHistoryConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultEngineConfig 返回默认引擎配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxStageIterations: 5,
		MaxRunIterations:   50,
		MaxToolRounds:      10,
		ToolCallTimeout:    10 * time.Second,
		PromptTokenBudget:  0,
	}
}

// DefaultModelConfig 返回默认模型配置
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Default:        "gpt-4o",
		Roles:          map[string]string{},
		RateLimitRPS:   0,
		RateLimitBurst: 1,
	}
}

// DefaultWorkflowsConfig 返回默认工作流目录配置
func DefaultWorkflowsConfig() WorkflowsConfig {
	return WorkflowsConfig{
		Dir:           "workflows",
		Watch:         false,
		DebounceDelay: 200 * time.Millisecond,
	}
}

// DefaultSuspendConfig 返回默认暂停恢复配置
func DefaultSuspendConfig() SuspendConfig {
	return SuspendConfig{
		TokenSecret: "",
		TokenTTL:    24 * time.Hour,
		Store:       "memory",
	}
}

// DefaultHistoryConfig 返回默认运行历史配置
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Backend:       "memory",
		MongoURI:      "mongodb://localhost:27017",
		MongoDatabase: "flowcraft",
		MaxRecords:    1000,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "flowcraft",
		Password:        "",
		Name:            "flowcraft",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		MaxConns:        0,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
		AuthSecret:      "",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "flowcraft",
		SampleRate:   0.1,
	}
}
