package database

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	sqlitecgo "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// =============================================================================
// 🔌 数据库连接
// =============================================================================

// Config 数据库连接配置
type Config struct {
	// 驱动: postgres / mysql / sqlite / sqlite3
	Driver string `yaml:"driver" json:"driver"`

	// 数据源名称
	DSN string `yaml:"dsn" json:"dsn"`

	// 连接池配置
	Pool PoolConfig `yaml:"pool" json:"pool"`
}

// DefaultDatabaseConfig 返回默认数据库配置,本地文件 SQLite 免部署可用
func DefaultDatabaseConfig() Config {
	return Config{
		Driver: "sqlite",
		DSN:    "flowcraft.db",
		Pool:   DefaultPoolConfig(),
	}
}

// Open 按驱动名打开数据库连接并配置连接池。
// sqlite 使用纯 Go 驱动,sqlite3 使用 cgo 驱动。
func Open(cfg Config, logger *zap.Logger) (*PoolManager, error) {
	if err := cfg.Pool.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "sqlite3":
		dialector = sqlitecgo.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	return NewPoolManager(db, cfg.Pool, logger)
}
