package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/VitalyOstanin/flowcraft-sub000/types"
	"github.com/VitalyOstanin/flowcraft-sub000/workflow"
)

// =============================================================================
// 🍃 MongoDB 运行历史
// =============================================================================

// MongoConfig MongoDB 连接配置
type MongoConfig struct {
	// 连接 URI
	URI string `yaml:"uri" json:"uri"`

	// 数据库名
	Database string `yaml:"database" json:"database"`

	// 集合名
	Collection string `yaml:"collection" json:"collection"`

	// 连接超时
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "flowcraft",
		Collection:     "fc_runs",
		ConnectTimeout: 5 * time.Second,
	}
}

// MongoHistory 基于 MongoDB 的运行历史,文档按 run_id 去重
type MongoHistory struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *zap.Logger
}

var _ workflow.HistoryStore = (*MongoHistory)(nil)

// runDoc 运行记录文档
type runDoc struct {
	RunID           string    `bson:"run_id"`
	Workflow        string    `bson:"workflow"`
	Task            string    `bson:"task"`
	Status          string    `bson:"status"`
	Success         bool      `bson:"success"`
	Cancelled       bool      `bson:"cancelled"`
	CompletedStages []string  `bson:"completed_stages,omitempty"`
	FailedStages    []string  `bson:"failed_stages,omitempty"`
	Errors          []string  `bson:"errors,omitempty"`
	StartedAt       time.Time `bson:"started_at"`
	FinishedAt      time.Time `bson:"finished_at,omitempty"`
	DurationMS      int64     `bson:"duration_ms,omitempty"`
}

// NewMongoHistory 连接 MongoDB 并准备运行历史集合
func NewMongoHistory(cfg MongoConfig, logger *zap.Logger) (*MongoHistory, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo uri cannot be empty")
	}
	if cfg.Database == "" {
		cfg.Database = "flowcraft"
	}
	if cfg.Collection == "" {
		cfg.Collection = "fc_runs"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client: %w", err)
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)

	// run_id 唯一索引保证 Save 的覆盖语义
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "run_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create run_id index: %w", err)
	}

	logger.Info("mongo history initialized",
		zap.String("database", cfg.Database),
		zap.String("collection", cfg.Collection),
	)

	return &MongoHistory{
		client: client,
		coll:   coll,
		logger: logger.With(zap.String("component", "mongo_history")),
	}, nil
}

// Save 插入或按 run_id 覆盖一条运行记录
func (h *MongoHistory) Save(ctx context.Context, rec *workflow.RunRecord) error {
	if rec == nil || rec.RunID == "" {
		return types.NewError(types.ErrInternal, "run record needs a run id")
	}

	doc := recordToDoc(rec)
	_, err := h.coll.ReplaceOne(ctx,
		bson.M{"run_id": rec.RunID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		h.logger.Error("failed to save run record",
			zap.String("run_id", rec.RunID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to save run record: %w", err)
	}

	return nil
}

// Get 按 run_id 查询一条运行记录
func (h *MongoHistory) Get(ctx context.Context, runID string) (*workflow.RunRecord, error) {
	var doc runDoc
	err := h.coll.FindOne(ctx, bson.M{"run_id": runID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, types.NewErrorf(types.ErrInternal, "no run record %q", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run record: %w", err)
	}
	return docToRecord(&doc), nil
}

// List 返回运行记录,最新优先,可按工作流名过滤
func (h *MongoHistory) List(ctx context.Context, workflowName string, limit int) ([]*workflow.RunRecord, error) {
	filter := bson.M{}
	if workflowName != "" {
		filter["workflow"] = workflowName
	}

	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}

	cursor, err := h.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list run records: %w", err)
	}

	var docs []runDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode run records: %w", err)
	}

	out := make([]*workflow.RunRecord, 0, len(docs))
	for i := range docs {
		out = append(out, docToRecord(&docs[i]))
	}
	return out, nil
}

// Close 断开 MongoDB 连接
func (h *MongoHistory) Close(ctx context.Context) error {
	return h.client.Disconnect(ctx)
}

// =============================================================================
// 🔧 转换函数
// =============================================================================

func recordToDoc(rec *workflow.RunRecord) *runDoc {
	return &runDoc{
		RunID:           rec.RunID,
		Workflow:        rec.Workflow,
		Task:            rec.Task,
		Status:          string(rec.Status),
		Success:         rec.Success,
		Cancelled:       rec.Cancelled,
		CompletedStages: rec.CompletedStages,
		FailedStages:    rec.FailedStages,
		Errors:          rec.Errors,
		StartedAt:       rec.StartedAt,
		FinishedAt:      rec.FinishedAt,
		DurationMS:      rec.Duration.Milliseconds(),
	}
}

func docToRecord(doc *runDoc) *workflow.RunRecord {
	return &workflow.RunRecord{
		RunID:           doc.RunID,
		Workflow:        doc.Workflow,
		Task:            doc.Task,
		Status:          workflow.RunStatus(doc.Status),
		Success:         doc.Success,
		Cancelled:       doc.Cancelled,
		CompletedStages: doc.CompletedStages,
		FailedStages:    doc.FailedStages,
		Errors:          doc.Errors,
		StartedAt:       doc.StartedAt,
		FinishedAt:      doc.FinishedAt,
		Duration:        time.Duration(doc.DurationMS) * time.Millisecond,
	}
}
