package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/VitalyOstanin/flowcraft-sub000/types"
	"github.com/VitalyOstanin/flowcraft-sub000/workflow"
)

// =============================================================================
// 📜 运行历史存储
// =============================================================================

// RunRecordRow 运行记录表模型
type RunRecordRow struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	RunID           string     `gorm:"size:64;not null;uniqueIndex:idx_run_id" json:"run_id"` // 运行标识
	Workflow        string     `gorm:"size:100;not null;index:idx_workflow" json:"workflow"`  // 工作流名称
	Task            string     `gorm:"type:text" json:"task"`                                 // 任务描述
	Status          string     `gorm:"size:20;not null;index:idx_status" json:"status"`       // running/suspended/completed/failed/cancelled
	Success         bool       `gorm:"default:false" json:"success"`
	Cancelled       bool       `gorm:"default:false" json:"cancelled"`
	CompletedStages string     `gorm:"type:text" json:"completed_stages"` // JSON 数组
	FailedStages    string     `gorm:"type:text" json:"failed_stages"`    // JSON 数组
	Errors          string     `gorm:"type:text" json:"errors"`           // JSON 数组
	StartedAt       time.Time  `gorm:"index:idx_started_at" json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
	DurationMS      int64      `gorm:"default:0" json:"duration_ms"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (RunRecordRow) TableName() string {
	return "fc_runs"
}

// InitSchema 自动迁移运行历史表。
// 生产部署用 migration 包的版本化 SQL,本函数服务嵌入式与开发环境。
func InitSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(&RunRecordRow{}); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

// HistoryStore 基于关系库的运行历史,进程重启后运行记录仍可查询
type HistoryStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ workflow.HistoryStore = (*HistoryStore)(nil)

// NewHistoryStore 创建运行历史存储
func NewHistoryStore(db *gorm.DB, logger *zap.Logger) (*HistoryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryStore{
		db:     db,
		logger: logger.With(zap.String("component", "history_store")),
	}, nil
}

// Save 插入或按 run_id 覆盖一条运行记录
func (s *HistoryStore) Save(ctx context.Context, rec *workflow.RunRecord) error {
	if rec == nil || rec.RunID == "" {
		return types.NewError(types.ErrInternal, "run record needs a run id")
	}

	row := recordToRow(rec)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			UpdateAll: true,
		}).
		Create(row).Error
	if err != nil {
		s.logger.Error("failed to save run record",
			zap.String("run_id", rec.RunID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to save run record: %w", err)
	}

	return nil
}

// Get 按 run_id 查询一条运行记录
func (s *HistoryStore) Get(ctx context.Context, runID string) (*workflow.RunRecord, error) {
	var row RunRecordRow
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewErrorf(types.ErrInternal, "no run record %q", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run record: %w", err)
	}
	return rowToRecord(&row), nil
}

// List 返回运行记录,最新优先,可按工作流名过滤
func (s *HistoryStore) List(ctx context.Context, workflowName string, limit int) ([]*workflow.RunRecord, error) {
	q := s.db.WithContext(ctx).Model(&RunRecordRow{}).Order("started_at DESC, id DESC")
	if workflowName != "" {
		q = q.Where("workflow = ?", workflowName)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []RunRecordRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list run records: %w", err)
	}

	out := make([]*workflow.RunRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rowToRecord(&rows[i]))
	}
	return out, nil
}

// Prune 删除早于 cutoff 启动的记录,返回删除数量
func (s *HistoryStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("started_at < ?", cutoff).Delete(&RunRecordRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune run records: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("pruned run records",
			zap.Int64("count", res.RowsAffected),
			zap.Time("cutoff", cutoff),
		)
	}
	return res.RowsAffected, nil
}

// =============================================================================
// 🔧 转换函数
// =============================================================================

func recordToRow(rec *workflow.RunRecord) *RunRecordRow {
	row := &RunRecordRow{
		RunID:           rec.RunID,
		Workflow:        rec.Workflow,
		Task:            rec.Task,
		Status:          string(rec.Status),
		Success:         rec.Success,
		Cancelled:       rec.Cancelled,
		CompletedStages: stringsToJSON(rec.CompletedStages),
		FailedStages:    stringsToJSON(rec.FailedStages),
		Errors:          stringsToJSON(rec.Errors),
		StartedAt:       rec.StartedAt,
		DurationMS:      rec.Duration.Milliseconds(),
	}
	if !rec.FinishedAt.IsZero() {
		t := rec.FinishedAt
		row.FinishedAt = &t
	}
	return row
}

func rowToRecord(row *RunRecordRow) *workflow.RunRecord {
	rec := &workflow.RunRecord{
		RunID:           row.RunID,
		Workflow:        row.Workflow,
		Task:            row.Task,
		Status:          workflow.RunStatus(row.Status),
		Success:         row.Success,
		Cancelled:       row.Cancelled,
		CompletedStages: jsonToStrings(row.CompletedStages),
		FailedStages:    jsonToStrings(row.FailedStages),
		Errors:          jsonToStrings(row.Errors),
		StartedAt:       row.StartedAt,
		Duration:        time.Duration(row.DurationMS) * time.Millisecond,
	}
	if row.FinishedAt != nil {
		rec.FinishedAt = *row.FinishedAt
	}
	return rec
}

func stringsToJSON(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	data, err := json.Marshal(ss)
	if err != nil {
		return ""
	}
	return string(data)
}

func jsonToStrings(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}
