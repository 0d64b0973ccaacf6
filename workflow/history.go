package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/VitalyOstanin/flowcraft-sub000/types"
)

// RunStatus is the lifecycle state of one recorded run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSuspended RunStatus = "suspended"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunRecord is one workflow run in the history log.
type RunRecord struct {
	RunID           string        `json:"run_id"`
	Workflow        string        `json:"workflow"`
	Task            string        `json:"task"`
	Status          RunStatus     `json:"status"`
	Success         bool          `json:"success"`
	Cancelled       bool          `json:"cancelled"`
	CompletedStages []string      `json:"completed_stages,omitempty"`
	FailedStages    []string      `json:"failed_stages,omitempty"`
	Errors          []string      `json:"errors,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at,omitempty"`
	Duration        time.Duration `json:"duration,omitempty"`
}

// HistoryStore records run outcomes. Saving the same run id again replaces
// the earlier record, so the engine can upgrade running -> suspended ->
// completed in place.
type HistoryStore interface {
	Save(ctx context.Context, rec *RunRecord) error
	Get(ctx context.Context, runID string) (*RunRecord, error)
	List(ctx context.Context, workflow string, limit int) ([]*RunRecord, error)
}

// MemoryHistory keeps the most recent runs in memory, evicting oldest first.
type MemoryHistory struct {
	mu      sync.RWMutex
	byID    map[string]*RunRecord
	order   []string
	maxSize int
}

// NewMemoryHistory creates a history bounded to maxSize records; zero or
// negative means 1000.
func NewMemoryHistory(maxSize int) *MemoryHistory {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MemoryHistory{
		byID:    map[string]*RunRecord{},
		maxSize: maxSize,
	}
}

// Save inserts or replaces a record.
func (h *MemoryHistory) Save(ctx context.Context, rec *RunRecord) error {
	if rec == nil || rec.RunID == "" {
		return types.NewError(types.ErrInternal, "run record needs a run id")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.byID[rec.RunID]; !exists {
		h.order = append(h.order, rec.RunID)
		for len(h.order) > h.maxSize {
			oldest := h.order[0]
			h.order = h.order[1:]
			delete(h.byID, oldest)
		}
	}
	h.byID[rec.RunID] = rec
	return nil
}

// Get returns the record for a run id.
func (h *MemoryHistory) Get(ctx context.Context, runID string) (*RunRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.byID[runID]
	if !ok {
		return nil, types.NewErrorf(types.ErrInternal, "no run record %q", runID)
	}
	return rec, nil
}

// List returns records newest first, optionally filtered by workflow name.
func (h *MemoryHistory) List(ctx context.Context, workflow string, limit int) ([]*RunRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*RunRecord
	for i := len(h.order) - 1; i >= 0; i-- {
		rec := h.byID[h.order[i]]
		if workflow != "" && rec.Workflow != workflow {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
