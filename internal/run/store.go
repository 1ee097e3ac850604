package run

import (
	"context"
	"fmt"
	"sync"

	xerrors "PolicyGate-Chain/internal/errors"
)

// Status 标识运行在存储中的状态。
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record 是运行结果的存储形态。
type Record struct {
	RunID  string  `json:"run_id"`
	Status Status  `json:"status"`
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Store 保存历史运行结果，供查询接口使用。
type Store interface {
	Save(ctx context.Context, record Record) error
	Get(ctx context.Context, runID string) (*Record, error)
	List(ctx context.Context, limit int) ([]Record, error)
}

// MemoryStore 将运行记录保存在进程内。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
}

// NewMemoryStore 创建内存运行存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Save 写入或覆盖一条运行记录。
func (m *MemoryStore) Save(_ context.Context, record Record) error {
	if record.RunID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "运行记录缺少 ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[record.RunID]; !exists {
		m.order = append(m.order, record.RunID)
	}
	m.records[record.RunID] = record
	return nil
}

// Get 按运行 ID 查询。
func (m *MemoryStore) Get(_ context.Context, runID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[runID]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("运行 %s 不存在", runID))
	}
	return &record, nil
}

// List 按创建顺序倒序返回最近的运行记录。
func (m *MemoryStore) List(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.order) {
		limit = len(m.order)
	}
	records := make([]Record, 0, limit)
	for i := len(m.order) - 1; i >= 0 && len(records) < limit; i-- {
		records = append(records, m.records[m.order[i]])
	}
	return records, nil
}

var _ Store = (*MemoryStore)(nil)
