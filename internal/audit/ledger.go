package audit

import (
	"context"
	"fmt"
	"sync"

	xerrors "PolicyGate-Chain/internal/errors"
)

// Ledger 抽象审计记录的持久化。Commit 成功后返回可供外部核对的确认引用。
// 记录一旦提交即不可变，实现不得提供更新或删除入口。
type Ledger interface {
	Commit(ctx context.Context, entry *Entry) (string, error)
	Close() error
}

// Reader 提供审计记录的只读访问，用于查询接口与运行后核对。
type Reader interface {
	ListLatest(ctx context.Context, limit int) ([]Entry, error)
	GetByID(ctx context.Context, id string) (*Entry, error)
}

// MemoryLedger 将审计记录保存在进程内，用于本地迭代与测试。
// 同一次运行中针对同一市场的重复提交会被拒绝。
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []Entry
	seen    map[string]struct{}
}

// NewMemoryLedger 创建内存账本。
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]struct{})}
}

// Commit 追加一条审计记录。
func (m *MemoryLedger) Commit(_ context.Context, entry *Entry) (string, error) {
	if err := entry.Validate(); err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "审计记录校验失败")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.RunID + "/" + entry.Decision.Market.MarketID
	if _, dup := m.seen[key]; dup {
		return "", xerrors.New(xerrors.CodeConflict,
			fmt.Sprintf("运行 %s 中市场 %s 已存在审计记录", entry.RunID, entry.Decision.Market.MarketID))
	}
	m.seen[key] = struct{}{}

	stored := *entry
	stored.ConfirmationRef = fmt.Sprintf("mem:%s", entry.ID)
	m.entries = append(m.entries, stored)
	return stored.ConfirmationRef, nil
}

// ListLatest 按提交顺序倒序返回最近的记录。
func (m *MemoryLedger) ListLatest(_ context.Context, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.entries) {
		limit = len(m.entries)
	}
	results := make([]Entry, 0, limit)
	for i := len(m.entries) - 1; i >= 0 && len(results) < limit; i-- {
		results = append(results, m.entries[i])
	}
	return results, nil
}

// GetByID 按记录 ID 查询。
func (m *MemoryLedger) GetByID(_ context.Context, id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.entries {
		if m.entries[i].ID == id {
			entry := m.entries[i]
			return &entry, nil
		}
	}
	return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("审计记录 %s 不存在", id))
}

// Close 实现 Ledger 接口。
func (m *MemoryLedger) Close() error {
	return nil
}

var (
	_ Ledger = (*MemoryLedger)(nil)
	_ Reader = (*MemoryLedger)(nil)
)
