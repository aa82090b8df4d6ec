package txn

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "BlueCarbon-Chain/internal/errors"
)

// MemoryStore 以内存方式保存交易账本，默认的账本实现。
type MemoryStore struct {
	mu      sync.RWMutex
	txs     map[string]*Transaction
	byChain map[string]string
	now     func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txs:     make(map[string]*Transaction),
		byChain: make(map[string]string),
		now:     time.Now,
	}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, tx *Transaction) error {
	if err := validateNew(tx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txs[tx.LocalID]; ok {
		return ErrConflict
	}
	if tx.ID != "" {
		if _, ok := m.byChain[tx.ID]; ok {
			return ErrConflict
		}
		m.byChain[tx.ID] = tx.LocalID
	}
	now := m.now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	if tx.UpdatedAt.IsZero() {
		tx.UpdatedAt = tx.CreatedAt
	}
	m.txs[tx.LocalID] = tx.Clone()
	return nil
}

// Get 返回交易，id 可以是 LocalID 或链上 ID。
func (m *MemoryStore) Get(_ context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	return tx.Clone(), nil
}

func (m *MemoryStore) lookup(id string) (*Transaction, bool) {
	if tx, ok := m.txs[id]; ok {
		return tx, true
	}
	if localID, ok := m.byChain[id]; ok {
		tx, ok := m.txs[localID]
		return tx, ok
	}
	return nil, false
}

// AssignChainID 记录链上交易 ID。
func (m *MemoryStore) AssignChainID(_ context.Context, localID, chainID string) error {
	if blank(chainID) {
		return xerrors.New(xerrors.CodeInvalidArgument, "链上交易 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[localID]
	if !ok {
		return ErrNotFound
	}
	if owner, ok := m.byChain[chainID]; ok && owner != localID {
		return ErrConflict
	}
	if err := applyChainID(tx, chainID, m.now()); err != nil {
		return err
	}
	m.byChain[chainID] = localID
	return nil
}

// UpdateProgress 更新 pending 交易的区块高度与确认数。
func (m *MemoryStore) UpdateProgress(_ context.Context, localID string, res StatusResult) error {
	return m.mutate(localID, func(tx *Transaction, now time.Time) error {
		return applyProgress(tx, res, now)
	})
}

// MarkTerminal 记录终态，只能成功一次。
func (m *MemoryStore) MarkTerminal(_ context.Context, localID string, outcome Outcome) error {
	if err := validateOutcome(outcome); err != nil {
		return err
	}
	return m.mutate(localID, func(tx *Transaction, now time.Time) error {
		return applyTerminal(tx, outcome, now)
	})
}

// SetDiagnostic 标记 pending 交易停止轮询的原因。
func (m *MemoryStore) SetDiagnostic(_ context.Context, localID string, diagnostic Diagnostic) error {
	return m.mutate(localID, func(tx *Transaction, now time.Time) error {
		return applyDiagnostic(tx, diagnostic, now)
	})
}

func (m *MemoryStore) mutate(localID string, fn func(*Transaction, time.Time) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[localID]
	if !ok {
		return ErrNotFound
	}
	return fn(tx, m.now())
}

// List 返回符合条件的交易。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Transaction, error) {
	opts.applyDefaults()

	m.mu.RLock()
	results := make([]*Transaction, 0, len(m.txs))
	for _, tx := range m.txs {
		if opts.matches(tx) {
			results = append(results, tx.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if opts.Order == SortByCreatedAsc {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if opts.Order == SortByCreatedAsc {
			return a.LocalID < b.LocalID
		}
		return a.LocalID > b.LocalID
	})

	if opts.Offset >= len(results) {
		return []*Transaction{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 返回符合过滤条件的交易聚合信息，分页参数被忽略。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats Stats
	for _, tx := range m.txs {
		if !opts.matches(tx) {
			continue
		}
		stats.add(tx)
	}
	return stats, nil
}

func (s *Stats) add(tx *Transaction) {
	s.Total++
	switch tx.Status {
	case StatusPending:
		s.Pending++
		if tx.Diagnostic != DiagnosticNone {
			s.Stalled++
		}
	case StatusSuccess:
		s.Success++
	case StatusFailed:
		s.Failed++
	}
	if s.OldestUpdatedAt.IsZero() || tx.UpdatedAt.Before(s.OldestUpdatedAt) {
		s.OldestUpdatedAt = tx.UpdatedAt
	}
	if tx.UpdatedAt.After(s.NewestUpdatedAt) {
		s.NewestUpdatedAt = tx.UpdatedAt
	}
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
