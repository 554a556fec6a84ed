package txpool

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "DDXF-Market/internal/errors"
)

// MemoryStore 以内存方式保存回执，用于测试与单机部署。
type MemoryStore struct {
	mu       sync.RWMutex
	receipts map[string]*Receipt
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{receipts: make(map[string]*Receipt)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, receipt *Receipt) error {
	if receipt == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "receipt 不能为空")
	}
	if receipt.Hash == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易哈希不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.receipts[receipt.Hash]; ok {
		return ErrReceiptConflict
	}
	now := time.Now().Unix()
	if receipt.CreatedAt == 0 {
		receipt.CreatedAt = now
	}
	receipt.UpdatedAt = now
	m.receipts[receipt.Hash] = cloneReceipt(receipt)
	return nil
}

// Get 返回回执。
func (m *MemoryStore) Get(_ context.Context, hash string) (*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	receipt, ok := m.receipts[hash]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	return cloneReceipt(receipt), nil
}

// Claim 将待处理回执切换为运行中，每笔交易只能被领取一次。
func (m *MemoryStore) Claim(_ context.Context, hash string) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	receipt, ok := m.receipts[hash]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	switch receipt.Status {
	case StatusSucceeded, StatusFailed:
		return cloneReceipt(receipt), ErrReceiptCompleted
	case StatusRunning:
		return cloneReceipt(receipt), ErrReceiptConflict
	}
	receipt.Status = StatusRunning
	receipt.UpdatedAt = time.Now().Unix()
	return cloneReceipt(receipt), nil
}

// MarkSucceeded 记录执行结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, hash string, outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	receipt, ok := m.receipts[hash]
	if !ok {
		return ErrReceiptNotFound
	}
	receipt.Status = StatusSucceeded
	receipt.Outcome = &outcome
	receipt.ErrorCode = ""
	receipt.LastError = ""
	receipt.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 记录失败原因。
func (m *MemoryStore) MarkFailed(_ context.Context, hash string, code xerrors.Code, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	receipt, ok := m.receipts[hash]
	if !ok {
		return ErrReceiptNotFound
	}
	receipt.Status = StatusFailed
	receipt.ErrorCode = string(code)
	receipt.LastError = lastError
	receipt.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回符合过滤条件的回执。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Receipt, 0, len(m.receipts))
	for _, receipt := range m.receipts {
		if matchesListFilters(receipt, opts) {
			results = append(results, cloneReceipt(receipt))
		}
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.UpdatedAt == b.UpdatedAt {
			if a.CreatedAt == b.CreatedAt {
				return a.Hash < b.Hash
			}
			if opts.Order == SortByUpdatedAsc {
				return a.CreatedAt < b.CreatedAt
			}
			return a.CreatedAt > b.CreatedAt
		}
		if opts.Order == SortByUpdatedAsc {
			return a.UpdatedAt < b.UpdatedAt
		}
		return a.UpdatedAt > b.UpdatedAt
	})

	if opts.Offset >= len(results) {
		return []*Receipt{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的回执数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := Stats{}
	for _, receipt := range m.receipts {
		if !matchesListFilters(receipt, opts) {
			continue
		}
		stats.Total++
		switch receipt.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusSucceeded:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		}
		if receipt.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = receipt.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (receipt.UpdatedAt != 0 && receipt.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = receipt.UpdatedAt
		}
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error { return nil }

func matchesListFilters(receipt *Receipt, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if receipt.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.UpdatedGTE > 0 && receipt.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && receipt.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.ErrorCode != "" && receipt.ErrorCode != opts.ErrorCode {
		return false
	}
	return true
}

var _ Store = (*MemoryStore)(nil)
