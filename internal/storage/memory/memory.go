// Package memory 提供基于内存的状态后端，用于开发与测试。
package memory

import (
	"context"
	"sync"

	"DDXF-Market/internal/storage"
)

// Backend 使用 map 保存状态。
type Backend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New 创建内存后端。
func New() *Backend {
	return &Backend{data: make(map[string][]byte)}
}

// Get 实现 storage.Backend。
func (b *Backend) Get(_ context.Context, key []byte) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[string(key)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Apply 实现 storage.Backend。
func (b *Backend) Apply(_ context.Context, ops []storage.Op) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, op := range ops {
		if op.Deleted() {
			delete(b.data, string(op.Key))
			continue
		}
		v := make([]byte, len(op.Value))
		copy(v, op.Value)
		b.data[string(op.Key)] = v
	}
	return nil
}

// Len 返回键数量。
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Close 实现 storage.Backend。
func (b *Backend) Close() error { return nil }
