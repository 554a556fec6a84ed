// Package storage 提供合约状态使用的事务性键值存储。
//
// 所有后端只需实现读取与批量提交两种能力，事务语义由 Tx 在内存中的
// 写缓冲实现：读取优先命中缓冲，提交时把缓冲整体作为一个批次交给后端，
// 回滚时直接丢弃缓冲。
package storage

import (
	"context"
	stdErrors "errors"
	"sort"
	"sync"

	xerrors "DDXF-Market/internal/errors"
)

// ErrNotFound 表示键不存在。
var ErrNotFound = xerrors.New(xerrors.CodeNotFound, "state key not found")

// ErrTxClosed 表示事务已经提交或回滚。
var ErrTxClosed = xerrors.New(xerrors.CodeConflict, "state transaction already closed")

// Op 描述批次中的一次写入，Value 为 nil 时表示删除。
type Op struct {
	Key   []byte
	Value []byte
}

// Deleted 判断该写入是否为删除。
func (o Op) Deleted() bool { return o.Value == nil }

// Backend 是具体存储实现需要满足的接口。
type Backend interface {
	// Get 读取已提交的值，键不存在时返回 ErrNotFound。
	Get(ctx context.Context, key []byte) ([]byte, error)
	// Apply 原子地写入一个批次。
	Apply(ctx context.Context, ops []Op) error
	Close() error
}

// Store 在 Backend 之上提供事务。
type Store struct {
	backend Backend
}

// New 使用指定后端创建 Store。
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Backend 返回底层后端。
func (s *Store) Backend() Backend { return s.backend }

// Begin 开启一个新的状态事务。
func (s *Store) Begin(ctx context.Context) *Tx {
	return &Tx{ctx: ctx, backend: s.backend, writes: make(map[string][]byte)}
}

// Get 读取已提交的状态。
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	return s.backend.Get(ctx, key)
}

// Close 关闭底层后端。
func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

// Tx 是一次状态事务，非并发安全。
type Tx struct {
	ctx     context.Context
	backend Backend
	mu      sync.Mutex
	writes  map[string][]byte
	deleted map[string]struct{}
	closed  bool
}

// Get 读取键值，未命中返回 ErrNotFound。
func (tx *Tx) Get(key []byte) ([]byte, error) {
	tx.mu.Lock()
	if tx.closed {
		tx.mu.Unlock()
		return nil, ErrTxClosed
	}
	k := string(key)
	if _, ok := tx.deleted[k]; ok {
		tx.mu.Unlock()
		return nil, ErrNotFound
	}
	if v, ok := tx.writes[k]; ok {
		tx.mu.Unlock()
		return clone(v), nil
	}
	tx.mu.Unlock()
	v, err := tx.backend.Get(tx.ctx, key)
	if err != nil {
		if stdErrors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取状态失败")
	}
	return v, nil
}

// Has 判断键是否存在。
func (tx *Tx) Has(key []byte) (bool, error) {
	_, err := tx.Get(key)
	if err == nil {
		return true, nil
	}
	if stdErrors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Put 写入键值。
func (tx *Tx) Put(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return ErrTxClosed
	}
	k := string(key)
	delete(tx.deleted, k)
	tx.writes[k] = clone(value)
	return nil
}

// Delete 删除键。
func (tx *Tx) Delete(key []byte) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return ErrTxClosed
	}
	k := string(key)
	delete(tx.writes, k)
	if tx.deleted == nil {
		tx.deleted = make(map[string]struct{})
	}
	tx.deleted[k] = struct{}{}
	return nil
}

// Ops 按键排序返回当前缓冲的写入。
func (tx *Tx) Ops() []Op {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	ops := make([]Op, 0, len(tx.writes)+len(tx.deleted))
	for k, v := range tx.writes {
		ops = append(ops, Op{Key: []byte(k), Value: clone(v)})
	}
	for k := range tx.deleted {
		ops = append(ops, Op{Key: []byte(k)})
	}
	sort.Slice(ops, func(i, j int) bool { return string(ops[i].Key) < string(ops[j].Key) })
	return ops
}

// Commit 将缓冲写入后端。
func (tx *Tx) Commit() error {
	ops := tx.Ops()
	tx.mu.Lock()
	if tx.closed {
		tx.mu.Unlock()
		return ErrTxClosed
	}
	tx.closed = true
	tx.mu.Unlock()
	if len(ops) == 0 {
		return nil
	}
	if err := tx.backend.Apply(tx.ctx, ops); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交状态失败")
	}
	return nil
}

// Rollback 丢弃缓冲的写入，可重复调用。
func (tx *Tx) Rollback() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.closed = true
	tx.writes = nil
	tx.deleted = nil
}

func clone(v []byte) []byte {
	if v == nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
