package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"time"

	xerrors "DDXF-Market/internal/errors"
	"DDXF-Market/internal/storage"
)

const (
	selectStateSQL = `SELECT state_value FROM kv_state WHERE state_key = ?`
	upsertStateSQL = `INSERT INTO kv_state (state_key, state_value, updated_at) VALUES (?, ?, ?)
    ON DUPLICATE KEY UPDATE state_value = VALUES(state_value), updated_at = VALUES(updated_at)`
	deleteStateSQL = `DELETE FROM kv_state WHERE state_key = ?`
)

// StateBackend 把合约状态保存在 kv_state 表中。
type StateBackend struct {
	db     *sql.DB
	ownsDB bool
}

// NewStateBackend 打开连接、执行迁移并返回状态后端。
func NewStateBackend(ctx context.Context, cfg Config) (*StateBackend, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &StateBackend{db: db, ownsDB: true}, nil
}

// NewStateBackendWithDB 复用已有的连接池，调用方负责关闭。
func NewStateBackendWithDB(db *sql.DB) *StateBackend {
	return &StateBackend{db: db}
}

// Get 实现 storage.Backend。
func (b *StateBackend) Get(ctx context.Context, key []byte) ([]byte, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx, selectStateSQL, key).Scan(&value)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询状态失败")
	}
	return value, nil
}

// Apply 在一个数据库事务内写入整个批次。
func (b *StateBackend) Apply(ctx context.Context, ops []storage.Op) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启状态事务失败")
	}
	now := time.Now().Unix()
	for _, op := range ops {
		if op.Deleted() {
			_, err = tx.ExecContext(ctx, deleteStateSQL, op.Key)
		} else {
			_, err = tx.ExecContext(ctx, upsertStateSQL, op.Key, op.Value, now)
		}
		if err != nil {
			tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入状态失败")
		}
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交状态事务失败")
	}
	return nil
}

// DB 返回底层连接池。
func (b *StateBackend) DB() *sql.DB {
	if b == nil {
		return nil
	}
	return b.db
}

// Close 释放连接池。
func (b *StateBackend) Close() error {
	if b == nil || b.db == nil || !b.ownsDB {
		return nil
	}
	return b.db.Close()
}
