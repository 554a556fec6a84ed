package txpool

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "DDXF-Market/internal/errors"
	"DDXF-Market/internal/events"
	mysqlstore "DDXF-Market/internal/storage/mysql"
)

// MySQLStore 使用 tx_receipts 表记录回执，表结构由 storage/mysql 的迁移创建。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 打开连接并执行迁移。
func NewMySQLStore(ctx context.Context, cfg mysqlstore.Config) (*MySQLStore, error) {
	db, err := mysqlstore.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &MySQLStore{db: db}, nil
}

// NewMySQLStoreWithDB 复用已有连接池。
func NewMySQLStoreWithDB(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

const receiptColumns = `hash, payload, status, result, events, error_code, last_error, created_at, updated_at`

// Create 插入新的回执。
func (s *MySQLStore) Create(ctx context.Context, receipt *Receipt) error {
	if receipt == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "receipt 不能为空")
	}
	if strings.TrimSpace(receipt.Hash) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易哈希不能为空")
	}
	now := time.Now().Unix()
	receipt.CreatedAt = now
	receipt.UpdatedAt = now

	const stmt = `INSERT INTO tx_receipts (hash, payload, status, result, events, error_code, last_error, created_at, updated_at)
        VALUES (?, ?, ?, '', '', '', '', ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, receipt.Hash, receipt.Payload, string(receipt.Status), receipt.CreatedAt, receipt.UpdatedAt)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrReceiptConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入回执失败")
	}
	return nil
}

// Get 查询指定回执。
func (s *MySQLStore) Get(ctx context.Context, hash string) (*Receipt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM tx_receipts WHERE hash = ?`, hash)
	receipt, err := scanReceipt(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrReceiptNotFound
		}
		return nil, err
	}
	return receipt, nil
}

// Claim 仅当回执处于 pending 时切换为 running。
func (s *MySQLStore) Claim(ctx context.Context, hash string) (*Receipt, error) {
	const stmt = `UPDATE tx_receipts SET status = ?, updated_at = ? WHERE hash = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, stmt, string(StatusRunning), time.Now().Unix(), hash, string(StatusPending))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新回执状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	receipt, err := s.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if receipt.Done() {
			return receipt, ErrReceiptCompleted
		}
		return receipt, ErrReceiptConflict
	}
	return receipt, nil
}

// MarkSucceeded 写入执行结果。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, hash string, outcome Outcome) error {
	encoded, err := json.Marshal(outcome.Events)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码通知失败")
	}
	const stmt = `UPDATE tx_receipts SET status = ?, result = ?, events = ?, error_code = '', last_error = '', updated_at = ? WHERE hash = ?`
	res, err := s.db.ExecContext(ctx, stmt, string(StatusSucceeded), hex.EncodeToString(outcome.Return), string(encoded), time.Now().Unix(), hash)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记回执成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrReceiptNotFound
	}
	return nil
}

// MarkFailed 写入失败原因。
func (s *MySQLStore) MarkFailed(ctx context.Context, hash string, code xerrors.Code, lastError string) error {
	const stmt = `UPDATE tx_receipts SET status = ?, error_code = ?, last_error = ?, updated_at = ? WHERE hash = ?`
	res, err := s.db.ExecContext(ctx, stmt, string(StatusFailed), string(code), lastError, time.Now().Unix(), hash)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记回执失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrReceiptNotFound
	}
	return nil
}

// List 返回符合过滤条件的回执。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Receipt, error) {
	opts.applyDefaults()

	query := `SELECT ` + receiptColumns + ` FROM tx_receipts`
	clause, args := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	if opts.Order == SortByUpdatedAsc {
		query += " ORDER BY updated_at ASC, created_at ASC, hash ASC"
	} else {
		query += " ORDER BY updated_at DESC, created_at DESC, hash ASC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询回执列表失败")
	}
	defer rows.Close()

	receipts := make([]*Receipt, 0, opts.Limit)
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历回执失败")
	}
	return receipts, nil
}

// Stats 返回符合过滤条件的回执聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS succeeded,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM tx_receipts`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed)}
	args = append(args, filterArgs...)

	var stats Stats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询回执统计失败")
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*Receipt, error) {
	var (
		receipt   Receipt
		status    string
		result    sql.NullString
		evs       sql.NullString
		errorCode sql.NullString
		lastError sql.NullString
	)
	if err := row.Scan(
		&receipt.Hash,
		&receipt.Payload,
		&status,
		&result,
		&evs,
		&errorCode,
		&lastError,
		&receipt.CreatedAt,
		&receipt.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析回执记录失败")
	}
	receipt.Status = Status(status)
	receipt.ErrorCode = errorCode.String
	receipt.LastError = lastError.String
	if receipt.Status == StatusSucceeded {
		outcome := Outcome{}
		if result.String != "" {
			ret, err := hex.DecodeString(result.String)
			if err != nil {
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析回执返回值失败")
			}
			outcome.Return = ret
		}
		if evs.String != "" {
			var decoded []events.Event
			if err := json.Unmarshal([]byte(evs.String), &decoded); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析回执通知失败")
			}
			outcome.Events = decoded
		}
		receipt.Outcome = &outcome
	}
	return &receipt, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, len(opts.Statuses)+3)
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.ErrorCode != "" {
		conditions = append(conditions, "error_code = ?")
		args = append(args, opts.ErrorCode)
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
