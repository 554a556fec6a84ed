package redis

import (
	"context"
	stdErrors "errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "DDXF-Market/internal/errors"
	"DDXF-Market/internal/storage"
)

// Config 描述 Redis 连接参数。
type Config struct {
	Address     string
	Password    string
	DB          int
	Prefix      string
	DialTimeout time.Duration
}

// StateBackend 使用 Redis 保存合约状态。
type StateBackend struct {
	client *goredis.Client
	prefix string
}

// NewStateBackend 连接 Redis 并返回状态后端。
func NewStateBackend(ctx context.Context, cfg Config) (*StateBackend, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return NewStateBackendWithClient(client, cfg.Prefix), nil
}

// NewStateBackendWithClient 复用已有的 Redis 客户端。
func NewStateBackendWithClient(client *goredis.Client, prefix string) *StateBackend {
	if prefix == "" {
		prefix = "ddxf:state:"
	}
	return &StateBackend{client: client, prefix: prefix}
}

func (b *StateBackend) key(k []byte) string {
	return b.prefix + string(k)
}

// Get 实现 storage.Backend。
func (b *StateBackend) Get(ctx context.Context, key []byte) ([]byte, error) {
	value, err := b.client.Get(ctx, b.key(key)).Bytes()
	if err != nil {
		if stdErrors.Is(err, goredis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 状态失败")
	}
	return value, nil
}

// Apply 使用事务管道写入整个批次。
func (b *StateBackend) Apply(ctx context.Context, ops []storage.Op) error {
	_, err := b.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, op := range ops {
			if op.Deleted() {
				pipe.Del(ctx, b.key(op.Key))
				continue
			}
			pipe.Set(ctx, b.key(op.Key), op.Value, 0)
		}
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 Redis 状态失败")
	}
	return nil
}

// Client 返回底层客户端。
func (b *StateBackend) Client() *goredis.Client { return b.client }

// Close 关闭 Redis 连接。
func (b *StateBackend) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
