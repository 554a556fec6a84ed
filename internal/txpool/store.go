package txpool

import (
	"context"

	xerrors "DDXF-Market/internal/errors"
)

// Store 抽象了回执的持久化接口。
type Store interface {
	Create(ctx context.Context, receipt *Receipt) error
	Get(ctx context.Context, hash string) (*Receipt, error)
	Claim(ctx context.Context, hash string) (*Receipt, error)
	MarkSucceeded(ctx context.Context, hash string, outcome Outcome) error
	MarkFailed(ctx context.Context, hash string, code xerrors.Code, lastError string) error
	List(ctx context.Context, opts ListOptions) ([]*Receipt, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}

// Stats 聚合了回执状态的统计信息。
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}
