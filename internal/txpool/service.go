package txpool

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "DDXF-Market/internal/errors"
	"DDXF-Market/internal/runtime"
	"DDXF-Market/pkg/logger"
)

// Service 负责交易的提交与回执查询。
type Service struct {
	store    Store
	producer Producer
}

// NewService 构造交易池服务。
func NewService(store Store, producer Producer) *Service {
	return &Service{store: store, producer: producer}
}

// Submit 校验签名后保存待处理回执并投递到队列。
//
// 同一交易重复提交时返回已有回执，不会再次入队。
func (s *Service) Submit(ctx context.Context, tx *runtime.Transaction) (*Receipt, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "交易池未初始化")
	}
	if tx == nil {
		return nil, xerrors.New(CodeTxValidation, "交易不能为空")
	}
	if tx.Method == "" {
		return nil, xerrors.New(CodeTxValidation, "交易方法不能为空")
	}
	if len(tx.Signatures) == 0 {
		return nil, xerrors.New(CodeTxValidation, "交易缺少签名")
	}
	if _, err := tx.Signers(); err != nil {
		return nil, xerrors.Wrap(CodeTxValidation, err, "交易签名无效")
	}
	payload, err := tx.Encode()
	if err != nil {
		return nil, xerrors.Wrap(CodeTxValidation, err, "编码交易失败")
	}
	hash := tx.Hash().Hex()

	if existing, err := s.store.Get(ctx, hash); err == nil {
		return existing, nil
	} else if !stdErrors.Is(err, ErrReceiptNotFound) {
		return nil, err
	}

	receipt := &Receipt{Hash: hash, Payload: payload, Status: StatusPending}
	if err := s.store.Create(ctx, receipt); err != nil {
		if stdErrors.Is(err, ErrReceiptConflict) {
			return s.store.Get(ctx, hash)
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, hash); err != nil {
		logger.L().Error("交易入队失败", slog.Any("error", err), slog.String("tx_hash", hash))
		wrapped := xerrors.Wrap(CodeTxPublish, err, "发布交易到队列失败")
		_ = s.store.MarkFailed(ctx, hash, CodeTxPublish, wrapped.Error())
		return nil, wrapped
	}
	logger.Audit().Info("交易入队成功",
		slog.String("tx_hash", hash),
		slog.String("contract", tx.Contract.Hex()),
		slog.String("method", tx.Method),
		slog.Int("signatures", len(tx.Signatures)),
	)
	return receipt, nil
}

// Get 返回指定交易的回执。
func (s *Service) Get(ctx context.Context, hash string) (*Receipt, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "回执存储未初始化")
	}
	return s.store.Get(ctx, hash)
}

// List 返回符合过滤条件的回执列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Receipt, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "回执存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 返回符合过滤条件的回执统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "回执存储未初始化")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// WaitUntilCompleted 轮询回执直到终态或 ctx 结束。
func (s *Service) WaitUntilCompleted(ctx context.Context, hash string, interval time.Duration) (*Receipt, error) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := s.Get(ctx, hash)
		if err != nil {
			return nil, err
		}
		if receipt.Done() {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待交易完成超时")
		case <-ticker.C:
		}
	}
}

// Close 释放资源。
func (s *Service) Close() error {
	var errs []error
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return stdErrors.Join(errs...)
}
