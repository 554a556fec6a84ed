package txpool

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "DDXF-Market/internal/errors"
	"DDXF-Market/internal/observability/alerting"
	"DDXF-Market/internal/observability/metrics"
	"DDXF-Market/internal/runtime"
	"DDXF-Market/pkg/logger"
)

// Executor 定义了处理器所需的执行能力，由 runtime.Runtime 实现。
type Executor interface {
	Execute(ctx context.Context, tx *runtime.Transaction) (*runtime.Result, error)
}

// Processor 负责从队列消费交易并交给 runtime 执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定调试日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。runtime 本身串行执行，
// 多个协程只能重叠解码与存储读写。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动处理循环，直到 ctx 取消或队列出错。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置交易消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, hash string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	receipt, err := p.store.Claim(ctx, hash)
	if err != nil {
		if stdErrors.Is(err, ErrReceiptNotFound) || stdErrors.Is(err, ErrReceiptCompleted) || stdErrors.Is(err, ErrReceiptConflict) {
			p.logDebug("跳过交易", slog.String("tx_hash", hash), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取交易失败", slog.Any("error", err), slog.String("tx_hash", hash))
		p.emitAlert(ctx, alerting.Event{TxHash: hash}, xerrors.CodeOf(err), err, "claim")
		return err
	}

	tx, err := receipt.Transaction()
	if err != nil {
		return p.fail(ctx, receipt, nil, err)
	}

	started := time.Now()
	result, execErr := p.executor.Execute(ctx, tx)
	code := ""
	if execErr != nil {
		code = string(xerrors.CodeOf(execErr))
	}
	metrics.ObserveTransaction(tx.Method, code, time.Since(started))
	if execErr != nil {
		return p.fail(ctx, receipt, tx, execErr)
	}

	outcome := Outcome{}
	if result != nil {
		outcome.Return = result.Return
		outcome.Events = result.Events
	}
	if err := p.store.MarkSucceeded(ctx, receipt.Hash, outcome); err != nil {
		// 状态已经提交，回执写入失败只能告警，不能回滚。
		logger.L().Error("记录交易成功状态失败", slog.Any("error", err), slog.String("tx_hash", receipt.Hash))
		p.emitAlert(ctx, eventFor(receipt.Hash, tx), xerrors.CodeStorageFailure, err, "record")
		return err
	}
	logger.Audit().Info("交易执行成功",
		slog.String("tx_hash", receipt.Hash),
		slog.String("contract", tx.Contract.Hex()),
		slog.String("method", tx.Method),
		slog.Int("events", len(outcome.Events)),
	)
	return nil
}

// fail 记录终态失败；合约错误是确定性的，交易不会重新入队。
func (p *Processor) fail(ctx context.Context, receipt *Receipt, tx *runtime.Transaction, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if storeErr := p.store.MarkFailed(ctx, receipt.Hash, code, execErr.Error()); storeErr != nil {
		logger.L().Error("标记交易失败状态出错", slog.Any("error", storeErr), slog.String("tx_hash", receipt.Hash))
		return storeErr
	}
	attrs := []any{
		slog.String("tx_hash", receipt.Hash),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
	}
	if tx != nil {
		attrs = append(attrs, slog.String("contract", tx.Contract.Hex()), slog.String("method", tx.Method))
	}
	logger.Audit().Warn("交易执行失败", attrs...)
	p.emitAlert(ctx, eventFor(receipt.Hash, tx), code, execErr, "execute")
	return nil
}

func eventFor(hash string, tx *runtime.Transaction) alerting.Event {
	event := alerting.Event{TxHash: hash}
	if tx != nil {
		event.Contract = tx.Contract.Hex()
		event.Method = tx.Method
	}
	return event
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		p.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, event alerting.Event, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	event.Code = code
	event.Severity = xerrors.SeverityOf(cause)
	event.Stage = stage
	event.Message = attrs.Message
	if cause != nil {
		event.Message = cause.Error()
	}
	event.OccurredAt = time.Now()
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("tx_hash", event.TxHash),
			slog.String("stage", stage),
		)
	}
}
