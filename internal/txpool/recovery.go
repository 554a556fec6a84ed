package txpool

import (
	"context"

	xerrors "DDXF-Market/internal/errors"
	"DDXF-Market/pkg/logger"
)

// CodeTxInterrupted 标记节点重启前处于执行中的交易。
const CodeTxInterrupted xerrors.Code = "TX_INTERRUPTED"

func init() {
	xerrors.Register(CodeTxInterrupted, xerrors.Attributes{
		Message:  "transaction interrupted by node restart",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

// RecoveryReport 汇总一次启动恢复的结果。
type RecoveryReport struct {
	Requeued    int
	Interrupted int
}

// Recover 在处理器启动前调用：重新投递仍为 pending 的回执，
// 并把停留在 running 的回执标记为失败。
//
// 状态写入与回执更新不在同一事务中，running 的交易可能已经生效，因此不会重放。
// 重复投递是安全的，Claim 只接受 pending 回执。
func (s *Service) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport
	if s.store == nil || s.producer == nil {
		return report, xerrors.New(xerrors.CodeInitializationFailure, "交易池未初始化")
	}
	log := logger.Named("txpool")

	for {
		running, err := s.store.List(ctx, buildListOptions([]ListOption{
			WithStatuses(StatusRunning), WithLimit(maxListLimit),
		}))
		if err != nil {
			return report, err
		}
		if len(running) == 0 {
			break
		}
		for _, r := range running {
			if err := s.store.MarkFailed(ctx, r.Hash, CodeTxInterrupted, "执行过程中节点重启"); err != nil {
				return report, err
			}
			report.Interrupted++
		}
	}

	for offset := 0; ; offset += maxListLimit {
		pending, err := s.store.List(ctx, buildListOptions([]ListOption{
			WithStatuses(StatusPending), WithLimit(maxListLimit),
			WithOffset(offset), WithSortOrder(SortByUpdatedAsc),
		}))
		if err != nil {
			return report, err
		}
		for _, r := range pending {
			if err := s.producer.Publish(ctx, r.Hash); err != nil {
				return report, xerrors.Wrap(CodeTxPublish, err, "重新投递交易失败")
			}
			report.Requeued++
		}
		if len(pending) < maxListLimit {
			break
		}
	}

	if report.Requeued > 0 || report.Interrupted > 0 {
		log.Info("交易池恢复完成", "requeued", report.Requeued, "interrupted", report.Interrupted)
	}
	return report, nil
}
