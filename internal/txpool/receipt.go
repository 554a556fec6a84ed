// Package txpool 提供交易的异步提交通道。
//
// Service.Submit 保存一条待处理回执并把交易哈希投递到队列；Processor 的
// 工作协程领取回执并交给 runtime 执行。失败的交易不会自动重试：
// 合约层的失败是确定性的，重放只会得到同样的结果。
package txpool

import (
	"encoding/hex"

	"DDXF-Market/internal/events"
	xerrors "DDXF-Market/internal/errors"
	"DDXF-Market/internal/runtime"
)

// Status 表示回执在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Outcome 保存一次成功执行的结果。
type Outcome struct {
	Return []byte         `json:"-"`
	Events []events.Event `json:"events,omitempty"`
}

// ReturnHex 返回 0x 前缀的十六进制返回值。
func (o *Outcome) ReturnHex() string {
	if o == nil || len(o.Return) == 0 {
		return ""
	}
	return "0x" + hex.EncodeToString(o.Return)
}

// Receipt 描述一笔排队执行的交易。
type Receipt struct {
	Hash      string   `json:"hash"`
	Payload   []byte   `json:"-"`
	Status    Status   `json:"status"`
	Outcome   *Outcome `json:"outcome,omitempty"`
	ErrorCode string   `json:"error_code,omitempty"`
	LastError string   `json:"last_error,omitempty"`
	CreatedAt int64    `json:"created_at"`
	UpdatedAt int64    `json:"updated_at"`
}

// Transaction 解码回执中保存的交易。
func (r *Receipt) Transaction() (*runtime.Transaction, error) {
	return runtime.DecodeTransaction(r.Payload)
}

// Done 判断回执是否已到达终态。
func (r *Receipt) Done() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed
}

const (
	CodeTxNotFound   xerrors.Code = "TX_NOT_FOUND"
	CodeTxConflict   xerrors.Code = "TX_CONFLICT"
	CodeTxCompleted  xerrors.Code = "TX_COMPLETED"
	CodeTxValidation xerrors.Code = "TX_VALIDATION_FAILED"
	CodeTxPublish    xerrors.Code = "TX_PUBLISH_FAILED"
)

var (
	// ErrReceiptNotFound 表示回执不存在。
	ErrReceiptNotFound = xerrors.New(CodeTxNotFound, "receipt not found")
	// ErrReceiptConflict 表示回执已存在或正在执行。
	ErrReceiptConflict = xerrors.New(CodeTxConflict, "receipt conflict")
	// ErrReceiptCompleted 表示回执已到达终态。
	ErrReceiptCompleted = xerrors.New(CodeTxCompleted, "transaction already processed")
)

func init() {
	xerrors.Register(CodeTxNotFound, xerrors.Attributes{
		Message:  "receipt not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTxConflict, xerrors.Attributes{
		Message:  "receipt conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeTxCompleted, xerrors.Attributes{
		Message:  "transaction already processed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTxValidation, xerrors.Attributes{
		Message:  "transaction validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTxPublish, xerrors.Attributes{
		Message:   "failed to enqueue transaction",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// IsValidStatus 检查状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneReceipt(r *Receipt) *Receipt {
	clone := *r
	clone.Payload = append([]byte(nil), r.Payload...)
	if r.Outcome != nil {
		out := *r.Outcome
		out.Return = append([]byte(nil), r.Outcome.Return...)
		out.Events = append([]events.Event(nil), r.Outcome.Events...)
		clone.Outcome = &out
	}
	return &clone
}
