package api

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"DDXF-Market/internal/events"
	"DDXF-Market/internal/runtime"
	"DDXF-Market/internal/txpool"
)

// TransactionRequest 是 POST /api/v1/transactions 的请求体。
type TransactionRequest struct {
	Contract   common.Address  `json:"contract"`
	Method     string          `json:"method"`
	Args       hexutil.Bytes   `json:"args"`
	Nonce      hexutil.Uint64  `json:"nonce"`
	Timestamp  hexutil.Uint64  `json:"timestamp"`
	Signatures []hexutil.Bytes `json:"signatures"`
}

func (r *TransactionRequest) transaction() *runtime.Transaction {
	sigs := make([][]byte, len(r.Signatures))
	for i, s := range r.Signatures {
		sigs[i] = s
	}
	return &runtime.Transaction{
		Contract:   r.Contract,
		Method:     r.Method,
		Args:       r.Args,
		Nonce:      uint64(r.Nonce),
		Timestamp:  uint64(r.Timestamp),
		Signatures: sigs,
	}
}

// QueryRequest 是 POST /api/v1/query 的请求体。
type QueryRequest struct {
	Contract  common.Address   `json:"contract"`
	Method    string           `json:"method"`
	Args      hexutil.Bytes    `json:"args"`
	Witnesses []common.Address `json:"witnesses,omitempty"`
}

// QueryResponse 携带 RLP 编码的返回值。
type QueryResponse struct {
	Return hexutil.Bytes `json:"return"`
}

// Receipt 是交易回执的对外表示。
type Receipt struct {
	Hash      string         `json:"hash"`
	Status    string         `json:"status"`
	Return    hexutil.Bytes  `json:"return,omitempty"`
	Events    []events.Event `json:"events,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt int64          `json:"created_at,omitempty"`
	UpdatedAt int64          `json:"updated_at,omitempty"`
}

func receiptFromPool(r *txpool.Receipt) Receipt {
	out := Receipt{
		Hash:      r.Hash,
		Status:    string(r.Status),
		ErrorCode: r.ErrorCode,
		Error:     r.LastError,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Outcome != nil {
		out.Return = r.Outcome.Return
		out.Events = r.Outcome.Events
	}
	return out
}

func receiptFromResult(res *runtime.Result) Receipt {
	return Receipt{
		Hash:   res.TxHash.Hex(),
		Status: string(txpool.StatusSucceeded),
		Return: res.Return,
		Events: res.Events,
	}
}

// ErrorResponse 是所有失败响应的格式。
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FeeView 是价格的 JSON 表示，金额为十进制字符串。
type FeeView struct {
	Amount   string          `json:"amount"`
	Currency string          `json:"currency"`
	Contract *common.Address `json:"contract,omitempty"`
}

// ItemView 是 GET /api/v1/items/{id} 的响应。
type ItemView struct {
	ResourceID   string          `json:"resource_id"`
	Manager      common.Address  `json:"manager"`
	ItemMetaHash common.Hash     `json:"item_meta_hash"`
	Ledger       *common.Address `json:"ledger,omitempty"`
	Accountant   *common.Address `json:"accountant,omitempty"`
	SplitPolicy  *common.Address `json:"split_policy,omitempty"`
	Fee          FeeView         `json:"fee"`
	Expiry       uint64          `json:"expiry"`
	Stock        uint64          `json:"stock"`
	Sold         uint64          `json:"sold"`
	TemplateIDs  []string        `json:"template_ids"`
	Frozen       bool            `json:"frozen"`
}

// AgentView 是代理额度。
type AgentView struct {
	Agent common.Address `json:"agent"`
	Count uint32         `json:"count"`
}

// QuotaView 是 GET /api/v1/quotas/{template}/{holder} 的响应。
type QuotaView struct {
	TemplateID string         `json:"template_id"`
	Holder     common.Address `json:"holder"`
	Count      uint32         `json:"count"`
	Agents     []AgentView    `json:"agents"`
}

// BeneficiaryView 是分账受益人。
type BeneficiaryView struct {
	Address      common.Address `json:"address"`
	Weight       uint32         `json:"weight"`
	HasWithdrawn bool           `json:"has_withdrawn"`
}

// SettlementView 是 GET /api/v1/settlements/{key} 的响应。
type SettlementView struct {
	Key           string            `json:"key"`
	Currency      string            `json:"currency"`
	Beneficiaries []BeneficiaryView `json:"beneficiaries"`
	Escrow        string            `json:"escrow"`
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
