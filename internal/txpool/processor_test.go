package txpool

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"DDXF-Market/internal/contracts/currency"
	xerrors "DDXF-Market/internal/errors"
	"DDXF-Market/internal/runtime"
	"DDXF-Market/internal/storage"
	"DDXF-Market/internal/storage/memory"
)

var tokenAddr = common.HexToAddress("0x0000000000000000000000000000000000000101")

type pool struct {
	t       *testing.T
	rt      *runtime.Runtime
	service *Service
	key     *ecdsa.PrivateKey
	owner   common.Address
}

func newPool(t *testing.T, ctx context.Context, workers int) *pool {
	t.Helper()
	admin := common.HexToAddress("0xad")
	rt := runtime.New(storage.New(memory.New()))
	if err := rt.Register(tokenAddr, "native", currency.New("native", admin)); err != nil {
		t.Fatalf("register: %v", err)
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)
	raw, _ := runtime.EncodeArgs(&currency.MintArgs{To: owner, Amount: big.NewInt(1000)})
	if _, err := rt.Invoke(ctx, runtime.HostCall{Contract: tokenAddr, Method: currency.MethodMint, Args: raw, Witnesses: []common.Address{admin}}); err != nil {
		t.Fatalf("mint: %v", err)
	}

	store := NewMemoryStore()
	queue := NewMemoryQueue(512)
	processor := NewProcessor(rt, store, queue, WithWorkerCount(workers))
	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()
	return &pool{t: t, rt: rt, service: NewService(store, queue), key: key, owner: owner}
}

func (p *pool) transfer(ctx context.Context, nonce uint64, to common.Address, amount int64) *runtime.Transaction {
	p.t.Helper()
	raw, err := runtime.EncodeArgs(&currency.TransferArgs{From: p.owner, To: to, Amount: big.NewInt(amount)})
	if err != nil {
		p.t.Fatalf("encode: %v", err)
	}
	tx := &runtime.Transaction{Contract: tokenAddr, Method: currency.MethodTransfer, Args: raw, Nonce: nonce}
	if err := tx.Sign(p.key); err != nil {
		p.t.Fatalf("sign: %v", err)
	}
	return tx
}

func (p *pool) balance(owner common.Address) int64 {
	p.t.Helper()
	raw, _ := runtime.EncodeArgs(&currency.AccountArgs{Account: owner})
	out, err := p.rt.Query(context.Background(), tokenAddr, currency.MethodBalanceOf, raw)
	if err != nil {
		p.t.Fatalf("balanceOf: %v", err)
	}
	var v *big.Int
	if err := runtime.DecodeResult(out, &v); err != nil {
		p.t.Fatalf("decode: %v", err)
	}
	return v.Int64()
}

func TestProcessorExecutesConcurrentTransfers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p := newPool(t, ctx, 8)
	to := common.HexToAddress("0xb0")

	total := 100
	hashes := make([]string, 0, total)
	for i := 0; i < total; i++ {
		receipt, err := p.service.Submit(ctx, p.transfer(ctx, uint64(i), to, 1))
		if err != nil {
			t.Fatalf("提交交易失败: %v", err)
		}
		hashes = append(hashes, receipt.Hash)
	}
	for _, hash := range hashes {
		receipt, err := p.service.WaitUntilCompleted(ctx, hash, 5*time.Millisecond)
		if err != nil {
			t.Fatalf("wait %s: %v", hash, err)
		}
		if receipt.Status != StatusSucceeded {
			t.Fatalf("交易 %s 未成功: %+v", hash, receipt)
		}
		if receipt.Outcome == nil || len(receipt.Outcome.Events) != 1 {
			t.Fatalf("expected one transfer event, got %+v", receipt.Outcome)
		}
	}
	if got := p.balance(to); got != int64(total) {
		t.Fatalf("recipient balance %d, want %d", got, total)
	}
	if got := p.balance(p.owner); got != 1000-int64(total) {
		t.Fatalf("sender balance %d", got)
	}
}

func TestProcessorRecordsFailureWithoutRetry(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := newPool(t, ctx, 2)

	receipt, err := p.service.Submit(ctx, p.transfer(ctx, 1, common.HexToAddress("0xb0"), 5000))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, err := p.service.WaitUntilCompleted(ctx, receipt.Hash, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusFailed || done.ErrorCode != string(xerrors.CodePrecondition) {
		t.Fatalf("expected precondition failure, got %+v", done)
	}
	if p.balance(p.owner) != 1000 {
		t.Fatalf("failed transfer must not move funds")
	}

	stats, err := p.service.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Failed != 1 || stats.Total != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestSubmitIsIdempotentAndValidatesSignatures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := newPool(t, ctx, 1)
	to := common.HexToAddress("0xb0")

	tx := p.transfer(ctx, 7, to, 10)
	first, err := p.service.Submit(ctx, tx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := p.service.WaitUntilCompleted(ctx, first.Hash, 5*time.Millisecond); err != nil {
		t.Fatalf("wait: %v", err)
	}
	again, err := p.service.Submit(ctx, tx)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if again.Hash != first.Hash || again.Status != StatusSucceeded {
		t.Fatalf("resubmission should return the existing receipt, got %+v", again)
	}
	if p.balance(to) != 10 {
		t.Fatalf("duplicate submission executed twice")
	}

	unsigned := &runtime.Transaction{Contract: tokenAddr, Method: currency.MethodTransfer}
	if _, err := p.service.Submit(ctx, unsigned); !xerrors.HasCode(err, CodeTxValidation) {
		t.Fatalf("expected validation error for unsigned tx, got %v", err)
	}
	bad := p.transfer(ctx, 8, to, 1)
	bad.Signatures[0] = bad.Signatures[0][:10]
	if _, err := p.service.Submit(ctx, bad); !xerrors.HasCode(err, CodeTxValidation) {
		t.Fatalf("expected validation error for malformed signature, got %v", err)
	}
	if _, err := p.service.Get(ctx, common.Hash{}.Hex()); !errors.Is(err, ErrReceiptNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
