package currency

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	xerrors "DDXF-Market/internal/errors"
	"DDXF-Market/internal/runtime"
	"DDXF-Market/internal/storage"
	"DDXF-Market/internal/storage/memory"
)

var (
	tokenAddr = common.HexToAddress("0x0000000000000000000000000000000000000101")
	admin     = common.HexToAddress("0xad")
	alice     = common.HexToAddress("0xa1")
	bob       = common.HexToAddress("0xb0")
)

func setup(t *testing.T) *runtime.Runtime {
	t.Helper()
	rt := runtime.New(storage.New(memory.New()))
	if err := rt.Register(tokenAddr, "native", New("native", admin)); err != nil {
		t.Fatalf("register: %v", err)
	}
	return rt
}

func invoke(t *testing.T, rt *runtime.Runtime, method string, args any, witnesses ...common.Address) error {
	t.Helper()
	raw, err := runtime.EncodeArgs(args)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err = rt.Invoke(context.Background(), runtime.HostCall{Contract: tokenAddr, Method: method, Args: raw, Witnesses: witnesses})
	return err
}

func balance(t *testing.T, rt *runtime.Runtime, owner common.Address) int64 {
	t.Helper()
	raw, _ := runtime.EncodeArgs(&AccountArgs{Account: owner})
	out, err := rt.Query(context.Background(), tokenAddr, MethodBalanceOf, raw)
	if err != nil {
		t.Fatalf("balanceOf: %v", err)
	}
	var v *big.Int
	if err := runtime.DecodeResult(out, &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v.Int64()
}

func TestMintAndTransfer(t *testing.T) {
	rt := setup(t)
	if err := invoke(t, rt, MethodMint, &MintArgs{To: alice, Amount: big.NewInt(100)}, alice); xerrors.CodeOf(err) != xerrors.CodeUnauthorized {
		t.Fatalf("mint without admin witness must fail, got %v", err)
	}
	if err := invoke(t, rt, MethodMint, &MintArgs{To: alice, Amount: big.NewInt(100)}, admin); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := invoke(t, rt, MethodTransfer, &TransferArgs{From: alice, To: bob, Amount: big.NewInt(30)}, bob); xerrors.CodeOf(err) != xerrors.CodeUnauthorized {
		t.Fatalf("transfer without sender witness must fail, got %v", err)
	}
	if err := invoke(t, rt, MethodTransfer, &TransferArgs{From: alice, To: bob, Amount: big.NewInt(30)}, alice); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if a, b := balance(t, rt, alice), balance(t, rt, bob); a != 70 || b != 30 {
		t.Fatalf("balances = %d/%d, want 70/30", a, b)
	}
	if err := invoke(t, rt, MethodTransfer, &TransferArgs{From: bob, To: alice, Amount: big.NewInt(31)}, bob); xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("overdraft must fail with precondition, got %v", err)
	}
	if b := balance(t, rt, bob); b != 30 {
		t.Fatalf("failed transfer changed balance: %d", b)
	}
}

func TestSelfTransferChecksBalance(t *testing.T) {
	rt := setup(t)
	if err := invoke(t, rt, MethodMint, &MintArgs{To: alice, Amount: big.NewInt(10)}, admin); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := invoke(t, rt, MethodTransfer, &TransferArgs{From: alice, To: alice, Amount: big.NewInt(10)}, alice); err != nil {
		t.Fatalf("self transfer within balance: %v", err)
	}
	if err := invoke(t, rt, MethodTransfer, &TransferArgs{From: alice, To: alice, Amount: big.NewInt(11)}, alice); xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("self transfer beyond balance must fail, got %v", err)
	}
	if err := invoke(t, rt, MethodTransfer, &TransferArgs{From: bob, To: bob, Amount: big.NewInt(1)}, bob); xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("self transfer from empty account must fail, got %v", err)
	}
	if a := balance(t, rt, alice); a != 10 {
		t.Fatalf("alice balance = %d, want 10", a)
	}
}

func TestRegistryResolve(t *testing.T) {
	reg := Registry{Native: common.HexToAddress("0x1"), Governance: common.HexToAddress("0x2")}
	if addr, err := reg.Resolve(Currency{Kind: KindNative}); err != nil || addr != reg.Native {
		t.Fatalf("native resolve: %s %v", addr.Hex(), err)
	}
	override := common.HexToAddress("0x9")
	if addr, _ := reg.Resolve(Currency{Kind: KindGovernance, Contract: &override}); addr != override {
		t.Fatalf("explicit contract must win, got %s", addr.Hex())
	}
	if _, err := reg.Resolve(Currency{Kind: KindToken}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("token currency without contract must fail, got %v", err)
	}
}
