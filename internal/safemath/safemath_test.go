package safemath

import (
	"math"
	"math/big"
	"testing"

	xerrors "DDXF-Market/internal/errors"
)

func TestAddRejectsOverflow(t *testing.T) {
	if _, err := Add(MaxAmount, big.NewInt(1)); !xerrors.HasCode(err, xerrors.CodeArithmetic) {
		t.Fatalf("expected overflow, got %v", err)
	}
	sum, err := Add(big.NewInt(2), big.NewInt(3))
	if err != nil || sum.Int64() != 5 {
		t.Fatalf("unexpected sum %v err %v", sum, err)
	}
}

func TestSubRejectsUnderflow(t *testing.T) {
	if _, err := Sub(big.NewInt(1), big.NewInt(2)); !xerrors.HasCode(err, xerrors.CodeArithmetic) {
		t.Fatalf("expected underflow, got %v", err)
	}
}

func TestMulRejectsOverflow(t *testing.T) {
	big64 := new(big.Int).Lsh(big.NewInt(1), 64)
	if _, err := Mul(big64, big64); !xerrors.HasCode(err, xerrors.CodeArithmetic) {
		t.Fatalf("expected overflow for 2^128, got %v", err)
	}
	prod, err := MulUint32(big.NewInt(7), 6)
	if err != nil || prod.Int64() != 42 {
		t.Fatalf("unexpected product %v err %v", prod, err)
	}
}

func TestShareTruncates(t *testing.T) {
	cases := []struct {
		amount, weight, total, want int64
	}{
		{1000, 1000, 10000, 100},
		{1000, 9000, 10000, 900},
		{10, 1, 3, 3},
		{10, 2, 3, 6},
	}
	for _, tc := range cases {
		got, err := Share(big.NewInt(tc.amount), uint64(tc.weight), uint64(tc.total))
		if err != nil {
			t.Fatalf("share: %v", err)
		}
		if got.Int64() != tc.want {
			t.Fatalf("share(%d,%d,%d) = %s, want %d", tc.amount, tc.weight, tc.total, got, tc.want)
		}
	}
	if _, err := Share(MaxAmount, math.MaxUint32, math.MaxUint32); err != nil {
		t.Fatalf("share of max amount should not overflow: %v", err)
	}
}

func TestNegativeAmountIsInvalid(t *testing.T) {
	if Valid(big.NewInt(-1)) {
		t.Fatalf("negative amount must be invalid")
	}
	if !Valid(MaxAmount) {
		t.Fatalf("max amount must be valid")
	}
}

func TestUint32Checked(t *testing.T) {
	if _, err := AddUint32(math.MaxUint32, 1); err == nil {
		t.Fatalf("expected count overflow")
	}
	if _, err := SubUint32(3, 4); err == nil {
		t.Fatalf("expected count underflow")
	}
	if v, err := SubUint32(10, 3); err != nil || v != 7 {
		t.Fatalf("unexpected %d %v", v, err)
	}
}
