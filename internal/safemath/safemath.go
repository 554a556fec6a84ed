// Package safemath 提供带溢出检查的金额与计数运算。
//
// 金额在线上与状态中以 *big.Int 表示，取值范围为无符号 128 位整数；
// 计数为 uint32。所有运算在溢出或下溢时返回 ARITHMETIC_OVERFLOW 错误，
// 不做截断或饱和处理。
package safemath

import (
	"math"
	"math/big"

	"github.com/holiman/uint256"

	xerrors "DDXF-Market/internal/errors"
)

// MaxAmount 是金额允许的最大值 (2^128 - 1)。
var MaxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

var maxU128 = uint256.MustFromBig(MaxAmount)

// Zero 返回一个新的零金额。
func Zero() *big.Int { return new(big.Int) }

// ToU128 校验金额并转换为 uint256 表示。
func ToU128(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "negative amount %s", v)
	}
	u, overflow := uint256.FromBig(v)
	if overflow || u.Gt(maxU128) {
		return nil, xerrors.Overflow("amount " + v.String())
	}
	return u, nil
}

// Valid 判断金额是否位于 [0, 2^128) 之间。
func Valid(v *big.Int) bool {
	_, err := ToU128(v)
	return err == nil
}

func fit(u *uint256.Int, op string) (*big.Int, error) {
	if u.Gt(maxU128) {
		return nil, xerrors.Overflow(op)
	}
	return u.ToBig(), nil
}

// Add 返回 a + b。
func Add(a, b *big.Int) (*big.Int, error) {
	x, err := ToU128(a)
	if err != nil {
		return nil, err
	}
	y, err := ToU128(b)
	if err != nil {
		return nil, err
	}
	sum, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, xerrors.Overflow("add")
	}
	return fit(sum, "add")
}

// Sub 返回 a - b，b > a 时返回下溢错误。
func Sub(a, b *big.Int) (*big.Int, error) {
	x, err := ToU128(a)
	if err != nil {
		return nil, err
	}
	y, err := ToU128(b)
	if err != nil {
		return nil, err
	}
	if y.Gt(x) {
		return nil, xerrors.Overflow("sub")
	}
	return new(uint256.Int).Sub(x, y).ToBig(), nil
}

// Mul 返回 a * b。
func Mul(a, b *big.Int) (*big.Int, error) {
	x, err := ToU128(a)
	if err != nil {
		return nil, err
	}
	y, err := ToU128(b)
	if err != nil {
		return nil, err
	}
	prod, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, xerrors.Overflow("mul")
	}
	return fit(prod, "mul")
}

// MulUint32 返回 a * n。
func MulUint32(a *big.Int, n uint32) (*big.Int, error) {
	return Mul(a, new(big.Int).SetUint64(uint64(n)))
}

// Share 计算 floor(amount * weight / total)，余数被截断。
//
// 中间乘积最多 160 位，在 uint256 中不会溢出。
func Share(amount *big.Int, weight, total uint64) (*big.Int, error) {
	if total == 0 {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "total weight is zero")
	}
	x, err := ToU128(amount)
	if err != nil {
		return nil, err
	}
	prod := new(uint256.Int).Mul(x, uint256.NewInt(weight))
	return new(uint256.Int).Div(prod, uint256.NewInt(total)).ToBig(), nil
}

// AddUint32 返回 a + b。
func AddUint32(a, b uint32) (uint32, error) {
	if a > math.MaxUint32-b {
		return 0, xerrors.Overflow("count add")
	}
	return a + b, nil
}

// SubUint32 返回 a - b。
func SubUint32(a, b uint32) (uint32, error) {
	if b > a {
		return 0, xerrors.Overflow("count sub")
	}
	return a - b, nil
}

// AddUint64 返回 a + b。
func AddUint64(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, xerrors.Overflow("weight add")
	}
	return a + b, nil
}
