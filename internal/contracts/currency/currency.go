// Package currency 实现最小化的同质化代币合约，以及其他合约描述
// 计价币种、发起转账时使用的辅助类型。
package currency

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "DDXF-Market/internal/errors"
	"DDXF-Market/internal/runtime"
	"DDXF-Market/internal/safemath"
)

// Kind 是计价币种类别。
type Kind uint8

const (
	// KindNative 为原生手续费币，使用默认的原生币合约。
	KindNative Kind = iota
	// KindGovernance 为治理币，使用默认的治理币合约。
	KindGovernance
	// KindToken 为 OEP-4 风格的代币，必须显式指定合约地址。
	KindToken
)

func (k Kind) String() string {
	switch k {
	case KindNative:
		return "native"
	case KindGovernance:
		return "governance"
	case KindToken:
		return "token"
	default:
		return "unknown"
	}
}

// ParseKind 解析配置或 API 中的币种名称。
func ParseKind(s string) (Kind, error) {
	switch s {
	case "native", "ong":
		return KindNative, nil
	case "governance", "ont":
		return KindGovernance, nil
	case "token", "oep4":
		return KindToken, nil
	default:
		return 0, xerrors.Newf(xerrors.CodeInvalidArgument, "unknown currency kind %q", s)
	}
}

// Currency 描述一种计价币种。Contract 为空表示使用该类别的默认合约。
type Currency struct {
	Kind     Kind
	Contract *common.Address `rlp:"nil"`
}

// Equal 判断两个币种描述是否相同。
func (c Currency) Equal(o Currency) bool {
	if c.Kind != o.Kind || (c.Contract == nil) != (o.Contract == nil) {
		return false
	}
	return c.Contract == nil || *c.Contract == *o.Contract
}

// Fee 是单份价格及其计价币种。
type Fee struct {
	Amount   *big.Int `cbor:"amount"`
	Currency Currency `cbor:"currency"`
}

// Total 返回 n 份的总价，溢出时返回 ARITHMETIC_OVERFLOW。
func (f Fee) Total(n uint32) (*big.Int, error) {
	if f.Amount == nil {
		return safemath.Zero(), nil
	}
	return safemath.MulUint32(f.Amount, n)
}

// Registry 保存默认币种合约地址。
type Registry struct {
	Native     common.Address
	Governance common.Address
}

// Resolve 返回实际执行转账的合约地址。
func (r Registry) Resolve(c Currency) (common.Address, error) {
	switch c.Kind {
	case KindNative:
		return runtime.Resolve(c.Contract, r.Native), nil
	case KindGovernance:
		return runtime.Resolve(c.Contract, r.Governance), nil
	case KindToken:
		if c.Contract == nil {
			return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, "token currency requires a contract address")
		}
		return *c.Contract, nil
	default:
		return common.Address{}, xerrors.Newf(xerrors.CodeInvalidArgument, "unknown currency kind %d", c.Kind)
	}
}

// Validate 校验币种描述是否完整。
func (r Registry) Validate(c Currency) error {
	_, err := r.Resolve(c)
	return err
}

// Transfer 通过嵌套调用从 from 向 to 转账。
func Transfer(ctx *runtime.Context, token, from, to common.Address, amount *big.Int) error {
	_, err := runtime.Call[bool](ctx, token, MethodTransfer, &TransferArgs{From: from, To: to, Amount: amount})
	return err
}

// BalanceOf 通过嵌套调用查询余额。
func BalanceOf(ctx *runtime.Context, token, owner common.Address) (*big.Int, error) {
	return runtime.Call[*big.Int](ctx, token, MethodBalanceOf, &AccountArgs{Account: owner})
}
