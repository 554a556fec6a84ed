// Package settlement 实现按权重分账的结算合约。
//
// 每个结算键登记一次受益人列表，资金可以先累积到合约托管的余额中再由
// 受益人逐个提取，也可以由付款方一次性推送给所有受益人。无论哪种方式，
// 同一受益人在同一结算键下最多收款一次。份额按 floor(金额*权重/总权重)
// 计算，截断产生的余数不分配给任何人。
package settlement

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"DDXF-Market/internal/contracts/currency"
	xerrors "DDXF-Market/internal/errors"
	"DDXF-Market/internal/runtime"
	"DDXF-Market/internal/safemath"
)

const (
	MethodRegister         = "register"
	MethodTransfer         = "transfer"
	MethodWithdraw         = "withdraw"
	MethodTransferWithdraw = "transferWithdraw"
	MethodGetRegisterParam = "getRegisterParam"
	MethodGetBalance       = "getBalance"
)

// Beneficiary 是一个收款方及其权重。
type Beneficiary struct {
	Address      common.Address `cbor:"address"`
	Weight       uint32         `cbor:"weight"`
	HasWithdrawn bool           `cbor:"has_withdrawn"`
}

// RegisterParam 是结算键的登记信息。
type RegisterParam struct {
	Beneficiaries []Beneficiary     `cbor:"beneficiaries"`
	Currency      currency.Currency `cbor:"currency"`
}

// TotalWeight 返回权重之和。
func (p *RegisterParam) TotalWeight() (uint64, error) {
	var total uint64
	for _, b := range p.Beneficiaries {
		var err error
		if total, err = safemath.AddUint64(total, uint64(b.Weight)); err != nil {
			return 0, err
		}
	}
	return total, nil
}

func (p *RegisterParam) index(addr common.Address) int {
	for i, b := range p.Beneficiaries {
		if b.Address == addr {
			return i
		}
	}
	return -1
}

// RegisterArgs 是 register 的参数。
type RegisterArgs struct {
	Key   string
	Param RegisterParam
}

// TransferArgs 用于 transfer 与 transferWithdraw。
type TransferArgs struct {
	Payer  common.Address
	Key    string
	Amount *big.Int
}

// WithdrawArgs 是 withdraw 的参数。
type WithdrawArgs struct {
	Key         string
	Beneficiary common.Address
}

// KeyArgs 只带结算键。
type KeyArgs struct {
	Key string
}

func registerKey(key string) []byte { return runtime.Key("reg", []byte(key)) }

func balanceKey(key string) []byte { return runtime.Key("escrow", []byte(key)) }

// Contract 是结算合约。
type Contract struct {
	currencies currency.Registry
	router     runtime.Router
}

// New 创建结算合约。
func New(currencies currency.Registry) *Contract {
	c := &Contract{currencies: currencies}
	c.router = runtime.Router{
		MethodRegister:         runtime.Method(c.register),
		MethodTransfer:         runtime.Method(c.transfer),
		MethodWithdraw:         runtime.Method(c.withdraw),
		MethodTransferWithdraw: runtime.Method(c.transferWithdraw),
		MethodGetRegisterParam: runtime.Method(c.getRegisterParam),
		MethodGetBalance:       runtime.Method(c.getBalance),
	}
	return c
}

// Invoke 实现 runtime.Contract。
func (c *Contract) Invoke(ctx *runtime.Context, method string, args []byte) ([]byte, error) {
	return c.router.Dispatch(ctx, method, args)
}

func (c *Contract) load(ctx *runtime.Context, key string) (*RegisterParam, error) {
	var p RegisterParam
	found, err := ctx.Storage().Load(registerKey(key), &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "settlement key %q not registered", key)
	}
	return &p, nil
}

func (c *Contract) balance(ctx *runtime.Context, key string) (*big.Int, error) {
	v := new(big.Int)
	if _, err := ctx.Storage().Load(balanceKey(key), v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *Contract) register(ctx *runtime.Context, args *RegisterArgs) (bool, error) {
	if args.Key == "" {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "settlement key must not be empty")
	}
	exists, err := ctx.Storage().Has(registerKey(args.Key))
	if err != nil {
		return false, err
	}
	if exists {
		return false, xerrors.Precondition("settlement key %q already registered", args.Key)
	}
	param := args.Param
	if len(param.Beneficiaries) == 0 {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "beneficiaries must not be empty")
	}
	if err := c.currencies.Validate(param.Currency); err != nil {
		return false, err
	}
	witnessed := false
	seen := make(map[common.Address]struct{}, len(param.Beneficiaries))
	for i := range param.Beneficiaries {
		b := &param.Beneficiaries[i]
		if b.Weight == 0 {
			return false, xerrors.Newf(xerrors.CodeInvalidArgument, "beneficiary %s has zero weight", b.Address.Hex())
		}
		if _, dup := seen[b.Address]; dup {
			return false, xerrors.Newf(xerrors.CodeInvalidArgument, "beneficiary %s listed twice", b.Address.Hex())
		}
		seen[b.Address] = struct{}{}
		b.HasWithdrawn = false
		if ctx.CheckWitness(b.Address) {
			witnessed = true
		}
	}
	if !witnessed {
		return false, xerrors.Unauthorized("no beneficiary of %q signed the registration", args.Key)
	}
	if _, err := param.TotalWeight(); err != nil {
		return false, err
	}
	if err := ctx.Storage().Save(registerKey(args.Key), &param); err != nil {
		return false, err
	}
	ctx.Notify(MethodRegister, args.Key, ctx.Caller(), nil)
	return true, nil
}

// transfer 把付款方的资金转入合约托管，并累加到结算键的余额。
func (c *Contract) transfer(ctx *runtime.Context, args *TransferArgs) (bool, error) {
	param, err := c.load(ctx, args.Key)
	if err != nil {
		return false, err
	}
	if args.Amount == nil {
		args.Amount = safemath.Zero()
	}
	bal, err := c.balance(ctx, args.Key)
	if err != nil {
		return false, err
	}
	next, err := safemath.Add(bal, args.Amount)
	if err != nil {
		return false, err
	}
	token, err := c.currencies.Resolve(param.Currency)
	if err != nil {
		return false, err
	}
	if args.Payer == ctx.Self() {
		return false, xerrors.Unauthorized("settlement custody cannot pay into %q", args.Key)
	}
	if err := ctx.RequireWitness(args.Payer); err != nil {
		return false, err
	}
	if err := currency.Transfer(ctx, token, args.Payer, ctx.Self(), args.Amount); err != nil {
		return false, err
	}
	if err := ctx.Storage().Save(balanceKey(args.Key), next); err != nil {
		return false, err
	}
	ctx.Notify(MethodTransfer, args.Key, args.Payer, args.Amount)
	return true, nil
}

// withdraw 向单个受益人支付其在托管余额中的份额，每个受益人只能成功一次。
func (c *Contract) withdraw(ctx *runtime.Context, args *WithdrawArgs) (bool, error) {
	if err := ctx.RequireWitness(args.Beneficiary); err != nil {
		return false, err
	}
	param, err := c.load(ctx, args.Key)
	if err != nil {
		return false, err
	}
	i := param.index(args.Beneficiary)
	if i < 0 {
		return false, xerrors.Precondition("%s is not a beneficiary of %q", args.Beneficiary.Hex(), args.Key)
	}
	if param.Beneficiaries[i].HasWithdrawn {
		return false, xerrors.Precondition("%s already withdrew from %q", args.Beneficiary.Hex(), args.Key)
	}
	total, err := param.TotalWeight()
	if err != nil {
		return false, err
	}
	bal, err := c.balance(ctx, args.Key)
	if err != nil {
		return false, err
	}
	share, err := safemath.Share(bal, uint64(param.Beneficiaries[i].Weight), total)
	if err != nil {
		return false, err
	}
	token, err := c.currencies.Resolve(param.Currency)
	if err != nil {
		return false, err
	}
	param.Beneficiaries[i].HasWithdrawn = true
	if err := ctx.Storage().Save(registerKey(args.Key), param); err != nil {
		return false, err
	}
	if err := currency.Transfer(ctx, token, ctx.Self(), args.Beneficiary, share); err != nil {
		return false, err
	}
	ctx.Notify(MethodWithdraw, args.Key, args.Beneficiary, share)
	return true, nil
}

// transferWithdraw 由付款方直接向所有尚未收款的受益人按权重付款。
func (c *Contract) transferWithdraw(ctx *runtime.Context, args *TransferArgs) (bool, error) {
	if args.Payer == ctx.Self() {
		return false, xerrors.Unauthorized("settlement custody cannot pay out %q directly", args.Key)
	}
	if err := ctx.RequireWitness(args.Payer); err != nil {
		return false, err
	}
	param, err := c.load(ctx, args.Key)
	if err != nil {
		return false, err
	}
	if args.Amount == nil {
		args.Amount = safemath.Zero()
	}
	if !safemath.Valid(args.Amount) {
		return false, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid amount %s", args.Amount)
	}
	total, err := param.TotalWeight()
	if err != nil {
		return false, err
	}
	token, err := c.currencies.Resolve(param.Currency)
	if err != nil {
		return false, err
	}
	for i := range param.Beneficiaries {
		b := &param.Beneficiaries[i]
		if b.HasWithdrawn {
			continue
		}
		share, err := safemath.Share(args.Amount, uint64(b.Weight), total)
		if err != nil {
			return false, err
		}
		if err := currency.Transfer(ctx, token, args.Payer, b.Address, share); err != nil {
			return false, err
		}
		b.HasWithdrawn = true
		ctx.Notify(MethodTransferWithdraw, args.Key, b.Address, share)
	}
	if err := ctx.Storage().Save(registerKey(args.Key), param); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Contract) getRegisterParam(ctx *runtime.Context, args *KeyArgs) (*RegisterParam, error) {
	return c.load(ctx, args.Key)
}

func (c *Contract) getBalance(ctx *runtime.Context, args *KeyArgs) (*big.Int, error) {
	return c.balance(ctx, args.Key)
}
