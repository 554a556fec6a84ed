// Package accountant 实现市场方代收手续费的结算中间合约。
//
// 购买时费用先进入本合约托管并按订单记录；卖家结算时按与市场方约定的
// 比例（万分比）把市场方份额转给市场方账户，余额通过结算合约的
// transferWithdraw 推送给各受益人。每个订单只能结算一次。
package accountant

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"DDXF-Market/internal/contracts/currency"
	"DDXF-Market/internal/contracts/settlement"
	xerrors "DDXF-Market/internal/errors"
	"DDXF-Market/internal/runtime"
	"DDXF-Market/internal/safemath"
)

// MaxWeight 是分成比例的分母。
const MaxWeight = 10000

const (
	MethodSetMp            = "setMp"
	MethodGetMpAccount     = "getMpAccount"
	MethodSetFeeSplitModel = "setFeeSplitModel"
	MethodGetFeeSplitModel = "getFeeSplitModel"
	MethodTransferAmount   = "transferAmount"
	MethodSettle           = "settle"
	MethodGetSettleInfo    = "getSettleInfo"
)

// OrderID 标识一笔订单：商品编号加上购买交易的哈希。
type OrderID struct {
	ItemID string
	TxHash common.Hash
}

func (o OrderID) key() []byte {
	return runtime.Key("order", []byte(o.ItemID), o.TxHash.Bytes())
}

// FeeSplitModel 是卖家与市场方约定的分成比例。
type FeeSplitModel struct {
	Weight uint16 `cbor:"weight"`
}

// SettleInfo 记录一笔待结算订单。
type SettleInfo struct {
	Seller        common.Address `cbor:"seller"`
	SplitContract common.Address `cbor:"split_contract"`
	Fee           currency.Fee   `cbor:"fee"`
	N             uint32         `cbor:"n"`
}

// Total 返回订单总金额。
func (s *SettleInfo) Total() (*big.Int, error) { return s.Fee.Total(s.N) }

func (s *SettleInfo) sameTerms(o *SettleInfo) bool {
	return s.Seller == o.Seller && s.SplitContract == o.SplitContract &&
		s.Fee.Currency.Equal(o.Fee.Currency) && amountOf(s.Fee).Cmp(amountOf(o.Fee)) == 0
}

func amountOf(f currency.Fee) *big.Int {
	if f.Amount == nil {
		return safemath.Zero()
	}
	return f.Amount
}

// AddressArgs 只带一个地址。
type AddressArgs struct {
	Address common.Address
}

// FeeSplitArgs 是 setFeeSplitModel 的参数。
type FeeSplitArgs struct {
	Seller common.Address
	Weight uint16
}

// TransferAmountArgs 是 transferAmount 的参数。
type TransferAmountArgs struct {
	Order         OrderID
	Payer         common.Address
	Seller        common.Address
	SplitContract common.Address
	Fee           currency.Fee
	N             uint32
}

// SettleArgs 是 settle 的参数。
type SettleArgs struct {
	Seller common.Address
	Order  OrderID
}

// OrderArgs 只带订单编号。
type OrderArgs struct {
	Order OrderID
}

var mpKey = runtime.Key("mp")

func splitModelKey(seller common.Address) []byte { return runtime.Key("split", seller.Bytes()) }

// Config 描述合约的固定参数。
type Config struct {
	Admin      common.Address
	Currencies currency.Registry
}

// Contract 是代收结算合约。
type Contract struct {
	cfg    Config
	router runtime.Router
}

// New 创建合约实例。
func New(cfg Config) *Contract {
	c := &Contract{cfg: cfg}
	c.router = runtime.Router{
		MethodSetMp:            runtime.Method(c.setMp),
		MethodGetMpAccount:     runtime.Method(c.getMpAccount),
		MethodSetFeeSplitModel: runtime.Method(c.setFeeSplitModel),
		MethodGetFeeSplitModel: runtime.Method(c.getFeeSplitModel),
		MethodTransferAmount:   runtime.Method(c.transferAmount),
		MethodSettle:           runtime.Method(c.settle),
		MethodGetSettleInfo:    runtime.Method(c.getSettleInfo),
	}
	return c
}

// Invoke 实现 runtime.Contract。
func (c *Contract) Invoke(ctx *runtime.Context, method string, args []byte) ([]byte, error) {
	return c.router.Dispatch(ctx, method, args)
}

func (c *Contract) mp(ctx *runtime.Context) (common.Address, error) {
	var addr common.Address
	found, err := ctx.Storage().Load(mpKey, &addr)
	if err != nil {
		return common.Address{}, err
	}
	if !found {
		return c.cfg.Admin, nil
	}
	return addr, nil
}

func (c *Contract) setMp(ctx *runtime.Context, args *AddressArgs) (bool, error) {
	if err := ctx.RequireWitness(c.cfg.Admin); err != nil {
		return false, err
	}
	if err := ctx.Storage().Save(mpKey, args.Address); err != nil {
		return false, err
	}
	ctx.Notify(MethodSetMp, "", args.Address, nil)
	return true, nil
}

func (c *Contract) getMpAccount(ctx *runtime.Context, _ *runtime.NoArgs) (common.Address, error) {
	return c.mp(ctx)
}

func (c *Contract) setFeeSplitModel(ctx *runtime.Context, args *FeeSplitArgs) (bool, error) {
	if args.Weight > MaxWeight {
		return false, xerrors.Newf(xerrors.CodeInvalidArgument, "weight %d exceeds %d", args.Weight, MaxWeight)
	}
	mp, err := c.mp(ctx)
	if err != nil {
		return false, err
	}
	if err := ctx.RequireWitness(args.Seller, mp); err != nil {
		return false, err
	}
	if err := ctx.Storage().Save(splitModelKey(args.Seller), FeeSplitModel{Weight: args.Weight}); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Contract) getFeeSplitModel(ctx *runtime.Context, args *AddressArgs) (FeeSplitModel, error) {
	var m FeeSplitModel
	_, err := ctx.Storage().Load(splitModelKey(args.Address), &m)
	return m, err
}

// transferAmount 把 n 份费用从付款方转入托管并登记订单。
// 同一交易内对同一商品的重复购买累加份数。
func (c *Contract) transferAmount(ctx *runtime.Context, args *TransferAmountArgs) (bool, error) {
	if args.Payer == ctx.Self() {
		return false, xerrors.Unauthorized("accountant custody cannot pay for order %s", args.Order.ItemID)
	}
	if err := ctx.RequireWitness(args.Payer); err != nil {
		return false, err
	}
	if args.N == 0 {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "n must be positive")
	}
	total, err := args.Fee.Total(args.N)
	if err != nil {
		return false, err
	}
	token, err := c.cfg.Currencies.Resolve(args.Fee.Currency)
	if err != nil {
		return false, err
	}

	info := SettleInfo{Seller: args.Seller, SplitContract: args.SplitContract, Fee: args.Fee, N: args.N}
	var prev SettleInfo
	found, err := ctx.Storage().Load(args.Order.key(), &prev)
	if err != nil {
		return false, err
	}
	if found {
		if !prev.sameTerms(&info) {
			return false, xerrors.Newf(xerrors.CodeConflict, "order %s/%s already recorded with different terms",
				args.Order.ItemID, args.Order.TxHash.Hex())
		}
		if info.N, err = safemath.AddUint32(prev.N, args.N); err != nil {
			return false, err
		}
	}
	if _, err := info.Total(); err != nil {
		return false, err
	}

	if err := currency.Transfer(ctx, token, args.Payer, ctx.Self(), total); err != nil {
		return false, err
	}
	if err := ctx.Storage().Save(args.Order.key(), &info); err != nil {
		return false, err
	}
	ctx.Notify(MethodTransferAmount, args.Order.ItemID, args.Payer, total)
	return true, nil
}

// settle 结算一个订单：先付市场方分成，再把余额交给结算合约推送。
func (c *Contract) settle(ctx *runtime.Context, args *SettleArgs) (bool, error) {
	if err := ctx.RequireWitness(args.Seller); err != nil {
		return false, err
	}
	var info SettleInfo
	found, err := ctx.Storage().Load(args.Order.key(), &info)
	if err != nil {
		return false, err
	}
	if !found {
		return false, xerrors.Newf(xerrors.CodeNotFound, "order %s/%s not found", args.Order.ItemID, args.Order.TxHash.Hex())
	}
	if info.Seller != args.Seller {
		return false, xerrors.Unauthorized("order %s belongs to %s", args.Order.ItemID, info.Seller.Hex())
	}
	mp, err := c.mp(ctx)
	if err != nil {
		return false, err
	}
	model, err := c.getFeeSplitModel(ctx, &AddressArgs{Address: args.Seller})
	if err != nil {
		return false, err
	}
	total, err := info.Total()
	if err != nil {
		return false, err
	}
	mpAmount, err := safemath.Share(total, uint64(model.Weight), MaxWeight)
	if err != nil {
		return false, err
	}
	rest, err := safemath.Sub(total, mpAmount)
	if err != nil {
		return false, err
	}
	token, err := c.cfg.Currencies.Resolve(info.Fee.Currency)
	if err != nil {
		return false, err
	}

	if err := ctx.Storage().Delete(args.Order.key()); err != nil {
		return false, err
	}
	if mpAmount.Sign() > 0 {
		if err := currency.Transfer(ctx, token, ctx.Self(), mp, mpAmount); err != nil {
			return false, err
		}
	}
	ok, err := runtime.Call[bool](ctx, info.SplitContract, settlement.MethodTransferWithdraw,
		&settlement.TransferArgs{Payer: ctx.Self(), Key: args.Order.ItemID, Amount: rest})
	if err != nil {
		return false, err
	}
	if !ok {
		return false, xerrors.New(xerrors.CodeExternalCall, "settlement rejected transferWithdraw")
	}
	ctx.Notify(MethodSettle, args.Order.ItemID, args.Seller, total)
	return true, nil
}

func (c *Contract) getSettleInfo(ctx *runtime.Context, args *OrderArgs) (*SettleInfo, error) {
	var info SettleInfo
	found, err := ctx.Storage().Load(args.Order.key(), &info)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "order %s/%s not found", args.Order.ItemID, args.Order.TxHash.Hex())
	}
	return &info, nil
}
