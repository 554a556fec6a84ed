package marketplace

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"DDXF-Market/internal/contracts/accountant"
	"DDXF-Market/internal/contracts/currency"
	"DDXF-Market/internal/contracts/ledger"
	"DDXF-Market/internal/contracts/settlement"
	xerrors "DDXF-Market/internal/errors"
	"DDXF-Market/internal/runtime"
	"DDXF-Market/internal/safemath"
)

// order 描述一次购买的付款信息。
type order struct {
	item  *ResourceItem
	n     uint32
	fee   currency.Fee
	payer common.Address
	// payee 是直接转账时的收款方：卖家或转售方。
	payee common.Address
}

// routeFee 按代收合约、结算托管、直接转账的顺序选择第一条可用路由。
func (c *Contract) routeFee(ctx *runtime.Context, o *order) (*big.Int, error) {
	if o.payer == ctx.Self() {
		return nil, xerrors.Unauthorized("marketplace cannot pay for %q", o.item.ResourceID)
	}
	amount, err := o.fee.Total(o.n)
	if err != nil {
		return nil, err
	}
	ddo := &o.item.DDO
	switch {
	case ddo.Accountant != nil:
		if ddo.SplitPolicy == nil {
			return nil, xerrors.Precondition("resource %q has an accountant but no split policy", o.item.ResourceID)
		}
		_, err = runtime.Call[bool](ctx, *ddo.Accountant, accountant.MethodTransferAmount, &accountant.TransferAmountArgs{
			Order:         accountant.OrderID{ItemID: o.item.ResourceID, TxHash: ctx.TxHash()},
			Payer:         o.payer,
			Seller:        ddo.Manager,
			SplitContract: *ddo.SplitPolicy,
			Fee:           o.fee,
			N:             o.n,
		})
	case ddo.SplitPolicy != nil:
		_, err = runtime.Call[bool](ctx, *ddo.SplitPolicy, settlement.MethodTransfer,
			&settlement.TransferArgs{Payer: o.payer, Key: o.item.ResourceID, Amount: amount})
	default:
		var token common.Address
		if token, err = c.cfg.Currencies.Resolve(o.fee.Currency); err != nil {
			return nil, err
		}
		err = currency.Transfer(ctx, token, o.payer, o.payee, amount)
	}
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// checkBuyable 校验商品可售、未过期且库存足够，返回购买后的 sold。
func (c *Contract) checkBuyable(ctx *runtime.Context, item *ResourceItem, n uint32) (uint64, error) {
	if n == 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "n must be positive")
	}
	if item.Frozen {
		return 0, xerrors.Precondition("resource %q is frozen", item.ResourceID)
	}
	if ctx.Timestamp() >= item.Item.Expiry {
		return 0, xerrors.Precondition("resource %q expired at %d", item.ResourceID, item.Item.Expiry)
	}
	sold, err := safemath.AddUint64(item.Sold, uint64(n))
	if err != nil {
		return 0, err
	}
	if sold > item.Item.Stock {
		return 0, xerrors.Precondition("resource %q has %d left, want %d", item.ResourceID, item.Item.Stock-item.Sold, n)
	}
	return sold, nil
}

// purchase 完成一次新发放的购买：付款、累加 sold、发放额度。
func (c *Contract) purchase(ctx *runtime.Context, resourceID string, n uint32, buyer, payer common.Address, unitPrice *big.Int) ([]string, error) {
	if err := ctx.RequireWitness(buyer, payer); err != nil {
		return nil, err
	}
	item, err := c.load(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	sold, err := c.checkBuyable(ctx, item, n)
	if err != nil {
		return nil, err
	}
	fee := item.Item.Fee
	if unitPrice != nil {
		if fee.Amount != nil && fee.Amount.Sign() != 0 {
			return nil, xerrors.Precondition("resource %q has a fixed price", resourceID)
		}
		fee.Amount = unitPrice
	}
	amount, err := c.routeFee(ctx, &order{item: item, n: n, fee: fee, payer: payer, payee: item.DDO.Manager})
	if err != nil {
		return nil, err
	}
	item.Sold = sold
	if err := c.save(ctx, item); err != nil {
		return nil, err
	}
	ids, err := runtime.Call[[]string](ctx, c.ledgerOf(item), ledger.MethodGenerateDTokenMulti,
		&ledger.IssueMultiArgs{Account: buyer, TemplateIDs: item.Item.TemplateIDs, N: n})
	if err != nil {
		return nil, err
	}
	ctx.Notify(MethodBuyDToken, resourceID, buyer, amount)
	return ids, nil
}

func (c *Contract) buyDToken(ctx *runtime.Context, args *BuyArgs) ([]string, error) {
	return c.purchase(ctx, args.ResourceID, args.N, args.Buyer, args.Payer, nil)
}

func (c *Contract) buyDTokenReward(ctx *runtime.Context, args *RewardArgs) ([]string, error) {
	price := args.UnitPrice
	if price == nil {
		price = safemath.Zero()
	}
	if !safemath.Valid(price) {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid unit price %s", price)
	}
	return c.purchase(ctx, args.ResourceID, args.N, args.Buyer, args.Payer, price)
}

func (c *Contract) buyDTokens(ctx *runtime.Context, args *BuyBatchArgs) (bool, error) {
	if len(args.ResourceIDs) != len(args.Ns) {
		return false, xerrors.Newf(xerrors.CodeInvalidArgument, "%d resources but %d counts", len(args.ResourceIDs), len(args.Ns))
	}
	if len(args.ResourceIDs) == 0 {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "empty batch")
	}
	for i, id := range args.ResourceIDs {
		if _, err := c.purchase(ctx, id, args.Ns[i], args.Buyer, args.Payer, nil); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (c *Contract) buyDTokensAndSetAgents(ctx *runtime.Context, args *BuyAndSetAgentsArgs) (bool, error) {
	if int(args.UseIndex) >= len(args.ResourceIDs) || int(args.AuthorizedIndex) >= len(args.ResourceIDs) {
		return false, xerrors.Newf(xerrors.CodeInvalidArgument, "index out of range for %d resources", len(args.ResourceIDs))
	}
	if _, err := c.buyDTokens(ctx, &BuyBatchArgs{ResourceIDs: args.ResourceIDs, Ns: args.Ns, Buyer: args.Buyer, Payer: args.Payer}); err != nil {
		return false, err
	}
	if _, err := c.setTokenAgents(ctx, &TokenAgentsArgs{
		ResourceID: args.ResourceIDs[args.AuthorizedIndex],
		Account:    args.Buyer,
		TemplateID: args.AuthorizedTemplateID,
		Agents:     []common.Address{args.Agent},
		N:          args.Ns[args.AuthorizedIndex],
	}); err != nil {
		return false, err
	}
	return c.useToken(ctx, &UseArgs{
		ResourceID: args.ResourceIDs[args.UseIndex],
		Account:    args.Buyer,
		TemplateID: args.UseTemplateID,
		N:          args.Ns[args.UseIndex],
	})
}

// buyDTokenFromReseller 从转售方购买已发放的额度，不改变库存与 sold。
func (c *Contract) buyDTokenFromReseller(ctx *runtime.Context, args *ResellerArgs) (bool, error) {
	if err := ctx.RequireWitness(args.Buyer, args.Reseller); err != nil {
		return false, err
	}
	if args.N == 0 {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "n must be positive")
	}
	if args.Buyer == args.Reseller {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "buyer and reseller must differ")
	}
	item, err := c.load(ctx, args.ResourceID)
	if err != nil {
		return false, err
	}
	if item.Frozen {
		return false, xerrors.Precondition("resource %q is frozen", args.ResourceID)
	}
	amount, err := c.routeFee(ctx, &order{item: item, n: args.N, fee: item.Item.Fee, payer: args.Buyer, payee: args.Reseller})
	if err != nil {
		return false, err
	}
	if _, err := runtime.Call[bool](ctx, c.ledgerOf(item), ledger.MethodTransferDTokenMulti, &ledger.TransferMultiArgs{
		From:        args.Reseller,
		To:          args.Buyer,
		TemplateIDs: item.Item.TemplateIDs,
		N:           args.N,
	}); err != nil {
		return false, err
	}
	ctx.Notify(MethodBuyDTokenFromReseller, args.ResourceID, args.Buyer, amount)
	return true, nil
}
