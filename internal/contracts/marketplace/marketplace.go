package marketplace

import (
	"github.com/ethereum/go-ethereum/common"

	"DDXF-Market/internal/contracts/currency"
	"DDXF-Market/internal/contracts/ledger"
	"DDXF-Market/internal/contracts/settlement"
	xerrors "DDXF-Market/internal/errors"
	"DDXF-Market/internal/runtime"
	"DDXF-Market/internal/safemath"
)

// Config 描述市场合约的固定参数。
type Config struct {
	Admin      common.Address
	Ledger     common.Address
	Currencies currency.Registry
}

// Contract 是市场合约。
type Contract struct {
	cfg    Config
	router runtime.Router
}

// New 创建市场合约。
func New(cfg Config) *Contract {
	c := &Contract{cfg: cfg}
	c.router = runtime.Router{
		MethodPublish:               runtime.Method(c.publish),
		MethodUpdate:                runtime.Method(c.update),
		MethodFreeze:                runtime.Method(c.freeze),
		MethodDelete:                runtime.Method(c.delete),
		MethodBuyDToken:             runtime.Method(c.buyDToken),
		MethodBuyDTokens:            runtime.Method(c.buyDTokens),
		MethodBuyAndSetAgents:       runtime.Method(c.buyDTokensAndSetAgents),
		MethodBuyDTokenFromReseller: runtime.Method(c.buyDTokenFromReseller),
		MethodBuyDTokenReward:       runtime.Method(c.buyDTokenReward),
		MethodUseToken:              runtime.Method(c.useToken),
		MethodUseTokenByAgent:       runtime.Method(c.useTokenByAgent),
		MethodSetAgents:             runtime.Method(c.setAgents),
		MethodAddAgents:             runtime.Method(c.addAgents),
		MethodRemoveAgents:          runtime.Method(c.removeAgents),
		MethodSetTokenAgents:        runtime.Method(c.setTokenAgents),
		MethodAddTokenAgents:        runtime.Method(c.addTokenAgents),
		MethodRemoveTokenAgents:     runtime.Method(c.removeTokenAgents),
		MethodGetSellerItemInfo:     runtime.Method(c.getSellerItemInfo),
	}
	return c
}

// Invoke 实现 runtime.Contract。
func (c *Contract) Invoke(ctx *runtime.Context, method string, args []byte) ([]byte, error) {
	return c.router.Dispatch(ctx, method, args)
}

func itemKey(resourceID string) []byte { return runtime.Key("item", []byte(resourceID)) }

func (c *Contract) ledgerOf(item *ResourceItem) common.Address {
	return runtime.Resolve(item.DDO.Ledger, c.cfg.Ledger)
}

func sameRef(a, b *common.Address) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (c *Contract) load(ctx *runtime.Context, resourceID string) (*ResourceItem, error) {
	var item ResourceItem
	found, err := ctx.Storage().Load(itemKey(resourceID), &item)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "resource %q not found", resourceID)
	}
	return &item, nil
}

func (c *Contract) save(ctx *runtime.Context, item *ResourceItem) error {
	return ctx.Storage().Save(itemKey(item.ResourceID), item)
}

// validate 检查条款本身，不涉及其他合约。
func (c *Contract) validate(ddo *ResourceDDO, item *DTokenItem) error {
	if len(item.TemplateIDs) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "at least one token template is required")
	}
	if item.Fee.Amount == nil {
		item.Fee.Amount = safemath.Zero()
	}
	if !safemath.Valid(item.Fee.Amount) {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "invalid price %s", item.Fee.Amount)
	}
	if err := c.cfg.Currencies.Validate(item.Fee.Currency); err != nil {
		return err
	}
	if ddo.Accountant != nil && ddo.SplitPolicy == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "accountant requires a split policy")
	}
	return nil
}

func (c *Contract) verifyTemplates(ctx *runtime.Context, ddo *ResourceDDO, ids []string) error {
	target := runtime.Resolve(ddo.Ledger, c.cfg.Ledger)
	ok, err := runtime.Call[bool](ctx, target, ledger.MethodVerifyTemplateAccess,
		&ledger.VerifyAccessArgs{TemplateIDs: ids, Account: ddo.Manager})
	if err != nil {
		return err
	}
	if !ok {
		return xerrors.Unauthorized("%s may not sell these templates", ddo.Manager.Hex())
	}
	return nil
}

func (c *Contract) publish(ctx *runtime.Context, args *PublishArgs) (bool, error) {
	if err := ctx.RequireWitness(args.DDO.Manager); err != nil {
		return false, err
	}
	if args.ResourceID == "" {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "resource id must not be empty")
	}
	exists, err := ctx.Storage().Has(itemKey(args.ResourceID))
	if err != nil {
		return false, err
	}
	if exists {
		return false, xerrors.Precondition("resource %q already published", args.ResourceID)
	}
	if err := c.validate(&args.DDO, &args.Item); err != nil {
		return false, err
	}
	if err := c.verifyTemplates(ctx, &args.DDO, args.Item.TemplateIDs); err != nil {
		return false, err
	}
	if args.Split != nil {
		if args.DDO.SplitPolicy == nil {
			return false, xerrors.New(xerrors.CodeInvalidArgument, "split params given without a split policy")
		}
		if !args.Split.Currency.Equal(args.Item.Fee.Currency) {
			return false, xerrors.New(xerrors.CodeInvalidArgument, "split currency differs from item currency")
		}
		if _, err := runtime.Call[bool](ctx, *args.DDO.SplitPolicy, settlement.MethodRegister,
			&settlement.RegisterArgs{Key: args.ResourceID, Param: *args.Split}); err != nil {
			return false, err
		}
	}
	item := &ResourceItem{ResourceID: args.ResourceID, DDO: args.DDO, Item: args.Item}
	if err := c.save(ctx, item); err != nil {
		return false, err
	}
	ctx.Notify(MethodPublish, args.ResourceID, args.DDO.Manager, args.Item.Fee.Amount)
	return true, nil
}

func (c *Contract) update(ctx *runtime.Context, args *UpdateArgs) (bool, error) {
	item, err := c.load(ctx, args.ResourceID)
	if err != nil {
		return false, err
	}
	if err := ctx.RequireWitness(item.DDO.Manager, args.DDO.Manager); err != nil {
		return false, err
	}
	if item.Frozen {
		return false, xerrors.Precondition("resource %q is frozen", args.ResourceID)
	}
	if args.Item.Stock < item.Sold {
		return false, xerrors.Precondition("stock %d below sold %d", args.Item.Stock, item.Sold)
	}
	if !sameRef(item.DDO.SplitPolicy, args.DDO.SplitPolicy) || !sameRef(item.DDO.Accountant, args.DDO.Accountant) {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "split policy and accountant are fixed at publish")
	}
	if err := c.validate(&args.DDO, &args.Item); err != nil {
		return false, err
	}
	if err := c.verifyTemplates(ctx, &args.DDO, args.Item.TemplateIDs); err != nil {
		return false, err
	}
	item.DDO = args.DDO
	item.Item = args.Item
	if err := c.save(ctx, item); err != nil {
		return false, err
	}
	ctx.Notify(MethodUpdate, args.ResourceID, args.DDO.Manager, nil)
	return true, nil
}

// freeze 下架商品：尚未售出时直接删除，否则标记为冻结并保留记录。
func (c *Contract) freeze(ctx *runtime.Context, args *ResourceArgs) (bool, error) {
	item, err := c.load(ctx, args.ResourceID)
	if err != nil {
		return false, err
	}
	if !ctx.CheckWitness(item.DDO.Manager) && !ctx.CheckWitness(c.cfg.Admin) {
		return false, xerrors.Unauthorized("freeze requires the manager or admin")
	}
	if item.Frozen {
		return false, xerrors.Precondition("resource %q is already frozen", args.ResourceID)
	}
	if item.Sold == 0 {
		if err := ctx.Storage().Delete(itemKey(args.ResourceID)); err != nil {
			return false, err
		}
	} else {
		item.Frozen = true
		if err := c.save(ctx, item); err != nil {
			return false, err
		}
	}
	ctx.Notify(MethodFreeze, args.ResourceID, item.DDO.Manager, nil)
	return true, nil
}

func (c *Contract) delete(ctx *runtime.Context, args *ResourceArgs) (bool, error) {
	item, err := c.load(ctx, args.ResourceID)
	if err != nil {
		return false, err
	}
	if err := ctx.RequireWitness(item.DDO.Manager); err != nil {
		return false, err
	}
	if err := ctx.Storage().Delete(itemKey(args.ResourceID)); err != nil {
		return false, err
	}
	ctx.Notify(MethodDelete, args.ResourceID, item.DDO.Manager, nil)
	return true, nil
}

func (c *Contract) getSellerItemInfo(ctx *runtime.Context, args *ResourceArgs) (*ResourceItem, error) {
	return c.load(ctx, args.ResourceID)
}
