package currency

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "DDXF-Market/internal/errors"
	"DDXF-Market/internal/runtime"
	"DDXF-Market/internal/safemath"
)

const (
	MethodTransfer    = "transfer"
	MethodBalanceOf   = "balanceOf"
	MethodMint        = "mint"
	MethodTotalSupply = "totalSupply"
	MethodName        = "name"
)

// TransferArgs 是 transfer 的参数。
type TransferArgs struct {
	From   common.Address
	To     common.Address
	Amount *big.Int
}

// AccountArgs 是只带一个地址的参数。
type AccountArgs struct {
	Account common.Address
}

// MintArgs 是 mint 的参数。
type MintArgs struct {
	To     common.Address
	Amount *big.Int
}

var supplyKey = runtime.Key("supply")

func balanceKey(owner common.Address) []byte {
	return runtime.Key("bal", owner.Bytes())
}

// Contract 是同质化代币合约。
type Contract struct {
	name   string
	admin  common.Address
	router runtime.Router
}

// New 创建代币合约，admin 拥有增发权限。
func New(name string, admin common.Address) *Contract {
	c := &Contract{name: name, admin: admin}
	c.router = runtime.Router{
		MethodTransfer:    runtime.Method(c.transfer),
		MethodBalanceOf:   runtime.Method(c.balanceOf),
		MethodMint:        runtime.Method(c.mint),
		MethodTotalSupply: runtime.Method(c.totalSupply),
		MethodName:        runtime.Method(c.nameOf),
	}
	return c
}

// Invoke 实现 runtime.Contract。
func (c *Contract) Invoke(ctx *runtime.Context, method string, args []byte) ([]byte, error) {
	return c.router.Dispatch(ctx, method, args)
}

func loadAmount(ctx *runtime.Context, key []byte) (*big.Int, error) {
	v := new(big.Int)
	if _, err := ctx.Storage().Load(key, v); err != nil {
		return nil, err
	}
	return v, nil
}

func storeAmount(ctx *runtime.Context, key []byte, v *big.Int) error {
	if v.Sign() == 0 {
		return ctx.Storage().Delete(key)
	}
	return ctx.Storage().Save(key, v)
}

func (c *Contract) transfer(ctx *runtime.Context, args *TransferArgs) (bool, error) {
	if args.Amount == nil {
		args.Amount = safemath.Zero()
	}
	if err := ctx.RequireWitness(args.From); err != nil {
		return false, err
	}
	if !safemath.Valid(args.Amount) {
		return false, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid amount %s", args.Amount)
	}
	if args.Amount.Sign() == 0 {
		return true, nil
	}
	fromBal, err := loadAmount(ctx, balanceKey(args.From))
	if err != nil {
		return false, err
	}
	if fromBal.Cmp(args.Amount) < 0 {
		return false, xerrors.Precondition("insufficient balance: have %s, need %s", fromBal, args.Amount)
	}
	if args.From == args.To {
		return true, nil
	}
	toBal, err := loadAmount(ctx, balanceKey(args.To))
	if err != nil {
		return false, err
	}
	newFrom, err := safemath.Sub(fromBal, args.Amount)
	if err != nil {
		return false, err
	}
	newTo, err := safemath.Add(toBal, args.Amount)
	if err != nil {
		return false, err
	}
	if err := storeAmount(ctx, balanceKey(args.From), newFrom); err != nil {
		return false, err
	}
	if err := storeAmount(ctx, balanceKey(args.To), newTo); err != nil {
		return false, err
	}
	ctx.Notify(MethodTransfer, args.To.Hex(), args.From, args.Amount)
	return true, nil
}

func (c *Contract) balanceOf(ctx *runtime.Context, args *AccountArgs) (*big.Int, error) {
	return loadAmount(ctx, balanceKey(args.Account))
}

func (c *Contract) mint(ctx *runtime.Context, args *MintArgs) (bool, error) {
	if err := ctx.RequireWitness(c.admin); err != nil {
		return false, err
	}
	if args.Amount == nil || args.Amount.Sign() <= 0 {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "mint amount must be positive")
	}
	supply, err := loadAmount(ctx, supplyKey)
	if err != nil {
		return false, err
	}
	newSupply, err := safemath.Add(supply, args.Amount)
	if err != nil {
		return false, err
	}
	bal, err := loadAmount(ctx, balanceKey(args.To))
	if err != nil {
		return false, err
	}
	newBal, err := safemath.Add(bal, args.Amount)
	if err != nil {
		return false, err
	}
	if err := ctx.Storage().Save(supplyKey, newSupply); err != nil {
		return false, err
	}
	if err := storeAmount(ctx, balanceKey(args.To), newBal); err != nil {
		return false, err
	}
	ctx.Notify(MethodMint, args.To.Hex(), args.To, args.Amount)
	return true, nil
}

func (c *Contract) totalSupply(ctx *runtime.Context, _ *runtime.NoArgs) (*big.Int, error) {
	return loadAmount(ctx, supplyKey)
}

func (c *Contract) nameOf(*runtime.Context, *runtime.NoArgs) (string, error) {
	return c.name, nil
}
