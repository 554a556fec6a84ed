package marketplace

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"DDXF-Market/internal/contracts/accountant"
	"DDXF-Market/internal/contracts/currency"
	"DDXF-Market/internal/contracts/ledger"
	"DDXF-Market/internal/contracts/settlement"
	xerrors "DDXF-Market/internal/errors"
	"DDXF-Market/internal/runtime"
	"DDXF-Market/internal/storage"
	"DDXF-Market/internal/storage/memory"
)

var (
	nativeAddr     = common.HexToAddress("0x0000000000000000000000000000000000000101")
	governanceAddr = common.HexToAddress("0x0000000000000000000000000000000000000102")
	ledgerAddr     = common.HexToAddress("0x0000000000000000000000000000000000000201")
	marketAddr     = common.HexToAddress("0x0000000000000000000000000000000000000202")
	settleAddr     = common.HexToAddress("0x0000000000000000000000000000000000000301")
	acctAddr       = common.HexToAddress("0x0000000000000000000000000000000000000401")

	admin   = common.HexToAddress("0xad")
	seller  = common.HexToAddress("0x5e")
	partner = common.HexToAddress("0x9a")
	buyer   = common.HexToAddress("0xb1")
	buyer2  = common.HexToAddress("0xb2")
	poor    = common.HexToAddress("0xb3")
	agent   = common.HexToAddress("0xa9")
	other   = common.HexToAddress("0x07")
)

const now = 1_700_000_000

type harness struct {
	t  *testing.T
	rt *runtime.Runtime
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := currency.Registry{Native: nativeAddr, Governance: governanceAddr}
	rt := runtime.New(storage.New(memory.New()), runtime.WithClock(func() time.Time { return time.Unix(now, 0) }))
	contracts := []struct {
		addr common.Address
		name string
		impl runtime.Contract
	}{
		{nativeAddr, "native", currency.New("native", admin)},
		{governanceAddr, "governance", currency.New("governance", admin)},
		{ledgerAddr, "ledger", ledger.New(ledger.Config{Admin: admin, Marketplace: marketAddr})},
		{settleAddr, "settlement", settlement.New(reg)},
		{acctAddr, "accountant", accountant.New(accountant.Config{Admin: admin, Currencies: reg})},
		{marketAddr, "marketplace", New(Config{Admin: admin, Ledger: ledgerAddr, Currencies: reg})},
	}
	for _, c := range contracts {
		if err := rt.Register(c.addr, c.name, c.impl); err != nil {
			t.Fatalf("register %s: %v", c.name, err)
		}
	}
	h := &harness{t: t, rt: rt}
	for _, who := range []common.Address{buyer, buyer2} {
		h.must(nativeAddr, currency.MethodMint, &currency.MintArgs{To: who, Amount: big.NewInt(10000)}, admin)
	}
	h.must(nativeAddr, currency.MethodMint, &currency.MintArgs{To: poor, Amount: big.NewInt(10)}, admin)
	return h
}

func (h *harness) invoke(target common.Address, method string, args any, witnesses ...common.Address) (*runtime.Result, error) {
	h.t.Helper()
	raw, err := runtime.EncodeArgs(args)
	if err != nil {
		h.t.Fatalf("encode: %v", err)
	}
	return h.rt.Invoke(context.Background(), runtime.HostCall{Contract: target, Method: method, Args: raw, Witnesses: witnesses})
}

func (h *harness) call(target common.Address, method string, args any, witnesses ...common.Address) error {
	h.t.Helper()
	_, err := h.invoke(target, method, args, witnesses...)
	return err
}

func (h *harness) must(target common.Address, method string, args any, witnesses ...common.Address) *runtime.Result {
	h.t.Helper()
	res, err := h.invoke(target, method, args, witnesses...)
	if err != nil {
		h.t.Fatalf("%s: %v", method, err)
	}
	return res
}

func (h *harness) query(target common.Address, method string, args any, out any) error {
	h.t.Helper()
	raw, err := runtime.EncodeArgs(args)
	if err != nil {
		h.t.Fatalf("encode: %v", err)
	}
	res, err := h.rt.Query(context.Background(), target, method, raw)
	if err != nil {
		return err
	}
	if err := runtime.DecodeResult(res, out); err != nil {
		h.t.Fatalf("decode %s: %v", method, err)
	}
	return nil
}

func (h *harness) balance(owner common.Address) int64 {
	h.t.Helper()
	var v *big.Int
	if err := h.query(nativeAddr, currency.MethodBalanceOf, &currency.AccountArgs{Account: owner}, &v); err != nil {
		h.t.Fatalf("balanceOf: %v", err)
	}
	return v.Int64()
}

func (h *harness) count(templateID string, holder common.Address) uint32 {
	h.t.Helper()
	var q ledger.HolderQuota
	err := h.query(ledgerAddr, ledger.MethodGetCountAndAgent, &ledger.QuotaArgs{TemplateID: templateID, Account: holder}, &q)
	if xerrors.CodeOf(err) == xerrors.CodeNotFound {
		return 0
	}
	if err != nil {
		h.t.Fatalf("getCountAndAgent: %v", err)
	}
	return q.Count
}

func (h *harness) item(resourceID string) (*ResourceItem, error) {
	h.t.Helper()
	var item ResourceItem
	if err := h.query(marketAddr, MethodGetSellerItemInfo, &ResourceArgs{ResourceID: resourceID}, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (h *harness) sold(resourceID string) uint64 {
	h.t.Helper()
	item, err := h.item(resourceID)
	if err != nil {
		h.t.Fatalf("getSellerItemInfo: %v", err)
	}
	return item.Sold
}

func (h *harness) template(creator common.Address) string {
	h.t.Helper()
	res := h.must(ledgerAddr, ledger.MethodCreateTokenTemplate, &ledger.CreateTemplateArgs{Creator: creator, Payload: []byte("dataset")}, creator)
	var id string
	if err := runtime.DecodeResult(res.Return, &id); err != nil {
		h.t.Fatalf("decode template id: %v", err)
	}
	return id
}

func nativeItem(price int64, stock uint64, templates ...string) DTokenItem {
	return DTokenItem{
		Fee:         currency.Fee{Amount: big.NewInt(price), Currency: currency.Currency{Kind: currency.KindNative}},
		Expiry:      now + 3600,
		Stock:       stock,
		TemplateIDs: templates,
	}
}

func addr(a common.Address) *common.Address { return &a }

func (h *harness) publish(resourceID string, ddo ResourceDDO, item DTokenItem, split *settlement.RegisterParam) {
	h.t.Helper()
	h.must(marketAddr, MethodPublish, &PublishArgs{ResourceID: resourceID, DDO: ddo, Item: item, Split: split}, ddo.Manager)
}

func TestBuyLastUnitEndToEnd(t *testing.T) {
	h := newHarness(t)
	tpl := h.template(seller)
	h.publish("r1", ResourceDDO{Manager: seller}, nativeItem(100, 1, tpl), nil)

	res := h.must(marketAddr, MethodBuyDToken, &BuyArgs{ResourceID: "r1", N: 1, Buyer: buyer, Payer: buyer}, buyer)
	var ids []string
	if err := runtime.DecodeResult(res.Return, &ids); err != nil {
		t.Fatalf("decode ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != tpl {
		t.Fatalf("issued ids = %v, want [%s]", ids, tpl)
	}
	if got := h.balance(seller); got != 100 {
		t.Fatalf("seller balance = %d, want 100", got)
	}
	if got := h.count(tpl, buyer); got != 1 {
		t.Fatalf("buyer quota = %d, want 1", got)
	}
	if got := h.sold("r1"); got != 1 {
		t.Fatalf("sold = %d, want 1", got)
	}

	err := h.call(marketAddr, MethodBuyDToken, &BuyArgs{ResourceID: "r1", N: 1, Buyer: buyer2, Payer: buyer2}, buyer2)
	if xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("buying past stock must fail, got %v", err)
	}
	if got := h.balance(buyer2); got != 10000 {
		t.Fatalf("failed buy charged buyer2: %d", got)
	}
	if got := h.count(tpl, buyer2); got != 0 {
		t.Fatalf("failed buy issued quota: %d", got)
	}

	h.must(marketAddr, MethodUseToken, &UseArgs{ResourceID: "r1", Account: buyer, TemplateID: tpl, N: 1}, buyer)
	var q ledger.HolderQuota
	if err := h.query(ledgerAddr, ledger.MethodGetCountAndAgent, &ledger.QuotaArgs{TemplateID: tpl, Account: buyer}, &q); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("exhausted quota must be removed, got %v", err)
	}
}

func TestBuyRequiresWitnessesAndRollsBackOnFeeFailure(t *testing.T) {
	h := newHarness(t)
	tpl := h.template(seller)
	h.publish("r1", ResourceDDO{Manager: seller}, nativeItem(100, 5, tpl), nil)

	if err := h.call(marketAddr, MethodBuyDToken, &BuyArgs{ResourceID: "r1", N: 1, Buyer: buyer, Payer: buyer2}, buyer); xerrors.CodeOf(err) != xerrors.CodeUnauthorized {
		t.Fatalf("missing payer witness must fail, got %v", err)
	}
	err := h.call(marketAddr, MethodBuyDToken, &BuyArgs{ResourceID: "r1", N: 1, Buyer: poor, Payer: poor}, poor)
	if xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("underfunded buy must fail, got %v", err)
	}
	if !xerrors.HasCode(err, xerrors.CodeExternalCall) {
		t.Fatalf("currency failure should surface as a nested call failure: %v", err)
	}
	if got := h.sold("r1"); got != 0 {
		t.Fatalf("sold changed after failed buy: %d", got)
	}
	if got := h.count(tpl, poor); got != 0 {
		t.Fatalf("quota issued after failed buy: %d", got)
	}
	if got := h.balance(poor); got != 10 {
		t.Fatalf("poor balance = %d, want 10", got)
	}
}

func TestBuyDTokensIsAtomic(t *testing.T) {
	h := newHarness(t)
	tpl1, tpl2 := h.template(seller), h.template(seller)
	h.publish("r1", ResourceDDO{Manager: seller}, nativeItem(10, 5, tpl1), nil)
	h.publish("r2", ResourceDDO{Manager: seller}, nativeItem(10, 1, tpl2), nil)

	err := h.call(marketAddr, MethodBuyDTokens, &BuyBatchArgs{ResourceIDs: []string{"r1", "r2"}, Ns: []uint32{2, 2}, Buyer: buyer, Payer: buyer}, buyer)
	if xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("batch exceeding stock must fail, got %v", err)
	}
	if h.sold("r1") != 0 || h.count(tpl1, buyer) != 0 || h.balance(buyer) != 10000 {
		t.Fatalf("partial batch was committed")
	}
	if err := h.call(marketAddr, MethodBuyDTokens, &BuyBatchArgs{ResourceIDs: []string{"r1"}, Ns: []uint32{1, 2}, Buyer: buyer, Payer: buyer}, buyer); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("mismatched batch must fail, got %v", err)
	}

	h.must(marketAddr, MethodBuyDTokens, &BuyBatchArgs{ResourceIDs: []string{"r1", "r2"}, Ns: []uint32{2, 1}, Buyer: buyer, Payer: buyer}, buyer)
	if h.count(tpl1, buyer) != 2 || h.count(tpl2, buyer) != 1 {
		t.Fatalf("batch quotas = %d/%d, want 2/1", h.count(tpl1, buyer), h.count(tpl2, buyer))
	}
	if got := h.balance(seller); got != 30 {
		t.Fatalf("seller balance = %d, want 30", got)
	}
}

func TestSoldNeverExceedsStock(t *testing.T) {
	h := newHarness(t)
	tpl := h.template(seller)
	h.publish("r1", ResourceDDO{Manager: seller}, nativeItem(1, 7, tpl), nil)
	for _, n := range []uint32{3, 3, 3, 2, 1, 1} {
		_ = h.call(marketAddr, MethodBuyDToken, &BuyArgs{ResourceID: "r1", N: n, Buyer: buyer, Payer: buyer}, buyer)
		item, err := h.item("r1")
		if err != nil {
			t.Fatalf("item: %v", err)
		}
		if item.Sold > item.Item.Stock {
			t.Fatalf("sold %d exceeds stock %d", item.Sold, item.Item.Stock)
		}
	}
	if got := h.sold("r1"); got != 7 {
		t.Fatalf("sold = %d, want 7", got)
	}
	if got := h.count(tpl, buyer); got != 7 {
		t.Fatalf("quota = %d, want 7", got)
	}
}

func TestBuyRoutesFeeIntoSettlementEscrow(t *testing.T) {
	h := newHarness(t)
	tpl := h.template(seller)
	split := &settlement.RegisterParam{
		Currency: currency.Currency{Kind: currency.KindNative},
		Beneficiaries: []settlement.Beneficiary{
			{Address: seller, Weight: 1000},
			{Address: partner, Weight: 9000},
		},
	}
	h.publish("r1", ResourceDDO{Manager: seller, SplitPolicy: addr(settleAddr)}, nativeItem(500, 10, tpl), split)

	h.must(marketAddr, MethodBuyDToken, &BuyArgs{ResourceID: "r1", N: 2, Buyer: buyer, Payer: buyer}, buyer)
	if got := h.balance(settleAddr); got != 1000 {
		t.Fatalf("escrow custody = %d, want 1000", got)
	}
	if got := h.balance(seller); got != 0 {
		t.Fatalf("seller must not be paid directly, got %d", got)
	}
	h.must(settleAddr, settlement.MethodWithdraw, &settlement.WithdrawArgs{Key: "r1", Beneficiary: seller}, seller)
	h.must(settleAddr, settlement.MethodWithdraw, &settlement.WithdrawArgs{Key: "r1", Beneficiary: partner}, partner)
	if s, p := h.balance(seller), h.balance(partner); s != 100 || p != 900 {
		t.Fatalf("withdrawals = %d/%d, want 100/900", s, p)
	}
}

func TestBuyRoutesFeeThroughAccountant(t *testing.T) {
	h := newHarness(t)
	tpl := h.template(seller)
	split := &settlement.RegisterParam{
		Currency: currency.Currency{Kind: currency.KindNative},
		Beneficiaries: []settlement.Beneficiary{
			{Address: seller, Weight: 1},
			{Address: partner, Weight: 1},
		},
	}
	ddo := ResourceDDO{Manager: seller, SplitPolicy: addr(settleAddr), Accountant: addr(acctAddr)}
	h.publish("r1", ddo, nativeItem(100, 10, tpl), split)

	res := h.must(marketAddr, MethodBuyDToken, &BuyArgs{ResourceID: "r1", N: 2, Buyer: buyer, Payer: buyer}, buyer)
	if got := h.balance(acctAddr); got != 200 {
		t.Fatalf("accountant custody = %d, want 200", got)
	}
	if got := h.count(tpl, buyer); got != 2 {
		t.Fatalf("quota = %d, want 2", got)
	}

	order := accountant.OrderID{ItemID: "r1", TxHash: res.TxHash}
	h.must(acctAddr, accountant.MethodSettle, &accountant.SettleArgs{Seller: seller, Order: order}, seller)
	if s, p := h.balance(seller), h.balance(partner); s != 100 || p != 100 {
		t.Fatalf("settled = %d/%d, want 100/100", s, p)
	}
}

func TestPublishValidation(t *testing.T) {
	h := newHarness(t)
	tpl := h.template(seller)
	foreign := h.template(other)

	cases := []struct {
		name string
		args *PublishArgs
		want xerrors.Code
	}{
		{"no templates", &PublishArgs{ResourceID: "x", DDO: ResourceDDO{Manager: seller}, Item: nativeItem(1, 1)}, xerrors.CodeInvalidArgument},
		{"foreign template", &PublishArgs{ResourceID: "x", DDO: ResourceDDO{Manager: seller}, Item: nativeItem(1, 1, foreign)}, xerrors.CodeUnauthorized},
		{"accountant without split", &PublishArgs{ResourceID: "x", DDO: ResourceDDO{Manager: seller, Accountant: addr(acctAddr)}, Item: nativeItem(1, 1, tpl)}, xerrors.CodeInvalidArgument},
		{"split params without policy", &PublishArgs{ResourceID: "x", DDO: ResourceDDO{Manager: seller}, Item: nativeItem(1, 1, tpl), Split: &settlement.RegisterParam{
			Beneficiaries: []settlement.Beneficiary{{Address: seller, Weight: 1}},
		}}, xerrors.CodeInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := h.call(marketAddr, MethodPublish, tc.args, seller); xerrors.CodeOf(err) != tc.want {
				t.Fatalf("got %v, want %s", err, tc.want)
			}
		})
	}

	args := &PublishArgs{ResourceID: "x", DDO: ResourceDDO{Manager: seller}, Item: nativeItem(1, 1, tpl)}
	if err := h.call(marketAddr, MethodPublish, args, other); xerrors.CodeOf(err) != xerrors.CodeUnauthorized {
		t.Fatalf("publish without manager witness must fail, got %v", err)
	}
	h.must(marketAddr, MethodPublish, args, seller)
	if err := h.call(marketAddr, MethodPublish, args, seller); xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("duplicate publish must fail, got %v", err)
	}

	// 被授权的地址可以发布他人创建的模板。
	h.must(ledgerAddr, ledger.MethodAuthorizeTokenTemplate, &ledger.TemplateAddrsArgs{TemplateID: foreign, Addresses: []common.Address{seller}}, other)
	h.publish("y", ResourceDDO{Manager: seller}, nativeItem(1, 1, foreign), nil)
}

func TestExpiredItemCannotBeBought(t *testing.T) {
	h := newHarness(t)
	tpl := h.template(seller)
	item := nativeItem(1, 5, tpl)
	item.Expiry = now
	h.publish("r1", ResourceDDO{Manager: seller}, item, nil)
	if err := h.call(marketAddr, MethodBuyDToken, &BuyArgs{ResourceID: "r1", N: 1, Buyer: buyer, Payer: buyer}, buyer); xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("expired buy must fail, got %v", err)
	}
}

func TestFreezeUpdateDelete(t *testing.T) {
	h := newHarness(t)
	tpl := h.template(seller)

	h.publish("unsold", ResourceDDO{Manager: seller}, nativeItem(1, 5, tpl), nil)
	if err := h.call(marketAddr, MethodFreeze, &ResourceArgs{ResourceID: "unsold"}, other); xerrors.CodeOf(err) != xerrors.CodeUnauthorized {
		t.Fatalf("freeze by stranger must fail, got %v", err)
	}
	h.must(marketAddr, MethodFreeze, &ResourceArgs{ResourceID: "unsold"}, admin)
	if _, err := h.item("unsold"); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("freezing an unsold item must delete it, got %v", err)
	}

	h.publish("r1", ResourceDDO{Manager: seller}, nativeItem(1, 5, tpl), nil)
	h.must(marketAddr, MethodBuyDToken, &BuyArgs{ResourceID: "r1", N: 3, Buyer: buyer, Payer: buyer}, buyer)

	if err := h.call(marketAddr, MethodUpdate, &UpdateArgs{ResourceID: "r1", DDO: ResourceDDO{Manager: seller}, Item: nativeItem(1, 2, tpl)}, seller); xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("stock below sold must fail, got %v", err)
	}
	h.must(marketAddr, MethodUpdate, &UpdateArgs{ResourceID: "r1", DDO: ResourceDDO{Manager: seller}, Item: nativeItem(2, 10, tpl)}, seller)
	item, err := h.item("r1")
	if err != nil {
		t.Fatalf("item: %v", err)
	}
	if item.Sold != 3 || item.Item.Stock != 10 || item.Item.Fee.Amount.Int64() != 2 {
		t.Fatalf("unexpected item after update: %+v", item)
	}

	h.must(marketAddr, MethodFreeze, &ResourceArgs{ResourceID: "r1"}, seller)
	if item, err = h.item("r1"); err != nil || !item.Frozen {
		t.Fatalf("sold item must stay frozen, got %+v %v", item, err)
	}
	if err := h.call(marketAddr, MethodBuyDToken, &BuyArgs{ResourceID: "r1", N: 1, Buyer: buyer, Payer: buyer}, buyer); xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("frozen item must not be sold, got %v", err)
	}
	if err := h.call(marketAddr, MethodUpdate, &UpdateArgs{ResourceID: "r1", DDO: ResourceDDO{Manager: seller}, Item: nativeItem(2, 10, tpl)}, seller); xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("frozen item must not be updated, got %v", err)
	}
	h.must(marketAddr, MethodUseToken, &UseArgs{ResourceID: "r1", Account: buyer, TemplateID: tpl, N: 1}, buyer)

	if err := h.call(marketAddr, MethodDelete, &ResourceArgs{ResourceID: "r1"}, admin); xerrors.CodeOf(err) != xerrors.CodeUnauthorized {
		t.Fatalf("delete requires the manager, got %v", err)
	}
	h.must(marketAddr, MethodDelete, &ResourceArgs{ResourceID: "r1"}, seller)
	if _, err := h.item("r1"); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("deleted item still present: %v", err)
	}
}

func TestBuyFromResellerConservesQuota(t *testing.T) {
	h := newHarness(t)
	tpl := h.template(seller)
	h.publish("r1", ResourceDDO{Manager: seller}, nativeItem(10, 5, tpl), nil)
	h.must(marketAddr, MethodBuyDToken, &BuyArgs{ResourceID: "r1", N: 3, Buyer: buyer, Payer: buyer}, buyer)

	if err := h.call(marketAddr, MethodBuyDTokenFromReseller, &ResellerArgs{ResourceID: "r1", N: 2, Buyer: buyer2, Reseller: buyer}, buyer2); xerrors.CodeOf(err) != xerrors.CodeUnauthorized {
		t.Fatalf("resale without reseller witness must fail, got %v", err)
	}
	h.must(marketAddr, MethodBuyDTokenFromReseller, &ResellerArgs{ResourceID: "r1", N: 2, Buyer: buyer2, Reseller: buyer}, buyer2, buyer)

	if a, b := h.count(tpl, buyer), h.count(tpl, buyer2); a != 1 || b != 2 {
		t.Fatalf("quotas = %d/%d, want 1/2", a, b)
	}
	if got := h.sold("r1"); got != 3 {
		t.Fatalf("resale changed sold: %d", got)
	}
	// 买家为三份付 30，转售收入 20。
	if got := h.balance(buyer); got != 10000-30+20 {
		t.Fatalf("reseller balance = %d", got)
	}
	if got := h.balance(buyer2); got != 10000-20 {
		t.Fatalf("buyer2 balance = %d", got)
	}
	if err := h.call(marketAddr, MethodBuyDTokenFromReseller, &ResellerArgs{ResourceID: "r1", N: 5, Buyer: buyer2, Reseller: buyer}, buyer2, buyer); xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("reselling more than held must fail, got %v", err)
	}
}

func TestRewardPurchase(t *testing.T) {
	h := newHarness(t)
	tpl := h.template(seller)
	h.publish("free", ResourceDDO{Manager: seller}, nativeItem(0, 5, tpl), nil)
	h.publish("paid", ResourceDDO{Manager: seller}, nativeItem(5, 5, tpl), nil)

	if err := h.call(marketAddr, MethodBuyDTokenReward, &RewardArgs{ResourceID: "paid", N: 1, Buyer: buyer, Payer: buyer, UnitPrice: big.NewInt(50)}, buyer); xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("reward on priced item must fail, got %v", err)
	}
	h.must(marketAddr, MethodBuyDTokenReward, &RewardArgs{ResourceID: "free", N: 2, Buyer: buyer, Payer: buyer, UnitPrice: big.NewInt(50)}, buyer)
	if got := h.balance(seller); got != 100 {
		t.Fatalf("seller reward = %d, want 100", got)
	}
	if got := h.sold("free"); got != 2 {
		t.Fatalf("sold = %d, want 2", got)
	}
}

func TestAgentDelegationThroughMarketplace(t *testing.T) {
	h := newHarness(t)
	tpl1, tpl2 := h.template(seller), h.template(seller)
	h.publish("r1", ResourceDDO{Manager: seller}, nativeItem(1, 10, tpl1, tpl2), nil)
	h.must(marketAddr, MethodBuyDToken, &BuyArgs{ResourceID: "r1", N: 4, Buyer: buyer, Payer: buyer}, buyer)

	foreign := h.template(other)
	if err := h.call(marketAddr, MethodSetTokenAgents, &TokenAgentsArgs{ResourceID: "r1", Account: buyer, TemplateID: foreign, Agents: []common.Address{agent}, N: 1}, buyer); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("template outside the item must be rejected, got %v", err)
	}

	h.must(marketAddr, MethodSetAgents, &AgentsArgs{ResourceID: "r1", Account: buyer, Agents: []common.Address{agent}, N: 2}, buyer)
	h.must(marketAddr, MethodAddTokenAgents, &TokenAgentsArgs{ResourceID: "r1", Account: buyer, TemplateID: tpl1, Agents: []common.Address{agent}, N: 1}, buyer)

	use := &AgentUseArgs{ResourceID: "r1", Account: buyer, Agent: agent, TemplateID: tpl1, N: 3}
	if err := h.call(marketAddr, MethodUseTokenByAgent, use, buyer); xerrors.CodeOf(err) != xerrors.CodeUnauthorized {
		t.Fatalf("agent use without agent witness must fail, got %v", err)
	}
	h.must(marketAddr, MethodUseTokenByAgent, use, agent)
	if got := h.count(tpl1, buyer); got != 1 {
		t.Fatalf("tpl1 quota = %d, want 1", got)
	}

	h.must(marketAddr, MethodRemoveTokenAgents, &RemoveTokenAgentsArgs{ResourceID: "r1", Account: buyer, TemplateID: tpl2, Agents: []common.Address{agent}}, buyer)
	use2 := &AgentUseArgs{ResourceID: "r1", Account: buyer, Agent: agent, TemplateID: tpl2, N: 1}
	if err := h.call(marketAddr, MethodUseTokenByAgent, use2, agent); xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("revoked agent must fail, got %v", err)
	}
	h.must(marketAddr, MethodAddAgents, &AgentsArgs{ResourceID: "r1", Account: buyer, Agents: []common.Address{agent}, N: 1}, buyer)
	h.must(marketAddr, MethodUseTokenByAgent, use2, agent)
	h.must(marketAddr, MethodRemoveAgents, &RemoveAgentsArgs{ResourceID: "r1", Account: buyer, Agents: []common.Address{agent}}, buyer)
	if got := h.count(tpl2, buyer); got != 3 {
		t.Fatalf("tpl2 quota = %d, want 3", got)
	}
}

func TestBuyDTokensAndSetAgentsIsAtomic(t *testing.T) {
	h := newHarness(t)
	tplA, tplB := h.template(seller), h.template(seller)
	h.publish("r1", ResourceDDO{Manager: seller}, nativeItem(10, 5, tplA), nil)
	h.publish("r2", ResourceDDO{Manager: seller}, nativeItem(20, 5, tplB), nil)

	args := &BuyAndSetAgentsArgs{
		ResourceIDs:          []string{"r1", "r2"},
		Ns:                   []uint32{2, 3},
		Buyer:                buyer,
		Payer:                buyer,
		AuthorizedIndex:      0,
		AuthorizedTemplateID: tplA,
		UseIndex:             1,
		UseTemplateID:        tplA,
		Agent:                agent,
	}
	// 最后一步使用的模板不属于 r2，整笔交易回滚。
	if err := h.call(marketAddr, MethodBuyAndSetAgents, args, buyer); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("failing use step must abort, got %v", err)
	}
	if h.sold("r1") != 0 || h.sold("r2") != 0 || h.count(tplA, buyer) != 0 || h.balance(buyer) != 10000 {
		t.Fatalf("partial buy-and-delegate was committed")
	}

	bad := *args
	bad.UseIndex = 2
	if err := h.call(marketAddr, MethodBuyAndSetAgents, &bad, buyer); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("out of range index must fail, got %v", err)
	}

	args.UseTemplateID = tplB
	h.must(marketAddr, MethodBuyAndSetAgents, args, buyer)
	if h.sold("r1") != 2 || h.sold("r2") != 3 {
		t.Fatalf("sold = %d/%d, want 2/3", h.sold("r1"), h.sold("r2"))
	}
	if got := h.count(tplB, buyer); got != 0 {
		t.Fatalf("used quota = %d, want 0", got)
	}
	if got := h.balance(seller); got != 80 {
		t.Fatalf("seller balance = %d, want 80", got)
	}
	h.must(marketAddr, MethodUseTokenByAgent, &AgentUseArgs{ResourceID: "r1", Account: buyer, Agent: agent, TemplateID: tplA, N: 2}, agent)
	if got := h.count(tplA, buyer); got != 0 {
		t.Fatalf("delegated quota = %d, want 0", got)
	}
}

func TestUpdateCannotChangeFeeRouting(t *testing.T) {
	h := newHarness(t)
	tpl := h.template(seller)
	h.publish("r1", ResourceDDO{Manager: seller}, nativeItem(10, 5, tpl), nil)

	routed := ResourceDDO{Manager: seller, SplitPolicy: addr(settleAddr)}
	if err := h.call(marketAddr, MethodUpdate, &UpdateArgs{ResourceID: "r1", DDO: routed, Item: nativeItem(10, 5, tpl)}, seller); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("adding a split policy must fail, got %v", err)
	}
	withAcct := ResourceDDO{Manager: seller, SplitPolicy: addr(settleAddr), Accountant: addr(acctAddr)}
	if err := h.call(marketAddr, MethodUpdate, &UpdateArgs{ResourceID: "r1", DDO: withAcct, Item: nativeItem(10, 5, tpl)}, seller); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("adding an accountant must fail, got %v", err)
	}
	h.must(marketAddr, MethodBuyDToken, &BuyArgs{ResourceID: "r1", N: 1, Buyer: buyer, Payer: buyer}, buyer)
	if got := h.balance(seller); got != 10 {
		t.Fatalf("seller balance = %d, want 10", got)
	}

	split := &settlement.RegisterParam{
		Currency:      currency.Currency{Kind: currency.KindNative},
		Beneficiaries: []settlement.Beneficiary{{Address: seller, Weight: 1}},
	}
	h.publish("r2", routed, nativeItem(10, 5, tpl), split)
	if err := h.call(marketAddr, MethodUpdate, &UpdateArgs{ResourceID: "r2", DDO: ResourceDDO{Manager: seller}, Item: nativeItem(10, 5, tpl)}, seller); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("dropping the split policy must fail, got %v", err)
	}
	h.must(marketAddr, MethodUpdate, &UpdateArgs{ResourceID: "r2", DDO: routed, Item: nativeItem(12, 8, tpl)}, seller)
}

func TestMarketplaceCannotPayForPurchases(t *testing.T) {
	h := newHarness(t)
	tpl := h.template(seller)
	h.publish("r1", ResourceDDO{Manager: seller}, nativeItem(10, 5, tpl), nil)
	h.must(nativeAddr, currency.MethodMint, &currency.MintArgs{To: marketAddr, Amount: big.NewInt(100)}, admin)

	err := h.call(marketAddr, MethodBuyDToken, &BuyArgs{ResourceID: "r1", N: 1, Buyer: buyer, Payer: marketAddr}, buyer)
	if xerrors.CodeOf(err) != xerrors.CodeUnauthorized {
		t.Fatalf("marketplace as payer: expected UNAUTHORIZED, got %v", err)
	}
	if got := h.balance(marketAddr); got != 100 {
		t.Fatalf("marketplace balance = %d, want 100", got)
	}
	if got := h.count(tpl, buyer); got != 0 {
		t.Fatalf("quota issued without payment: %d", got)
	}
}
