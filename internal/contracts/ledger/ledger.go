package ledger

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	xerrors "DDXF-Market/internal/errors"
	"DDXF-Market/internal/runtime"
	"DDXF-Market/internal/safemath"
)

var (
	marketplaceKey = runtime.Key("mp")
	templateSeqKey = runtime.Key("tseq")
)

func templateKey(id string) []byte {
	return runtime.Key("tpl", []byte(id))
}

func quotaKey(templateID string, holder common.Address) []byte {
	return runtime.Key("quota", []byte(templateID), holder.Bytes())
}

// Config 是账本合约的构造参数。
type Config struct {
	// Admin 可以更换受信任的市场合约。
	Admin common.Address
	// Marketplace 是部署时授予额度修改权的市场合约。
	Marketplace common.Address
}

// Contract 是额度账本合约。
type Contract struct {
	cfg    Config
	router runtime.Router
}

// New 创建账本合约。
func New(cfg Config) *Contract {
	c := &Contract{cfg: cfg}
	c.router = runtime.Router{
		MethodGenerateDToken:         runtime.Method(c.generateDToken),
		MethodGenerateDTokenMulti:    runtime.Method(c.generateDTokenMulti),
		MethodUseToken:               runtime.Method(c.useToken),
		MethodUseTokenByAgent:        runtime.Method(c.useTokenByAgent),
		MethodTransferDToken:         runtime.Method(c.transferDToken),
		MethodTransferDTokenMulti:    runtime.Method(c.transferDTokenMulti),
		MethodSetAgents:              runtime.Method(c.setAgents),
		MethodAddAgents:              runtime.Method(c.addAgents),
		MethodRemoveAgents:           runtime.Method(c.removeAgents),
		MethodCreateTokenTemplate:    runtime.Method(c.createTokenTemplate),
		MethodAuthorizeTokenTemplate: runtime.Method(c.authorizeTokenTemplate),
		MethodRemoveAuthorizeAddr:    runtime.Method(c.removeAuthorizeAddr),
		MethodDeleteTokenTemplate:    runtime.Method(c.deleteTokenTemplate),
		MethodGetTokenTemplate:       runtime.Method(c.getTokenTemplate),
		MethodVerifyTemplateAccess:   runtime.Method(c.verifyTemplateAccess),
		MethodGetCountAndAgent:       runtime.Method(c.getCountAndAgent),
		MethodSetMarketplace:         runtime.Method(c.setMarketplace),
		MethodGetMarketplace:         runtime.Method(c.getMarketplace),
	}
	return c
}

// Invoke 实现 runtime.Contract。
func (c *Contract) Invoke(ctx *runtime.Context, method string, args []byte) ([]byte, error) {
	return c.router.Dispatch(ctx, method, args)
}

func (c *Contract) marketplace(ctx *runtime.Context) (common.Address, error) {
	var mp common.Address
	found, err := ctx.Storage().Load(marketplaceKey, &mp)
	if err != nil {
		return common.Address{}, err
	}
	if !found {
		mp = c.cfg.Marketplace
	}
	return mp, nil
}

// gate 校验直接调用方是受信任的市场合约，并且 witness 已签名。
func (c *Contract) gate(ctx *runtime.Context, witness common.Address) error {
	mp, err := c.marketplace(ctx)
	if err != nil {
		return err
	}
	if mp == (common.Address{}) || ctx.Caller() != mp {
		return xerrors.Unauthorized("caller %s is not the registered marketplace", ctx.Caller().Hex())
	}
	return ctx.RequireWitness(witness)
}

func requirePositive(n uint32) error {
	if n == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "n must be positive")
	}
	return nil
}

func (c *Contract) loadTemplate(ctx *runtime.Context, id string) (*TokenTemplate, error) {
	var tpl TokenTemplate
	found, err := ctx.Storage().Load(templateKey(id), &tpl)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "token template %q not found", id)
	}
	return &tpl, nil
}

func (c *Contract) loadQuota(ctx *runtime.Context, id string, holder common.Address) (*HolderQuota, bool, error) {
	var q HolderQuota
	found, err := ctx.Storage().Load(quotaKey(id, holder), &q)
	if err != nil {
		return nil, false, err
	}
	return &q, found, nil
}

// storeQuota 保存额度，数量为零时删除整条记录。
func (c *Contract) storeQuota(ctx *runtime.Context, id string, holder common.Address, q *HolderQuota) error {
	if q.Count == 0 {
		return ctx.Storage().Delete(quotaKey(id, holder))
	}
	return ctx.Storage().Save(quotaKey(id, holder), q)
}

func (c *Contract) issue(ctx *runtime.Context, holder common.Address, id string, n uint32) error {
	if _, err := c.loadTemplate(ctx, id); err != nil {
		return err
	}
	q, _, err := c.loadQuota(ctx, id, holder)
	if err != nil {
		return err
	}
	if q.Count, err = safemath.AddUint32(q.Count, n); err != nil {
		return err
	}
	return c.storeQuota(ctx, id, holder, q)
}

func (c *Contract) consume(ctx *runtime.Context, holder common.Address, id string, n uint32) error {
	q, found, err := c.loadQuota(ctx, id, holder)
	if err != nil {
		return err
	}
	if !found || q.Count < n {
		return xerrors.Precondition("insufficient quota of %s for template %q: have %d, need %d", holder.Hex(), id, q.Count, n)
	}
	q.Count -= n
	return c.storeQuota(ctx, id, holder, q)
}

func (c *Contract) transfer(ctx *runtime.Context, from, to common.Address, id string, n uint32) error {
	if from == to {
		return xerrors.New(xerrors.CodeInvalidArgument, "cannot transfer to self")
	}
	if err := c.consume(ctx, from, id, n); err != nil {
		return err
	}
	return c.issue(ctx, to, id, n)
}

func amount(n uint32) *big.Int {
	return new(big.Int).SetUint64(uint64(n))
}

func (c *Contract) generateDToken(ctx *runtime.Context, args *IssueArgs) (string, error) {
	if err := c.gate(ctx, args.Account); err != nil {
		return "", err
	}
	if err := requirePositive(args.N); err != nil {
		return "", err
	}
	if err := c.issue(ctx, args.Account, args.TemplateID, args.N); err != nil {
		return "", err
	}
	ctx.Notify(MethodGenerateDToken, args.TemplateID, args.Account, amount(args.N))
	return args.TemplateID, nil
}

func (c *Contract) generateDTokenMulti(ctx *runtime.Context, args *IssueMultiArgs) ([]string, error) {
	if err := c.gate(ctx, args.Account); err != nil {
		return nil, err
	}
	if err := requirePositive(args.N); err != nil {
		return nil, err
	}
	if len(args.TemplateIDs) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "template ids must not be empty")
	}
	for _, id := range args.TemplateIDs {
		if err := c.issue(ctx, args.Account, id, args.N); err != nil {
			return nil, err
		}
		ctx.Notify(MethodGenerateDToken, id, args.Account, amount(args.N))
	}
	return args.TemplateIDs, nil
}

func (c *Contract) useToken(ctx *runtime.Context, args *IssueArgs) (bool, error) {
	if err := c.gate(ctx, args.Account); err != nil {
		return false, err
	}
	if err := requirePositive(args.N); err != nil {
		return false, err
	}
	if err := c.consume(ctx, args.Account, args.TemplateID, args.N); err != nil {
		return false, err
	}
	ctx.Notify(MethodUseToken, args.TemplateID, args.Account, amount(args.N))
	return true, nil
}

// useTokenByAgent 同时扣减持有人额度和代理额度。持有人额度归零时整条记录
// 被删除；仅代理额度归零时只移除该代理。
func (c *Contract) useTokenByAgent(ctx *runtime.Context, args *AgentUseArgs) (bool, error) {
	if err := c.gate(ctx, args.Agent); err != nil {
		return false, err
	}
	if err := requirePositive(args.N); err != nil {
		return false, err
	}
	q, found, err := c.loadQuota(ctx, args.TemplateID, args.Account)
	if err != nil {
		return false, err
	}
	if !found || q.Count < args.N {
		return false, xerrors.Precondition("insufficient quota of %s for template %q", args.Account.Hex(), args.TemplateID)
	}
	granted, ok := q.Agent(args.Agent)
	if !ok || granted < args.N {
		return false, xerrors.Precondition("insufficient agent quota of %s: have %d, need %d", args.Agent.Hex(), granted, args.N)
	}
	q.Count -= args.N
	if granted == args.N {
		q.removeAgent(args.Agent)
	} else {
		q.setAgent(args.Agent, granted-args.N)
	}
	if err := c.storeQuota(ctx, args.TemplateID, args.Account, q); err != nil {
		return false, err
	}
	ctx.Notify(MethodUseTokenByAgent, args.TemplateID, args.Agent, amount(args.N))
	return true, nil
}

func (c *Contract) transferDToken(ctx *runtime.Context, args *TransferArgs) (bool, error) {
	if err := c.gate(ctx, args.From); err != nil {
		return false, err
	}
	if err := requirePositive(args.N); err != nil {
		return false, err
	}
	if err := c.transfer(ctx, args.From, args.To, args.TemplateID, args.N); err != nil {
		return false, err
	}
	ctx.Notify(MethodTransferDToken, args.TemplateID, args.From, amount(args.N))
	return true, nil
}

func (c *Contract) transferDTokenMulti(ctx *runtime.Context, args *TransferMultiArgs) (bool, error) {
	if err := c.gate(ctx, args.From); err != nil {
		return false, err
	}
	if err := requirePositive(args.N); err != nil {
		return false, err
	}
	for _, id := range args.TemplateIDs {
		if err := c.transfer(ctx, args.From, args.To, id, args.N); err != nil {
			return false, err
		}
		ctx.Notify(MethodTransferDToken, id, args.From, amount(args.N))
	}
	return true, nil
}

func (c *Contract) setAgents(ctx *runtime.Context, args *AgentsArgs) (bool, error) {
	return c.grant(ctx, args, true)
}

func (c *Contract) addAgents(ctx *runtime.Context, args *AgentsArgs) (bool, error) {
	return c.grant(ctx, args, false)
}

// grant 在 reset 为 true 时替换整个代理表，否则累加额度。
func (c *Contract) grant(ctx *runtime.Context, args *AgentsArgs, reset bool) (bool, error) {
	if err := c.gate(ctx, args.Account); err != nil {
		return false, err
	}
	if err := requirePositive(args.N); err != nil {
		return false, err
	}
	if len(args.Agents) == 0 {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "agents must not be empty")
	}
	for _, id := range args.TemplateIDs {
		q, found, err := c.loadQuota(ctx, id, args.Account)
		if err != nil {
			return false, err
		}
		if !found {
			return false, xerrors.Precondition("%s holds no quota for template %q", args.Account.Hex(), id)
		}
		if reset {
			q.Agents = nil
		}
		for _, agent := range args.Agents {
			if reset {
				q.setAgent(agent, args.N)
				continue
			}
			current, _ := q.Agent(agent)
			next, err := safemath.AddUint32(current, args.N)
			if err != nil {
				return false, err
			}
			q.setAgent(agent, next)
		}
		if err := c.storeQuota(ctx, id, args.Account, q); err != nil {
			return false, err
		}
		name := MethodAddAgents
		if reset {
			name = MethodSetAgents
		}
		ctx.Notify(name, id, args.Account, amount(args.N))
	}
	return true, nil
}

func (c *Contract) removeAgents(ctx *runtime.Context, args *RemoveAgentsArgs) (bool, error) {
	if err := c.gate(ctx, args.Account); err != nil {
		return false, err
	}
	for _, id := range args.TemplateIDs {
		q, found, err := c.loadQuota(ctx, id, args.Account)
		if err != nil {
			return false, err
		}
		if !found {
			return false, xerrors.Precondition("%s holds no quota for template %q", args.Account.Hex(), id)
		}
		for _, agent := range args.Agents {
			q.removeAgent(agent)
		}
		if err := c.storeQuota(ctx, id, args.Account, q); err != nil {
			return false, err
		}
		ctx.Notify(MethodRemoveAgents, id, args.Account, nil)
	}
	return true, nil
}

func (c *Contract) createTokenTemplate(ctx *runtime.Context, args *CreateTemplateArgs) (string, error) {
	if err := ctx.RequireWitness(args.Creator); err != nil {
		return "", err
	}
	var seq uint64
	if _, err := ctx.Storage().Load(templateSeqKey, &seq); err != nil {
		return "", err
	}
	seq++
	id := strconv.FormatUint(seq, 10)
	tpl := TokenTemplate{ID: id, Creator: args.Creator, Payload: args.Payload}
	if err := ctx.Storage().Save(templateSeqKey, seq); err != nil {
		return "", err
	}
	if err := ctx.Storage().Save(templateKey(id), &tpl); err != nil {
		return "", err
	}
	ctx.Notify(MethodCreateTokenTemplate, id, args.Creator, nil)
	return id, nil
}

func (c *Contract) ownedTemplate(ctx *runtime.Context, id string) (*TokenTemplate, error) {
	tpl, err := c.loadTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ctx.RequireWitness(tpl.Creator); err != nil {
		return nil, err
	}
	return tpl, nil
}

func (c *Contract) authorizeTokenTemplate(ctx *runtime.Context, args *TemplateAddrsArgs) (bool, error) {
	tpl, err := c.ownedTemplate(ctx, args.TemplateID)
	if err != nil {
		return false, err
	}
	for _, addr := range args.Addresses {
		if !tpl.Allows(addr) {
			tpl.Authorized = append(tpl.Authorized, addr)
		}
	}
	if err := ctx.Storage().Save(templateKey(tpl.ID), tpl); err != nil {
		return false, err
	}
	ctx.Notify(MethodAuthorizeTokenTemplate, tpl.ID, tpl.Creator, nil)
	return true, nil
}

func (c *Contract) removeAuthorizeAddr(ctx *runtime.Context, args *TemplateAddrsArgs) (bool, error) {
	tpl, err := c.ownedTemplate(ctx, args.TemplateID)
	if err != nil {
		return false, err
	}
	drop := make(map[common.Address]struct{}, len(args.Addresses))
	for _, addr := range args.Addresses {
		drop[addr] = struct{}{}
	}
	kept := tpl.Authorized[:0]
	for _, addr := range tpl.Authorized {
		if _, ok := drop[addr]; !ok {
			kept = append(kept, addr)
		}
	}
	tpl.Authorized = kept
	if err := ctx.Storage().Save(templateKey(tpl.ID), tpl); err != nil {
		return false, err
	}
	ctx.Notify(MethodRemoveAuthorizeAddr, tpl.ID, tpl.Creator, nil)
	return true, nil
}

func (c *Contract) deleteTokenTemplate(ctx *runtime.Context, args *TemplateArgs) (bool, error) {
	tpl, err := c.ownedTemplate(ctx, args.TemplateID)
	if err != nil {
		return false, err
	}
	if err := ctx.Storage().Delete(templateKey(tpl.ID)); err != nil {
		return false, err
	}
	ctx.Notify(MethodDeleteTokenTemplate, tpl.ID, tpl.Creator, nil)
	return true, nil
}

func (c *Contract) getTokenTemplate(ctx *runtime.Context, args *TemplateArgs) (*TokenTemplate, error) {
	return c.loadTemplate(ctx, args.TemplateID)
}

func (c *Contract) verifyTemplateAccess(ctx *runtime.Context, args *VerifyAccessArgs) (bool, error) {
	if err := ctx.RequireWitness(args.Account); err != nil {
		return false, err
	}
	for _, id := range args.TemplateIDs {
		tpl, err := c.loadTemplate(ctx, id)
		if err != nil {
			return false, err
		}
		if !tpl.Allows(args.Account) {
			return false, xerrors.Unauthorized("%s is not authorized for template %q", args.Account.Hex(), id)
		}
	}
	return true, nil
}

func (c *Contract) getCountAndAgent(ctx *runtime.Context, args *QuotaArgs) (*HolderQuota, error) {
	q, found, err := c.loadQuota(ctx, args.TemplateID, args.Account)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "no quota of %s for template %q", args.Account.Hex(), args.TemplateID)
	}
	return q, nil
}

func (c *Contract) setMarketplace(ctx *runtime.Context, args *AddressArgs) (bool, error) {
	if err := ctx.RequireWitness(c.cfg.Admin); err != nil {
		return false, err
	}
	if err := ctx.Storage().Save(marketplaceKey, args.Address); err != nil {
		return false, err
	}
	ctx.Notify(MethodSetMarketplace, "", args.Address, nil)
	return true, nil
}

func (c *Contract) getMarketplace(ctx *runtime.Context, _ *runtime.NoArgs) (common.Address, error) {
	return c.marketplace(ctx)
}
