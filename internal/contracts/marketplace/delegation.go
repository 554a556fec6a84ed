package marketplace

import (
	"github.com/ethereum/go-ethereum/common"

	"DDXF-Market/internal/contracts/ledger"
	xerrors "DDXF-Market/internal/errors"
	"DDXF-Market/internal/runtime"
)

// 以下方法把额度的使用与委托转发给商品所在的账本。账本自身同样校验见证。

func (c *Contract) itemTemplate(ctx *runtime.Context, resourceID, templateID string) (*ResourceItem, error) {
	item, err := c.load(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if !item.Item.HasTemplate(templateID) {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "template %q does not belong to resource %q", templateID, resourceID)
	}
	return item, nil
}

func (c *Contract) forward(ctx *runtime.Context, item *ResourceItem, method string, args any) (bool, error) {
	return runtime.Call[bool](ctx, c.ledgerOf(item), method, args)
}

func (c *Contract) useToken(ctx *runtime.Context, args *UseArgs) (bool, error) {
	if err := ctx.RequireWitness(args.Account); err != nil {
		return false, err
	}
	item, err := c.itemTemplate(ctx, args.ResourceID, args.TemplateID)
	if err != nil {
		return false, err
	}
	return c.forward(ctx, item, ledger.MethodUseToken,
		&ledger.IssueArgs{Account: args.Account, TemplateID: args.TemplateID, N: args.N})
}

func (c *Contract) useTokenByAgent(ctx *runtime.Context, args *AgentUseArgs) (bool, error) {
	if err := ctx.RequireWitness(args.Agent); err != nil {
		return false, err
	}
	item, err := c.itemTemplate(ctx, args.ResourceID, args.TemplateID)
	if err != nil {
		return false, err
	}
	return c.forward(ctx, item, ledger.MethodUseTokenByAgent, &ledger.AgentUseArgs{
		Account:    args.Account,
		Agent:      args.Agent,
		TemplateID: args.TemplateID,
		N:          args.N,
	})
}

func (c *Contract) grant(ctx *runtime.Context, method, resourceID string, account common.Address, templateIDs []string, agents []common.Address, n uint32) (bool, error) {
	if err := ctx.RequireWitness(account); err != nil {
		return false, err
	}
	item, err := c.load(ctx, resourceID)
	if err != nil {
		return false, err
	}
	if templateIDs == nil {
		templateIDs = item.Item.TemplateIDs
	}
	return c.forward(ctx, item, method, &ledger.AgentsArgs{Account: account, TemplateIDs: templateIDs, Agents: agents, N: n})
}

func (c *Contract) setAgents(ctx *runtime.Context, args *AgentsArgs) (bool, error) {
	return c.grant(ctx, ledger.MethodSetAgents, args.ResourceID, args.Account, nil, args.Agents, args.N)
}

func (c *Contract) addAgents(ctx *runtime.Context, args *AgentsArgs) (bool, error) {
	return c.grant(ctx, ledger.MethodAddAgents, args.ResourceID, args.Account, nil, args.Agents, args.N)
}

func (c *Contract) removeAgents(ctx *runtime.Context, args *RemoveAgentsArgs) (bool, error) {
	if err := ctx.RequireWitness(args.Account); err != nil {
		return false, err
	}
	item, err := c.load(ctx, args.ResourceID)
	if err != nil {
		return false, err
	}
	return c.forward(ctx, item, ledger.MethodRemoveAgents,
		&ledger.RemoveAgentsArgs{Account: args.Account, TemplateIDs: item.Item.TemplateIDs, Agents: args.Agents})
}

func (c *Contract) tokenGrant(ctx *runtime.Context, method string, args *TokenAgentsArgs) (bool, error) {
	if _, err := c.itemTemplate(ctx, args.ResourceID, args.TemplateID); err != nil {
		return false, err
	}
	return c.grant(ctx, method, args.ResourceID, args.Account, []string{args.TemplateID}, args.Agents, args.N)
}

func (c *Contract) setTokenAgents(ctx *runtime.Context, args *TokenAgentsArgs) (bool, error) {
	return c.tokenGrant(ctx, ledger.MethodSetAgents, args)
}

func (c *Contract) addTokenAgents(ctx *runtime.Context, args *TokenAgentsArgs) (bool, error) {
	return c.tokenGrant(ctx, ledger.MethodAddAgents, args)
}

func (c *Contract) removeTokenAgents(ctx *runtime.Context, args *RemoveTokenAgentsArgs) (bool, error) {
	if err := ctx.RequireWitness(args.Account); err != nil {
		return false, err
	}
	item, err := c.itemTemplate(ctx, args.ResourceID, args.TemplateID)
	if err != nil {
		return false, err
	}
	return c.forward(ctx, item, ledger.MethodRemoveAgents,
		&ledger.RemoveAgentsArgs{Account: args.Account, TemplateIDs: []string{args.TemplateID}, Agents: args.Agents})
}
