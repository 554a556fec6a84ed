package marketplace

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"DDXF-Market/internal/contracts/settlement"
)

const (
	MethodPublish               = "dtokenSellerPublish"
	MethodUpdate                = "update"
	MethodFreeze                = "freeze"
	MethodDelete                = "delete"
	MethodBuyDToken             = "buyDToken"
	MethodBuyDTokens            = "buyDTokens"
	MethodBuyAndSetAgents       = "buyDTokensAndSetAgents"
	MethodBuyDTokenFromReseller = "buyDTokenFromReseller"
	MethodBuyDTokenReward       = "buyDTokenReward"
	MethodUseToken              = "useToken"
	MethodUseTokenByAgent       = "useTokenByAgent"
	MethodSetAgents             = "setAgents"
	MethodAddAgents             = "addAgents"
	MethodRemoveAgents          = "removeAgents"
	MethodSetTokenAgents        = "setTokenAgents"
	MethodAddTokenAgents        = "addTokenAgents"
	MethodRemoveTokenAgents     = "removeTokenAgents"
	MethodGetSellerItemInfo     = "getSellerItemInfo"
)

// PublishArgs 是发布参数。Split 非空时转发给结算合约登记。
type PublishArgs struct {
	ResourceID string
	DDO        ResourceDDO
	Item       DTokenItem
	Split      *settlement.RegisterParam `rlp:"nil"`
}

// UpdateArgs 是 update 的参数。
type UpdateArgs struct {
	ResourceID string
	DDO        ResourceDDO
	Item       DTokenItem
}

// ResourceArgs 只带商品编号。
type ResourceArgs struct {
	ResourceID string
}

// BuyArgs 是 buyDToken 的参数。
type BuyArgs struct {
	ResourceID string
	N          uint32
	Buyer      common.Address
	Payer      common.Address
}

// BuyBatchArgs 是 buyDTokens 的参数，ResourceIDs 与 Ns 一一对应。
type BuyBatchArgs struct {
	ResourceIDs []string
	Ns          []uint32
	Buyer       common.Address
	Payer       common.Address
}

// BuyAndSetAgentsArgs 是 buyDTokensAndSetAgents 的参数：批量购买后，
// 把 AuthorizedIndex 处商品的一个模板委托给 Agent，再使用 UseIndex 处商品的一个模板。
// 两步的份数都取对应下标的购买份数。
type BuyAndSetAgentsArgs struct {
	ResourceIDs          []string
	Ns                   []uint32
	Buyer                common.Address
	Payer                common.Address
	UseIndex             uint32
	AuthorizedIndex      uint32
	AuthorizedTemplateID string
	UseTemplateID        string
	Agent                common.Address
}

// ResellerArgs 是 buyDTokenFromReseller 的参数。
type ResellerArgs struct {
	ResourceID string
	N          uint32
	Buyer      common.Address
	Reseller   common.Address
}

// RewardArgs 是 buyDTokenReward 的参数。
type RewardArgs struct {
	ResourceID string
	N          uint32
	Buyer      common.Address
	Payer      common.Address
	UnitPrice  *big.Int
}

// UseArgs 是 useToken 的参数。
type UseArgs struct {
	ResourceID string
	Account    common.Address
	TemplateID string
	N          uint32
}

// AgentUseArgs 是 useTokenByAgent 的参数。
type AgentUseArgs struct {
	ResourceID string
	Account    common.Address
	Agent      common.Address
	TemplateID string
	N          uint32
}

// AgentsArgs 用于 setAgents 与 addAgents，作用于商品的全部模板。
type AgentsArgs struct {
	ResourceID string
	Account    common.Address
	Agents     []common.Address
	N          uint32
}

// RemoveAgentsArgs 是 removeAgents 的参数。
type RemoveAgentsArgs struct {
	ResourceID string
	Account    common.Address
	Agents     []common.Address
}

// TokenAgentsArgs 用于 setTokenAgents 与 addTokenAgents，只作用于一个模板。
type TokenAgentsArgs struct {
	ResourceID string
	Account    common.Address
	TemplateID string
	Agents     []common.Address
	N          uint32
}

// RemoveTokenAgentsArgs 是 removeTokenAgents 的参数。
type RemoveTokenAgentsArgs struct {
	ResourceID string
	Account    common.Address
	TemplateID string
	Agents     []common.Address
}
