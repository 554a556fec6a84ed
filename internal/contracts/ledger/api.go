package ledger

import "github.com/ethereum/go-ethereum/common"

const (
	MethodGenerateDToken         = "generateDToken"
	MethodGenerateDTokenMulti    = "generateDTokenMulti"
	MethodUseToken               = "useToken"
	MethodUseTokenByAgent        = "useTokenByAgent"
	MethodTransferDToken         = "transferDToken"
	MethodTransferDTokenMulti    = "transferDTokenMulti"
	MethodSetAgents              = "setAgents"
	MethodAddAgents              = "addAgents"
	MethodRemoveAgents           = "removeAgents"
	MethodCreateTokenTemplate    = "createTokenTemplate"
	MethodAuthorizeTokenTemplate = "authorizeTokenTemplate"
	MethodRemoveAuthorizeAddr    = "removeAuthorizeAddr"
	MethodDeleteTokenTemplate    = "deleteTokenTemplate"
	MethodGetTokenTemplate       = "getTokenTemplate"
	MethodVerifyTemplateAccess   = "verifyTemplateAccess"
	MethodGetCountAndAgent       = "getCountAndAgent"
	MethodSetMarketplace         = "setMarketplace"
	MethodGetMarketplace         = "getMarketplace"
)

// IssueArgs 用于 generateDToken 与 useToken。
type IssueArgs struct {
	Account    common.Address
	TemplateID string
	N          uint32
}

// IssueMultiArgs 用于 generateDTokenMulti。
type IssueMultiArgs struct {
	Account     common.Address
	TemplateIDs []string
	N           uint32
}

// AgentUseArgs 用于 useTokenByAgent。
type AgentUseArgs struct {
	Account    common.Address
	Agent      common.Address
	TemplateID string
	N          uint32
}

// TransferArgs 用于 transferDToken。
type TransferArgs struct {
	From       common.Address
	To         common.Address
	TemplateID string
	N          uint32
}

// TransferMultiArgs 用于 transferDTokenMulti。
type TransferMultiArgs struct {
	From        common.Address
	To          common.Address
	TemplateIDs []string
	N           uint32
}

// AgentsArgs 用于 setAgents 与 addAgents。
type AgentsArgs struct {
	Account     common.Address
	TemplateIDs []string
	Agents      []common.Address
	N           uint32
}

// RemoveAgentsArgs 用于 removeAgents。
type RemoveAgentsArgs struct {
	Account     common.Address
	TemplateIDs []string
	Agents      []common.Address
}

// CreateTemplateArgs 用于 createTokenTemplate。
type CreateTemplateArgs struct {
	Creator common.Address
	Payload []byte
}

// TemplateAddrsArgs 用于 authorizeTokenTemplate 与 removeAuthorizeAddr。
type TemplateAddrsArgs struct {
	TemplateID string
	Addresses  []common.Address
}

// TemplateArgs 只带模板 ID。
type TemplateArgs struct {
	TemplateID string
}

// VerifyAccessArgs 用于 verifyTemplateAccess。
type VerifyAccessArgs struct {
	TemplateIDs []string
	Account     common.Address
}

// QuotaArgs 用于 getCountAndAgent。
type QuotaArgs struct {
	TemplateID string
	Account    common.Address
}

// AddressArgs 用于 setMarketplace。
type AddressArgs struct {
	Address common.Address
}
