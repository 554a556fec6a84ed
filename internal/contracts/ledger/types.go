// Package ledger 实现按 (模板, 持有人) 记账的使用权额度合约。
//
// 额度操作只接受来自已登记市场合约的调用，并且在账本内部再次校验
// 被扣减或授权账户的见证；两道检查都通过才会修改状态。模板操作由
// 模板创建者直接调用。
package ledger

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// TokenTemplate 描述一类可发行的使用权。
type TokenTemplate struct {
	ID         string           `cbor:"id"`
	Creator    common.Address   `cbor:"creator"`
	Payload    []byte           `cbor:"payload"`
	Authorized []common.Address `cbor:"authorized"`
}

// Allows 判断地址是否为创建者或被授权地址。
func (t *TokenTemplate) Allows(addr common.Address) bool {
	if t.Creator == addr {
		return true
	}
	for _, a := range t.Authorized {
		if a == addr {
			return true
		}
	}
	return false
}

// AgentQuota 是代理人可代为消费的额度。
type AgentQuota struct {
	Agent common.Address `cbor:"agent"`
	Count uint32         `cbor:"count"`
}

// HolderQuota 是持有人在某个模板下的额度以及代理授权，代理按地址排序。
type HolderQuota struct {
	Count  uint32       `cbor:"count"`
	Agents []AgentQuota `cbor:"agents"`
}

func (q *HolderQuota) find(agent common.Address) int {
	return sort.Search(len(q.Agents), func(i int) bool {
		return bytes.Compare(q.Agents[i].Agent.Bytes(), agent.Bytes()) >= 0
	})
}

// Agent 返回代理额度。
func (q *HolderQuota) Agent(agent common.Address) (uint32, bool) {
	i := q.find(agent)
	if i < len(q.Agents) && q.Agents[i].Agent == agent {
		return q.Agents[i].Count, true
	}
	return 0, false
}

func (q *HolderQuota) setAgent(agent common.Address, n uint32) {
	i := q.find(agent)
	if i < len(q.Agents) && q.Agents[i].Agent == agent {
		q.Agents[i].Count = n
		return
	}
	q.Agents = append(q.Agents, AgentQuota{})
	copy(q.Agents[i+1:], q.Agents[i:])
	q.Agents[i] = AgentQuota{Agent: agent, Count: n}
}

func (q *HolderQuota) removeAgent(agent common.Address) {
	i := q.find(agent)
	if i < len(q.Agents) && q.Agents[i].Agent == agent {
		q.Agents = append(q.Agents[:i], q.Agents[i+1:]...)
	}
}
