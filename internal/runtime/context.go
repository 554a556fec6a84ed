package runtime

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "DDXF-Market/internal/errors"
	"DDXF-Market/internal/events"
	"DDXF-Market/internal/storage"
)

// execution 保存一笔交易在调用树中共享的状态。
type execution struct {
	rt        *Runtime
	ctx       context.Context
	tx        *storage.Tx
	hash      common.Hash
	timestamp uint64
	witnesses map[common.Address]struct{}
	stack     []common.Address
	events    []events.Event
	// 第一个失败的嵌套调用。即使外层吞掉了错误，交易也会回滚。
	failed error
}

// Context 是单个调用帧的宿主接口。
type Context struct {
	exec    *execution
	self    common.Address
	caller  common.Address
	depth   int
	storage *Storage
}

// Self 返回当前执行合约的地址。
func (c *Context) Self() common.Address { return c.self }

// Caller 返回直接调用方；外部交易的调用方为零地址。
func (c *Context) Caller() common.Address { return c.caller }

// Context 返回交易的 context.Context。
func (c *Context) Context() context.Context { return c.exec.ctx }

// Timestamp 返回宿主时钟（Unix 秒）。
func (c *Context) Timestamp() uint64 { return c.exec.timestamp }

// TxHash 返回当前交易哈希。
func (c *Context) TxHash() common.Hash { return c.exec.hash }

// Storage 返回当前合约的存储分区。
func (c *Context) Storage() *Storage { return c.storage }

// CheckWitness 判断地址是否为交易签名者，或是否为调用栈上的合约。
func (c *Context) CheckWitness(addr common.Address) bool {
	if _, ok := c.exec.witnesses[addr]; ok {
		return true
	}
	for _, frame := range c.exec.stack {
		if frame == addr {
			return true
		}
	}
	return false
}

// RequireWitness 在缺少见证时返回 UNAUTHORIZED 错误。
func (c *Context) RequireWitness(addrs ...common.Address) error {
	for _, addr := range addrs {
		if !c.CheckWitness(addr) {
			return xerrors.Unauthorized("missing witness of %s", addr.Hex())
		}
	}
	return nil
}

// Invoke 同步调用另一个合约，失败时以 EXTERNAL_CALL_FAILED 包裹原始错误。
func (c *Context) Invoke(target common.Address, method string, args []byte) ([]byte, error) {
	mark := len(c.exec.events)
	out, err := c.exec.rt.invoke(c.exec, c.self, target, method, args, c.depth+1)
	if err != nil {
		c.exec.events = c.exec.events[:mark]
		if c.exec.failed == nil {
			c.exec.failed = err
		}
		return nil, xerrors.Wrap(xerrors.CodeExternalCall, err,
			fmt.Sprintf("call %s.%s failed", c.exec.rt.nameOf(target), method))
	}
	return out, nil
}

// Notify 缓存一条通知，交易提交后才会发布。
func (c *Context) Notify(name, key string, account common.Address, amount *big.Int) {
	var amt *big.Int
	if amount != nil {
		amt = new(big.Int).Set(amount)
	}
	c.exec.events = append(c.exec.events, events.Event{
		Contract: c.self,
		Name:     name,
		Key:      key,
		Account:  account,
		Amount:   amt,
		TxHash:   c.exec.hash,
	})
}
