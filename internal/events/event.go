// Package events 负责把交易提交后的合约通知分发给链下观察者。
//
// 通知是旁路信道：发布失败只记录日志，不影响已经提交的状态。
package events

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event 是一条合约通知。
type Event struct {
	ID       string         `json:"id"`
	Contract common.Address `json:"contract"`
	Name     string         `json:"name"`
	Key      string         `json:"key,omitempty"`
	Account  common.Address `json:"account"`
	Amount   *big.Int       `json:"amount,omitempty"`
	TxHash   common.Hash    `json:"tx_hash"`
}

// Encode 把通知编码为 JSON，供消息中间件使用。
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode 从 JSON 解析通知。
func Decode(data []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(data, &ev)
	return ev, err
}

// Publisher 接收一次已提交交易产生的全部通知。
type Publisher interface {
	Publish(ctx context.Context, events []Event) error
	Close() error
}

// Nop 丢弃所有通知。
type Nop struct{}

// Publish 实现 Publisher。
func (Nop) Publish(context.Context, []Event) error { return nil }

// Close 实现 Publisher。
func (Nop) Close() error { return nil }
