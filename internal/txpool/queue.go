package txpool

import "context"

// Handler 处理来自队列的交易哈希。
type Handler func(ctx context.Context, hash string) error

// Producer 负责向队列投递交易哈希。
type Producer interface {
	Publish(ctx context.Context, hash string) error
	Close() error
}

// Consumer 负责从队列中消费交易哈希。
//
// 处理失败的消息同样会被确认，交易的最终状态以回执为准。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
