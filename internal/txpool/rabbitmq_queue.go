package txpool

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "DDXF-Market/internal/errors"
)

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 使用 RabbitMQ 实现交易队列。
//
// 投递与消费使用不同的 channel，投递端开启 publisher confirm，
// Publish 返回时消息已被 broker 接收。
type RabbitMQQueue struct {
	conn    *amqp.Connection
	pub     *amqp.Channel
	sub     *amqp.Channel
	queue   string
	closeCh chan *amqp.Error
}

// NewRabbitMQQueue 连接 broker 并声明队列。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	if cfg.Queue == "" {
		cfg.Queue = "ddxf.txpool"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 RabbitMQ 失败")
	}
	q := &RabbitMQQueue{conn: conn, queue: cfg.Queue}
	if err := q.setup(cfg); err != nil {
		_ = q.Close()
		return nil, err
	}
	q.closeCh = conn.NotifyClose(make(chan *amqp.Error, 1))
	return q, nil
}

func (q *RabbitMQQueue) setup(cfg RabbitMQConfig) error {
	var err error
	if q.pub, err = q.conn.Channel(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "创建 RabbitMQ 投递 channel 失败")
	}
	if err := q.pub.Confirm(false); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "开启 publisher confirm 失败")
	}
	if _, err := q.pub.QueueDeclare(cfg.Queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "声明 RabbitMQ 队列失败")
	}
	if q.sub, err = q.conn.Channel(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "创建 RabbitMQ 消费 channel 失败")
	}
	if cfg.Prefetch > 0 {
		if err := q.sub.Qos(cfg.Prefetch, 0, false); err != nil {
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "设置 RabbitMQ QOS 失败")
		}
	}
	return nil
}

// Publish 投递交易哈希并等待 broker 确认。
func (q *RabbitMQQueue) Publish(ctx context.Context, hash string) error {
	if q == nil || q.pub == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 队列未初始化")
	}
	confirm, err := q.pub.PublishWithDeferredConfirmWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		MessageId:    hash,
		Timestamp:    time.Now(),
		Body:         []byte(hash),
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "RabbitMQ 投递交易失败")
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "等待 RabbitMQ 确认超时")
	}
	if !acked {
		return xerrors.Newf(xerrors.CodeQueueFailure, "RabbitMQ 拒绝了交易 %s", hash)
	}
	return nil
}

// Consume 以手动确认模式消费。处理结果写入回执，消息总是被确认。
// 连接断开时返回 QUEUE_FAILURE。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.sub == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 队列未初始化")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	deliveries, err := q.sub.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 RabbitMQ 队列失败")
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lostCh := make(chan error, 1)
	go func() {
		var lost error
		select {
		case <-ctx.Done():
		case amqpErr, ok := <-q.closeCh:
			if ok && amqpErr != nil {
				lost = xerrors.Wrap(xerrors.CodeQueueFailure, amqpErr, "RabbitMQ 连接中断")
			}
			cancel()
		}
		lostCh <- lost
	}()

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					_ = handler(ctx, string(d.Body))
					_ = d.Ack(false)
				}
			}
		}()
	}
	wg.Wait()
	cancel()
	if lost := <-lostCh; lost != nil {
		return lost
	}
	return parent.Err()
}

// Close 依次关闭 channel 与连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	for _, ch := range []*amqp.Channel{q.sub, q.pub} {
		if ch != nil {
			_ = ch.Close()
		}
	}
	if q.conn != nil && !q.conn.IsClosed() {
		return q.conn.Close()
	}
	return nil
}
