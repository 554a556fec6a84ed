package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 通知发布参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// Channel 为 PUBLISH 使用的频道名。
	Channel string
	// Stream 非空时同时把通知追加到该 list，便于离线消费。
	Stream    string
	StreamCap int64
}

// RedisPublisher 通过 Redis Pub/Sub 分发通知。
type RedisPublisher struct {
	client    *redis.Client
	channel   string
	stream    string
	streamCap int64
}

// NewRedisPublisher 创建 Redis 发布器。
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisPublisherWithClient(client, cfg), nil
}

// NewRedisPublisherWithClient 复用已有的 Redis 客户端。
func NewRedisPublisherWithClient(client *redis.Client, cfg RedisConfig) *RedisPublisher {
	channel := cfg.Channel
	if channel == "" {
		channel = "ddxf:events"
	}
	capacity := cfg.StreamCap
	if capacity <= 0 {
		capacity = 10000
	}
	return &RedisPublisher{client: client, channel: channel, stream: cfg.Stream, streamCap: capacity}
}

// Publish 实现 Publisher。
func (p *RedisPublisher) Publish(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, ev := range events {
			payload, err := ev.Encode()
			if err != nil {
				return err
			}
			pipe.Publish(ctx, p.channel, payload)
			if p.stream != "" {
				pipe.LPush(ctx, p.stream, payload)
			}
		}
		if p.stream != "" {
			pipe.LTrim(ctx, p.stream, 0, p.streamCap-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("Redis 发布通知失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
