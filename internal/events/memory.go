package events

import (
	"context"
	"sync"
)

// MemoryPublisher 在内存中保存通知，并支持订阅。
type MemoryPublisher struct {
	mu      sync.RWMutex
	history []Event
	limit   int
	subs    map[int]chan Event
	nextSub int
	closed  bool
}

// NewMemoryPublisher 创建内存发布器，limit 为保留的历史条数。
func NewMemoryPublisher(limit int) *MemoryPublisher {
	if limit <= 0 {
		limit = 1024
	}
	return &MemoryPublisher{limit: limit, subs: make(map[int]chan Event)}
}

// Publish 实现 Publisher。订阅者处理不及时的通知会被丢弃。
func (p *MemoryPublisher) Publish(_ context.Context, events []Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.history = append(p.history, events...)
	if over := len(p.history) - p.limit; over > 0 {
		p.history = append([]Event(nil), p.history[over:]...)
	}
	for _, ch := range p.subs {
		for _, ev := range events {
			select {
			case ch <- ev:
			default:
			}
		}
	}
	return nil
}

// Subscribe 返回通知 channel 以及取消订阅函数。
func (p *MemoryPublisher) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	ch := make(chan Event, buffer)
	p.subs[id] = ch
	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(c)
		}
	}
}

// History 返回最近的通知。
func (p *MemoryPublisher) History() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Event, len(p.history))
	copy(out, p.history)
	return out
}

// Close 实现 Publisher。
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
	return nil
}
