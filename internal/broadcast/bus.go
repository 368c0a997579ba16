// Package broadcast carries download-count messages between counter instances.
// It mirrors a browser BroadcastChannel: publishers never hear their own
// messages back (subscribers filter on Origin), delivery order across
// instances is not guaranteed, and an unavailable channel degrades to a no-op
// bus so callers never need to special-case restricted environments.
package broadcast

import (
	"sync"
)

// MessageType 区分两种消息形态。
type MessageType string

const (
	// TypeCountsUpdate 携带完整计数快照。
	TypeCountsUpdate MessageType = "counts-update"
	// TypeOptimisticIncrement 携带单个应用的乐观 +1。
	TypeOptimisticIncrement MessageType = "optimistic-increment"
)

// Message 是总线上传递的统一载体。快照消息的 Counts 是完整映射；
// 乐观自增消息带 BundleID，其 Counts 只含发起方自增后的那一个值，
// 接收方按 max 合并。nil 计数表示“未知”。
type Message struct {
	Type     MessageType       `json:"type"`
	Origin   string            `json:"origin"`
	Counts   map[string]*int64 `json:"counts,omitempty"`
	BundleID string            `json:"bundleId,omitempty"`
}

// Bus 抽象跨实例的发布/订阅通道。
type Bus interface {
	// Publish 异步投递消息，永不阻塞调用方。
	Publish(msg Message)
	// Subscribe 注册处理函数，返回取消函数。处理函数在独立 goroutine 中被调用。
	Subscribe(handler func(Message)) (cancel func())
	// Close 关闭通道，之后的 Publish 静默丢弃。
	Close() error
}

// NewMemoryBus 返回进程内总线实现。
func NewMemoryBus() Bus {
	return &memoryBus{handlers: make(map[int]func(Message))}
}

type memoryBus struct {
	mu       sync.Mutex
	closed   bool
	nextID   int
	handlers map[int]func(Message)
}

func (b *memoryBus) Publish(msg Message) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	targets := make([]func(Message), 0, len(b.handlers))
	for _, handler := range b.handlers {
		targets = append(targets, handler)
	}
	b.mu.Unlock()

	// 投递放到独立 goroutine：发布方可能正持有自身状态锁。
	go func() {
		for _, handler := range targets {
			handler(msg)
		}
	}()
}

func (b *memoryBus) Subscribe(handler func(Message)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || handler == nil {
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

func (b *memoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[int]func(Message))
	return nil
}

// NewNopBus 返回在广播机制不可用时使用的空实现，所有操作均为安全空操作。
func NewNopBus() Bus {
	return nopBus{}
}

type nopBus struct{}

func (nopBus) Publish(Message)                      {}
func (nopBus) Subscribe(func(Message)) (cancel func()) { return func() {} }
func (nopBus) Close() error                         { return nil }
