package bus

import (
	"context"
	"sync"
)

// MessageBus carries messages between channels and the gateway.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string]func(OutboundMessage)
}

func NewMessageBus(bufSize int) *MessageBus {
	return &MessageBus{
		Inbound:     make(chan InboundMessage, bufSize),
		Outbound:    make(chan OutboundMessage, bufSize),
		subscribers: make(map[string]func(OutboundMessage)),
	}
}

// SubscribeOutbound registers the sender for a channel name.
func (b *MessageBus) SubscribeOutbound(channel string, fn func(OutboundMessage)) {
	b.mu.Lock()
	b.subscribers[channel] = fn
	b.mu.Unlock()
}

// DispatchOutbound delivers outbound messages until ctx is done. Messages for
// one channel are delivered in order.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.mu.RLock()
			fn := b.subscribers[msg.Channel]
			b.mu.RUnlock()
			if fn != nil {
				fn(msg)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Drain delivers every message already queued on Outbound and returns how
// many were delivered. It does not wait for new ones.
func (b *MessageBus) Drain() int {
	n := 0
	for {
		select {
		case msg := <-b.Outbound:
			b.mu.RLock()
			fn := b.subscribers[msg.Channel]
			b.mu.RUnlock()
			if fn != nil {
				fn(msg)
			}
			n++
		default:
			return n
		}
	}
}
