package bus

import (
	"context"
	"log/slog"
	"sync"
)

// OutboundHandler delivers a message through one channel.
type OutboundHandler func(msg OutboundMessage)

// MessageBus carries inbound messages from channels to the gateway and routes
// outbound replies back to the channel named in each message.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu       sync.RWMutex
	handlers map[string][]OutboundHandler
	logger   *slog.Logger
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize < 0 {
		bufSize = 0
	}
	return &MessageBus{
		Inbound:  make(chan InboundMessage, bufSize),
		Outbound: make(chan OutboundMessage, bufSize),
		handlers: make(map[string][]OutboundHandler),
		logger:   slog.Default(),
	}
}

// SetLogger replaces the logger used for dropped messages.
func (b *MessageBus) SetLogger(l *slog.Logger) {
	if l != nil {
		b.logger = l
	}
}

// SubscribeOutbound registers fn for outbound messages addressed to channel.
func (b *MessageBus) SubscribeOutbound(channel string, fn OutboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = append(b.handlers[channel], fn)
}

// PublishInbound queues msg for the gateway, giving up when ctx is done.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	select {
	case b.Inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishOutbound queues msg for delivery, giving up when ctx is done.
func (b *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	select {
	case b.Outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DispatchOutbound delivers outbound messages to their channel handlers until
// ctx is cancelled.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.dispatch(msg)
		case <-ctx.Done():
			return
		}
	}
}

func (b *MessageBus) dispatch(msg OutboundMessage) {
	b.mu.RLock()
	handlers := b.handlers[msg.Channel]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Warn("bus: no handler for outbound message", "channel", msg.Channel, "chat", msg.ChatID)
		return
	}
	for _, fn := range handlers {
		fn(msg)
	}
}
