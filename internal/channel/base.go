package channel

import (
	"context"
	"log/slog"

	"github.com/stellarlinkco/chatcounter/internal/bus"
)

// Channel is one chat transport. Start must not block; Send delivers a reply.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}

type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]struct{}
	logger    *slog.Logger
	// runCtx bounds inbound publishing; set by Start before any receive
	// goroutine exists.
	runCtx context.Context
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	allowed := make(map[string]struct{}, len(allowFrom))
	for _, id := range allowFrom {
		allowed[id] = struct{}{}
	}
	return BaseChannel{
		name:      name,
		bus:       b,
		allowFrom: allowed,
		logger:    slog.Default().With("channel", name),
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

// IsAllowed reports whether senderID may be counted. An empty allow-list
// admits everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	_, ok := c.allowFrom[senderID]
	return ok
}

// SetLogger replaces the channel logger.
func (c *BaseChannel) SetLogger(l *slog.Logger) {
	if l != nil {
		c.logger = l.With("channel", c.name)
	}
}

func (c *BaseChannel) bind(ctx context.Context) {
	c.runCtx = ctx
}

// publish queues msg for the gateway. It gives up and returns false once the
// channel's run context is done, so receivers never block after shutdown.
func (c *BaseChannel) publish(msg bus.InboundMessage) bool {
	ctx := c.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.bus.PublishInbound(ctx, msg); err != nil {
		c.logger.Warn("channel: inbound message dropped", "sender", msg.SenderID, "error", err)
		return false
	}
	return true
}
