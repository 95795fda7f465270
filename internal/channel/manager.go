package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/stellarlinkco/chatcounter/internal/bus"
	"github.com/stellarlinkco/chatcounter/internal/config"
)

type ChannelManager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
	logger   *slog.Logger
}

func NewChannelManager(cfg config.ChannelsConfig, b *bus.MessageBus) (*ChannelManager, error) {
	return NewChannelManagerWithGateway(cfg, config.GatewayConfig{}, b)
}

// NewChannelManagerWithGateway creates every enabled channel. The gateway
// config supplies the WebUI listen address.
func NewChannelManagerWithGateway(cfg config.ChannelsConfig, gwCfg config.GatewayConfig, b *bus.MessageBus) (*ChannelManager, error) {
	m := &ChannelManager{
		channels: make(map[string]Channel),
		bus:      b,
		logger:   slog.Default(),
	}

	if cfg.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Telegram, b)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.Register(ch)
	}

	if cfg.Discord.Enabled {
		ch, err := NewDiscordChannel(cfg.Discord, b)
		if err != nil {
			return nil, fmt.Errorf("init discord channel: %w", err)
		}
		m.Register(ch)
	}

	if cfg.WhatsApp.Enabled {
		ch, err := NewWhatsApp(cfg.WhatsApp, b)
		if err != nil {
			return nil, fmt.Errorf("create whatsapp channel: %w", err)
		}
		m.Register(ch)
	}

	if cfg.WebUI.Enabled {
		ch, err := NewWebUIChannel(cfg.WebUI, gwCfg, b)
		if err != nil {
			return nil, fmt.Errorf("init webui channel: %w", err)
		}
		m.Register(ch)
	}

	if cfg.AMQP.Enabled {
		ch, err := NewAMQPChannel(cfg.AMQP, b)
		if err != nil {
			return nil, fmt.Errorf("init amqp channel: %w", err)
		}
		m.Register(ch)
	}

	return m, nil
}

// SetLogger replaces the manager logger and passes it to every channel that
// accepts one.
func (m *ChannelManager) SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	m.logger = l
	for _, ch := range m.channels {
		if ls, ok := ch.(interface{ SetLogger(*slog.Logger) }); ok {
			ls.SetLogger(l)
		}
	}
}

// Register adds ch and subscribes it to outbound messages addressed to it.
func (m *ChannelManager) Register(ch Channel) {
	name := ch.Name()
	m.channels[name] = ch
	m.bus.SubscribeOutbound(name, func(msg bus.OutboundMessage) {
		if err := ch.Send(msg); err != nil {
			m.logger.Error("channel-mgr: send failed", "channel", name, "error", err)
		}
	})
}

func (m *ChannelManager) StartAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(m.channels))

	for name, ch := range m.channels {
		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()
			m.logger.Info("channel-mgr: starting", "channel", name)
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, ch)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

func (m *ChannelManager) StopAll() error {
	for name, ch := range m.channels {
		m.logger.Info("channel-mgr: stopping", "channel", name)
		if err := ch.Stop(); err != nil {
			m.logger.Warn("channel-mgr: stop failed", "channel", name, "error", err)
		}
	}
	return nil
}

// EnabledChannels returns the registered channel names, sorted.
func (m *ChannelManager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
