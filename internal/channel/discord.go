package channel

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/stellarlinkco/chatcounter/internal/bus"
	"github.com/stellarlinkco/chatcounter/internal/config"
)

const (
	discordChannelName = "discord"
	discordMaxLen      = 1900
)

// DiscordSession is the subset of *discordgo.Session the channel uses.
type DiscordSession interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// SessionFactory creates DiscordSession instances (allows mocking)
type SessionFactory func(token string) (DiscordSession, error)

var defaultSessionFactory SessionFactory = func(token string) (DiscordSession, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers
	return s, nil
}

// DiscordChannel counts guild messages. The guild is the community; direct
// messages carry none.
type DiscordChannel struct {
	BaseChannel
	token          string
	session        DiscordSession
	sessionFactory SessionFactory
	removeHandler  func()
}

func NewDiscordChannel(cfg config.DiscordConfig, b *bus.MessageBus) (*DiscordChannel, error) {
	return NewDiscordChannelWithFactory(cfg, b, defaultSessionFactory)
}

// NewDiscordChannelWithFactory creates a DiscordChannel with a custom session factory (for testing)
func NewDiscordChannelWithFactory(cfg config.DiscordConfig, b *bus.MessageBus, factory SessionFactory) (*DiscordChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	return &DiscordChannel{
		BaseChannel:    NewBaseChannel(discordChannelName, b, cfg.AllowFrom),
		token:          cfg.Token,
		sessionFactory: factory,
	}, nil
}

func (d *DiscordChannel) Start(ctx context.Context) error {
	d.bind(ctx)
	session, err := d.sessionFactory(d.token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	d.session = session
	d.removeHandler = session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		d.handleMessage(m)
	})

	if err := session.Open(); err != nil {
		d.removeHandler()
		return fmt.Errorf("open discord session: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = d.session.Close()
	}()

	d.logger.Info("discord: connected")
	return nil
}

func (d *DiscordChannel) handleMessage(m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	if !d.IsAllowed(m.Author.ID) {
		d.logger.Debug("discord: rejected message", "sender", m.Author.ID, "username", m.Author.Username)
		return
	}

	d.publish(bus.InboundMessage{
		Channel:     discordChannelName,
		SenderID:    m.Author.ID,
		SenderName:  m.Author.Username,
		ChatID:      m.ChannelID,
		CommunityID: m.GuildID,
		IsBot:       m.Author.Bot,
		Content:     m.Content,
		Timestamp:   m.Timestamp,
		Metadata: map[string]any{
			"message_id": m.ID,
		},
	})
}

func (d *DiscordChannel) Send(msg bus.OutboundMessage) error {
	if d.session == nil {
		return fmt.Errorf("discord session not initialized")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("discord channel id is required")
	}
	for _, chunk := range splitMessage(msg.Content, discordMaxLen) {
		if _, err := d.session.ChannelMessageSend(msg.ChatID, chunk); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

func (d *DiscordChannel) Stop() error {
	if d.removeHandler != nil {
		d.removeHandler()
		d.removeHandler = nil
	}
	if d.session != nil {
		if err := d.session.Close(); err != nil {
			return fmt.Errorf("close discord session: %w", err)
		}
	}
	d.logger.Info("discord: stopped")
	return nil
}

// SetSession sets the session (for testing)
func (d *DiscordChannel) SetSession(s DiscordSession) {
	d.session = s
}
