package channel

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stellarlinkco/chatcounter/internal/bus"
	"github.com/stellarlinkco/chatcounter/internal/config"
)

type mockDiscordSession struct {
	opened   bool
	closed   atomic.Bool
	openErr  error
	sendErr  error
	handler  func(*discordgo.Session, *discordgo.MessageCreate)
	removed  bool
	sent     []string
	sentChan []string
}

func (m *mockDiscordSession) Open() error {
	m.opened = true
	return m.openErr
}

func (m *mockDiscordSession) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *mockDiscordSession) AddHandler(handler interface{}) func() {
	m.handler = handler.(func(*discordgo.Session, *discordgo.MessageCreate))
	return func() { m.removed = true }
}

func (m *mockDiscordSession) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sentChan = append(m.sentChan, channelID)
	m.sent = append(m.sent, content)
	return &discordgo.Message{ID: "m1"}, nil
}

func newDiscordTestChannel(t *testing.T, session *mockDiscordSession, allowFrom []string) (*DiscordChannel, *bus.MessageBus) {
	t.Helper()
	b := bus.NewMessageBus(10)
	ch, err := NewDiscordChannelWithFactory(config.DiscordConfig{Token: "fake-token", AllowFrom: allowFrom}, b,
		func(token string) (DiscordSession, error) { return session, nil })
	if err != nil {
		t.Fatalf("NewDiscordChannelWithFactory: %v", err)
	}
	return ch, b
}

func discordMessage(authorID, guildID, content string, bot bool) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "msg-1",
		ChannelID: "chan-1",
		GuildID:   guildID,
		Content:   content,
		Timestamp: time.Unix(1700000000, 0),
		Author:    &discordgo.User{ID: authorID, Username: "user-" + authorID, Bot: bot},
	}}
}

func TestNewDiscordChannel_NoToken(t *testing.T) {
	if _, err := NewDiscordChannel(config.DiscordConfig{}, bus.NewMessageBus(1)); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestDiscordChannel_StartAndReceive(t *testing.T) {
	session := &mockDiscordSession{}
	ch, b := newDiscordTestChannel(t, session, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !session.opened || session.handler == nil {
		t.Fatal("session should be opened with a handler")
	}

	session.handler(nil, discordMessage("u1", "g1", "hello world", false))

	select {
	case inbound := <-b.Inbound:
		if inbound.Channel != "discord" || inbound.SenderID != "u1" || inbound.CommunityID != "g1" {
			t.Errorf("inbound = %+v", inbound)
		}
		if inbound.ChatID != "chan-1" || inbound.SenderName != "user-u1" || inbound.Content != "hello world" {
			t.Errorf("inbound = %+v", inbound)
		}
	default:
		t.Fatal("expected inbound message")
	}

	if err := ch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !session.removed || !session.closed.Load() {
		t.Error("Stop should remove the handler and close the session")
	}
}

func TestDiscordChannel_StartErrors(t *testing.T) {
	session := &mockDiscordSession{openErr: fmt.Errorf("gateway refused")}
	ch, _ := newDiscordTestChannel(t, session, nil)
	if err := ch.Start(context.Background()); err == nil {
		t.Error("expected open error")
	}
	if !session.removed {
		t.Error("handler should be removed after a failed open")
	}

	failing, _ := NewDiscordChannelWithFactory(config.DiscordConfig{Token: "x"}, bus.NewMessageBus(1),
		func(string) (DiscordSession, error) { return nil, fmt.Errorf("bad token") })
	if err := failing.Start(context.Background()); err == nil {
		t.Error("expected factory error")
	}
}

func TestDiscordChannel_HandleMessage(t *testing.T) {
	tests := []struct {
		name      string
		allowFrom []string
		msg       *discordgo.MessageCreate
		wantSent  bool
		wantBot   bool
	}{
		{"guild message", nil, discordMessage("u1", "g1", "hi", false), true, false},
		{"direct message has no guild", nil, discordMessage("u1", "", "hi", false), true, false},
		{"bot author is flagged", nil, discordMessage("b1", "g1", "beep", true), true, true},
		{"rejected sender", []string{"u2"}, discordMessage("u1", "g1", "hi", false), false, false},
		{"nil author", nil, &discordgo.MessageCreate{Message: &discordgo.Message{Content: "x"}}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, b := newDiscordTestChannel(t, &mockDiscordSession{}, tt.allowFrom)
			ch.handleMessage(tt.msg)

			select {
			case inbound := <-b.Inbound:
				if !tt.wantSent {
					t.Fatalf("unexpected inbound %+v", inbound)
				}
				if inbound.IsBot != tt.wantBot {
					t.Errorf("IsBot = %v, want %v", inbound.IsBot, tt.wantBot)
				}
				if inbound.CommunityID != tt.msg.GuildID {
					t.Errorf("community = %q, want %q", inbound.CommunityID, tt.msg.GuildID)
				}
			default:
				if tt.wantSent {
					t.Fatal("expected inbound message")
				}
			}
		})
	}
}

func TestDiscordChannel_Send(t *testing.T) {
	session := &mockDiscordSession{}
	ch, _ := newDiscordTestChannel(t, session, nil)

	if err := ch.Send(bus.OutboundMessage{ChatID: "chan-1", Content: "hi"}); err == nil {
		t.Error("expected error before a session exists")
	}

	ch.SetSession(session)
	if err := ch.Send(bus.OutboundMessage{Content: "hi"}); err == nil {
		t.Error("expected error for empty channel id")
	}

	long := strings.Repeat("word word word\n", 300)
	if err := ch.Send(bus.OutboundMessage{ChatID: "chan-1", Content: long}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(session.sent) < 2 {
		t.Fatalf("expected the reply to be split, got %d chunks", len(session.sent))
	}
	for _, chunk := range session.sent {
		if len(chunk) > discordMaxLen {
			t.Errorf("chunk length %d exceeds %d", len(chunk), discordMaxLen)
		}
	}
	if session.sentChan[0] != "chan-1" {
		t.Errorf("sent to %q", session.sentChan[0])
	}

	session.sendErr = fmt.Errorf("rate limited")
	if err := ch.Send(bus.OutboundMessage{ChatID: "chan-1", Content: "hi"}); err == nil {
		t.Error("expected send error")
	}
}
