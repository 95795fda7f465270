package bus

import (
	"time"
)

// InboundMessage is one chat message received by a channel. CommunityID is
// empty when the message arrived outside any group or server context.
type InboundMessage struct {
	Channel     string
	SenderID    string
	SenderName  string
	ChatID      string
	CommunityID string
	IsBot       bool
	Content     string
	Timestamp   time.Time
	Metadata    map[string]any
}

func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	ReplyTo  string
	Metadata map[string]any
}
