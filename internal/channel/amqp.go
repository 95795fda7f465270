package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stellarlinkco/chatcounter/internal/bus"
	"github.com/stellarlinkco/chatcounter/internal/config"
)

const (
	amqpChannelName  = "amqp"
	amqpPublishLimit = 5 * time.Second
)

// amqpEnvelope is the JSON body of an inbound broker message.
type amqpEnvelope struct {
	AuthorID    string `json:"author_id"`
	AuthorName  string `json:"author_name,omitempty"`
	CommunityID string `json:"community_id"`
	ChatID      string `json:"chat_id,omitempty"`
	Text        string `json:"text"`
	IsBot       bool   `json:"is_bot"`
	ReplyTo     string `json:"reply_to,omitempty"`
}

// amqpReply is the JSON body published for each outbound message.
type amqpReply struct {
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

// AMQPBroker is the subset of *amqp.Channel the channel uses.
type AMQPBroker interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// BrokerFactory dials the broker and opens a channel. closeConn releases the
// underlying connection.
type BrokerFactory func(url string) (broker AMQPBroker, closeConn func() error, err error)

var defaultBrokerFactory BrokerFactory = func(url string) (AMQPBroker, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, conn.Close, nil
}

// AMQPChannel consumes chat messages relayed through a RabbitMQ queue and
// publishes replies to the queue each message names, or the default reply
// queue.
type AMQPChannel struct {
	BaseChannel
	cfg       config.AMQPConfig
	factory   BrokerFactory
	broker    AMQPBroker
	closeConn func() error
	cancel    context.CancelFunc
}

func NewAMQPChannel(cfg config.AMQPConfig, b *bus.MessageBus) (*AMQPChannel, error) {
	return NewAMQPChannelWithFactory(cfg, b, defaultBrokerFactory)
}

// NewAMQPChannelWithFactory creates an AMQPChannel with a custom broker factory (for testing)
func NewAMQPChannelWithFactory(cfg config.AMQPConfig, b *bus.MessageBus, factory BrokerFactory) (*AMQPChannel, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	if cfg.Queue == "" {
		cfg.Queue = config.DefaultAMQPQueue
	}
	if cfg.ReplyQueue == "" {
		cfg.ReplyQueue = config.DefaultAMQPReplyQueue
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = config.DefaultAMQPPrefetch
	}
	return &AMQPChannel{
		BaseChannel: NewBaseChannel(amqpChannelName, b, cfg.AllowFrom),
		cfg:         cfg,
		factory:     factory,
	}, nil
}

func (a *AMQPChannel) Start(ctx context.Context) error {
	broker, closeConn, err := a.factory(a.cfg.URL)
	if err != nil {
		return err
	}
	a.broker = broker
	a.closeConn = closeConn

	for _, name := range []string{a.cfg.Queue, a.cfg.ReplyQueue} {
		if _, err := broker.QueueDeclare(
			name,  // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			a.release()
			return fmt.Errorf("declare queue %s: %w", name, err)
		}
	}

	if err := broker.Qos(a.cfg.Prefetch, 0, false); err != nil {
		a.release()
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := broker.Consume(
		a.cfg.Queue, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		a.release()
		return fmt.Errorf("register consumer: %w", err)
	}

	ctx, a.cancel = context.WithCancel(ctx)
	a.bind(ctx)
	go a.consume(ctx, deliveries)

	a.logger.Info("amqp: consuming", "queue", a.cfg.Queue)
	return nil
}

func (a *AMQPChannel) consume(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				a.logger.Warn("amqp: delivery channel closed")
				return
			}
			a.handleDelivery(d)
		case <-ctx.Done():
			return
		}
	}
}

// handleDelivery acks once the message is on the bus. Undecodable bodies are
// rejected without requeue; a message the bus no longer accepts is requeued.
func (a *AMQPChannel) handleDelivery(d amqp.Delivery) {
	var env amqpEnvelope
	if err := json.Unmarshal(d.Body, &env); err != nil || env.AuthorID == "" {
		a.logger.Warn("amqp: dropping malformed message", "error", err, "body", truncate(string(d.Body), 80))
		if err := d.Nack(false, false); err != nil {
			a.logger.Warn("amqp: nack failed", "error", err)
		}
		return
	}

	if a.IsAllowed(env.AuthorID) {
		chatID := env.ChatID
		if chatID == "" {
			chatID = env.CommunityID
		}
		replyTo := env.ReplyTo
		if replyTo == "" {
			replyTo = d.ReplyTo
		}
		ts := d.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}

		ok := a.publish(bus.InboundMessage{
			Channel:     amqpChannelName,
			SenderID:    env.AuthorID,
			SenderName:  env.AuthorName,
			ChatID:      chatID,
			CommunityID: env.CommunityID,
			IsBot:       env.IsBot,
			Content:     env.Text,
			Timestamp:   ts,
			Metadata: map[string]any{
				"reply_to":       replyTo,
				"correlation_id": d.CorrelationId,
			},
		})
		if !ok {
			if err := d.Nack(false, true); err != nil {
				a.logger.Warn("amqp: nack failed", "error", err)
			}
			return
		}
	} else {
		a.logger.Debug("amqp: rejected message", "sender", env.AuthorID)
	}

	if err := d.Ack(false); err != nil {
		a.logger.Warn("amqp: ack failed", "error", err)
	}
}

func (a *AMQPChannel) Send(msg bus.OutboundMessage) error {
	if a.broker == nil {
		return fmt.Errorf("amqp broker not connected")
	}

	queue := a.cfg.ReplyQueue
	var correlationID string
	if v, ok := msg.Metadata["reply_to"].(string); ok && v != "" {
		queue = v
	}
	if v, ok := msg.Metadata["correlation_id"].(string); ok {
		correlationID = v
	}

	body, err := json.Marshal(amqpReply{ChatID: msg.ChatID, Content: msg.Content})
	if err != nil {
		return fmt.Errorf("marshal amqp reply: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), amqpPublishLimit)
	defer cancel()
	err = a.broker.PublishWithContext(ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			CorrelationId: correlationID,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish amqp reply: %w", err)
	}
	return nil
}

func (a *AMQPChannel) release() {
	if a.broker != nil {
		_ = a.broker.Close()
		a.broker = nil
	}
	if a.closeConn != nil {
		_ = a.closeConn()
		a.closeConn = nil
	}
}

func (a *AMQPChannel) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.release()
	a.logger.Info("amqp: stopped")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
