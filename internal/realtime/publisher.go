package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/grade-portal/internal/models"
)

// EventNotification is the event type pushed for a new inbox entry.
const EventNotification = "notification"

// Event is the frame written to websocket clients.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// wireMessage travels over the redis channel between instances.
type wireMessage struct {
	Recipient string          `json:"recipient"`
	Event     json.RawMessage `json:"event"`
}

// bus is the subset of *redis.Client used for cross-instance fan-in.
type bus interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Publisher pushes notifications to connected clients. With a redis bus every instance
// receives the event and delivers it to its own clients; without one delivery is local.
type Publisher struct {
	hub     *Hub
	bus     bus
	channel string
	logger  *zap.Logger
}

// NewPublisher constructs a publisher. A nil bus keeps delivery in-process.
func NewPublisher(hub *Hub, rdb bus, channel string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{hub: hub, bus: rdb, channel: channel, logger: logger}
}

// Publish sends n to its recipient's connections.
func (p *Publisher) Publish(ctx context.Context, n *models.Notification) error {
	recipient := n.RecipientKey()
	if recipient == "" {
		return fmt.Errorf("notification %d has no recipient", n.ID)
	}
	event, err := json.Marshal(Event{Type: EventNotification, Data: n})
	if err != nil {
		return fmt.Errorf("encode realtime event: %w", err)
	}
	if p.bus == nil {
		p.hub.Deliver(recipient, event)
		return nil
	}
	msg, err := json.Marshal(wireMessage{Recipient: recipient, Event: event})
	if err != nil {
		return fmt.Errorf("encode realtime message: %w", err)
	}
	if err := p.bus.Publish(ctx, p.channel, msg).Err(); err != nil {
		return fmt.Errorf("publish realtime event: %w", err)
	}
	return nil
}

// Listen relays events from the redis channel into the local hub until ctx is done.
func (p *Publisher) Listen(ctx context.Context) error {
	if p.bus == nil {
		<-ctx.Done()
		return nil
	}
	sub := p.bus.Subscribe(ctx, p.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", p.channel, err)
	}
	p.logger.Info("realtime subscribed", zap.String("channel", p.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			p.relay(m.Payload)
		}
	}
}

func (p *Publisher) relay(payload string) {
	var msg wireMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil || msg.Recipient == "" {
		p.logger.Warn("discarding malformed realtime message", zap.Error(err))
		return
	}
	p.hub.Deliver(msg.Recipient, msg.Event)
}
