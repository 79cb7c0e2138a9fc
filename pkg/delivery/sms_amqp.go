package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// publisher is the subset of *amqp.Channel used by the SMS gateway.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// smsEnvelope is the payload consumed by the SMS gateway worker.
type smsEnvelope struct {
	To       string    `json:"to"`
	Name     string    `json:"name,omitempty"`
	Text     string    `json:"text"`
	QueuedAt time.Time `json:"queued_at"`
}

// AMQPSMS hands SMS messages to a gateway over a durable RabbitMQ queue.
type AMQPSMS struct {
	conn  *amqp.Connection
	ch    publisher
	queue string
}

// NewAMQPSMS dials url and declares queue.
func NewAMQPSMS(url, queue string) (*AMQPSMS, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare sms queue: %w", err)
	}
	return &AMQPSMS{conn: conn, ch: ch, queue: queue}, nil
}

func (s *AMQPSMS) Name() string { return ChannelSMS }

// Send publishes a persistent message combining subject and body.
func (s *AMQPSMS) Send(ctx context.Context, to Recipient, msg Message) error {
	if to.Phone == "" {
		return ErrNoAddress
	}
	text := msg.Body
	if msg.Subject != "" {
		text = msg.Subject + ": " + msg.Body
	}
	body, err := json.Marshal(smsEnvelope{To: to.Phone, Name: to.Name, Text: text, QueuedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode sms: %w", err)
	}
	err = s.ch.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish sms: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (s *AMQPSMS) Close() error {
	if c, ok := s.ch.(*amqp.Channel); ok && c != nil {
		if err := c.Close(); err != nil {
			return err
		}
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
