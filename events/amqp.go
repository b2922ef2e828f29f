package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/replk8/voice-agent/logger"
)

// Exchange is the topic exchange call events are published to; the routing
// key is the event type, e.g. "call.answered".
const Exchange = "voice.events"

// AMQPPublisher publishes events to RabbitMQ
type AMQPPublisher struct {
	url string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	log     *logger.Logger
}

// NewAMQPPublisher connects and declares the exchange
func NewAMQPPublisher(url string) (*AMQPPublisher, error) {
	p := &AMQPPublisher{url: url, log: logger.Component("amqp")}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s: %w", Exchange, err)
	}

	p.conn = conn
	p.channel = ch
	p.log.Info("Connected to RabbitMQ")
	return nil
}

// Publish sends the event as persistent JSON. A closed connection is
// re-dialed once before giving up.
func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	msg, err := encodePublishing(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		p.log.Warn("RabbitMQ connection lost, reconnecting")
		if err := p.connect(); err != nil {
			return err
		}
	}

	if err := p.channel.PublishWithContext(ctx, Exchange, event.Type, false, false, msg); err != nil {
		return fmt.Errorf("publish to %s/%s: %w", Exchange, event.Type, err)
	}
	p.log.Debug("Published %s event %s", event.Type, event.ID)
	return nil
}

// Close closes the channel and connection
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn.Close()
	}
	return nil
}

func encodePublishing(event Event) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         event.Type,
		Timestamp:    event.Timestamp,
		Body:         body,
	}, nil
}
