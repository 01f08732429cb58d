package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/opensource-finance/rationguard/internal/domain"
)

const (
	defaultAMQPExchange = "rationguard.events"
	defaultAMQPQueue    = "rationguard"
)

// AMQPBus implements EventBus on a RabbitMQ topic exchange.
// Each topic is routed to a durable queue named after the queue prefix and the topic,
// so events survive a consumer restart.
type AMQPBus struct {
	mu            sync.Mutex
	conn          *amqp.Connection
	pubChan       *amqp.Channel
	exchange      string
	queuePrefix   string
	subscriptions map[string]*amqpSubscription
	closed        bool
}

type amqpSubscription struct {
	id    string
	topic string
	ch    *amqp.Channel
}

// NewAMQPBus dials RabbitMQ and declares the event exchange.
func NewAMQPBus(cfg domain.EventBusConfig) (*AMQPBus, error) {
	if cfg.AMQPUrl == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	if cfg.AMQPExchange == "" {
		cfg.AMQPExchange = defaultAMQPExchange
	}
	if cfg.AMQPQueue == "" {
		cfg.AMQPQueue = defaultAMQPQueue
	}

	conn, err := amqp.Dial(cfg.AMQPUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.AMQPExchange, // name
		"topic",          // type
		true,             // durable
		false,            // auto-deleted
		false,            // internal
		false,            // no-wait
		nil,              // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	slog.Info("RabbitMQ connected",
		"exchange", cfg.AMQPExchange,
		"queue_prefix", cfg.AMQPQueue,
	)

	return &AMQPBus{
		conn:          conn,
		pubChan:       ch,
		exchange:      cfg.AMQPExchange,
		queuePrefix:   cfg.AMQPQueue,
		subscriptions: make(map[string]*amqpSubscription),
	}, nil
}

// Publish sends a persistent message routed by topic.
func (b *AMQPBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}

	msg := &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	return b.pubChan.PublishWithContext(ctx,
		b.exchange, // exchange
		topic,      // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    msg.ID,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// Subscribe declares the topic queue, binds it and starts consuming.
// A delivery is acked after the handler succeeds and dropped when it fails.
func (b *AMQPBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	queue := b.queuePrefix + "." + topic
	_, err = ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	if err := ch.QueueBind(queue, topic, b.exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to bind queue %s: %w", queue, err)
	}

	sub := &amqpSubscription{
		id:    uuid.New().String(),
		topic: topic,
		ch:    ch,
	}

	deliveries, err := ch.ConsumeWithContext(ctx,
		queue,  // queue
		sub.id, // consumer tag
		false,  // auto-ack
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to consume %s: %w", queue, err)
	}

	go sub.consume(ctx, deliveries, handler)

	b.subscriptions[sub.id] = sub
	return sub, nil
}

func (s *amqpSubscription) consume(ctx context.Context, deliveries <-chan amqp.Delivery, handler domain.MessageHandler) {
	for d := range deliveries {
		var msg domain.Message
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			slog.Error("failed to unmarshal RabbitMQ message",
				"routing_key", d.RoutingKey,
				"error", err,
			)
			_ = d.Nack(false, false)
			continue
		}

		if err := handler(ctx, &msg); err != nil {
			slog.Error("handler error",
				"routing_key", d.RoutingKey,
				"message_id", msg.ID,
				"error", err,
			)
			_ = d.Nack(false, false)
			continue
		}
		_ = d.Ack(false)
	}
}

// Ping checks RabbitMQ connectivity.
func (b *AMQPBus) Ping(ctx context.Context) error {
	if b.conn.IsClosed() {
		return fmt.Errorf("RabbitMQ not connected")
	}
	return nil
}

// Close cancels every consumer and closes the connection.
func (b *AMQPBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, sub := range b.subscriptions {
		_ = sub.Unsubscribe()
	}
	b.subscriptions = make(map[string]*amqpSubscription)

	_ = b.pubChan.Close()
	return b.conn.Close()
}

// Unsubscribe cancels the consumer and closes its channel.
func (s *amqpSubscription) Unsubscribe() error {
	if err := s.ch.Cancel(s.id, false); err != nil && err != amqp.ErrClosed {
		return err
	}
	return s.ch.Close()
}

// Topic returns the subscribed topic.
func (s *amqpSubscription) Topic() string {
	return s.topic
}
