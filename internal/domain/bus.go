package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels, NATS or RabbitMQ.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel", "nats" or "amqp"
	Type string `mapstructure:"type"`

	// Channel settings
	ChannelBufferSize int `mapstructure:"channelbuffersize"`

	// NATS settings
	NATSUrl           string `mapstructure:"natsurl"`
	NATSToken         string `mapstructure:"natstoken"`
	NATSMaxReconnects int    `mapstructure:"natsmaxreconnects"`
	NATSReconnectWait int    `mapstructure:"natsreconnectwait"` // seconds
	NATSQueueGroup    string `mapstructure:"natsqueuegroup"`    // nodes in one group share each event

	// AMQP settings
	AMQPUrl      string `mapstructure:"amqpurl"`
	AMQPExchange string `mapstructure:"amqpexchange"`
	AMQPQueue    string `mapstructure:"amqpqueue"` // prefix for per-topic queues
}

// Standard topic names.
const (
	TopicTransactionRecorded = "rationguard.transaction.recorded"
	TopicAlertRaised         = "rationguard.alert.raised"
)

// TransactionEvent is published after a transaction is written.
type TransactionEvent struct {
	TransactionID string            `json:"transaction_id"`
	BeneficiaryID string            `json:"beneficiary_id,omitempty"`
	CardNumber    string            `json:"card_number"`
	ShopID        string            `json:"shop_id"`
	CycleID       string            `json:"cycle_id,omitempty"`
	Status        TransactionStatus `json:"status"`
	Confidence    float64           `json:"confidence"`
	AlertCount    int               `json:"alert_count"`
}

// AlertEvent is published after an alert is persisted.
type AlertEvent struct {
	AlertID       string    `json:"alert_id"`
	AlertType     AlertType `json:"alert_type"`
	Severity      Severity  `json:"severity"`
	TransactionID string    `json:"transaction_id"`
	CardNumber    string    `json:"card_number"`
	ShopID        string    `json:"shop_id"`
}
