package domain

import (
	"context"
	"encoding/json"
)

// EventBus carries the asynchronous evaluation pipeline: batch requests in,
// completion and recommendation events out. Backed by Go channels in the
// Community tier and by NATS in the Pro tier. Every operation takes a
// tenantID; topics are isolated per tenant.
type EventBus interface {
	// Publish sends a message to a topic. Delivery is fire and forget.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope every bus payload travels in.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Decode unmarshals the payload into a typed pipeline message.
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
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
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for the evaluation pipeline.
const (
	TopicEvaluationRequested = "kestrel.evaluation.requested"
	TopicEvaluationCompleted = "kestrel.evaluation.completed"
	TopicRecommendation      = "kestrel.recommendation"
)
