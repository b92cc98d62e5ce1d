// Package publish forwards completion events to a watermill publisher so
// other services can follow chats as they stream.
package publish

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/paularlott/duckchat"
)

// DefaultTopic is the topic events are published on
const DefaultTopic = "duckchat.completion"

// CompletionEvent is the payload of a published message
type CompletionEvent struct {
	CallID    string            `json:"call_id"`
	Type      string            `json:"type"`
	Delta     string            `json:"delta,omitempty"`
	Error     string            `json:"error,omitempty"`
	Message   *duckchat.Message `json:"message,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Observer publishes every event it receives. Publishing failures are logged
// and never interrupt the stream.
type Observer struct {
	publisher message.Publisher
	topic     string
	deltas    bool
	logger    *slog.Logger
}

// Option configures an Observer
type Option func(*Observer)

// WithTopic sets the topic
func WithTopic(topic string) Option {
	return func(o *Observer) {
		o.topic = topic
	}
}

// WithoutDeltas publishes only done and error events
func WithoutDeltas() Option {
	return func(o *Observer) {
		o.deltas = false
	}
}

// WithLogger sets the logger used for publish failures
func WithLogger(logger *slog.Logger) Option {
	return func(o *Observer) {
		o.logger = logger
	}
}

// NewObserver creates an observer publishing to publisher
func NewObserver(publisher message.Publisher, opts ...Option) *Observer {
	o := &Observer{
		publisher: publisher,
		topic:     DefaultTopic,
		deltas:    true,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OnEvent implements duckchat.Observer
func (o *Observer) OnEvent(e duckchat.Event) {
	if e.Type == duckchat.EventCompletion && !o.deltas {
		return
	}
	if err := o.Publish(e); err != nil {
		o.logger.Warn("failed to publish completion event", "call_id", e.CallID, "type", e.Type, "error", err)
	}
}

// Publish sends a single event
func (o *Observer) Publish(e duckchat.Event) error {
	event := CompletionEvent{
		CallID:    e.CallID,
		Type:      string(e.Type),
		Delta:     e.Delta,
		Timestamp: time.Now().UTC(),
	}
	if e.Err != nil {
		event.Error = e.Err.Error()
	}
	if e.Result != nil {
		msg := e.Result.Message
		event.Message = &msg
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("call_id", e.CallID)
	msg.Metadata.Set("type", string(e.Type))

	if err := o.publisher.Publish(o.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
