package kafka

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"supporthub-ws/internal/domain"

	"github.com/segmentio/kafka-go"
)

const (
	TopicChatMessages = "chat-messages"
	TopicTyping       = "typing-indicators"
	TopicPresence     = "presence-events"
)

// MessageEvent mirrors a stored chat message onto the event bus.
// Origin is the publishing hub instance, so consumers can skip their
// own events.
type MessageEvent struct {
	Origin  string         `json:"origin"`
	Message domain.Message `json:"message"`
}

// PresenceEvent mirrors a typing or online/offline transition.
type PresenceEvent struct {
	Origin    string                `json:"origin"`
	Signal    domain.PresenceSignal `json:"signal"`
	Timestamp time.Time             `json:"timestamp"`
}

// Producer publishes hub events to their per-type topics. Implements
// hub.EventPublisher.
type Producer struct {
	writer *kafka.Writer
	origin string
}

func NewProducer(broker, origin string) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(broker),
		Balancer: &kafka.LeastBytes{},
		// Optimize for low latency over batching
		BatchSize:    1,
		BatchTimeout: 0 * time.Millisecond,
		RequiredAcks: 1,
		Async:        false,
	}
	return &Producer{writer: writer, origin: origin}
}

// PublishMessage sends a stored chat message to the chat-messages
// topic, keyed by conversation so per-conversation order survives
// partitioning.
func (p *Producer) PublishMessage(ctx context.Context, msg domain.Message) error {
	return p.publish(ctx, TopicChatMessages, []byte(msg.ConversationKey), MessageEvent{
		Origin:  p.origin,
		Message: msg,
	})
}

// PublishPresence routes typing signals and online/offline transitions
// to their topics.
func (p *Producer) PublishPresence(ctx context.Context, sig domain.PresenceSignal) error {
	topic := TopicPresence
	if sig.Kind == domain.PresenceTyping {
		topic = TopicTyping
	}
	return p.publish(ctx, topic, []byte(sig.SubjectID), PresenceEvent{
		Origin:    p.origin,
		Signal:    sig,
		Timestamp: time.Now().UTC(),
	})
}

func (p *Producer) publish(ctx context.Context, topic string, key []byte, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: data,
	})
	if err != nil {
		log.Printf("Failed to publish to Kafka topic %s: %v", topic, err)
		return err
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
