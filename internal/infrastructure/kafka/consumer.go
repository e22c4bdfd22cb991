package kafka

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// EventHandler receives events consumed from the bus. The delivery
// layer implements it to forward cross-instance events to locally
// connected principals.
type EventHandler interface {
	HandleMessageEvent(event MessageEvent)
	HandlePresenceEvent(event PresenceEvent)
}

// Consumer reads the hub's topics in a consumer group and feeds the
// handler. Read errors are tolerated and logged; the loop only stops
// with the context.
type Consumer struct {
	readers []*kafka.Reader
	handler EventHandler
}

func NewConsumer(brokers []string, groupID string, topics []string, handler EventHandler) *Consumer {
	var readers []*kafka.Reader

	for _, topic := range topics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 100 * time.Millisecond,
			StartOffset:    kafka.LastOffset,
			MaxWait:        100 * time.Millisecond,
		})
		readers = append(readers, reader)
	}

	return &Consumer{readers: readers, handler: handler}
}

func (c *Consumer) Start(ctx context.Context) error {
	for i := range c.readers {
		go func(readerIndex int) {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Recovered from panic in Kafka consumer goroutine %d: %v", readerIndex, r)
				}
			}()

			reader := c.readers[readerIndex]
			defer reader.Close()

			for {
				select {
				case <-ctx.Done():
					return
				default:
					m, err := reader.ReadMessage(ctx)
					if err != nil {
						if ctx.Err() != nil {
							return
						}
						log.Printf("Error reading Kafka message: %v", err)
						continue
					}
					if c.handler != nil {
						c.handleMessage(m.Topic, m.Value)
					}
				}
			}
		}(i)
	}

	return nil
}

func (c *Consumer) handleMessage(topic string, value []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic handling Kafka message on %s: %v", topic, r)
		}
	}()

	switch topic {
	case TopicChatMessages:
		var event MessageEvent
		if err := json.Unmarshal(value, &event); err != nil {
			log.Printf("Error unmarshaling message event: %v", err)
			return
		}
		c.handler.HandleMessageEvent(event)

	case TopicTyping, TopicPresence:
		var event PresenceEvent
		if err := json.Unmarshal(value, &event); err != nil {
			log.Printf("Error unmarshaling presence event: %v", err)
			return
		}
		c.handler.HandlePresenceEvent(event)

	default:
		log.Printf("Unknown topic: %s", topic)
	}
}

func (c *Consumer) Close() error {
	for i := range c.readers {
		if err := c.readers[i].Close(); err != nil {
			log.Printf("Error closing Kafka reader: %v", err)
		}
	}
	return nil
}
