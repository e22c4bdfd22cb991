package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeliveryState tracks what happened to a message after it was stored.
// Transitions only move forward: sent -> delivered or sent -> failed.
type DeliveryState string

const (
	DeliverySent      DeliveryState = "sent"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryFailed    DeliveryState = "failed"
)

// Message is one chat message inside a conversation. Seq is assigned by
// the store at append time, never by client clocks.
type Message struct {
	ID              uuid.UUID     `json:"id"`
	ConversationKey string        `json:"conversation_key"`
	CorrelationID   string        `json:"correlation_id,omitempty"`
	SenderID        string        `json:"sender_id"`
	SenderRole      Role          `json:"sender_role"`
	Body            string        `json:"body"`
	Seq             int64         `json:"seq"`
	DeliveryState   DeliveryState `json:"delivery_state"`
	CreatedAt       time.Time     `json:"created_at"`
}

// ConversationKey builds the canonical key for a pair of principals.
// The pair is sorted so that key(a,b) == key(b,a). Callers must never
// build keys by hand.
func ConversationKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// ConversationParties splits a canonical key back into the two
// participant ids.
func ConversationParties(key string) (string, string, bool) {
	a, b, ok := strings.Cut(key, ":")
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

// OtherParty returns the participant of key that is not id.
func OtherParty(key, id string) (string, bool) {
	a, b, ok := ConversationParties(key)
	if !ok {
		return "", false
	}
	switch id {
	case a:
		return b, true
	case b:
		return a, true
	default:
		return "", false
	}
}
