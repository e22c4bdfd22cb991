package domain

import "time"

// Client -> hub operation types.
const (
	OpSendDirect     = "send_direct"
	OpSendToRole     = "send_to_role"
	OpTyping         = "typing"
	OpListPrincipals = "list_principals"
	OpFetchHistory   = "fetch_history"
	OpResync         = "resync"
	OpPing           = "ping"
)

// Hub -> client event types.
const (
	EventConnectionEstablished = "connection_established"
	EventMessageAccepted       = "message_accepted"
	EventMessageReceived       = "message_received"
	EventMessageDelivered      = "message_delivered"
	EventMessageFailed         = "message_failed"
	EventTyping                = "typing"
	EventPrincipalOnline       = "principal_online"
	EventPrincipalOffline      = "principal_offline"
	EventPrincipals            = "principals"
	EventHistory               = "history"
	EventPong                  = "pong"
	EventError                 = "error"
)

// ClientFrame is the envelope for every client -> hub operation.
// Fields are populated per op; unused ones stay zero.
type ClientFrame struct {
	Type            string           `json:"type"`
	ToID            string           `json:"to_id,omitempty"`
	Role            string           `json:"role,omitempty"`
	Body            string           `json:"body,omitempty"`
	CorrelationID   string           `json:"correlation_id,omitempty"`
	ConversationKey string           `json:"conversation_key,omitempty"`
	SinceSeq        int64            `json:"since_seq,omitempty"`
	Cursors         map[string]int64 `json:"cursors,omitempty"`
}

// ServerFrame is the envelope for every hub -> client event.
type ServerFrame struct {
	Type    string      `json:"type"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// DeliveryReceipt tells a sender what happened to a specific message,
// identified by seq and the client's correlation id rather than by
// position.
type DeliveryReceipt struct {
	ConversationKey string `json:"conversation_key"`
	Seq             int64  `json:"seq"`
	CorrelationID   string `json:"correlation_id,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// HistoryPayload carries a catch-up slice of one conversation.
type HistoryPayload struct {
	ConversationKey string    `json:"conversation_key"`
	SinceSeq        int64     `json:"since_seq"`
	Messages        []Message `json:"messages"`
}

// RosterPayload lists currently connected principals of one role.
type RosterPayload struct {
	Role       Role        `json:"role"`
	Principals []Principal `json:"principals"`
}

// WelcomePayload is sent once after a successful connect.
type WelcomePayload struct {
	PrincipalID  string    `json:"principal_id"`
	Role         Role      `json:"role"`
	ConnectionID string    `json:"connection_id"`
	ConnectedAt  time.Time `json:"connected_at"`
}
