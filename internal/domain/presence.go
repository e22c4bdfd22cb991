package domain

import "time"

// PresenceKind labels an ephemeral presence signal.
type PresenceKind string

const (
	PresenceTyping  PresenceKind = "typing"
	PresenceOnline  PresenceKind = "online"
	PresenceOffline PresenceKind = "offline"
)

// PresenceSignal is ephemeral and never persisted. Typing signals
// auto-expire after their window; consumers must not rely on an
// explicit stop event.
type PresenceSignal struct {
	SubjectID       string       `json:"subject_id"`
	SubjectRole     Role         `json:"subject_role,omitempty"`
	Kind            PresenceKind `json:"kind"`
	ConversationKey string       `json:"conversation_key,omitempty"`
	ExpiresAt       time.Time    `json:"expires_at,omitempty"`
}
