package hub

import (
	"log"
	"sync"
	"time"

	"supporthub-ws/internal/domain"

	"github.com/google/uuid"
)

// Store is the per-conversation ordered message log. Conversations are
// created lazily on first append and never deleted. Each conversation
// has its own lock so unrelated customer/agent pairs never contend.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
	byParty       map[string]map[string]struct{}
}

type conversation struct {
	mu             sync.Mutex
	messages       []domain.Message
	lastActivityAt time.Time
}

func NewStore() *Store {
	return &Store{
		conversations: make(map[string]*conversation),
		byParty:       make(map[string]map[string]struct{}),
	}
}

func (s *Store) getOrCreate(key string) *conversation {
	s.mu.RLock()
	c, ok := s.conversations[key]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.conversations[key]; ok {
		return c
	}
	c = &conversation{}
	s.conversations[key] = c
	if a, b, ok := domain.ConversationParties(key); ok {
		s.index(a, key)
		s.index(b, key)
	}
	return c
}

func (s *Store) index(party, key string) {
	if s.byParty[party] == nil {
		s.byParty[party] = make(map[string]struct{})
	}
	s.byParty[party][key] = struct{}{}
}

// Append assigns the next contiguous seq for the conversation and
// stores the message in state sent. Concurrent appends to the same key
// serialize on the conversation lock; seq values never duplicate or
// skip.
func (s *Store) Append(key, senderID string, senderRole domain.Role, body, correlationID string) (domain.Message, error) {
	c := s.getOrCreate(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	seq := int64(len(c.messages)) + 1
	if len(c.messages) > 0 && c.messages[len(c.messages)-1].Seq != seq-1 {
		// Invariant break. Refuse the append rather than overwrite.
		log.Printf("INVARIANT VIOLATION: conversation %s tail seq %d, expected %d",
			key, c.messages[len(c.messages)-1].Seq, seq-1)
		return domain.Message{}, domain.ErrDuplicateSequence
	}

	msg := domain.Message{
		ID:              uuid.New(),
		ConversationKey: key,
		CorrelationID:   correlationID,
		SenderID:        senderID,
		SenderRole:      senderRole,
		Body:            body,
		Seq:             seq,
		DeliveryState:   domain.DeliverySent,
		CreatedAt:       time.Now().UTC(),
	}
	c.messages = append(c.messages, msg)
	c.lastActivityAt = msg.CreatedAt
	return msg, nil
}

// History returns messages with seq > sinceSeq in seq order. Used for
// initial load and reconnection catch-up.
func (s *Store) History(key string, sinceSeq int64) []domain.Message {
	s.mu.RLock()
	c, ok := s.conversations[key]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if sinceSeq < 0 {
		sinceSeq = 0
	}
	if sinceSeq >= int64(len(c.messages)) {
		return nil
	}
	out := make([]domain.Message, int64(len(c.messages))-sinceSeq)
	copy(out, c.messages[sinceSeq:])
	return out
}

// MarkDelivered advances a message to delivered. Idempotent; terminal
// states only move forward.
func (s *Store) MarkDelivered(key string, seq int64) bool {
	return s.mark(key, seq, domain.DeliveryDelivered)
}

// MarkFailed advances a message to failed. Marking an already-delivered
// message failed is a no-op.
func (s *Store) MarkFailed(key string, seq int64) bool {
	return s.mark(key, seq, domain.DeliveryFailed)
}

func (s *Store) mark(key string, seq int64, state domain.DeliveryState) bool {
	s.mu.RLock()
	c, ok := s.conversations[key]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if seq < 1 || seq > int64(len(c.messages)) {
		return false
	}
	m := &c.messages[seq-1]
	if m.DeliveryState != domain.DeliverySent {
		return m.DeliveryState == state
	}
	m.DeliveryState = state
	return true
}

// KeysFor lists every conversation the principal is a party to, for
// reconnect catch-up.
func (s *Store) KeysFor(principalID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.byParty[principalID]))
	for key := range s.byParty[principalID] {
		keys = append(keys, key)
	}
	return keys
}

// LastActivity reports when the conversation last appended.
func (s *Store) LastActivity(key string) (time.Time, bool) {
	s.mu.RLock()
	c, ok := s.conversations[key]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivityAt, true
}
