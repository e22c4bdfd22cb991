package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"supporthub-ws/internal/domain"
	"supporthub-ws/internal/metrics"
)

// TypingMirror pushes typing state into a shared TTL cache (Redis) so
// non-WS consumers can read it. Optional; the in-process cache is
// authoritative for relay decisions.
type TypingMirror interface {
	SetTyping(ctx context.Context, conversationKey, subjectID string, ttl time.Duration) error
}

// Presence coordinates ephemeral typing signals. Signals are throttled
// per subject+conversation and expire after the TTL window with no
// explicit stop event required.
type Presence struct {
	mu       sync.Mutex
	typing   map[string]time.Time // subject|key -> last signal
	ttl      time.Duration
	throttle time.Duration
	now      func() time.Time
	mirror   TypingMirror
}

func NewPresence(ttl, throttle time.Duration, mirror TypingMirror) *Presence {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	if throttle <= 0 {
		throttle = time.Second
	}
	return &Presence{
		typing:   make(map[string]time.Time),
		ttl:      ttl,
		throttle: throttle,
		now:      time.Now,
		mirror:   mirror,
	}
}

func typingKey(subjectID, conversationKey string) string {
	return subjectID + "|" + conversationKey
}

// NotifyTyping records a typing signal and reports whether it should be
// relayed. A second signal inside the throttle window renews the TTL
// but is not re-broadcast.
func (p *Presence) NotifyTyping(ctx context.Context, subjectID, conversationKey string) bool {
	now := p.now()

	p.mu.Lock()
	last, seen := p.typing[typingKey(subjectID, conversationKey)]
	relay := !seen || now.Sub(last) >= p.throttle
	if relay {
		p.typing[typingKey(subjectID, conversationKey)] = now
	}
	p.mu.Unlock()

	if !relay {
		return false
	}

	metrics.TypingSignals.Inc()
	if p.mirror != nil {
		if err := p.mirror.SetTyping(ctx, conversationKey, subjectID, p.ttl); err != nil {
			log.Printf("Failed to mirror typing state for %s: %v", subjectID, err)
		}
	}
	return true
}

// TypingActive reports whether the subject's typing signal is still
// inside its window.
func (p *Presence) TypingActive(subjectID, conversationKey string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	last, ok := p.typing[typingKey(subjectID, conversationKey)]
	return ok && p.now().Sub(last) < p.ttl
}

// Signal builds the wire form of the current typing state, with its
// expiry so consumers can age it out without a stop event.
func (p *Presence) Signal(subjectID string, role domain.Role, conversationKey string) domain.PresenceSignal {
	return domain.PresenceSignal{
		SubjectID:       subjectID,
		SubjectRole:     role,
		Kind:            domain.PresenceTyping,
		ConversationKey: conversationKey,
		ExpiresAt:       p.now().Add(p.ttl).UTC(),
	}
}

// Sweep drops expired typing entries. The TTL check in TypingActive
// already makes expired entries invisible; this just bounds memory.
func (p *Presence) Sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	removed := 0
	for k, last := range p.typing {
		if now.Sub(last) >= p.ttl {
			delete(p.typing, k)
			removed++
		}
	}
	return removed
}

// RunSweeper sweeps periodically until the context ends.
func (p *Presence) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Sweep()
		case <-ctx.Done():
			return
		}
	}
}
