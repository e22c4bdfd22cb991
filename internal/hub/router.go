package hub

import (
	"context"
	"errors"
	"log"
	"time"

	"supporthub-ws/internal/domain"
	"supporthub-ws/internal/metrics"
)

// EventPublisher mirrors hub events to the event bus for sibling
// services. Publishing is best-effort; routing never fails because the
// bus is down.
type EventPublisher interface {
	PublishMessage(ctx context.Context, msg domain.Message) error
	PublishPresence(ctx context.Context, sig domain.PresenceSignal) error
}

// Router resolves a send to a live destination session or to
// storage-only fallback. The store is the source of truth: every
// message is appended regardless of destination liveness.
type Router struct {
	registry    *Registry
	store       *Store
	publisher   EventPublisher
	pushTimeout time.Duration
}

func NewRouter(registry *Registry, store *Store, publisher EventPublisher, pushTimeout time.Duration) *Router {
	if pushTimeout <= 0 {
		pushTimeout = 5 * time.Second
	}
	return &Router{
		registry:    registry,
		store:       store,
		publisher:   publisher,
		pushTimeout: pushTimeout,
	}
}

// Send stores a message for the canonical (from, to) conversation and
// pushes it to the destination if live. Offline destinations are not an
// error worth failing the message over: it stays sent and is picked up
// through history. A push error or timeout marks the message failed;
// retry is a fresh Send by the caller, never an automatic resend.
func (r *Router) Send(ctx context.Context, fromID, toID, body, correlationID string) (domain.Message, error) {
	from, err := r.registry.Lookup(fromID)
	if err != nil {
		return domain.Message{}, err
	}

	key := domain.ConversationKey(fromID, toID)
	msg, err := r.store.Append(key, fromID, from.principal.Role, body, correlationID)
	if err != nil {
		return domain.Message{}, err
	}

	r.publishMessage(ctx, msg)

	dest, err := r.registry.Lookup(toID)
	if err != nil {
		metrics.MessagesRouted.WithLabelValues("stored").Inc()
		return msg, domain.ErrDestinationOffline
	}

	start := time.Now()
	pushErr := r.pushMessage(ctx, dest, msg)
	metrics.PushLatency.Observe(time.Since(start).Seconds())

	if pushErr != nil {
		r.store.MarkFailed(key, msg.Seq)
		msg.DeliveryState = domain.DeliveryFailed
		r.sendReceipt(from, domain.EventMessageFailed, domain.DeliveryReceipt{
			ConversationKey: key,
			Seq:             msg.Seq,
			CorrelationID:   correlationID,
			Reason:          pushErr.Error(),
		})
		metrics.MessagesRouted.WithLabelValues("failed").Inc()
		return msg, domain.ErrTransportFailure
	}

	r.store.MarkDelivered(key, msg.Seq)
	msg.DeliveryState = domain.DeliveryDelivered
	r.sendReceipt(from, domain.EventMessageDelivered, domain.DeliveryReceipt{
		ConversationKey: key,
		Seq:             msg.Seq,
		CorrelationID:   correlationID,
	})
	metrics.MessagesRouted.WithLabelValues("delivered").Inc()
	return msg, nil
}

// BroadcastToRole fans a message out to every connected principal of
// the role. Each recipient gets its own pairwise conversation entry
// with the sender; this is fan-out, not a group conversation.
func (r *Router) BroadcastToRole(ctx context.Context, fromID string, role domain.Role, body string) ([]domain.Message, error) {
	if _, err := domain.ParseRole(string(role)); err != nil {
		return nil, err
	}

	recipients := r.registry.ListByRole(role)
	messages := make([]domain.Message, 0, len(recipients))
	for _, p := range recipients {
		if p.ID == fromID {
			continue
		}
		msg, err := r.Send(ctx, fromID, p.ID, body, "")
		if err != nil && !errors.Is(err, domain.ErrDestinationOffline) && !errors.Is(err, domain.ErrTransportFailure) {
			return messages, err
		}
		messages = append(messages, msg)
	}
	metrics.Broadcasts.Inc()
	return messages, nil
}

// pushMessage queues the frame on the destination's writer and waits
// for the write outcome, bounded by the push timeout so an unresponsive
// destination cannot stall the sender indefinitely.
func (r *Router) pushMessage(ctx context.Context, dest *Session, msg domain.Message) error {
	resCh := make(chan error, 1)
	d := delivery{
		frame: domain.ServerFrame{
			Type:    domain.EventMessageReceived,
			Success: true,
			Data:    msg,
		},
		result: func(err error) { resCh <- err },
	}

	if err := dest.push(ctx, d, r.pushTimeout); err != nil {
		return err
	}

	timer := time.NewTimer(r.pushTimeout)
	defer timer.Stop()
	select {
	case err := <-resCh:
		if err != nil {
			return domain.ErrTransportFailure
		}
		return nil
	case <-timer.C:
		return domain.ErrTransportFailure
	case <-ctx.Done():
		return domain.ErrTransportFailure
	}
}

// sendReceipt delivers a delivery-state event to the sender,
// best-effort. A sender that disconnected mid-send simply misses the
// receipt and resynchronizes from history.
func (r *Router) sendReceipt(s *Session, eventType string, receipt domain.DeliveryReceipt) {
	d := delivery{frame: domain.ServerFrame{
		Type:    eventType,
		Success: eventType != domain.EventMessageFailed,
		Data:    receipt,
	}}
	ctx, cancel := context.WithTimeout(context.Background(), r.pushTimeout)
	defer cancel()
	if err := s.push(ctx, d, r.pushTimeout); err != nil {
		log.Printf("Dropping %s receipt for %s: %v", eventType, s.principal.ID, err)
	}
}

// RelayTyping forwards a typing signal to the conversation's other
// party only. Typing is ephemeral: no store append, no receipt.
func (r *Router) RelayTyping(ctx context.Context, sig domain.PresenceSignal) {
	peer, ok := domain.OtherParty(sig.ConversationKey, sig.SubjectID)
	if !ok {
		return
	}
	dest, err := r.registry.Lookup(peer)
	if err != nil {
		return
	}
	d := delivery{frame: domain.ServerFrame{
		Type:    domain.EventTyping,
		Success: true,
		Data:    sig,
	}}
	if err := dest.push(ctx, d, r.pushTimeout); err != nil {
		log.Printf("Dropping typing signal for %s: %v", peer, err)
	}
}

// DeliverLocal pushes an already-stored message to a locally connected
// destination. Used for cross-instance fan-in; the publishing instance
// owns the store record, so no delivery state changes here.
func (r *Router) DeliverLocal(ctx context.Context, destID string, msg domain.Message) {
	dest, err := r.registry.Lookup(destID)
	if err != nil {
		return
	}
	d := delivery{frame: domain.ServerFrame{
		Type:    domain.EventMessageReceived,
		Success: true,
		Data:    msg,
	}}
	if err := dest.push(ctx, d, r.pushTimeout); err != nil {
		log.Printf("Dropping cross-instance message for %s: %v", destID, err)
	}
}

// BroadcastPresence republishes an online/offline transition to every
// other connected principal and mirrors it to the event bus.
func (r *Router) BroadcastPresence(ctx context.Context, sig domain.PresenceSignal) {
	r.publishPresence(ctx, sig)
	r.BroadcastPresenceLocal(ctx, sig)
}

// BroadcastPresenceLocal fans a presence transition out to local
// sessions only, without re-publishing to the bus.
func (r *Router) BroadcastPresenceLocal(ctx context.Context, sig domain.PresenceSignal) {
	r.registry.mu.RLock()
	sessions := make([]*Session, 0, len(r.registry.sessions))
	for _, s := range r.registry.sessions {
		if s.principal.ID != sig.SubjectID {
			sessions = append(sessions, s)
		}
	}
	r.registry.mu.RUnlock()

	eventType := domain.EventPrincipalOnline
	if sig.Kind == domain.PresenceOffline {
		eventType = domain.EventPrincipalOffline
	}
	for _, s := range sessions {
		d := delivery{frame: domain.ServerFrame{
			Type:    eventType,
			Success: true,
			Data:    sig,
		}}
		if err := s.push(ctx, d, r.pushTimeout); err != nil {
			log.Printf("Dropping presence event for %s: %v", s.principal.ID, err)
		}
	}
}

func (r *Router) publishMessage(ctx context.Context, msg domain.Message) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishMessage(ctx, msg); err != nil {
		log.Printf("Failed to publish message %s to event bus: %v", msg.ID, err)
	}
}

func (r *Router) publishPresence(ctx context.Context, sig domain.PresenceSignal) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishPresence(ctx, sig); err != nil {
		log.Printf("Failed to publish presence for %s to event bus: %v", sig.SubjectID, err)
	}
}
