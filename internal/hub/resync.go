package hub

import (
	"context"
	"log"
	"time"

	"supporthub-ws/internal/domain"
)

// Resync replays the history gap for every conversation the principal
// is a party to, after a reconnect has re-registered it. Cursors map
// conversation key to the client's last-seen seq; only messages above
// the cursor are replayed, so the client gets no duplicates and no
// gaps. Conversations missing from the cursor map replay in full.
func (r *Router) Resync(ctx context.Context, s *Session, cursors map[string]int64) error {
	id := s.principal.ID

	keys := r.store.KeysFor(id)
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		seen[key] = struct{}{}
	}
	// Cursors can name conversations this instance has not indexed yet
	// (first message raced the reconnect); honor them anyway.
	for key := range cursors {
		if _, ok := seen[key]; !ok {
			keys = append(keys, key)
		}
	}

	for _, key := range keys {
		if _, _, ok := domain.ConversationParties(key); !ok {
			continue
		}
		gap := r.store.History(key, cursors[key])
		if len(gap) == 0 {
			continue
		}

		d := delivery{frame: domain.ServerFrame{
			Type:    domain.EventHistory,
			Success: true,
			Data: domain.HistoryPayload{
				ConversationKey: key,
				SinceSeq:        cursors[key],
				Messages:        gap,
			},
		}}
		resCh := make(chan error, 1)
		d.result = func(err error) { resCh <- err }

		if err := s.push(ctx, d, r.pushTimeout); err != nil {
			return err
		}
		timer := time.NewTimer(r.pushTimeout)
		select {
		case err := <-resCh:
			timer.Stop()
			if err != nil {
				return domain.ErrTransportFailure
			}
		case <-ctx.Done():
			timer.Stop()
			return domain.ErrTransportFailure
		case <-timer.C:
			return domain.ErrTransportFailure
		}

		// Replay counts as delivery for messages addressed to this
		// principal that were stored while it was offline.
		for _, msg := range gap {
			if msg.SenderID != id && msg.DeliveryState == domain.DeliverySent {
				r.store.MarkDelivered(key, msg.Seq)
				r.notifySenderDelivered(msg)
			}
		}
		log.Printf("Resynced %s: %d messages for conversation %s", id, len(gap), key)
	}
	return nil
}

// notifySenderDelivered tells a still-connected sender that a message
// stored while the destination was offline has now been picked up.
func (r *Router) notifySenderDelivered(msg domain.Message) {
	sender, err := r.registry.Lookup(msg.SenderID)
	if err != nil {
		return
	}
	r.sendReceipt(sender, domain.EventMessageDelivered, domain.DeliveryReceipt{
		ConversationKey: msg.ConversationKey,
		Seq:             msg.Seq,
		CorrelationID:   msg.CorrelationID,
	})
}
