package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"supporthub-ws/internal/domain"
)

func newTestRouter(t *testing.T) (*Registry, *Store, *Router) {
	t.Helper()
	registry := NewRegistry()
	t.Cleanup(registry.Close)
	store := NewStore()
	router := NewRouter(registry, store, nil, time.Second)
	return registry, store, router
}

func messageData(t *testing.T, frame domain.ServerFrame) domain.Message {
	t.Helper()
	msg, ok := frame.Data.(domain.Message)
	if !ok {
		t.Fatalf("frame data is %T, want domain.Message", frame.Data)
	}
	return msg
}

func TestRouterSendDeliversToLiveDestination(t *testing.T) {
	registry, store, router := newTestRouter(t)

	registry.Register("customer-1", domain.RoleCustomer, newFakeConn())
	agentConn := newFakeConn()
	registry.Register("agent-1", domain.RoleSupportAgent, agentConn)

	msg, err := router.Send(context.Background(), "customer-1", "agent-1", "hello", "corr-1")
	if err != nil {
		t.Fatalf("Send err: %v", err)
	}
	if msg.DeliveryState != domain.DeliveryDelivered {
		t.Fatalf("expected delivered, got %s", msg.DeliveryState)
	}

	frames := agentConn.waitForFrames(t, domain.EventMessageReceived, 1)
	got := messageData(t, frames[0])
	if got.Body != "hello" || got.Seq != 1 {
		t.Fatalf("unexpected delivered message: %+v", got)
	}

	key := domain.ConversationKey("customer-1", "agent-1")
	if stored := store.History(key, 0); stored[0].DeliveryState != domain.DeliveryDelivered {
		t.Fatalf("store should record delivered, got %s", stored[0].DeliveryState)
	}
}

func TestRouterSendFIFOPerPair(t *testing.T) {
	registry, _, router := newTestRouter(t)

	registry.Register("customer-1", domain.RoleCustomer, newFakeConn())
	agentConn := newFakeConn()
	registry.Register("agent-1", domain.RoleSupportAgent, agentConn)

	const n = 20
	for i := 0; i < n; i++ {
		if _, err := router.Send(context.Background(), "customer-1", "agent-1", "m", ""); err != nil {
			t.Fatalf("Send %d err: %v", i, err)
		}
	}

	frames := agentConn.waitForFrames(t, domain.EventMessageReceived, n)
	for i, frame := range frames {
		if got := messageData(t, frame).Seq; got != int64(i+1) {
			t.Fatalf("out of order at %d: seq %d", i, got)
		}
	}
}

func TestRouterSendToOfflineDestinationStoresSent(t *testing.T) {
	registry, store, router := newTestRouter(t)

	registry.Register("customer-1", domain.RoleCustomer, newFakeConn())

	msg, err := router.Send(context.Background(), "customer-1", "agent-offline", "are you there?", "")
	if !errors.Is(err, domain.ErrDestinationOffline) {
		t.Fatalf("expected ErrDestinationOffline, got %v", err)
	}
	if msg.Seq != 1 || msg.DeliveryState != domain.DeliverySent {
		t.Fatalf("offline message should be stored sent: %+v", msg)
	}

	key := domain.ConversationKey("customer-1", "agent-offline")
	if got := store.History(key, 0); len(got) != 1 || got[0].DeliveryState != domain.DeliverySent {
		t.Fatalf("store should keep the undelivered message: %+v", got)
	}
}

func TestRouterSendFromUnknownSender(t *testing.T) {
	_, _, router := newTestRouter(t)

	if _, err := router.Send(context.Background(), "ghost", "agent-1", "m", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRouterTransportFailureMarksFailed(t *testing.T) {
	registry, store, router := newTestRouter(t)

	senderConn := newFakeConn()
	registry.Register("customer-1", domain.RoleCustomer, senderConn)

	brokenConn := newFakeConn()
	brokenConn.failAll = true
	registry.Register("agent-1", domain.RoleSupportAgent, brokenConn)

	msg, err := router.Send(context.Background(), "customer-1", "agent-1", "m", "corr-9")
	if !errors.Is(err, domain.ErrTransportFailure) {
		t.Fatalf("expected ErrTransportFailure, got %v", err)
	}
	if msg.DeliveryState != domain.DeliveryFailed {
		t.Fatalf("expected failed, got %s", msg.DeliveryState)
	}

	key := domain.ConversationKey("customer-1", "agent-1")
	if got := store.History(key, 0); got[0].DeliveryState != domain.DeliveryFailed {
		t.Fatalf("failed message must remain in history as failed, got %s", got[0].DeliveryState)
	}

	// Sender sees the failure for the exact message, not "the last one".
	frames := senderConn.waitForFrames(t, domain.EventMessageFailed, 1)
	receipt, ok := frames[0].Data.(domain.DeliveryReceipt)
	if !ok {
		t.Fatalf("failed frame data is %T", frames[0].Data)
	}
	if receipt.Seq != msg.Seq || receipt.CorrelationID != "corr-9" {
		t.Fatalf("receipt should target the failed message: %+v", receipt)
	}
}

func TestRouterBroadcastToRoleFansOutPairwise(t *testing.T) {
	registry, store, router := newTestRouter(t)

	registry.Register("customer-1", domain.RoleCustomer, newFakeConn())
	agent1 := newFakeConn()
	agent2 := newFakeConn()
	registry.Register("agent-1", domain.RoleSupportAgent, agent1)
	registry.Register("agent-2", domain.RoleSupportAgent, agent2)

	messages, err := router.BroadcastToRole(context.Background(), "customer-1", domain.RoleSupportAgent, "help")
	if err != nil {
		t.Fatalf("BroadcastToRole err: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 fan-out messages, got %d", len(messages))
	}

	agent1.waitForFrames(t, domain.EventMessageReceived, 1)
	agent2.waitForFrames(t, domain.EventMessageReceived, 1)

	// Each recipient gets its own conversation with the sender.
	k1 := domain.ConversationKey("customer-1", "agent-1")
	k2 := domain.ConversationKey("customer-1", "agent-2")
	if len(store.History(k1, 0)) != 1 || len(store.History(k2, 0)) != 1 {
		t.Fatal("fan-out should append one message per pairwise conversation")
	}
}

func TestRouterBroadcastSkipsSenderAndUnknownRole(t *testing.T) {
	registry, _, router := newTestRouter(t)

	selfConn := newFakeConn()
	registry.Register("agent-1", domain.RoleSupportAgent, selfConn)

	messages, err := router.BroadcastToRole(context.Background(), "agent-1", domain.RoleSupportAgent, "ping")
	if err != nil {
		t.Fatalf("BroadcastToRole err: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("sender must not receive its own broadcast, got %d", len(messages))
	}

	if _, err := router.BroadcastToRole(context.Background(), "agent-1", domain.Role("nobody"), "x"); !errors.Is(err, domain.ErrUnauthorizedRole) {
		t.Fatalf("expected ErrUnauthorizedRole, got %v", err)
	}
}

func TestRouterOfflineThenResyncScenario(t *testing.T) {
	registry, _, router := newTestRouter(t)

	customerConn := newFakeConn()
	registry.Register("customer-1", domain.RoleCustomer, customerConn)

	// Customer sends "hello" while the agent is offline.
	if _, err := router.Send(context.Background(), "customer-1", "agent-1", "hello", ""); !errors.Is(err, domain.ErrDestinationOffline) {
		t.Fatalf("expected offline, got %v", err)
	}

	// Agent connects later; resync replays the gap.
	agentConn := newFakeConn()
	agentSession, _, err := registry.Register("agent-1", domain.RoleSupportAgent, agentConn)
	if err != nil {
		t.Fatalf("Register err: %v", err)
	}
	if err := router.Resync(context.Background(), agentSession, nil); err != nil {
		t.Fatalf("Resync err: %v", err)
	}

	frames := agentConn.waitForFrames(t, domain.EventHistory, 1)
	payload, ok := frames[0].Data.(domain.HistoryPayload)
	if !ok {
		t.Fatalf("history frame data is %T", frames[0].Data)
	}
	if len(payload.Messages) != 1 || payload.Messages[0].Body != "hello" {
		t.Fatalf("replay should deliver exactly the stored message: %+v", payload.Messages)
	}

	// The still-connected customer learns the message was picked up.
	customerConn.waitForFrames(t, domain.EventMessageDelivered, 1)

	// Agent replies; the customer receives it immediately, delivered.
	reply, err := router.Send(context.Background(), "agent-1", "customer-1", "hi", "")
	if err != nil {
		t.Fatalf("reply Send err: %v", err)
	}
	if reply.DeliveryState != domain.DeliveryDelivered {
		t.Fatalf("reply should be delivered, got %s", reply.DeliveryState)
	}
	got := customerConn.waitForFrames(t, domain.EventMessageReceived, 1)
	if messageData(t, got[0]).Body != "hi" {
		t.Fatalf("customer should receive the reply")
	}
}

func TestRouterResyncReplaysExactGap(t *testing.T) {
	registry, _, router := newTestRouter(t)

	registry.Register("customer-1", domain.RoleCustomer, newFakeConn())

	agentConn := newFakeConn()
	firstSession, _, _ := registry.Register("agent-1", domain.RoleSupportAgent, agentConn)

	key := domain.ConversationKey("customer-1", "agent-1")
	ctx := context.Background()

	// Agent sees messages up to seq 2, then disconnects.
	router.Send(ctx, "customer-1", "agent-1", "one", "")
	router.Send(ctx, "customer-1", "agent-1", "two", "")
	registry.Unregister("agent-1", firstSession.Principal().ConnectionID)

	// Three more arrive while offline.
	for _, body := range []string{"three", "four", "five"} {
		if _, err := router.Send(ctx, "customer-1", "agent-1", body, ""); !errors.Is(err, domain.ErrDestinationOffline) {
			t.Fatalf("expected offline for %q, got %v", body, err)
		}
	}

	// Reconnect with cursor at 2: exactly the three offline messages
	// replay, no more, no fewer.
	freshConn := newFakeConn()
	session, _, _ := registry.Register("agent-1", domain.RoleSupportAgent, freshConn)
	if err := router.Resync(ctx, session, map[string]int64{key: 2}); err != nil {
		t.Fatalf("Resync err: %v", err)
	}

	frames := freshConn.waitForFrames(t, domain.EventHistory, 1)
	payload := frames[0].Data.(domain.HistoryPayload)
	if len(payload.Messages) != 3 {
		t.Fatalf("gap replay: got %d messages want 3", len(payload.Messages))
	}
	for i, msg := range payload.Messages {
		if msg.Seq != int64(3+i) {
			t.Fatalf("gap seq at %d: got %d want %d", i, msg.Seq, 3+i)
		}
	}

	// A second resync with the advanced cursor replays nothing.
	if err := router.Resync(ctx, session, map[string]int64{key: 5}); err != nil {
		t.Fatalf("second Resync err: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := freshConn.framesOfType(domain.EventHistory); len(got) != 1 {
		t.Fatalf("nothing new to replay, got %d history frames", len(got))
	}
}

func TestRouterRelayTypingToOtherPartyOnly(t *testing.T) {
	registry, _, router := newTestRouter(t)

	customerConn := newFakeConn()
	agentConn := newFakeConn()
	bystanderConn := newFakeConn()
	registry.Register("customer-1", domain.RoleCustomer, customerConn)
	registry.Register("agent-1", domain.RoleSupportAgent, agentConn)
	registry.Register("agent-2", domain.RoleSupportAgent, bystanderConn)

	key := domain.ConversationKey("customer-1", "agent-1")
	router.RelayTyping(context.Background(), domain.PresenceSignal{
		SubjectID:       "customer-1",
		Kind:            domain.PresenceTyping,
		ConversationKey: key,
	})

	agentConn.waitForFrames(t, domain.EventTyping, 1)
	time.Sleep(50 * time.Millisecond)
	if len(bystanderConn.framesOfType(domain.EventTyping)) != 0 {
		t.Fatal("typing must reach the conversation's other party only")
	}
	if len(customerConn.framesOfType(domain.EventTyping)) != 0 {
		t.Fatal("typing must not echo back to the subject")
	}
}

func TestRouterBroadcastPresenceLocal(t *testing.T) {
	registry, _, router := newTestRouter(t)

	a := newFakeConn()
	b := newFakeConn()
	registry.Register("agent-1", domain.RoleSupportAgent, a)
	registry.Register("customer-1", domain.RoleCustomer, b)

	router.BroadcastPresenceLocal(context.Background(), domain.PresenceSignal{
		SubjectID:   "customer-2",
		SubjectRole: domain.RoleCustomer,
		Kind:        domain.PresenceOnline,
	})

	a.waitForFrames(t, domain.EventPrincipalOnline, 1)
	b.waitForFrames(t, domain.EventPrincipalOnline, 1)
}
