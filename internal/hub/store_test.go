package hub

import (
	"sync"
	"testing"

	"supporthub-ws/internal/domain"
)

func TestStoreAppendAssignsContiguousSeq(t *testing.T) {
	store := NewStore()
	key := domain.ConversationKey("customer-1", "agent-1")

	for i := 1; i <= 5; i++ {
		msg, err := store.Append(key, "customer-1", domain.RoleCustomer, "hello", "")
		if err != nil {
			t.Fatalf("Append err: %v", err)
		}
		if msg.Seq != int64(i) {
			t.Fatalf("unexpected seq: got %d want %d", msg.Seq, i)
		}
		if msg.DeliveryState != domain.DeliverySent {
			t.Fatalf("new message should be sent, got %s", msg.DeliveryState)
		}
	}
}

func TestStoreConcurrentAppendsNoDuplicatesNoGaps(t *testing.T) {
	store := NewStore()
	key := domain.ConversationKey("customer-1", "agent-1")

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := store.Append(key, "customer-1", domain.RoleCustomer, "m", ""); err != nil {
					t.Errorf("Append err: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	messages := store.History(key, 0)
	if len(messages) != writers*perWriter {
		t.Fatalf("unexpected count: got %d want %d", len(messages), writers*perWriter)
	}
	for i, msg := range messages {
		if msg.Seq != int64(i+1) {
			t.Fatalf("seq not contiguous at index %d: got %d", i, msg.Seq)
		}
	}
}

func TestStoreHistorySinceSeq(t *testing.T) {
	store := NewStore()
	key := domain.ConversationKey("a", "b")

	for i := 0; i < 10; i++ {
		if _, err := store.Append(key, "a", domain.RoleCustomer, "m", ""); err != nil {
			t.Fatalf("Append err: %v", err)
		}
	}

	all := store.History(key, 0)
	if len(all) != 10 {
		t.Fatalf("full history: got %d want 10", len(all))
	}

	tail := store.History(key, 7)
	if len(tail) != 3 {
		t.Fatalf("history since 7: got %d want 3", len(tail))
	}
	for i, msg := range tail {
		if msg.Seq != int64(8+i) {
			t.Fatalf("unexpected seq in tail: got %d want %d", msg.Seq, 8+i)
		}
	}

	if got := store.History(key, 10); len(got) != 0 {
		t.Fatalf("history past tail should be empty, got %d", len(got))
	}
	if got := store.History("missing:key", 0); got != nil {
		t.Fatalf("history of unknown conversation should be nil")
	}
}

func TestStoreMarkDeliveredIdempotent(t *testing.T) {
	store := NewStore()
	key := domain.ConversationKey("a", "b")
	msg, _ := store.Append(key, "a", domain.RoleCustomer, "m", "")

	if !store.MarkDelivered(key, msg.Seq) {
		t.Fatal("first MarkDelivered should succeed")
	}
	if !store.MarkDelivered(key, msg.Seq) {
		t.Fatal("second MarkDelivered should be a no-op success")
	}
	if got := store.History(key, 0)[0].DeliveryState; got != domain.DeliveryDelivered {
		t.Fatalf("state after double mark: got %s", got)
	}
}

func TestStoreMarkFailedAfterDeliveredIsNoOp(t *testing.T) {
	store := NewStore()
	key := domain.ConversationKey("a", "b")
	msg, _ := store.Append(key, "a", domain.RoleCustomer, "m", "")

	store.MarkDelivered(key, msg.Seq)
	if store.MarkFailed(key, msg.Seq) {
		t.Fatal("MarkFailed on delivered message should report no-op")
	}
	if got := store.History(key, 0)[0].DeliveryState; got != domain.DeliveryDelivered {
		t.Fatalf("delivered state must not regress, got %s", got)
	}
}

func TestStoreMarkUnknownSeq(t *testing.T) {
	store := NewStore()
	key := domain.ConversationKey("a", "b")
	store.Append(key, "a", domain.RoleCustomer, "m", "")

	if store.MarkDelivered(key, 99) {
		t.Fatal("marking an unknown seq should fail")
	}
	if store.MarkDelivered("missing:key", 1) {
		t.Fatal("marking an unknown conversation should fail")
	}
}

func TestStoreKeysFor(t *testing.T) {
	store := NewStore()
	k1 := domain.ConversationKey("customer-1", "agent-1")
	k2 := domain.ConversationKey("customer-1", "agent-2")
	store.Append(k1, "customer-1", domain.RoleCustomer, "m", "")
	store.Append(k2, "agent-2", domain.RoleSupportAgent, "m", "")

	keys := store.KeysFor("customer-1")
	if len(keys) != 2 {
		t.Fatalf("customer-1 should be party to 2 conversations, got %d", len(keys))
	}
	if got := store.KeysFor("agent-2"); len(got) != 1 || got[0] != k2 {
		t.Fatalf("agent-2 keys: got %v", got)
	}
	if got := store.KeysFor("stranger"); len(got) != 0 {
		t.Fatalf("stranger should have no conversations, got %v", got)
	}
}
