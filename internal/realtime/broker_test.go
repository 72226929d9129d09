package realtime

import (
	"context"
	"testing"
	"time"

	"gmptracker/internal/records"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) *RedisBroker {
	s := miniredis.RunT(t)
	broker, err := NewRedisBroker("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis broker: %v", err)
	}
	t.Cleanup(func() { _ = broker.Close() })
	return broker
}

func messageChange(t *testing.T, workspaceID, itemID, id string) records.Change {
	t.Helper()
	change, err := records.NewMessageChange(records.EventInsert, records.Message{
		ID:          id,
		WorkspaceID: workspaceID,
		ItemID:      itemID,
		UserName:    "Alice",
		Message:     "hello",
		CreatedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("NewMessageChange() error = %v", err)
	}
	return change
}

func receive(t *testing.T, sub *Subscription) records.Change {
	t.Helper()
	select {
	case change, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return change
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
	return records.Change{}
}

func assertQuiet(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case change, ok := <-sub.C:
		if ok {
			t.Fatalf("unexpected change delivered: %+v", change)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func runBrokerContract(t *testing.T, broker Broker) {
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx, Filter{Table: records.TableMessages, WorkspaceID: "ws-1", ItemID: "req-2"})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	if err := broker.Publish(ctx, messageChange(t, "ws-1", "req-1", "m0")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := broker.Publish(ctx, messageChange(t, "ws-2", "req-2", "m1")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	for _, id := range []string{"m2", "m3"} {
		if err := broker.Publish(ctx, messageChange(t, "ws-1", "req-2", id)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	for _, want := range []string{"m2", "m3"} {
		change := receive(t, sub)
		row, err := change.DecodeMessage()
		if err != nil {
			t.Fatalf("DecodeMessage() error = %v", err)
		}
		if row.ID != want {
			t.Fatalf("expected message %s, got %s", want, row.ID)
		}
	}
	assertQuiet(t, sub)

	sub.Close()
	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatal("expected channel to be closed after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after Close")
	}
}

func TestRedisBrokerDeliversFilteredChangesInOrder(t *testing.T) {
	runBrokerContract(t, setupTestRedis(t))
}

func TestMemoryBrokerDeliversFilteredChangesInOrder(t *testing.T) {
	broker := NewMemoryBroker()
	defer broker.Close()
	runBrokerContract(t, broker)
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	broker := NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := broker.Subscribe(ctx, Filter{Table: records.TableProgress, WorkspaceID: "ws-1"})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	cancel()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after context cancel")
	}
}

func TestRedisBrokerRequiresScope(t *testing.T) {
	broker := setupTestRedis(t)
	if _, err := broker.Subscribe(context.Background(), Filter{Table: records.TableProgress}); err == nil {
		t.Fatal("expected error without workspace")
	}
}
