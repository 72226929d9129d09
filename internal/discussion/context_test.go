package discussion

import (
	"context"
	"errors"
	"testing"
)

func TestPanelOpenClose(t *testing.T) {
	backend := newFakeBackend()
	panel := NewPanel(newTestStore(backend, Options{}))
	ctx := context.Background()

	if err := panel.Open(ctx, " ", "nothing"); !errors.Is(err, ErrNoItem) {
		t.Fatalf("expected ErrNoItem, got %v", err)
	}
	if err := panel.Open(ctx, "req-3", "Deviation handling"); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	want := UIState{ActiveItemID: "req-3", ActiveItemTitle: "Deviation handling", IsOpen: true}
	if got := panel.State(); got != want {
		t.Fatalf("State() = %+v, want %+v", got, want)
	}
	if panel.Store().ItemID() != "req-3" {
		t.Fatal("store should follow the panel")
	}

	panel.Close()
	want.IsOpen = false
	if got := panel.State(); got != want {
		t.Fatalf("State() after Close = %+v, want %+v", got, want)
	}
	select {
	case <-backend.sub("req-3").Done():
	default:
		t.Fatal("Close must stop the feed")
	}
}

func TestFromContext(t *testing.T) {
	panel := NewPanel(nil)
	ctx := WithPanel(context.Background(), panel)
	if FromContext(ctx) != panel {
		t.Fatal("FromContext returned a different panel")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic without a panel")
		}
	}()
	FromContext(context.Background())
}
