// Package realtime fans row-level change events out to subscribed clients.
package realtime

import (
	"context"
	"sync"

	"gmptracker/internal/records"
)

// Filter scopes a subscription. ItemID is optional; an empty value matches
// every item of the table.
type Filter struct {
	Table       records.Table
	WorkspaceID string
	ItemID      string
}

func (f Filter) Match(change records.Change) bool {
	if f.Table != "" && change.Table != f.Table {
		return false
	}
	if f.WorkspaceID != "" && change.WorkspaceID != f.WorkspaceID {
		return false
	}
	if f.ItemID != "" && change.ItemID != f.ItemID {
		return false
	}
	return true
}

// Broker publishes changes and hands out filtered subscriptions.
type Broker interface {
	Publish(ctx context.Context, change records.Change) error
	Subscribe(ctx context.Context, filter Filter) (*Subscription, error)
	Close() error
}

// Subscription delivers matching changes on C in publish order. C is closed
// once the subscription is closed or its context ends.
type Subscription struct {
	C <-chan records.Change

	done      chan struct{}
	closeOnce sync.Once
	stop      func()
}

// NewSubscription wraps out. stop runs once, on the first Close.
func NewSubscription(out <-chan records.Change, stop func()) *Subscription {
	return &Subscription{C: out, done: make(chan struct{}), stop: stop}
}

// Close stops delivery. It is safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.stop != nil {
			s.stop()
		}
	})
}

// Done is closed when Close has been called.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}
