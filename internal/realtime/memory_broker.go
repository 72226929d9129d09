package realtime

import (
	"context"
	"sync"

	"gmptracker/internal/records"
)

// MemoryBroker is the single-process broker used when Redis is not
// configured.
type MemoryBroker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*memorySubscriber
}

type memorySubscriber struct {
	filter Filter
	inbox  chan records.Change
	sub    *Subscription
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[int]*memorySubscriber)}
}

func (b *MemoryBroker) Publish(ctx context.Context, change records.Change) error {
	b.mu.RLock()
	targets := make([]*memorySubscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter.Match(change) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, target := range targets {
		select {
		case target.inbox <- change:
		case <-target.sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	out := make(chan records.Change, 64)
	inbox := make(chan records.Change, 64)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.mu.Unlock()

	sub := NewSubscription(out, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	})

	b.mu.Lock()
	b.subs[id] = &memorySubscriber{filter: filter, inbox: inbox, sub: sub}
	b.mu.Unlock()

	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.done:
				return
			case change := <-inbox:
				select {
				case out <- change:
				case <-ctx.Done():
					return
				case <-sub.done:
					return
				}
			}
		}
	}()

	return sub, nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	subs := make([]*memorySubscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		s.sub.Close()
	}
	return nil
}
