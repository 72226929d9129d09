package discussion

import (
	"context"
	"strings"
	"sync"
)

// UIState says which item's discussion is showing. It is never persisted.
type UIState struct {
	ActiveItemID    string
	ActiveItemTitle string
	IsOpen          bool
}

// Panel is the single open-discussion slot of a session. Opening an item
// replaces whatever was open and points the store at it.
type Panel struct {
	store *Store

	mu    sync.Mutex
	state UIState
}

func NewPanel(store *Store) *Panel {
	return &Panel{store: store}
}

func (p *Panel) Store() *Store {
	return p.store
}

// Open shows itemID's discussion. The store switches items even if the
// load fails; the error is returned for display.
func (p *Panel) Open(ctx context.Context, itemID, title string) error {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return ErrNoItem
	}
	p.mu.Lock()
	p.state = UIState{ActiveItemID: itemID, ActiveItemTitle: title, IsOpen: true}
	p.mu.Unlock()
	if p.store == nil {
		return nil
	}
	return p.store.Open(ctx, itemID)
}

// Close hides the discussion and stops its feed. The active item and
// title are kept so a reopen can refer to them.
func (p *Panel) Close() {
	p.mu.Lock()
	p.state.IsOpen = false
	p.mu.Unlock()
	if p.store != nil {
		p.store.Close()
	}
}

func (p *Panel) State() UIState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

type panelKey struct{}

// WithPanel installs p for everything running under the returned context.
func WithPanel(ctx context.Context, p *Panel) context.Context {
	return context.WithValue(ctx, panelKey{}, p)
}

// FromContext returns the panel installed by WithPanel. Calling it without
// one is a wiring bug and panics.
func FromContext(ctx context.Context) *Panel {
	p, ok := ctx.Value(panelKey{}).(*Panel)
	if !ok || p == nil {
		panic("discussion: FromContext called without WithPanel")
	}
	return p
}
