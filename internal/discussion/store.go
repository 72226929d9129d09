// Package discussion keeps the message thread of the checklist item whose
// discussion is open and tracks which item that is.
package discussion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"gmptracker/internal/realtime"
	"gmptracker/internal/records"
)

var (
	ErrEmptyBody    = errors.New("message is empty")
	ErrNoItem       = errors.New("no checklist item selected")
	ErrNameRequired = errors.New("display name is required")
	ErrCancelled    = errors.New("cancelled")
	ErrNoConfirmer  = errors.New("no confirmation prompt configured")
)

// Backend is the remote side of the store.
type Backend interface {
	ListMessages(ctx context.Context, itemID string) ([]records.Message, error)
	PostMessage(ctx context.Context, itemID, userName, body string) (records.Message, error)
	EditMessage(ctx context.Context, messageID, userName, body string) (records.Message, error)
	DeleteMessage(ctx context.Context, messageID, userName string) (records.Message, error)
	Subscribe(ctx context.Context, table records.Table, itemID string) (*realtime.Subscription, error)
}

// NameStore persists the display name between sessions.
type NameStore interface {
	DisplayName() string
	SetDisplayName(name string) error
}

type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

type Message struct {
	ID         string
	ItemID     string
	AuthorName string
	Body       string
	CreatedAt  time.Time
	IsEdited   bool
	IsDeleted  bool
}

func messageFromRow(row records.Message) Message {
	return Message{
		ID:         row.ID,
		ItemID:     row.ItemID,
		AuthorName: row.UserName,
		Body:       row.Message,
		CreatedAt:  row.CreatedAt,
		IsEdited:   row.IsEdited,
		IsDeleted:  row.IsDeleted,
	}
}

type Options struct {
	Names   NameStore
	Confirm Confirmer
	Logger  *log.Logger
}

type Store struct {
	backend Backend
	names   NameStore
	confirm Confirmer
	logger  *log.Logger

	mu       sync.Mutex
	itemID   string
	messages []Message
	draft    string
	sub      *realtime.Subscription

	// Changes seen while a load is in flight are kept in pending and
	// replayed over the fetched list. epoch changes on every Open so loads
	// started for a previous item are discarded.
	epoch   int
	loads   int
	pending []fedChange
}

type fedChange struct {
	typ records.EventType
	msg Message
}

func NewStore(backend Backend, opts Options) *Store {
	s := &Store{
		backend: backend,
		names:   opts.Names,
		confirm: opts.Confirm,
		logger:  opts.Logger,
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	return s
}

// Open switches the store to itemID: the previous subscription is torn
// down, the item's feed is subscribed and its messages are loaded. Changes
// that arrive on the feed before the load completes are replayed over the
// fetched list.
func (s *Store) Open(ctx context.Context, itemID string) error {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return ErrNoItem
	}
	s.Close()

	s.mu.Lock()
	s.itemID = itemID
	s.messages = nil
	s.epoch++
	s.loads = 1
	s.pending = nil
	epoch := s.epoch
	s.mu.Unlock()

	sub, err := s.backend.Subscribe(ctx, records.TableMessages, itemID)
	if err != nil {
		s.logger.Printf("discussion: subscribe to %s: %v", itemID, err)
	} else {
		s.mu.Lock()
		if s.itemID == itemID {
			s.sub = sub
			s.mu.Unlock()
			go s.watch(sub)
		} else {
			s.mu.Unlock()
			sub.Close()
		}
	}
	return s.load(ctx, itemID, epoch)
}

// Load replaces the list with itemID's messages, oldest first, then replays
// any feed changes seen while the request was in flight. On failure the
// list is left as it was. A load that completes after Open has moved to
// another item is discarded.
func (s *Store) Load(ctx context.Context, itemID string) error {
	s.mu.Lock()
	s.loads++
	epoch := s.epoch
	s.mu.Unlock()
	return s.load(ctx, itemID, epoch)
}

func (s *Store) load(ctx context.Context, itemID string, epoch int) error {
	rows, err := s.backend.ListMessages(ctx, itemID)

	s.mu.Lock()
	defer s.mu.Unlock()
	current := epoch == s.epoch
	if current {
		s.loads--
		defer s.replayLocked()
	}

	if err != nil {
		s.logger.Printf("discussion: load messages for %s: %v", itemID, err)
		return fmt.Errorf("load messages: %w", err)
	}
	if !current || (s.itemID != "" && s.itemID != itemID) {
		return nil
	}
	messages := make([]Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, messageFromRow(row))
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	s.itemID = itemID
	s.messages = messages
	return nil
}

// replayLocked reapplies the changes buffered during loads. The buffer is
// kept until the last outstanding load has installed its list.
func (s *Store) replayLocked() {
	for _, change := range s.pending {
		s.applyLocked(change)
	}
	if s.loads <= 0 {
		s.loads = 0
		s.pending = nil
	}
}

func (s *Store) ItemID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.itemID
}

// Messages returns a copy of the current list.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

func (s *Store) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

func (s *Store) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

// Name returns the persisted display name, or "" when none is set.
func (s *Store) Name() string {
	if s.names == nil {
		return ""
	}
	return strings.TrimSpace(s.names.DisplayName())
}

func (s *Store) SetName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameRequired
	}
	if s.names == nil {
		return errors.New("no name store configured")
	}
	if err := s.names.SetDisplayName(name); err != nil {
		return fmt.Errorf("save display name: %w", err)
	}
	return nil
}

// Send posts body to itemID. An empty authorName means the persisted name;
// a given one becomes the persisted name. The message is not appended here:
// it shows up when its insert arrives on the feed. The draft is cleared
// while the post is in flight and restored if it fails.
func (s *Store) Send(ctx context.Context, itemID, authorName, body string) error {
	itemID = strings.TrimSpace(itemID)
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return ErrEmptyBody
	}
	if itemID == "" {
		return ErrNoItem
	}
	author := strings.TrimSpace(authorName)
	if author == "" {
		author = s.Name()
		if author == "" {
			return ErrNameRequired
		}
	} else if author != s.Name() && s.names != nil {
		if err := s.names.SetDisplayName(author); err != nil {
			s.logger.Printf("discussion: save display name: %v", err)
		}
	}

	s.mu.Lock()
	s.draft = ""
	s.mu.Unlock()

	if _, err := s.backend.PostMessage(ctx, itemID, author, trimmed); err != nil {
		s.mu.Lock()
		if s.draft == "" {
			s.draft = trimmed
		}
		s.mu.Unlock()
		s.logger.Printf("discussion: send to %s failed: %v", itemID, err)
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Edit replaces the body of messageID. The list changes only when the
// update arrives on the feed.
func (s *Store) Edit(ctx context.Context, messageID, body string) error {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return ErrEmptyBody
	}
	if _, err := s.backend.EditMessage(ctx, messageID, s.Name(), trimmed); err != nil {
		s.logger.Printf("discussion: edit %s failed: %v", messageID, err)
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

// SoftDelete asks for confirmation, then marks messageID deleted. The
// server replaces its body with the deleted placeholder.
func (s *Store) SoftDelete(ctx context.Context, messageID string) error {
	if s.confirm == nil {
		return ErrNoConfirmer
	}
	ok, err := s.confirm.Confirm(ctx, "Delete this message?")
	if err != nil {
		return fmt.Errorf("confirm delete: %w", err)
	}
	if !ok {
		return ErrCancelled
	}
	if _, err := s.backend.DeleteMessage(ctx, messageID, s.Name()); err != nil {
		s.logger.Printf("discussion: delete %s failed: %v", messageID, err)
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// CanModify reports whether msg was posted under the current display name.
// Names are self-asserted, so this only keeps honest users from editing
// each other's messages.
func (s *Store) CanModify(msg Message) bool {
	name := s.Name()
	return name != "" && !msg.IsDeleted && msg.AuthorName == name
}

// Close tears down the feed subscription. The list stays readable.
func (s *Store) Close() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

func (s *Store) watch(sub *realtime.Subscription) {
	for {
		select {
		case <-sub.Done():
			return
		case change, ok := <-sub.C:
			if !ok {
				select {
				case <-sub.Done():
				default:
					s.logger.Printf("discussion: change feed closed")
				}
				return
			}
			select {
			case <-sub.Done():
				return
			default:
			}
			s.apply(change)
		}
	}
}

// apply merges one change into the list. Changes for other items are
// ignored.
func (s *Store) apply(change records.Change) {
	if change.Table != records.TableMessages {
		return
	}
	row, err := change.DecodeMessage()
	if err != nil {
		s.logger.Printf("discussion: ignore change: %v", err)
		return
	}
	msg := messageFromRow(row)

	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ItemID != s.itemID {
		return
	}
	fed := fedChange{typ: change.Type, msg: msg}
	if s.loads > 0 {
		s.pending = append(s.pending, fed)
	}
	s.applyLocked(fed)
}

// applyLocked places inserts by CreatedAt, dropping ones already present.
// Updates replace the message where it stands.
func (s *Store) applyLocked(change fedChange) {
	msg := change.msg
	idx := s.indexLocked(msg.ID)
	switch change.typ {
	case records.EventInsert:
		if idx >= 0 {
			return
		}
		at := sort.Search(len(s.messages), func(i int) bool {
			return s.messages[i].CreatedAt.After(msg.CreatedAt)
		})
		s.messages = append(s.messages, Message{})
		copy(s.messages[at+1:], s.messages[at:])
		s.messages[at] = msg
	case records.EventUpdate:
		if idx >= 0 {
			s.messages[idx] = msg
		}
	}
}

func (s *Store) indexLocked(id string) int {
	for i, msg := range s.messages {
		if msg.ID == id {
			return i
		}
	}
	return -1
}
