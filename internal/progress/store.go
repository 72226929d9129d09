// Package progress keeps the client's view of checklist progress: a local
// cache that is mutated optimistically, written through to the API and
// reconciled against the progress change feed.
package progress

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

// NotesDelay is the quiet period after the last note edit before pending
// notes are written.
const NotesDelay = time.Second

const writeTimeout = 30 * time.Second

var (
	ErrNoItem        = errors.New("item id is required")
	ErrInvalidStatus = errors.New("status must be have, partial or need")
	ErrCancelled     = errors.New("cancelled")
	ErrNoConfirmer   = errors.New("no confirmation prompt configured")
)

// Backend is the remote side of the store.
type Backend interface {
	ListProgress(ctx context.Context) ([]records.Progress, error)
	UpsertProgress(ctx context.Context, patches []records.ProgressPatch) ([]records.Progress, error)
	ResetProgress(ctx context.Context) (int, error)
	ImportProgress(ctx context.Context, backup records.Backup) ([]records.Progress, error)
	Subscribe(ctx context.Context, table records.Table, itemID string) (*realtime.Subscription, error)
}

// Fallback persists the cache between runs for use when the API cannot be
// reached.
type Fallback interface {
	Load() (records.Backup, bool, error)
	Save(backup records.Backup) error
	Clear() error
}

// Confirmer asks the user to approve a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// Entry is the tracked state of one checklist item.
type Entry struct {
	ItemID     string
	IsComplete bool
	Status     records.Status
	Notes      string
	UpdatedAt  time.Time
}

func defaultEntry(itemID string) Entry {
	return Entry{ItemID: itemID, Status: records.StatusNeed}
}

func entryFromRow(row records.Progress) Entry {
	return Entry{
		ItemID:     row.ItemID,
		IsComplete: row.IsComplete,
		Status:     records.NormalizeStatus(row.Status),
		Notes:      row.Notes,
		UpdatedAt:  row.UpdatedAt,
	}
}

type Options struct {
	Fallback Fallback
	Confirm  Confirmer
	Logger   *log.Logger
	// NotesDelay overrides the note write quiet period.
	NotesDelay time.Duration
}

type Store struct {
	backend    Backend
	fallback   Fallback
	confirm    Confirmer
	logger     *log.Logger
	notesDelay time.Duration

	mu           sync.Mutex
	entries      map[string]Entry
	ready        bool
	pendingNotes map[string]string
	notesTimer   *time.Timer
	sub          *realtime.Subscription

	// notesGen identifies the current notes timer; a timer that fires after
	// being replaced finds a newer generation and does nothing.
	notesGen int

	// Feed changes seen while a load is in flight are kept in pending and
	// replayed over the loaded rows.
	loads   int
	pending []records.Change

	// persistMu orders fallback writes so a newer cache is never
	// overwritten by an older one.
	persistMu sync.Mutex
	writes    sync.WaitGroup
}

func New(backend Backend, opts Options) *Store {
	s := &Store{
		backend:      backend,
		fallback:     opts.Fallback,
		confirm:      opts.Confirm,
		logger:       opts.Logger,
		notesDelay:   opts.NotesDelay,
		entries:      map[string]Entry{},
		pendingNotes: map[string]string{},
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.notesDelay <= 0 {
		s.notesDelay = NotesDelay
	}
	return s
}

// Load replaces the cache with the workspace's rows. When the API fails the
// last saved snapshot is used instead, or an empty cache when there is none.
// Either way the store is ready afterwards. Changes arriving from Watch
// while the request is in flight are replayed over the result, so calling
// Load after Watch leaves nothing unreconciled.
func (s *Store) Load(ctx context.Context) {
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()

	rows, err := s.backend.ListProgress(ctx)
	if err != nil {
		s.logger.Printf("progress: load failed, using local snapshot: %v", err)
		entries := map[string]Entry{}
		if backup, ok := s.loadFallback(); ok {
			for _, row := range backup.Rows() {
				entries[row.ItemID] = entryFromRow(row)
			}
		}
		s.install(entries)
		return
	}

	entries := make(map[string]Entry, len(rows))
	for _, row := range rows {
		entries[row.ItemID] = entryFromRow(row)
	}
	s.install(entries)
	s.persist()
}

// install replaces the cache with loaded entries and replays the feed
// changes that arrived while loading.
func (s *Store) install(entries map[string]Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
	s.ready = true
	s.loads--
	for _, change := range s.pending {
		s.applyLocked(change)
	}
	if s.loads <= 0 {
		s.loads = 0
		s.pending = nil
	}
}

func (s *Store) loadFallback() (records.Backup, bool) {
	if s.fallback == nil {
		return records.Backup{}, false
	}
	backup, ok, err := s.fallback.Load()
	if err != nil {
		s.logger.Printf("progress: read local snapshot: %v", err)
		return records.Backup{}, false
	}
	return backup, ok
}

// Ready reports whether Load has finished.
func (s *Store) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Entry returns the state of itemID, with defaults for items never touched.
func (s *Store) Entry(itemID string) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entryLocked(itemID)
}

func (s *Store) entryLocked(itemID string) Entry {
	if entry, ok := s.entries[itemID]; ok {
		return entry
	}
	return defaultEntry(itemID)
}

// Entries returns every materialized entry ordered by item id.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

// CompletedCount counts the completed items among ids.
func (s *Store) CompletedCount(ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, id := range ids {
		if s.entries[id].IsComplete {
			count++
		}
	}
	return count
}

// IsComplete is Entry(itemID).IsComplete, shaped for catalog.Stats.
func (s *Store) IsComplete(itemID string) bool {
	return s.Entry(itemID).IsComplete
}

// ToggleComplete marks the item complete or not. The cache changes at once;
// the remote write happens in the background and failures are only logged.
func (s *Store) ToggleComplete(itemID string, complete bool) error {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return ErrNoItem
	}
	s.mu.Lock()
	entry := s.entryLocked(itemID)
	entry.IsComplete = complete
	entry.UpdatedAt = time.Now().UTC()
	s.entries[itemID] = entry
	s.writeLocked([]records.ProgressPatch{{ItemID: itemID, IsComplete: &complete}})
	s.mu.Unlock()
	return nil
}

func (s *Store) UpdateStatus(itemID string, status records.Status) error {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return ErrNoItem
	}
	parsed, ok := records.ParseStatus(string(status))
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	s.mu.Lock()
	entry := s.entryLocked(itemID)
	entry.Status = parsed
	entry.UpdatedAt = time.Now().UTC()
	s.entries[itemID] = entry
	s.writeLocked([]records.ProgressPatch{{ItemID: itemID, Status: &parsed}})
	s.mu.Unlock()
	return nil
}

// UpdateNotes changes the notes in the cache immediately. Remote writes wait
// until no note has been edited for the notes delay, then go out as one
// batch carrying the last text of each edited item.
func (s *Store) UpdateNotes(itemID, text string) error {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return ErrNoItem
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.entryLocked(itemID)
	entry.Notes = text
	entry.UpdatedAt = time.Now().UTC()
	s.entries[itemID] = entry

	s.pendingNotes[itemID] = text
	if s.notesTimer != nil {
		s.notesTimer.Stop()
	}
	s.notesGen++
	gen := s.notesGen
	s.notesTimer = time.AfterFunc(s.notesDelay, func() { s.flushNotes(gen) })
	return nil
}

func (s *Store) flushNotes(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.notesGen {
		return
	}
	s.notesTimer = nil
	s.writeLocked(s.takeNotesLocked())
}

func (s *Store) takeNotesLocked() []records.ProgressPatch {
	if len(s.pendingNotes) == 0 {
		return nil
	}
	ids := make([]string, 0, len(s.pendingNotes))
	for id := range s.pendingNotes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	patches := make([]records.ProgressPatch, 0, len(ids))
	for _, id := range ids {
		notes := s.pendingNotes[id]
		patches = append(patches, records.ProgressPatch{ItemID: id, Notes: &notes})
	}
	s.pendingNotes = map[string]string{}
	return patches
}

// writeLocked starts a background upsert. The caller holds s.mu, which makes
// the WaitGroup increment visible to Flush before the lock is released.
func (s *Store) writeLocked(patches []records.ProgressPatch) {
	if len(patches) == 0 {
		return
	}
	s.writes.Add(1)
	go func() {
		defer s.writes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		s.save(ctx, patches)
		s.persist()
	}()
}

// save upserts patches. The server rejects a batch as a whole when one of
// its rows is invalid, so a rejected batch is resent one row at a time and
// only the offending rows are lost.
func (s *Store) save(ctx context.Context, patches []records.ProgressPatch) {
	_, err := s.backend.UpsertProgress(ctx, patches)
	if err == nil {
		return
	}
	if len(patches) < 2 || !rowRejected(err) {
		s.logger.Printf("progress: save %d item(s) failed: %v", len(patches), err)
		return
	}
	for _, patch := range patches {
		if _, err := s.backend.UpsertProgress(ctx, []records.ProgressPatch{patch}); err != nil {
			s.logger.Printf("progress: save %s failed: %v", patch.ItemID, err)
		}
	}
}

// rowRejected reports whether err carries one of the error codes the API
// uses for a single bad row.
func rowRejected(err error) bool {
	var coded interface{ ErrorCode() string }
	if !errors.As(err, &coded) {
		return false
	}
	switch coded.ErrorCode() {
	case records.CodeUnknownItem, records.CodeValidation:
		return true
	}
	return false
}

// Flush sends pending notes now and waits for every write in flight.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.notesTimer != nil {
		s.notesTimer.Stop()
		s.notesTimer = nil
	}
	s.writeLocked(s.takeNotesLocked())
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.writes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResetAll deletes all progress of the workspace after the user confirms.
// If the remote delete fails nothing local changes.
func (s *Store) ResetAll(ctx context.Context) error {
	if s.confirm == nil {
		return ErrNoConfirmer
	}
	ok, err := s.confirm.Confirm(ctx, "Reset all progress? This cannot be undone.")
	if err != nil {
		return fmt.Errorf("confirm reset: %w", err)
	}
	if !ok {
		return ErrCancelled
	}
	if _, err := s.backend.ResetProgress(ctx); err != nil {
		return fmt.Errorf("reset progress: %w", err)
	}

	s.mu.Lock()
	s.entries = map[string]Entry{}
	s.pendingNotes = map[string]string{}
	if s.notesTimer != nil {
		s.notesTimer.Stop()
		s.notesTimer = nil
	}
	s.mu.Unlock()

	if s.fallback != nil {
		s.persistMu.Lock()
		defer s.persistMu.Unlock()
		if err := s.fallback.Clear(); err != nil {
			s.logger.Printf("progress: clear local snapshot: %v", err)
		}
	}
	return nil
}

// Export returns the cache as a portable backup.
func (s *Store) Export() records.Backup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backupLocked()
}

func (s *Store) backupLocked() records.Backup {
	rows := make([]records.Progress, 0, len(s.entries))
	for _, entry := range s.entries {
		rows = append(rows, records.Progress{
			ItemID:     entry.ItemID,
			IsComplete: entry.IsComplete,
			Status:     entry.Status,
			Notes:      entry.Notes,
		})
	}
	return records.BackupFromRows(rows)
}

// Import replaces the workspace's progress with backup, remotely first and
// then in the cache.
func (s *Store) Import(ctx context.Context, backup records.Backup) error {
	rows, err := s.backend.ImportProgress(ctx, backup)
	if err != nil {
		return fmt.Errorf("import progress: %w", err)
	}
	entries := make(map[string]Entry, len(rows))
	for _, row := range rows {
		entries[row.ItemID] = entryFromRow(row)
	}
	s.mu.Lock()
	s.entries = entries
	s.pendingNotes = map[string]string{}
	if s.notesTimer != nil {
		s.notesTimer.Stop()
		s.notesTimer = nil
	}
	s.mu.Unlock()
	s.persist()
	return nil
}

// Watch subscribes to the progress feed and applies every change to the
// cache until Close. A previous watch is replaced.
func (s *Store) Watch(ctx context.Context) error {
	sub, err := s.backend.Subscribe(ctx, records.TableProgress, "")
	if err != nil {
		return fmt.Errorf("subscribe to progress: %w", err)
	}
	s.mu.Lock()
	previous := s.sub
	s.sub = sub
	s.mu.Unlock()
	if previous != nil {
		previous.Close()
	}

	go func() {
		for {
			select {
			case <-sub.Done():
				return
			case change, ok := <-sub.C:
				if !ok {
					select {
					case <-sub.Done():
					default:
						s.logger.Printf("progress: change feed closed")
					}
					return
				}
				select {
				case <-sub.Done():
					return
				default:
				}
				s.apply(change)
				if len(sub.C) == 0 {
					s.persist()
				}
			}
		}
	}()
	return nil
}

// apply merges one change into the cache.
func (s *Store) apply(change records.Change) {
	if change.Table != records.TableProgress {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loads > 0 {
		s.pending = append(s.pending, change)
	}
	s.applyLocked(change)
}

// applyLocked overwrites the entry on inserts and updates, including values
// not yet written; a delete drops the entry.
func (s *Store) applyLocked(change records.Change) {
	switch change.Type {
	case records.EventInsert, records.EventUpdate:
		row, err := change.DecodeProgress()
		if err != nil {
			s.logger.Printf("progress: ignore change: %v", err)
			return
		}
		s.entries[row.ItemID] = entryFromRow(row)
	case records.EventDelete:
		if itemID := change.OldItemID(); itemID != "" {
			delete(s.entries, itemID)
		}
	}
}

// Close stops reconciliation. Writes already started still complete.
func (s *Store) Close() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	if s.notesTimer != nil {
		s.notesTimer.Stop()
		s.notesTimer = nil
	}
	s.writeLocked(s.takeNotesLocked())
	s.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

func (s *Store) persist() {
	if s.fallback == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	s.mu.Lock()
	backup := s.backupLocked()
	s.mu.Unlock()
	if err := s.fallback.Save(backup); err != nil {
		s.logger.Printf("progress: save local snapshot: %v", err)
	}
}
