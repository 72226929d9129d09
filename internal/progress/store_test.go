package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"gmptracker/internal/realtime"
	"gmptracker/internal/records"
)

type fakeBackend struct {
	mu       sync.Mutex
	listFn   func(context.Context) ([]records.Progress, error)
	upsertFn func(context.Context, []records.ProgressPatch) ([]records.Progress, error)
	resetFn  func(context.Context) (int, error)
	importFn func(context.Context, records.Backup) ([]records.Progress, error)
	upserts  [][]records.ProgressPatch
	resets   int
	upserted chan []records.ProgressPatch
	feed     chan records.Change
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		upserted: make(chan []records.ProgressPatch, 16),
		feed:     make(chan records.Change, 16),
	}
}

func (f *fakeBackend) ListProgress(ctx context.Context) ([]records.Progress, error) {
	if f.listFn != nil {
		return f.listFn(ctx)
	}
	return []records.Progress{}, nil
}

func (f *fakeBackend) UpsertProgress(ctx context.Context, patches []records.ProgressPatch) ([]records.Progress, error) {
	f.mu.Lock()
	f.upserts = append(f.upserts, patches)
	f.mu.Unlock()
	f.upserted <- patches
	if f.upsertFn != nil {
		return f.upsertFn(ctx, patches)
	}
	return []records.Progress{}, nil
}

func (f *fakeBackend) ResetProgress(ctx context.Context) (int, error) {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
	if f.resetFn != nil {
		return f.resetFn(ctx)
	}
	return 0, nil
}

func (f *fakeBackend) ImportProgress(ctx context.Context, backup records.Backup) ([]records.Progress, error) {
	if f.importFn != nil {
		return f.importFn(ctx, backup)
	}
	return backup.Rows(), nil
}

func (f *fakeBackend) Subscribe(context.Context, records.Table, string) (*realtime.Subscription, error) {
	return realtime.NewSubscription(f.feed, nil), nil
}

func (f *fakeBackend) upsertCalls() [][]records.ProgressPatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]records.ProgressPatch(nil), f.upserts...)
}

type memFallback struct {
	mu      sync.Mutex
	backup  records.Backup
	ok      bool
	cleared bool
}

func (m *memFallback) Load() (records.Backup, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backup, m.ok, nil
}

func (m *memFallback) Save(backup records.Backup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backup, m.ok = backup, true
	return nil
}

func (m *memFallback) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backup, m.ok, m.cleared = records.Backup{}, false, true
	return nil
}

func (m *memFallback) snapshot() (records.Backup, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backup, m.ok
}

func confirmWith(answer bool) ConfirmFunc {
	return func(context.Context, string) (bool, error) { return answer, nil }
}

func newTestStore(t *testing.T, backend *fakeBackend, opts Options) *Store {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.NotesDelay == 0 {
		opts.NotesDelay = 50 * time.Millisecond
	}
	s := New(backend, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Flush(ctx)
	})
	return s
}

func flush(t *testing.T, s *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func boolPtr(v bool) *bool { return &v }

func strPtr(v string) *string { return &v }

func TestEntryDefaultsForUnseenItem(t *testing.T) {
	s := newTestStore(t, newFakeBackend(), Options{})
	got := s.Entry("never-touched")
	if got.IsComplete || got.Status != records.StatusNeed || got.Notes != "" {
		t.Fatalf("unexpected defaults %#v", got)
	}
	if len(s.Entries()) != 0 {
		t.Fatal("reading must not materialize entries")
	}
}

func TestToggleCompleteIsOptimistic(t *testing.T) {
	backend := newFakeBackend()
	release := make(chan struct{})
	backend.upsertFn = func(context.Context, []records.ProgressPatch) ([]records.Progress, error) {
		<-release
		return nil, nil
	}
	s := newTestStore(t, backend, Options{})

	if err := s.ToggleComplete("req-1", true); err != nil {
		t.Fatalf("ToggleComplete() error = %v", err)
	}
	if !s.Entry("req-1").IsComplete {
		t.Fatal("expected cache to change before the write resolves")
	}

	close(release)
	flush(t, s)
	want := [][]records.ProgressPatch{{{ItemID: "req-1", IsComplete: boolPtr(true)}}}
	if diff := cmp.Diff(want, backend.upsertCalls()); diff != "" {
		t.Fatalf("upserts mismatch (-want +got):\n%s", diff)
	}
}

func TestToggleThenStatusScenario(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(t, backend, Options{})

	if err := s.ToggleComplete("req-1", true); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateStatus("req-1", records.StatusHave); err != nil {
		t.Fatal(err)
	}

	got := s.Entry("req-1")
	if !got.IsComplete || got.Status != records.StatusHave || got.Notes != "" {
		t.Fatalf("unexpected entry %#v", got)
	}
	flush(t, s)
	if len(backend.upsertCalls()) != 2 {
		t.Fatalf("expected two writes, got %d", len(backend.upsertCalls()))
	}
}

func TestWriteFailureKeepsOptimisticState(t *testing.T) {
	backend := newFakeBackend()
	backend.upsertFn = func(context.Context, []records.ProgressPatch) ([]records.Progress, error) {
		return nil, errors.New("offline")
	}
	fallback := &memFallback{}
	s := newTestStore(t, backend, Options{Fallback: fallback})

	if err := s.UpdateStatus("req-1", "PARTIAL"); err != nil {
		t.Fatal(err)
	}
	flush(t, s)

	if got := s.Entry("req-1").Status; got != records.StatusPartial {
		t.Fatalf("expected status to stay partial, got %q", got)
	}
	backup, ok := fallback.snapshot()
	if !ok || backup.Statuses["req-1"] != records.StatusPartial {
		t.Fatalf("expected local snapshot to keep the edit, got %#v", backup)
	}
}

func TestNotesAreCoalesced(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(t, backend, Options{})

	if err := s.UpdateNotes("x", "a"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	_ = s.UpdateNotes("x", "ab")
	_ = s.UpdateNotes("y", "1")
	if got := s.Entry("x").Notes; got != "ab" {
		t.Fatalf("expected local notes to update at once, got %q", got)
	}

	select {
	case patches := <-backend.upserted:
		want := []records.ProgressPatch{
			{ItemID: "x", Notes: strPtr("ab")},
			{ItemID: "y", Notes: strPtr("1")},
		}
		if diff := cmp.Diff(want, patches); diff != "" {
			t.Fatalf("batch mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notes were never written")
	}

	flush(t, s)
	if n := len(backend.upsertCalls()); n != 1 {
		t.Fatalf("expected exactly one write, got %d", n)
	}
}

func TestNotesWaitForQuietPeriod(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(t, backend, Options{NotesDelay: 200 * time.Millisecond})

	_ = s.UpdateNotes("x", "a")
	time.Sleep(120 * time.Millisecond)
	_ = s.UpdateNotes("x", "ab")
	time.Sleep(120 * time.Millisecond)
	if n := len(backend.upsertCalls()); n != 0 {
		t.Fatalf("expected the second edit to defer the write, got %d writes", n)
	}

	select {
	case patches := <-backend.upserted:
		if len(patches) != 1 || *patches[0].Notes != "ab" {
			t.Fatalf("unexpected batch %#v", patches)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notes were never written")
	}
}

func TestFlushSendsPendingNotes(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(t, backend, Options{NotesDelay: time.Hour})

	_ = s.UpdateNotes("x", "draft")
	flush(t, s)

	want := [][]records.ProgressPatch{{{ItemID: "x", Notes: strPtr("draft")}}}
	if diff := cmp.Diff(want, backend.upsertCalls()); diff != "" {
		t.Fatalf("upserts mismatch (-want +got):\n%s", diff)
	}
}

func TestReplacedNotesTimerDoesNotFlush(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(t, backend, Options{NotesDelay: time.Hour})

	_ = s.UpdateNotes("x", "a")
	s.mu.Lock()
	replaced := s.notesGen
	s.mu.Unlock()
	_ = s.UpdateNotes("x", "ab")

	// The first timer fires after the second edit has already replaced it.
	s.flushNotes(replaced)
	time.Sleep(20 * time.Millisecond)
	if n := len(backend.upsertCalls()); n != 0 {
		t.Fatalf("expected the replaced timer to skip the write, got %d writes", n)
	}
	s.mu.Lock()
	timer := s.notesTimer
	s.mu.Unlock()
	if timer == nil {
		t.Fatal("the current notes timer must survive a replaced one firing")
	}

	flush(t, s)
	want := [][]records.ProgressPatch{{{ItemID: "x", Notes: strPtr("ab")}}}
	if diff := cmp.Diff(want, backend.upsertCalls()); diff != "" {
		t.Fatalf("upserts mismatch (-want +got):\n%s", diff)
	}
}

type codedError string

func (e codedError) Error() string     { return "rejected: " + string(e) }
func (e codedError) ErrorCode() string { return string(e) }

func TestRejectedNotesBatchIsResentPerItem(t *testing.T) {
	backend := newFakeBackend()
	backend.upsertFn = func(_ context.Context, patches []records.ProgressPatch) ([]records.Progress, error) {
		for _, patch := range patches {
			if patch.ItemID == "bogus" {
				return nil, fmt.Errorf("upsert: %w", codedError(records.CodeUnknownItem))
			}
		}
		return []records.Progress{}, nil
	}
	s := newTestStore(t, backend, Options{NotesDelay: time.Hour})

	_ = s.UpdateNotes("bogus", "lost")
	_ = s.UpdateNotes("valid", "kept")
	flush(t, s)

	want := [][]records.ProgressPatch{
		{{ItemID: "bogus", Notes: strPtr("lost")}, {ItemID: "valid", Notes: strPtr("kept")}},
		{{ItemID: "bogus", Notes: strPtr("lost")}},
		{{ItemID: "valid", Notes: strPtr("kept")}},
	}
	if diff := cmp.Diff(want, backend.upsertCalls()); diff != "" {
		t.Fatalf("upserts mismatch (-want +got):\n%s", diff)
	}
}

func TestUncodedWriteFailureIsNotResent(t *testing.T) {
	backend := newFakeBackend()
	backend.upsertFn = func(context.Context, []records.ProgressPatch) ([]records.Progress, error) {
		return nil, errors.New("offline")
	}
	s := newTestStore(t, backend, Options{NotesDelay: time.Hour})

	_ = s.UpdateNotes("a", "1")
	_ = s.UpdateNotes("b", "2")
	flush(t, s)

	if n := len(backend.upsertCalls()); n != 1 {
		t.Fatalf("expected one write, got %d", n)
	}
}

func TestValidationHappensBeforeWrites(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(t, backend, Options{})

	if err := s.ToggleComplete("  ", true); !errors.Is(err, ErrNoItem) {
		t.Fatalf("expected ErrNoItem, got %v", err)
	}
	if err := s.UpdateStatus("req-1", "done"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if err := s.UpdateNotes("", "x"); !errors.Is(err, ErrNoItem) {
		t.Fatalf("expected ErrNoItem, got %v", err)
	}
	flush(t, s)
	if len(backend.upsertCalls()) != 0 || len(s.Entries()) != 0 {
		t.Fatal("rejected input must not change anything")
	}
}

func TestLoadReplacesCacheAndMirrorsSnapshot(t *testing.T) {
	backend := newFakeBackend()
	backend.listFn = func(context.Context) ([]records.Progress, error) {
		return []records.Progress{
			{ItemID: "a", IsComplete: true, Status: records.StatusHave},
			{ItemID: "b", Status: "", Notes: "todo"},
		}, nil
	}
	fallback := &memFallback{}
	s := newTestStore(t, backend, Options{Fallback: fallback})
	_ = s.ToggleComplete("stale", true)
	flush(t, s)

	if s.Ready() {
		t.Fatal("store must not be ready before Load")
	}
	s.Load(context.Background())
	if !s.Ready() {
		t.Fatal("expected ready after Load")
	}

	if got := s.Entry("b").Status; got != records.StatusNeed {
		t.Fatalf("expected empty status to default to need, got %q", got)
	}
	if s.Entry("stale").IsComplete {
		t.Fatal("Load must replace the cache")
	}
	if got := s.CompletedCount([]string{"a", "b", "stale"}); got != 1 {
		t.Fatalf("CompletedCount() = %d, want 1", got)
	}
	backup, ok := fallback.snapshot()
	want := records.Backup{
		CompletedItems: []string{"a"},
		Statuses:       map[string]records.Status{"a": records.StatusHave, "b": records.StatusNeed},
		Notes:          map[string]string{"b": "todo"},
	}
	if !ok {
		t.Fatal("expected snapshot to be saved")
	}
	if diff := cmp.Diff(want, backup); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFailureFallsBackToSnapshot(t *testing.T) {
	backend := newFakeBackend()
	backend.listFn = func(context.Context) ([]records.Progress, error) {
		return nil, errors.New("unreachable")
	}
	fallback := &memFallback{
		ok: true,
		backup: records.Backup{
			CompletedItems: []string{"a"},
			Statuses:       map[string]records.Status{"a": records.StatusHave},
			Notes:          map[string]string{},
		},
	}
	s := newTestStore(t, backend, Options{Fallback: fallback})

	s.Load(context.Background())
	if !s.Ready() {
		t.Fatal("expected ready after fallback")
	}
	got := s.Entry("a")
	if !got.IsComplete || got.Status != records.StatusHave {
		t.Fatalf("unexpected entry %#v", got)
	}
}

func TestLoadFailureWithoutSnapshotStartsEmpty(t *testing.T) {
	backend := newFakeBackend()
	backend.listFn = func(context.Context) ([]records.Progress, error) {
		return nil, errors.New("unreachable")
	}
	s := newTestStore(t, backend, Options{Fallback: &memFallback{}})

	s.Load(context.Background())
	if !s.Ready() || len(s.Entries()) != 0 {
		t.Fatalf("expected empty ready store, got %#v", s.Entries())
	}
}

func TestResetAll(t *testing.T) {
	t.Run("declined", func(t *testing.T) {
		backend := newFakeBackend()
		s := newTestStore(t, backend, Options{Confirm: confirmWith(false)})
		_ = s.ToggleComplete("a", true)

		if err := s.ResetAll(context.Background()); !errors.Is(err, ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
		if backend.resets != 0 || !s.Entry("a").IsComplete {
			t.Fatal("declined reset must change nothing")
		}
	})

	t.Run("remote failure", func(t *testing.T) {
		backend := newFakeBackend()
		backend.resetFn = func(context.Context) (int, error) { return 0, errors.New("boom") }
		fallback := &memFallback{}
		s := newTestStore(t, backend, Options{Confirm: confirmWith(true), Fallback: fallback})
		_ = s.ToggleComplete("a", true)
		flush(t, s)

		if err := s.ResetAll(context.Background()); err == nil {
			t.Fatal("expected error")
		}
		if !s.Entry("a").IsComplete {
			t.Fatal("failed reset must leave the cache alone")
		}
		if _, ok := fallback.snapshot(); !ok {
			t.Fatal("failed reset must leave the snapshot alone")
		}
	})

	t.Run("confirmed", func(t *testing.T) {
		backend := newFakeBackend()
		fallback := &memFallback{}
		s := newTestStore(t, backend, Options{Confirm: confirmWith(true), Fallback: fallback, NotesDelay: time.Hour})
		_ = s.ToggleComplete("a", true)
		flush(t, s)
		_ = s.UpdateNotes("b", "pending")

		if err := s.ResetAll(context.Background()); err != nil {
			t.Fatalf("ResetAll() error = %v", err)
		}
		if len(s.Entries()) != 0 {
			t.Fatal("expected empty cache")
		}
		fallback.mu.Lock()
		cleared := fallback.cleared
		fallback.mu.Unlock()
		if !cleared {
			t.Fatal("expected snapshot to be cleared")
		}
		flush(t, s)
		if n := len(backend.upsertCalls()); n != 1 {
			t.Fatalf("pending notes must be dropped by reset, got %d writes", n)
		}
	})

	t.Run("no confirmer", func(t *testing.T) {
		s := newTestStore(t, newFakeBackend(), Options{})
		if err := s.ResetAll(context.Background()); !errors.Is(err, ErrNoConfirmer) {
			t.Fatalf("expected ErrNoConfirmer, got %v", err)
		}
	})
}

func progressChange(t *testing.T, typ records.EventType, row records.Progress) records.Change {
	t.Helper()
	change, err := records.NewProgressChange(typ, row)
	if err != nil {
		t.Fatal(err)
	}
	return change
}

func TestWatchReconcilesChanges(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(t, backend, Options{NotesDelay: time.Hour})
	if err := s.Watch(context.Background()); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer s.Close()

	_ = s.UpdateNotes("a", "local draft")
	backend.feed <- progressChange(t, records.EventUpdate, records.Progress{ItemID: "a", Status: records.StatusPartial, Notes: "remote"})
	waitFor(t, func() bool { return s.Entry("a").Notes == "remote" })
	if got := s.Entry("a").Status; got != records.StatusPartial {
		t.Fatalf("expected remote status, got %q", got)
	}

	backend.feed <- progressChange(t, records.EventInsert, records.Progress{ItemID: "b", IsComplete: true, Status: records.StatusHave})
	waitFor(t, func() bool { return s.Entry("b").IsComplete })

	backend.feed <- records.Change{Table: records.TableMessages, Type: records.EventInsert, ItemID: "c"}
	backend.feed <- progressChange(t, records.EventDelete, records.Progress{ItemID: "b"})
	waitFor(t, func() bool { return len(s.Entries()) == 1 })

	got := s.Entry("b")
	if got.IsComplete || got.Status != records.StatusNeed {
		t.Fatalf("expected delete to purge the whole entry, got %#v", got)
	}
}

func TestReloadAfterWatchKeepsFedChanges(t *testing.T) {
	backend := newFakeBackend()
	calls := 0
	backend.listFn = func(context.Context) ([]records.Progress, error) {
		calls++
		if calls == 1 {
			return []records.Progress{{ItemID: "a", Status: records.StatusNeed}}, nil
		}
		// Committed between the first load and the subscription.
		rows := []records.Progress{
			{ItemID: "a", Status: records.StatusNeed},
			{ItemID: "b", IsComplete: true, Status: records.StatusHave},
		}
		backend.feed <- progressChange(t, records.EventUpdate, records.Progress{ItemID: "a", Status: records.StatusPartial, Notes: "fed"})
		backend.feed <- progressChange(t, records.EventInsert, records.Progress{ItemID: "c", Status: records.StatusHave})
		time.Sleep(50 * time.Millisecond)
		return rows, nil
	}
	s := newTestStore(t, backend, Options{NotesDelay: time.Hour})
	ctx := context.Background()

	s.Load(ctx)
	if err := s.Watch(ctx); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer s.Close()
	s.Load(ctx)

	waitFor(t, func() bool { return len(s.Entries()) == 3 })
	if got := s.Entry("a"); got.Status != records.StatusPartial || got.Notes != "fed" {
		t.Fatalf("update fed during load was lost: %#v", got)
	}
	if !s.Entry("b").IsComplete {
		t.Fatal("reload must pick up rows committed before the subscription")
	}

	s.mu.Lock()
	pending := len(s.pending)
	s.mu.Unlock()
	if pending != 0 {
		t.Fatalf("pending = %d after load", pending)
	}
}

func TestImportAndExport(t *testing.T) {
	backend := newFakeBackend()
	fallback := &memFallback{}
	s := newTestStore(t, backend, Options{Fallback: fallback})
	_ = s.ToggleComplete("old", true)
	flush(t, s)

	backup := records.Backup{
		CompletedItems: []string{"a"},
		Statuses:       map[string]records.Status{"b": records.StatusPartial},
		Notes:          map[string]string{"b": "half done"},
	}
	if err := s.Import(context.Background(), backup); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	want := records.Backup{
		CompletedItems: []string{"a"},
		Statuses:       map[string]records.Status{"a": records.StatusNeed, "b": records.StatusPartial},
		Notes:          map[string]string{"b": "half done"},
	}
	if diff := cmp.Diff(want, s.Export()); diff != "" {
		t.Fatalf("export mismatch (-want +got):\n%s", diff)
	}
	saved, _ := fallback.snapshot()
	if diff := cmp.Diff(want, saved); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestImportFailureKeepsCache(t *testing.T) {
	backend := newFakeBackend()
	backend.importFn = func(context.Context, records.Backup) ([]records.Progress, error) {
		return nil, errors.New("forbidden")
	}
	s := newTestStore(t, backend, Options{})
	_ = s.ToggleComplete("a", true)

	if err := s.Import(context.Background(), records.EmptyBackup()); err == nil {
		t.Fatal("expected error")
	}
	if !s.Entry("a").IsComplete {
		t.Fatal("failed import must leave the cache alone")
	}
}
