package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"gmptracker/internal/auth"
	"gmptracker/internal/catalog"
	"gmptracker/internal/config"
	"gmptracker/internal/export"
	"gmptracker/internal/realtime"
	"gmptracker/internal/records"
	"gmptracker/internal/search"
	"gmptracker/internal/session"
	"gmptracker/internal/store"
	"gmptracker/internal/util"
)

const testSecret = "test-secret"

type fakeStore struct {
	pingFn               func(context.Context) error
	ensureWorkspaceFn    func(context.Context, store.Workspace) (store.Workspace, error)
	getWorkspaceBySlugFn func(context.Context, string) (store.Workspace, error)
	putWorkspaceKeyFn    func(context.Context, store.WorkspaceKey) error
	insertWorkspaceKeyFn func(context.Context, store.WorkspaceKey) error
	listWorkspaceKeysFn  func(context.Context, string) ([]store.WorkspaceKey, error)
	listProgressFn       func(context.Context, string) ([]records.Progress, error)
	upsertProgressFn     func(context.Context, string, []records.ProgressPatch) ([]store.ProgressWrite, error)
	deleteProgressFn     func(context.Context, string) ([]string, error)
	replaceProgressFn    func(context.Context, string, []records.Progress) ([]string, []records.Progress, error)
	listMessagesFn       func(context.Context, string, string) ([]records.Message, error)
	insertMessageFn      func(context.Context, records.Message) (records.Message, error)
	getMessageFn         func(context.Context, string, string) (records.Message, error)
	editMessageFn        func(context.Context, string, string, string) (records.Message, error)
	softDeleteMessageFn  func(context.Context, string, string) (records.Message, error)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) EnsureWorkspace(ctx context.Context, ws store.Workspace) (store.Workspace, error) {
	if f.ensureWorkspaceFn != nil {
		return f.ensureWorkspaceFn(ctx, ws)
	}
	return ws, nil
}

func (f *fakeStore) GetWorkspaceBySlug(ctx context.Context, slug string) (store.Workspace, error) {
	if f.getWorkspaceBySlugFn != nil {
		return f.getWorkspaceBySlugFn(ctx, slug)
	}
	return store.Workspace{}, store.ErrNotFound
}

func (f *fakeStore) PutWorkspaceKey(ctx context.Context, key store.WorkspaceKey) error {
	if f.putWorkspaceKeyFn != nil {
		return f.putWorkspaceKeyFn(ctx, key)
	}
	return nil
}

func (f *fakeStore) InsertWorkspaceKey(ctx context.Context, key store.WorkspaceKey) error {
	if f.insertWorkspaceKeyFn != nil {
		return f.insertWorkspaceKeyFn(ctx, key)
	}
	return nil
}

func (f *fakeStore) ListWorkspaceKeys(ctx context.Context, workspaceID string) ([]store.WorkspaceKey, error) {
	if f.listWorkspaceKeysFn != nil {
		return f.listWorkspaceKeysFn(ctx, workspaceID)
	}
	return []store.WorkspaceKey{}, nil
}

func (f *fakeStore) ListProgress(ctx context.Context, workspaceID string) ([]records.Progress, error) {
	if f.listProgressFn != nil {
		return f.listProgressFn(ctx, workspaceID)
	}
	return []records.Progress{}, nil
}

func (f *fakeStore) UpsertProgress(ctx context.Context, workspaceID string, patches []records.ProgressPatch) ([]store.ProgressWrite, error) {
	if f.upsertProgressFn != nil {
		return f.upsertProgressFn(ctx, workspaceID, patches)
	}
	return []store.ProgressWrite{}, nil
}

func (f *fakeStore) DeleteProgress(ctx context.Context, workspaceID string) ([]string, error) {
	if f.deleteProgressFn != nil {
		return f.deleteProgressFn(ctx, workspaceID)
	}
	return []string{}, nil
}

func (f *fakeStore) ReplaceProgress(ctx context.Context, workspaceID string, rows []records.Progress) ([]string, []records.Progress, error) {
	if f.replaceProgressFn != nil {
		return f.replaceProgressFn(ctx, workspaceID, rows)
	}
	return []string{}, rows, nil
}

func (f *fakeStore) ListMessages(ctx context.Context, workspaceID, itemID string) ([]records.Message, error) {
	if f.listMessagesFn != nil {
		return f.listMessagesFn(ctx, workspaceID, itemID)
	}
	return []records.Message{}, nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, msg records.Message) (records.Message, error) {
	if f.insertMessageFn != nil {
		return f.insertMessageFn(ctx, msg)
	}
	return msg, nil
}

func (f *fakeStore) GetMessage(ctx context.Context, workspaceID, messageID string) (records.Message, error) {
	if f.getMessageFn != nil {
		return f.getMessageFn(ctx, workspaceID, messageID)
	}
	return records.Message{}, store.ErrNotFound
}

func (f *fakeStore) EditMessage(ctx context.Context, workspaceID, messageID, body string) (records.Message, error) {
	if f.editMessageFn != nil {
		return f.editMessageFn(ctx, workspaceID, messageID, body)
	}
	return records.Message{}, store.ErrNotFound
}

func (f *fakeStore) SoftDeleteMessage(ctx context.Context, workspaceID, messageID string) (records.Message, error) {
	if f.softDeleteMessageFn != nil {
		return f.softDeleteMessageFn(ctx, workspaceID, messageID)
	}
	return records.Message{}, store.ErrNotFound
}

type fakeGit struct {
	mu        sync.Mutex
	snapshots []string
	historyFn func(string, int) ([]store.CommitInfo, error)
	atFn      func(string, string) (records.Backup, store.CommitInfo, error)
}

func (f *fakeGit) Snapshot(workspaceID string, _ records.Backup, author, message string) (store.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, message)
	return store.CommitInfo{Hash: "abc1234", Message: message, Author: author, CreatedAt: time.Now()}, nil
}

func (f *fakeGit) History(workspaceID string, limit int) ([]store.CommitInfo, error) {
	if f.historyFn != nil {
		return f.historyFn(workspaceID, limit)
	}
	return []store.CommitInfo{}, nil
}

func (f *fakeGit) SnapshotAt(workspaceID, hash string) (records.Backup, store.CommitInfo, error) {
	if f.atFn != nil {
		return f.atFn(workspaceID, hash)
	}
	return records.EmptyBackup(), store.CommitInfo{Hash: hash}, nil
}

func (f *fakeGit) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.snapshots...)
}

type fakeSearch struct {
	mu      sync.Mutex
	indexed []records.Message
	query   search.Query
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	f.mu.Lock()
	f.query = q
	f.mu.Unlock()
	return search.Response{Results: []search.Result{{ID: "m1", ItemID: "user-accounts", Snippet: "<mark>audit</mark>"}}, Total: 1, Query: q.Text}
}

func (f *fakeSearch) IndexMessage(msg records.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, msg)
}

type fakeExport struct {
	exportFn func(context.Context, export.Request) (*export.Result, error)
}

func (f *fakeExport) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	if f.exportFn != nil {
		return f.exportFn(ctx, req)
	}
	return &export.Result{Data: []byte(`{}`), Filename: "backup.json", MimeType: "application/json"}, nil
}

const testCatalogYAML = `
checklists:
  - id: it
    name: IT Infrastructure
    sections:
      - title: Critical
        requirements:
          - {id: user-accounts, title: Individual User Accounts, priority: high}
          - {id: system-inventory, title: System Inventory, priority: high}
  - id: backup
    name: Backup & Recovery
    sections:
      - title: Backups
        requirements:
          - {id: backup-sop, title: Backup SOP, priority: medium}
`

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalogYAML))
	if err != nil {
		t.Fatalf("catalog.Parse() error = %v", err)
	}
	return cat
}

type testEnv struct {
	svc    *Service
	server *HTTPServer
	store  *fakeStore
	git    *fakeGit
	search *fakeSearch
	broker *realtime.MemoryBroker
}

func newTestEnv(t *testing.T, fs *fakeStore) *testEnv {
	t.Helper()
	if fs == nil {
		fs = &fakeStore{}
	}
	env := &testEnv{
		store:  fs,
		git:    &fakeGit{},
		search: &fakeSearch{},
		broker: realtime.NewMemoryBroker(),
	}
	t.Cleanup(func() { _ = env.broker.Close() })
	env.svc = New(config.Config{
		JWTSecret:  testSecret,
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}, Dependencies{
		Store:    fs,
		Git:      env.git,
		Broker:   env.broker,
		Sessions: session.NewMemoryStore(),
		Search:   env.search,
		Exports:  &fakeExport{},
		Catalog:  testCatalog(t),
	})
	env.server = NewHTTPServer(env.svc, "*")
	return env
}

func bearerFor(t *testing.T, role string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		Sub:       "ws-1",
		Workspace: "acme",
		Name:      role + "-key",
		Role:      role,
		JTI:       util.NewID("jti"),
		Exp:       time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return "Bearer " + token
}

func (e *testEnv) do(t *testing.T, method, path, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := newRequest(method, path, body)
	if role != "" {
		req.Header.Set("Authorization", bearerFor(t, role))
	}
	return serve(e, req)
}

func (e *testEnv) subscribe(t *testing.T, table records.Table) *realtime.Subscription {
	t.Helper()
	sub, err := e.broker.Subscribe(context.Background(), realtime.Filter{Table: table, WorkspaceID: "ws-1"})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	t.Cleanup(sub.Close)
	return sub
}

func nextChange(t *testing.T, sub *realtime.Subscription) records.Change {
	t.Helper()
	select {
	case change, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed")
		}
		return change
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
	return records.Change{}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d body=%s", want, rr.Code, rr.Body.String())
	}
}

func newRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(env *testEnv, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	return rr
}
