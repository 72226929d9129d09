package app

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gmptracker/internal/records"
)

func openStream(t *testing.T, ts *httptest.Server, query, authorization string) (*bufio.Reader, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/realtime?"+query, nil)
	if err != nil {
		cancel()
		t.Fatalf("NewRequest() error = %v", err)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("GET realtime error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}
	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, ": connected") {
		t.Fatalf("expected connected comment, got %q err=%v", line, err)
	}
	return reader, func() {
		cancel()
		resp.Body.Close()
	}
}

// readEvent returns the data of the next "change" event, skipping comments.
func readEvent(t *testing.T, reader *bufio.Reader) records.Change {
	t.Helper()
	type result struct {
		change records.Change
		err    error
	}
	done := make(chan result, 1)
	go func() {
		event := ""
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				done <- result{err: err}
				return
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: ") && event == "change":
				var change records.Change
				err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &change)
				done <- result{change: change, err: err}
				return
			}
		}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("read event: %v", r.err)
		}
		return r.change
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return records.Change{}
}

func TestRealtimeStreamsItemScopedChanges(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	reader, stop := openStream(t, ts, "table=messages&itemId=backup-sop", bearerFor(t, "viewer"))
	defer stop()

	ctx := context.Background()
	sess := Session{WorkspaceID: "ws-1", Workspace: "acme", Role: "editor"}
	if _, err := env.svc.PostMessage(ctx, sess, "user-accounts", MessageInput{UserName: "Dana", Message: "other item"}); err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}
	posted, err := env.svc.PostMessage(ctx, sess, "backup-sop", MessageInput{UserName: "Dana", Message: "weekly restore test"})
	if err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}

	change := readEvent(t, reader)
	row, err := change.DecodeMessage()
	if err != nil {
		t.Fatalf("DecodeMessage() error = %v", err)
	}
	if row.ID != posted.ID || change.ItemID != "backup-sop" {
		t.Fatalf("expected change for %s on backup-sop, got %s on %s", posted.ID, row.ID, change.ItemID)
	}
}

func TestRealtimeAcceptsQueryToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	token := strings.TrimPrefix(bearerFor(t, "viewer"), "Bearer ")
	reader, stop := openStream(t, ts, "table=progress&access_token="+token, "")
	defer stop()

	sess := Session{WorkspaceID: "ws-1", Role: "admin"}
	env.store.deleteProgressFn = func(context.Context, string) ([]string, error) {
		return []string{"backup-sop"}, nil
	}
	if _, err := env.svc.ResetProgress(context.Background(), sess); err != nil {
		t.Fatalf("ResetProgress() error = %v", err)
	}

	change := readEvent(t, reader)
	if change.Type != records.EventDelete || change.OldItemID() != "backup-sop" {
		t.Fatalf("expected DELETE backup-sop, got %s %s", change.Type, change.OldItemID())
	}
}

func TestRealtimeRejectsUnknownTable(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/api/realtime?table=users", "viewer", "")

	expectStatus(t, rr, http.StatusUnprocessableEntity)
}

func TestRealtimeKeepAlive(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.keepAlive = 20 * time.Millisecond
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	reader, stop := openStream(t, ts, "table=progress", bearerFor(t, "viewer"))
	defer stop()

	lines := make(chan string, 1)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if strings.HasPrefix(line, ": keepalive") {
				lines <- line
				return
			}
		}
	}()
	select {
	case <-lines:
	case <-time.After(2 * time.Second):
		t.Fatal("no keepalive received")
	}
}
