package search

import (
	"errors"
	"testing"
	"time"

	"gmptracker/internal/records"
)

type fakeSearcher struct {
	results []Result
	err     error
	queries []Query
}

func (f *fakeSearcher) Search(q Query) ([]Result, int, error) {
	f.queries = append(f.queries, q)
	return f.results, len(f.results), f.err
}

func (f *fakeSearcher) Healthy() bool { return true }

func TestServiceFallsBackToPostgres(t *testing.T) {
	fts := &fakeSearcher{results: []Result{{ID: "m1", ItemID: "audit-trails"}}}
	svc := &Service{pgfts: fts}

	resp := svc.Search(Query{WorkspaceID: "ws_1", Text: "  audit  "})
	if resp.Total != 1 || len(resp.Results) != 1 || resp.Results[0].ID != "m1" {
		t.Fatalf("Search() = %+v", resp)
	}
	if resp.Query != "audit" || fts.queries[0].Text != "audit" {
		t.Fatalf("Search() did not trim the query: %+v", fts.queries)
	}
}

func TestServiceSkipsBlankQueries(t *testing.T) {
	fts := &fakeSearcher{}
	svc := &Service{pgfts: fts}

	if resp := svc.Search(Query{WorkspaceID: "ws_1", Text: "   "}); resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("Search(blank) = %+v", resp)
	}
	if resp := svc.Search(Query{Text: "audit"}); len(resp.Results) != 0 {
		t.Fatalf("Search(no workspace) = %+v", resp)
	}
	if len(fts.queries) != 0 {
		t.Fatalf("backend called %d times, want 0", len(fts.queries))
	}
}

func TestServiceSwallowsBackendErrors(t *testing.T) {
	svc := &Service{pgfts: &fakeSearcher{err: errors.New("boom")}}
	resp := svc.Search(Query{WorkspaceID: "ws_1", Text: "audit"})
	if resp.Results == nil || len(resp.Results) != 0 || resp.Total != 0 {
		t.Fatalf("Search() = %+v", resp)
	}
}

func TestQueryLimits(t *testing.T) {
	if got := (Query{}).limit(); got != 20 {
		t.Fatalf("limit() = %d, want 20", got)
	}
	if got := (Query{Limit: 500}).limit(); got != 20 {
		t.Fatalf("limit(500) = %d, want 20", got)
	}
	if got := (Query{Offset: -3}).offset(); got != 0 {
		t.Fatalf("offset(-3) = %d, want 0", got)
	}
}

func TestFiltersScopeToWorkspaceAndItem(t *testing.T) {
	got := filters(Query{WorkspaceID: "ws_1", ItemID: "backup-sop"})
	if len(got) != 2 || got[0] != `workspaceId = "ws_1"` || got[1] != `itemId = "backup-sop"` {
		t.Fatalf("filters() = %v", got)
	}
}

func TestRecordFromMessage(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := RecordFromMessage(records.Message{ID: "m1", WorkspaceID: "ws_1", ItemID: "x", UserName: "Ana", Message: "hi", CreatedAt: at})
	if rec.CreatedAt != at.Unix() || rec.UserName != "Ana" || rec.WorkspaceID != "ws_1" {
		t.Fatalf("RecordFromMessage() = %+v", rec)
	}
}
