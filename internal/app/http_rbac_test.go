package app

import (
	"context"
	"net/http"
	"testing"

	"gmptracker/internal/store"
)

func TestRoleEnforcement(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := []struct {
		name   string
		role   string
		method string
		path   string
		body   string
		status int
	}{
		{name: "viewer reads progress", role: "viewer", method: http.MethodGet, path: "/api/progress", status: http.StatusOK},
		{name: "viewer cannot track", role: "viewer", method: http.MethodPost, path: "/api/progress", body: `{"rows":[{"item_id":"backup-sop","is_complete":true}]}`, status: http.StatusForbidden},
		{name: "viewer cannot comment", role: "viewer", method: http.MethodPost, path: "/api/items/backup-sop/messages", body: `{"user_name":"V","message":"hi"}`, status: http.StatusForbidden},
		{name: "commenter cannot track", role: "commenter", method: http.MethodPost, path: "/api/progress", body: `{"rows":[{"item_id":"backup-sop","is_complete":true}]}`, status: http.StatusForbidden},
		{name: "editor cannot reset", role: "editor", method: http.MethodDelete, path: "/api/progress", status: http.StatusForbidden},
		{name: "editor cannot import", role: "editor", method: http.MethodPost, path: "/api/progress/import", body: `{}`, status: http.StatusForbidden},
		{name: "editor cannot restore", role: "editor", method: http.MethodPost, path: "/api/progress/history/abc/restore", status: http.StatusForbidden},
		{name: "editor cannot manage keys", role: "editor", method: http.MethodGet, path: "/api/workspace/keys", status: http.StatusForbidden},
		{name: "unknown role is viewer", role: "owner", method: http.MethodPost, path: "/api/progress", body: `{"rows":[{"item_id":"backup-sop","is_complete":true}]}`, status: http.StatusForbidden},
		{name: "unknown route", role: "admin", method: http.MethodGet, path: "/api/documents", status: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.do(t, tc.method, tc.path, tc.role, tc.body)
			expectStatus(t, rr, tc.status)
		})
	}
}

func TestAdminCreatesWorkspaceKey(t *testing.T) {
	var inserted store.WorkspaceKey
	fs := &fakeStore{
		insertWorkspaceKeyFn: func(_ context.Context, key store.WorkspaceKey) error {
			if key.Label == "taken" {
				return store.ErrDuplicate
			}
			inserted = key
			return nil
		},
	}
	env := newTestEnv(t, fs)

	rr := env.do(t, http.MethodPost, "/api/workspace/keys", "admin", `{"label":"auditors","key":"auditor-key-2026","role":"Viewer"}`)
	expectStatus(t, rr, http.StatusCreated)
	if inserted.WorkspaceID != "ws-1" || inserted.Role != "viewer" || inserted.KeyHash == "" || inserted.KeyHash == "auditor-key-2026" {
		t.Fatalf("unexpected inserted key %+v", inserted)
	}
	if _, ok := decodeJSON(t, rr)["key_hash"]; ok {
		t.Fatal("key hash must not be returned")
	}

	dup := env.do(t, http.MethodPost, "/api/workspace/keys", "admin", `{"label":"taken","key":"auditor-key-2026"}`)
	expectStatus(t, dup, http.StatusConflict)

	short := env.do(t, http.MethodPost, "/api/workspace/keys", "admin", `{"label":"x","key":"short"}`)
	expectStatus(t, short, http.StatusUnprocessableEntity)

	badRole := env.do(t, http.MethodPost, "/api/workspace/keys", "admin", `{"label":"x","key":"long-enough-key","role":"owner"}`)
	expectStatus(t, badRole, http.StatusUnprocessableEntity)
}
