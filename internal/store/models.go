package store

import (
	"time"

	"gmptracker/internal/records"
)

type Workspace struct {
	ID        string
	Slug      string
	Name      string
	CreatedAt time.Time
}

// WorkspaceKey is a shared secret granting a role in one workspace.
// Only the bcrypt hash is stored.
type WorkspaceKey struct {
	ID          string
	WorkspaceID string
	Label       string
	KeyHash     string
	Role        string
	CreatedAt   time.Time
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
	Added     int
	Removed   int
}

// ProgressWrite is the stored row after an upsert. Inserted is false when
// an existing row was updated.
type ProgressWrite struct {
	Row      records.Progress
	Inserted bool
}
