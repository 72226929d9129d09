package app

import (
	"context"
	"strings"
	"time"

	"gmptracker/internal/auth"
	"gmptracker/internal/rbac"
	"gmptracker/internal/store"
	"gmptracker/internal/util"
)

// KeyInfo describes a workspace key without its hash.
type KeyInfo struct {
	Label     string    `json:"label"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Service) ListWorkspaceKeys(ctx context.Context, sess Session) ([]KeyInfo, error) {
	keys, err := s.store.ListWorkspaceKeys(ctx, sess.WorkspaceID)
	if err != nil {
		return nil, err
	}
	out := make([]KeyInfo, 0, len(keys))
	for _, key := range keys {
		out = append(out, KeyInfo{Label: key.Label, Role: key.Role, CreatedAt: key.CreatedAt})
	}
	return out, nil
}

// CreateWorkspaceKey adds a key to the session's workspace. Labels are
// unique per workspace.
func (s *Service) CreateWorkspaceKey(ctx context.Context, sess Session, label, key, role string) (KeyInfo, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return KeyInfo{}, validationError("label is required", nil)
	}
	if role == "" {
		role = string(rbac.RoleEditor)
	}
	parsed, ok := rbac.Parse(strings.ToLower(strings.TrimSpace(role)))
	if !ok {
		return KeyInfo{}, validationError("role must be viewer, commenter, editor or admin", nil)
	}
	if len(strings.TrimSpace(key)) < auth.MinKeyLength {
		return KeyInfo{}, validationError("key is too short", map[string]any{"min_length": auth.MinKeyLength})
	}

	hash, err := auth.HashKey(key)
	if err != nil {
		return KeyInfo{}, err
	}
	created := store.WorkspaceKey{
		ID:          util.NewID("key"),
		WorkspaceID: sess.WorkspaceID,
		Label:       label,
		KeyHash:     hash,
		Role:        string(parsed),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.InsertWorkspaceKey(ctx, created); err != nil {
		return KeyInfo{}, err
	}
	return KeyInfo{Label: created.Label, Role: created.Role, CreatedAt: created.CreatedAt}, nil
}
