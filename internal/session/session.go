// Package session stores refresh tokens for workspace sessions.
package session

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("refresh session not found or expired")

// Grant is what a refresh token resolves to.
type Grant struct {
	WorkspaceID string    `json:"workspace_id"`
	Workspace   string    `json:"workspace"`
	Label       string    `json:"label"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store keeps refresh grants keyed by token hash until they expire or are
// revoked.
type Store interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, grant Grant, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (Grant, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

const defaultTTL = 30 * 24 * time.Hour

func ttlUntil(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return defaultTTL
	}
	return ttl
}

func normalizeGrant(grant Grant) Grant {
	if grant.Role == "" {
		grant.Role = "viewer"
	}
	return grant
}
