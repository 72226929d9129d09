package session

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore is the in-process fallback when no Redis is configured.
// Sessions do not survive a restart.
type MemoryStore struct {
	cache *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cache: cache.New(defaultTTL, 10*time.Minute)}
}

func (s *MemoryStore) SaveRefreshSession(_ context.Context, tokenHash string, grant Grant, expiresAt time.Time) error {
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = time.Now().UTC()
	}
	s.cache.Set(tokenHash, grant, ttlUntil(expiresAt))
	return nil
}

func (s *MemoryStore) LookupRefreshSession(_ context.Context, tokenHash string) (Grant, error) {
	value, ok := s.cache.Get(tokenHash)
	if !ok {
		return Grant{}, ErrNotFound
	}
	return normalizeGrant(value.(Grant)), nil
}

func (s *MemoryStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	s.cache.Delete(tokenHash)
	return nil
}
