package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the single-process fallback used when Redis is not
// configured. State is lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	skip    map[string]time.Time
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		skip:    make(map[string]time.Time),
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *MemoryStore) SkipPublishConfirm(_ context.Context, scope string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expires, ok := m.skip[scope]
	if !ok || !m.now().Before(expires) {
		delete(m.skip, scope)
		return false, nil
	}
	m.skip[scope] = m.now().Add(preferenceTTL)
	return true, nil
}

func (m *MemoryStore) RememberSkipPublishConfirm(_ context.Context, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skip[scope] = m.now().Add(preferenceTTL)
	return nil
}

func (m *MemoryStore) RevokeAccessToken(_ context.Context, jti string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if expiresAt.After(m.now()) {
		m.revoked[jti] = expiresAt
	}
	return nil
}

func (m *MemoryStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expires, ok := m.revoked[jti]
	if ok && !m.now().Before(expires) {
		delete(m.revoked, jti)
		return false, nil
	}
	return ok, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
