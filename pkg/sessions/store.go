package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
)

// Store persists sessions.
type Store interface {
	Create(ctx context.Context, s *Session) error
	// Get returns apperr.ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Session, error)
	// ListByUser returns every session of userID ordered by last activity,
	// newest first.
	ListByUser(ctx context.Context, userID string) ([]*Session, error)
	// Revoke sets revoked_at on a session owned by userID. It returns
	// apperr.ErrNotFound when userID does not own the session and false when
	// the session was already revoked.
	Revoke(ctx context.Context, userID, sessionID string, at time.Time) (bool, error)
	// RevokeAllExcept atomically revokes every session of userID that is
	// unrevoked, was active at or after activeSince and is not keepID. It
	// returns the revoked ids.
	RevokeAllExcept(ctx context.Context, userID, keepID string, activeSince, at time.Time) ([]string, error)
	// Touch refreshes last activity on an unrevoked session.
	Touch(ctx context.Context, id string, at time.Time) error
}

// MemoryStore is an in-process Store for tests and local development
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func copySession(s *Session) *Session {
	cp := *s
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		cp.RevokedAt = &t
	}
	return &cp
}

// Create implements Store
func (m *MemoryStore) Create(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return apperr.ErrConflict
	}
	m.sessions[s.ID] = copySession(s)
	return nil
}

// Get implements Store
func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return copySession(s), nil
}

// ListByUser implements Store
func (m *MemoryStore) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	m.mu.Lock()
	var out []*Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, copySession(s))
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].LastActivityAt.After(out[j].LastActivityAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Revoke implements Store
func (m *MemoryStore) Revoke(ctx context.Context, userID, sessionID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID {
		return false, apperr.ErrNotFound
	}
	if s.RevokedAt != nil {
		return false, nil
	}
	t := at
	s.RevokedAt = &t
	return true, nil
}

// RevokeAllExcept implements Store
func (m *MemoryStore) RevokeAllExcept(ctx context.Context, userID, keepID string, activeSince, at time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, s := range m.sessions {
		if s.UserID != userID || id == keepID || s.RevokedAt != nil || s.LastActivityAt.Before(activeSince) {
			continue
		}
		t := at
		s.RevokedAt = &t
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Touch implements Store
func (m *MemoryStore) Touch(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return apperr.ErrNotFound
	}
	if s.RevokedAt == nil && at.After(s.LastActivityAt) {
		s.LastActivityAt = at
	}
	return nil
}
