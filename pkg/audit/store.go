package audit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
)

// Sink receives entries. Writes are append-only.
type Sink interface {
	Write(ctx context.Context, entry *Entry) error
}

// Store is the authoritative sink, which can also be queried.
// There is deliberately no update or delete.
type Store interface {
	Sink
	Query(ctx context.Context, filter Filter) (*ListResult, error)
	// Get returns one entry of organizationID, or apperr.ErrNotFound.
	Get(ctx context.Context, organizationID, id string) (*Entry, error)
	// CountSecurityEvents counts security events created at or after since,
	// grouped by risk level.
	CountSecurityEvents(ctx context.Context, since time.Time) (map[RiskLevel]int64, error)
}

// MemoryStore keeps entries in process. It backs tests and single-node
// development setups.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Write implements Sink
func (m *MemoryStore) Write(ctx context.Context, entry *Entry) error {
	cp := *entry
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, &cp)
	return nil
}

// Query implements Store
func (m *MemoryStore) Query(ctx context.Context, filter Filter) (*ListResult, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	var matched []*Entry
	for _, e := range m.entries {
		if filter.matches(e) {
			cp := *e
			matched = append(matched, &cp)
		}
	}
	m.mu.RUnlock()

	sortEntries(matched)

	result := &ListResult{Entries: []*Entry{}, Total: int64(len(matched)), Page: filter.Page, Limit: filter.Limit}
	start := filter.offset()
	if start < len(matched) {
		end := start + filter.Limit
		if end > len(matched) {
			end = len(matched)
		}
		result.Entries = matched[start:end]
	}
	return result, nil
}

// Get implements Store
func (m *MemoryStore) Get(ctx context.Context, organizationID, id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.ID == id && e.OrganizationID == organizationID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, apperr.ErrNotFound
}

// CountSecurityEvents implements Store
func (m *MemoryStore) CountSecurityEvents(ctx context.Context, since time.Time) (map[RiskLevel]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[RiskLevel]int64)
	for _, e := range m.entries {
		if e.IsSecurityEvent && !e.CreatedAt.Before(since) {
			counts[e.RiskLevel]++
		}
	}
	return counts, nil
}

// All returns every stored entry in insertion order
func (m *MemoryStore) All() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Entry, len(m.entries))
	for i, e := range m.entries {
		cp := *e
		out[i] = &cp
	}
	return out
}

func (f Filter) matches(e *Entry) bool {
	if f.OrganizationID != "" && e.OrganizationID != f.OrganizationID {
		return false
	}
	if len(f.ids) > 0 && !containsString(f.ids, e.ID) {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if len(f.Actions) > 0 && !containsString(f.Actions, e.Action) {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.SecurityOnly && !e.IsSecurityEvent {
		return false
	}
	if len(f.RiskLevels) > 0 {
		found := false
		for _, r := range f.RiskLevels {
			if e.RiskLevel == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Start != nil && e.CreatedAt.Before(*f.Start) {
		return false
	}
	if f.End != nil && e.CreatedAt.After(*f.End) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(e.Action), needle) &&
			!strings.Contains(strings.ToLower(e.Resource), needle) {
			return false
		}
	}
	return true
}

// sortEntries orders newest first with the id as a stable tie-break
func sortEntries(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].ID > entries[j].ID
	})
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
