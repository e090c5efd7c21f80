// ABOUTME: Mock Store implementation for testing.
// ABOUTME: Allows tests to run without SQLite.

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	passports map[string]*Passport
	audit     []*AuditEntry
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		passports: make(map[string]*Passport),
	}
}

// CreatePassport stores a new passport.
func (m *MockStore) CreatePassport(_ context.Context, p *Passport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.passports[p.ID]; exists {
		return ErrDuplicatePassport
	}

	// Copy to avoid external modification
	cp := *p
	m.passports[cp.ID] = &cp
	return nil
}

// GetPassport retrieves a passport by ID.
func (m *MockStore) GetPassport(_ context.Context, id string) (*Passport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, exists := m.passports[id]
	if !exists {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// ListChildren returns the direct children of a passport, oldest first.
func (m *MockStore) ListChildren(_ context.Context, parentID string) ([]*Passport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Passport
	for _, p := range m.passports {
		if p.ParentID == parentID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// AppendAudit records an audit entry.
func (m *MockStore) AppendAudit(_ context.Context, entry *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.audit = append(m.audit, &cp)
	return nil
}

// ListAudit returns audit entries matching the filter, newest first.
func (m *MockStore) ListAudit(_ context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*AuditEntry
	for _, e := range m.audit {
		if filter.ActorID != nil && e.ActorID != *filter.ActorID {
			continue
		}
		if filter.Action != nil && e.Action != *filter.Action {
			continue
		}
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
