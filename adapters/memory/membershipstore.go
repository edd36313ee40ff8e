// Package memory provides in-memory store implementations for tests and
// single-process setups.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fatewise/fatewise/domain/membership"
	"github.com/fatewise/fatewise/ports"
)

// MembershipStore is an in-memory implementation of ports.MembershipStore.
// The mutex makes UpdateVersioned an atomic compare-and-swap, matching the
// conditional-update semantics of the SQLite store.
type MembershipStore struct {
	mu      sync.RWMutex
	records map[string]membership.Record // by user ID
}

// NewMembershipStore creates a new in-memory membership store.
func NewMembershipStore() *MembershipStore {
	return &MembershipStore{records: make(map[string]membership.Record)}
}

// Get retrieves the record for a user.
func (s *MembershipStore) Get(ctx context.Context, userID string) (membership.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID]
	if !ok {
		return membership.Record{}, ports.ErrNotFound
	}
	return rec, nil
}

// Create stores a fresh record.
func (s *MembershipStore) Create(ctx context.Context, rec membership.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.UserID]; exists {
		return ports.ErrDuplicate
	}
	s.records[rec.UserID] = rec
	return nil
}

// UpdateVersioned replaces the stored row only when the version still
// matches.
func (s *MembershipStore) UpdateVersioned(ctx context.Context, rec membership.Record, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[rec.UserID]
	if !ok {
		return ports.ErrNotFound
	}
	if current.Version != expectedVersion {
		return ports.ErrVersionConflict
	}
	s.records[rec.UserID] = rec
	return nil
}

// ListExpired returns active records whose expiry is at or before now.
func (s *MembershipStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]membership.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []membership.Record
	for _, rec := range s.records {
		if !rec.Active || rec.ExpiresAt == nil || rec.ExpiresAt.After(now) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Ensure interface compliance.
var _ ports.MembershipStore = (*MembershipStore)(nil)
