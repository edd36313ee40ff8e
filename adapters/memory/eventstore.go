package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fatewise/fatewise/ports"
)

// BillingEventStore is an in-memory implementation of
// ports.BillingEventStore.
type BillingEventStore struct {
	mu        sync.Mutex
	processed map[string]time.Time
}

// NewBillingEventStore creates a new in-memory billing event store.
func NewBillingEventStore() *BillingEventStore {
	return &BillingEventStore{processed: make(map[string]time.Time)}
}

// Processed reports whether an event id has already been recorded.
func (s *BillingEventStore) Processed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, seen := s.processed[eventID]
	return seen, nil
}

// MarkProcessed records an event id, failing on replays.
func (s *BillingEventStore) MarkProcessed(ctx context.Context, eventID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.processed[eventID]; seen {
		return ports.ErrDuplicate
	}
	s.processed[eventID] = at
	return nil
}

// Ensure interface compliance.
var _ ports.BillingEventStore = (*BillingEventStore)(nil)
