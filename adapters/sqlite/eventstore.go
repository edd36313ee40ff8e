package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fatewise/fatewise/ports"
)

// BillingEventStore implements ports.BillingEventStore using SQLite.
// The primary key on event_id is what makes transition replays no-ops.
type BillingEventStore struct {
	db *DB
}

// NewBillingEventStore creates a new SQLite billing event store.
func NewBillingEventStore(db *DB) *BillingEventStore {
	return &BillingEventStore{db: db}
}

// Processed reports whether an event id has already been recorded.
func (s *BillingEventStore) Processed(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM billing_events WHERE event_id = ?
	`, eventID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkProcessed records an event id, failing with ErrDuplicate on replays.
func (s *BillingEventStore) MarkProcessed(ctx context.Context, eventID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO billing_events (event_id, processed_at) VALUES (?, ?)
	`, eventID, at)
	if isUniqueConstraintError(err) {
		return ports.ErrDuplicate
	}
	return err
}

// Ensure interface compliance.
var _ ports.BillingEventStore = (*BillingEventStore)(nil)
