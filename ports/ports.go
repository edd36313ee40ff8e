// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/fatewise/fatewise/domain/membership"
	"github.com/fatewise/fatewise/domain/plan"
)

// Store sentinels shared by every MembershipStore/BillingEventStore
// implementation so services can classify outcomes with errors.Is.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a create collides with an existing row.
	ErrDuplicate = errors.New("duplicate")

	// ErrVersionConflict is returned by a conditional write whose expected
	// version no longer matches the stored row.
	ErrVersionConflict = errors.New("version conflict")
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// CatalogSource yields the current plan catalog. The catalog may be swapped
// atomically on config reload; callers must not cache the result across
// requests.
type CatalogSource interface {
	Catalog() *plan.Catalog
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// MembershipStore persists membership records, one row per user.
type MembershipStore interface {
	// Get retrieves the record for a user. Returns ErrNotFound when the
	// user has never held a paid membership.
	Get(ctx context.Context, userID string) (membership.Record, error)

	// Create stores a fresh record. Returns ErrDuplicate when a row for
	// the user already exists.
	Create(ctx context.Context, rec membership.Record) error

	// UpdateVersioned replaces the stored row only if its version still
	// equals expectedVersion. Returns ErrVersionConflict when another
	// writer committed first and ErrNotFound when the row vanished.
	UpdateVersioned(ctx context.Context, rec membership.Record, expectedVersion int64) error

	// ListExpired returns up to limit active records whose expiry is at or
	// before now, for the lifecycle sweep.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]membership.Record, error)
}

// BillingEventStore records processed billing-provider event ids so that
// replayed webhooks do not double-apply transitions. An id is recorded only
// after its transition commits; a failed delivery leaves the id unrecorded
// so the provider's retry is applied, not swallowed.
type BillingEventStore interface {
	// Processed reports whether an event id has already been recorded.
	Processed(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed records an event id. Returns ErrDuplicate when the id
	// was already recorded.
	MarkProcessed(ctx context.Context, eventID string, at time.Time) error
}
