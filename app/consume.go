package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatewise/fatewise/domain/membership"
	"github.com/fatewise/fatewise/domain/plan"
	"github.com/fatewise/fatewise/ports"
	"github.com/rs/zerolog"
)

// Consumption outcomes. NoCreditsLeft is business-normal (a race between
// evaluate and consume), Conflict is transient and retryable by the caller,
// NotFound is a data-integrity fault that must surface to operators.
var (
	ErrNoCreditsLeft = errors.New("no credits left")
	ErrConflict      = errors.New("consumption conflict")
	ErrNotFound      = errors.New("membership record not found")
)

// DefaultMaxRetries bounds the read-check-write loop before Consume gives
// up with ErrConflict.
const DefaultMaxRetries = 3

// Ledger debits one unit of usage per successful feature invocation.
//
// The remainingCredits counter is the only contended resource in the
// engine; it is never written without the version guard.
type Ledger struct {
	store      ports.MembershipStore
	catalog    ports.CatalogSource
	clock      ports.Clock
	maxRetries int
	logger     zerolog.Logger
}

// NewLedger creates a credit ledger. maxRetries <= 0 selects
// DefaultMaxRetries.
func NewLedger(
	store ports.MembershipStore,
	catalog ports.CatalogSource,
	clock ports.Clock,
	maxRetries int,
	logger zerolog.Logger,
) *Ledger {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Ledger{
		store:      store,
		catalog:    catalog,
		clock:      clock,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Consume atomically debits one credit for userID, or only bumps the record
// version for plans without a fixed counter so a use still leaves an audit
// trail. Callers must have obtained an Allowed decision from the evaluator
// immediately before calling.
//
// Two racing calls against a record with one credit left cannot both
// succeed: the conditional write serializes on the record version, and the
// loser re-reads, sees zero credits, and gets ErrNoCreditsLeft.
func (l *Ledger) Consume(ctx context.Context, userID string) (membership.Record, error) {
	for attempt := 0; attempt < l.maxRetries; attempt++ {
		rec, err := l.store.Get(ctx, userID)
		if errors.Is(err, ports.ErrNotFound) {
			return membership.Record{}, ErrNotFound
		}
		if err != nil {
			return membership.Record{}, fmt.Errorf("get membership: %w", err)
		}

		p, ok := l.catalog.Catalog().Get(rec.PlanID)
		if !ok {
			return membership.Record{}, fmt.Errorf("membership %s references unknown plan %q", userID, rec.PlanID)
		}

		updated := rec
		if p.CreditModel == plan.CreditFixed {
			left := rec.CreditsLeft()
			if left <= 0 {
				return rec, ErrNoCreditsLeft
			}
			left--
			updated.RemainingCredits = &left
		}
		updated.Version = rec.Version + 1
		updated.UpdatedAt = l.clock.Now()

		err = l.store.UpdateVersioned(ctx, updated, rec.Version)
		if errors.Is(err, ports.ErrVersionConflict) {
			l.logger.Debug().
				Str("user_id", userID).
				Int("attempt", attempt+1).
				Msg("consumption lost version race, retrying")
			continue
		}
		if errors.Is(err, ports.ErrNotFound) {
			return membership.Record{}, ErrNotFound
		}
		if err != nil {
			return membership.Record{}, fmt.Errorf("commit consumption: %w", err)
		}

		l.logger.Info().
			Str("user_id", userID).
			Str("plan_id", string(rec.PlanID)).
			Int64("version", updated.Version).
			Int64("credits_left", updated.CreditsLeft()).
			Msg("consumption committed")
		return updated, nil
	}

	l.logger.Warn().
		Str("user_id", userID).
		Int("attempts", l.maxRetries).
		Msg("consumption gave up after repeated version conflicts")
	return membership.Record{}, ErrConflict
}
