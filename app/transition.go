package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatewise/fatewise/domain/membership"
	"github.com/fatewise/fatewise/domain/plan"
	"github.com/fatewise/fatewise/ports"
	"github.com/rs/zerolog"
)

// ErrInvalidTransition marks a transition that is rejected without any
// state change, e.g. Renew on a plan with no duration. These are
// programming or configuration errors, logged loudly.
var ErrInvalidTransition = errors.New("invalid transition")

// EventKind enumerates billing-driven membership transitions.
type EventKind string

const (
	EventActivate EventKind = "activate"
	EventRenew    EventKind = "renew"
	EventCancel   EventKind = "cancel"
)

// Event is a plan transition request, typically derived from a billing
// provider callback. IdempotencyKey carries the provider's event id;
// replays of an already-processed key no-op.
type Event struct {
	Kind           EventKind
	PlanID         plan.ID // required for activate
	IdempotencyKey string
}

// Transitioner applies upgrade/renewal/cancellation events and the expiry
// sweep to membership records.
type Transitioner struct {
	store      ports.MembershipStore
	events     ports.BillingEventStore
	catalog    ports.CatalogSource
	clock      ports.Clock
	idgen      ports.IDGenerator
	maxRetries int
	sweepBatch int
	logger     zerolog.Logger
}

// DefaultSweepBatch is the sweep page size when none is configured.
const DefaultSweepBatch = 100

// NewTransitioner creates a plan transition handler. Non-positive
// maxRetries or sweepBatch select the defaults.
func NewTransitioner(
	store ports.MembershipStore,
	events ports.BillingEventStore,
	catalog ports.CatalogSource,
	clock ports.Clock,
	idgen ports.IDGenerator,
	maxRetries, sweepBatch int,
	logger zerolog.Logger,
) *Transitioner {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if sweepBatch <= 0 {
		sweepBatch = DefaultSweepBatch
	}
	return &Transitioner{
		store:      store,
		events:     events,
		catalog:    catalog,
		clock:      clock,
		idgen:      idgen,
		maxRetries: maxRetries,
		sweepBatch: sweepBatch,
		logger:     logger,
	}
}

// Apply executes ev against userID's membership record and returns the
// resulting record. Transitions are monotonic and idempotent: a replayed
// idempotency key returns the current record with applied=false and no
// second state change. The key is consumed only when the membership write
// commits, so a failed delivery (conflict, rejected transition, crash)
// leaves the event replayable by the provider.
func (t *Transitioner) Apply(ctx context.Context, userID string, ev Event) (rec membership.Record, applied bool, err error) {
	if userID == "" {
		return membership.Record{}, false, fmt.Errorf("%w: empty user id", ErrInvalidTransition)
	}

	// Transitions without a provider event id (admin tooling) still get an
	// audit row, under a generated key.
	if ev.IdempotencyKey == "" {
		ev.IdempotencyKey = "local-" + t.idgen.New()
	}

	seen, err := t.events.Processed(ctx, ev.IdempotencyKey)
	if err != nil {
		return membership.Record{}, false, fmt.Errorf("check event: %w", err)
	}
	if seen {
		t.logger.Info().
			Str("user_id", userID).
			Str("idempotency_key", ev.IdempotencyKey).
			Str("kind", string(ev.Kind)).
			Msg("billing event replayed, returning current state")
		rec, err := t.store.Get(ctx, userID)
		return rec, false, err
	}

	switch ev.Kind {
	case EventActivate:
		rec, err = t.activate(ctx, userID, ev.PlanID)
	case EventRenew:
		rec, err = t.renew(ctx, userID)
	case EventCancel:
		rec, err = t.cancel(ctx, userID)
	default:
		t.logger.Error().Str("kind", string(ev.Kind)).Msg("unknown transition kind")
		return membership.Record{}, false, fmt.Errorf("%w: unknown kind %q", ErrInvalidTransition, ev.Kind)
	}
	if err != nil {
		return rec, false, err
	}

	markErr := t.events.MarkProcessed(ctx, ev.IdempotencyKey, t.clock.Now())
	if markErr != nil && !errors.Is(markErr, ports.ErrDuplicate) {
		// The membership write is committed; losing the key risks a
		// re-apply on redelivery, not a lost event. Surface loudly.
		t.logger.Error().
			Err(markErr).
			Str("idempotency_key", ev.IdempotencyKey).
			Msg("transition applied but event key not recorded")
	}
	return rec, true, nil
}

// activate creates or replaces the user's record for the target plan:
// fresh activation timestamp, fresh expiry, fresh credit grant.
func (t *Transitioner) activate(ctx context.Context, userID string, planID plan.ID) (membership.Record, error) {
	p, ok := t.catalog.Catalog().Get(planID)
	if !ok {
		t.logger.Error().Str("plan_id", string(planID)).Msg("activation for unknown plan")
		return membership.Record{}, fmt.Errorf("%w: unknown plan %q", ErrInvalidTransition, planID)
	}

	now := t.clock.Now()

	for attempt := 0; attempt < t.maxRetries; attempt++ {
		current, err := t.store.Get(ctx, userID)
		if errors.Is(err, ports.ErrNotFound) {
			rec := newRecord(userID, p, now)
			err = t.store.Create(ctx, rec)
			if errors.Is(err, ports.ErrDuplicate) {
				continue // lost a create race, replace instead
			}
			if err != nil {
				return membership.Record{}, fmt.Errorf("create membership: %w", err)
			}
			t.logTransition(rec, "membership activated")
			return rec, nil
		}
		if err != nil {
			return membership.Record{}, fmt.Errorf("get membership: %w", err)
		}

		rec := newRecord(userID, p, now)
		rec.Version = current.Version + 1
		rec.CreatedAt = current.CreatedAt
		err = t.store.UpdateVersioned(ctx, rec, current.Version)
		if errors.Is(err, ports.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return membership.Record{}, fmt.Errorf("replace membership: %w", err)
		}
		t.logTransition(rec, "membership activated")
		return rec, nil
	}
	return membership.Record{}, ErrConflict
}

// renew extends the expiry by another plan duration from the later of now
// and the current expiry, so early renewal does not forfeit remaining time.
// Credits are refilled only when the plan opts in.
func (t *Transitioner) renew(ctx context.Context, userID string) (membership.Record, error) {
	now := t.clock.Now()

	for attempt := 0; attempt < t.maxRetries; attempt++ {
		rec, err := t.store.Get(ctx, userID)
		if err != nil {
			return membership.Record{}, fmt.Errorf("get membership: %w", err)
		}

		p, ok := t.catalog.Catalog().Get(rec.PlanID)
		if !ok {
			return membership.Record{}, fmt.Errorf("%w: renew against unknown plan %q", ErrInvalidTransition, rec.PlanID)
		}
		if !p.Expires() {
			t.logger.Error().
				Str("user_id", userID).
				Str("plan_id", string(p.ID)).
				Msg("renew rejected: plan has no duration")
			return membership.Record{}, fmt.Errorf("%w: plan %q has no duration", ErrInvalidTransition, p.ID)
		}

		base := now
		if rec.ExpiresAt != nil && rec.ExpiresAt.After(now) {
			base = *rec.ExpiresAt
		}
		expiry := base.AddDate(0, 0, p.DurationDays)

		updated := rec
		updated.Active = true
		updated.ExpiresAt = &expiry
		if p.RefillOnRenew && p.CreditModel == plan.CreditFixed {
			credits := p.Credits
			updated.RemainingCredits = &credits
		}
		updated.Version = rec.Version + 1
		updated.UpdatedAt = now

		err = t.store.UpdateVersioned(ctx, updated, rec.Version)
		if errors.Is(err, ports.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return membership.Record{}, fmt.Errorf("commit renewal: %w", err)
		}
		t.logTransition(updated, "membership renewed")
		return updated, nil
	}
	return membership.Record{}, ErrConflict
}

// cancel folds into expiresAt = now so the evaluator's single timestamp
// check stays the sole source of truth. Plan and credits are retained for
// audit; the row is never deleted.
func (t *Transitioner) cancel(ctx context.Context, userID string) (membership.Record, error) {
	now := t.clock.Now()

	for attempt := 0; attempt < t.maxRetries; attempt++ {
		rec, err := t.store.Get(ctx, userID)
		if err != nil {
			return membership.Record{}, fmt.Errorf("get membership: %w", err)
		}

		updated := rec
		updated.Active = false
		updated.ExpiresAt = &now
		updated.Version = rec.Version + 1
		updated.UpdatedAt = now

		err = t.store.UpdateVersioned(ctx, updated, rec.Version)
		if errors.Is(err, ports.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return membership.Record{}, fmt.Errorf("commit cancellation: %w", err)
		}
		t.logTransition(updated, "membership cancelled")
		return updated, nil
	}
	return membership.Record{}, ErrConflict
}

// Sweep flips Active off for records whose expiry has passed and returns
// how many rows it touched. It is idempotent and safe to run concurrently
// with consumption: version conflicts are skipped, since the evaluator
// treats the expiry timestamp as authoritative either way.
func (t *Transitioner) Sweep(ctx context.Context) (int, error) {
	now := t.clock.Now()
	swept := 0

	for {
		expired, err := t.store.ListExpired(ctx, now, t.sweepBatch)
		if err != nil {
			return swept, fmt.Errorf("list expired: %w", err)
		}
		if len(expired) == 0 {
			return swept, nil
		}

		progressed := false
		for _, rec := range expired {
			updated := rec
			updated.Active = false
			updated.Version = rec.Version + 1
			updated.UpdatedAt = now

			err := t.store.UpdateVersioned(ctx, updated, rec.Version)
			if errors.Is(err, ports.ErrVersionConflict) || errors.Is(err, ports.ErrNotFound) {
				continue // another writer got there first; next sweep covers it
			}
			if err != nil {
				return swept, fmt.Errorf("sweep %s: %w", rec.UserID, err)
			}
			swept++
			progressed = true
		}

		if len(expired) < t.sweepBatch || !progressed {
			t.logger.Info().Int("swept", swept).Msg("expiry sweep finished")
			return swept, nil
		}
	}
}

func newRecord(userID string, p plan.Plan, now time.Time) membership.Record {
	rec := membership.Record{
		UserID:      userID,
		PlanID:      p.ID,
		Active:      true,
		ActivatedAt: now,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if p.Expires() {
		expiry := now.AddDate(0, 0, p.DurationDays)
		rec.ExpiresAt = &expiry
	}
	if p.CreditModel == plan.CreditFixed {
		credits := p.Credits
		rec.RemainingCredits = &credits
	}
	return rec
}

func (t *Transitioner) logTransition(rec membership.Record, msg string) {
	ev := t.logger.Info().
		Str("user_id", rec.UserID).
		Str("plan_id", string(rec.PlanID)).
		Int64("version", rec.Version)
	if rec.ExpiresAt != nil {
		ev = ev.Time("expires_at", *rec.ExpiresAt)
	}
	ev.Msg(msg)
}
