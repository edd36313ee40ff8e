package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fatewise/fatewise/adapters/clock"
	"github.com/fatewise/fatewise/adapters/idgen"
	"github.com/fatewise/fatewise/adapters/memory"
	"github.com/fatewise/fatewise/app"
	"github.com/fatewise/fatewise/domain/plan"
	"github.com/fatewise/fatewise/ports"
	"github.com/rs/zerolog"
)

type transitionFixture struct {
	store       *memory.MembershipStore
	events      *memory.BillingEventStore
	clk         *clock.Fake
	transitions *app.Transitioner
}

func newTransitionFixture(t *testing.T, catalog ports.CatalogSource) *transitionFixture {
	t.Helper()
	f := &transitionFixture{
		store:  memory.NewMembershipStore(),
		events: memory.NewBillingEventStore(),
		clk:    clock.NewFake(testNow),
	}
	f.transitions = app.NewTransitioner(f.store, f.events, catalog, f.clk, idgen.NewSequential("gen-"), 3, 10, zerolog.Nop())
	return f
}

func TestApply_ActivateCreatesRecord(t *testing.T) {
	f := newTransitionFixture(t, testCatalog(t))

	rec, applied, err := f.transitions.Apply(context.Background(), "u1", app.Event{
		Kind:           app.EventActivate,
		PlanID:         plan.Monthly,
		IdempotencyKey: "evt-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Error("fresh event reported as replay")
	}
	if rec.PlanID != plan.Monthly || !rec.Active || rec.Version != 1 {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.ExpiresAt == nil {
		t.Fatal("monthly activation carries no expiry")
	}
	want := testNow.AddDate(0, 0, 30)
	if !rec.ExpiresAt.Equal(want) {
		t.Errorf("expiry = %v, want %v", rec.ExpiresAt, want)
	}
}

func TestApply_ActivateGrantsFixedCredits(t *testing.T) {
	f := newTransitionFixture(t, testCatalog(t))

	rec, _, err := f.transitions.Apply(context.Background(), "u1", app.Event{
		Kind: app.EventActivate, PlanID: plan.Single, IdempotencyKey: "evt-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.CreditsLeft() != 1 {
		t.Errorf("credits = %d, want 1", rec.CreditsLeft())
	}
	if rec.ExpiresAt != nil {
		t.Error("single purchase should not expire")
	}
}

func TestApply_ActivateReplacesExistingRecord(t *testing.T) {
	f := newTransitionFixture(t, testCatalog(t))

	first, _, err := f.transitions.Apply(context.Background(), "u1", app.Event{
		Kind: app.EventActivate, PlanID: plan.Single, IdempotencyKey: "evt-1",
	})
	if err != nil {
		t.Fatal(err)
	}

	f.clk.Advance(time.Hour)
	second, _, err := f.transitions.Apply(context.Background(), "u1", app.Event{
		Kind: app.EventActivate, PlanID: plan.Monthly, IdempotencyKey: "evt-2",
	})
	if err != nil {
		t.Fatal(err)
	}

	if second.PlanID != plan.Monthly {
		t.Errorf("plan = %s, want monthly", second.PlanID)
	}
	if second.Version != first.Version+1 {
		t.Errorf("version = %d, want %d", second.Version, first.Version+1)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Error("upgrade lost the original creation timestamp")
	}
	if second.RemainingCredits != nil {
		t.Error("upgrade to unlimited kept the old credit counter")
	}
}

func TestApply_ReplayedEventIsNoOp(t *testing.T) {
	f := newTransitionFixture(t, testCatalog(t))

	ev := app.Event{Kind: app.EventActivate, PlanID: plan.Single, IdempotencyKey: "evt-1"}
	first, _, err := f.transitions.Apply(context.Background(), "u1", ev)
	if err != nil {
		t.Fatal(err)
	}

	replayed, applied, err := f.transitions.Apply(context.Background(), "u1", ev)
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Error("replay reported as applied")
	}
	if replayed.Version != first.Version {
		t.Errorf("replay changed version: %d -> %d", first.Version, replayed.Version)
	}
	if replayed.CreditsLeft() != first.CreditsLeft() {
		t.Error("replay changed the credit counter")
	}
}

func TestApply_FailedDeliveryDoesNotBurnKey(t *testing.T) {
	f := newTransitionFixture(t, testCatalog(t))

	first, _, err := f.transitions.Apply(context.Background(), "u1", app.Event{
		Kind: app.EventActivate, PlanID: plan.Monthly, IdempotencyKey: "evt-1",
	})
	if err != nil {
		t.Fatal(err)
	}

	// First delivery fails: every conditional write conflicts until the
	// retries run out.
	broken := app.NewTransitioner(
		&conflictingStore{MembershipStore: f.store, remaining: 100},
		f.events, testCatalog(t), f.clk, idgen.NewSequential("gen-"), 3, 10, zerolog.Nop(),
	)
	ev := app.Event{Kind: app.EventRenew, IdempotencyKey: "evt-2"}
	_, applied, err := broken.Apply(context.Background(), "u1", ev)
	if !errors.Is(err, app.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
	if applied {
		t.Error("failed delivery reported as applied")
	}

	// The provider redelivers the same event id; it must be applied, not
	// treated as a replay.
	renewed, applied, err := f.transitions.Apply(context.Background(), "u1", ev)
	if err != nil {
		t.Fatalf("redelivery after failure: %v", err)
	}
	if !applied {
		t.Fatal("redelivery of a failed event treated as replay")
	}
	want := first.ExpiresAt.AddDate(0, 0, 30)
	if renewed.ExpiresAt == nil || !renewed.ExpiresAt.Equal(want) {
		t.Errorf("expiry = %v, want %v", renewed.ExpiresAt, want)
	}
}

func TestApply_RejectedTransitionLeavesKeyUnconsumed(t *testing.T) {
	f := newTransitionFixture(t, testCatalog(t))

	if _, _, err := f.transitions.Apply(context.Background(), "u1", app.Event{
		Kind: app.EventActivate, PlanID: plan.Single, IdempotencyKey: "evt-1",
	}); err != nil {
		t.Fatal(err)
	}

	// Renewing a non-expiring plan is rejected with no state change,
	// including the event ledger.
	ev := app.Event{Kind: app.EventRenew, IdempotencyKey: "evt-2"}
	if _, _, err := f.transitions.Apply(context.Background(), "u1", ev); !errors.Is(err, app.ErrInvalidTransition) {
		t.Fatalf("got %v, want ErrInvalidTransition", err)
	}

	seen, err := f.events.Processed(context.Background(), "evt-2")
	if err != nil {
		t.Fatal(err)
	}
	if seen {
		t.Error("rejected transition consumed its idempotency key")
	}

	// Redelivery is attempted again rather than swallowed as a replay.
	if _, _, err := f.transitions.Apply(context.Background(), "u1", ev); !errors.Is(err, app.ErrInvalidTransition) {
		t.Errorf("redelivery: got %v, want ErrInvalidTransition", err)
	}
}

func TestApply_RenewExtendsFromCurrentExpiry(t *testing.T) {
	f := newTransitionFixture(t, testCatalog(t))

	rec, _, err := f.transitions.Apply(context.Background(), "u1", app.Event{
		Kind: app.EventActivate, PlanID: plan.Monthly, IdempotencyKey: "evt-1",
	})
	if err != nil {
		t.Fatal(err)
	}

	// Renew 10 days in, 20 days before expiry: the new expiry stacks on
	// the old one rather than on the renewal date.
	f.clk.Advance(10 * 24 * time.Hour)
	renewed, _, err := f.transitions.Apply(context.Background(), "u1", app.Event{
		Kind: app.EventRenew, IdempotencyKey: "evt-2",
	})
	if err != nil {
		t.Fatal(err)
	}

	want := rec.ExpiresAt.AddDate(0, 0, 30)
	if renewed.ExpiresAt == nil || !renewed.ExpiresAt.Equal(want) {
		t.Errorf("expiry = %v, want %v", renewed.ExpiresAt, want)
	}
}

func TestApply_RenewAfterLapseStartsFromNow(t *testing.T) {
	f := newTransitionFixture(t, testCatalog(t))

	if _, _, err := f.transitions.Apply(context.Background(), "u1", app.Event{
		Kind: app.EventActivate, PlanID: plan.Monthly, IdempotencyKey: "evt-1",
	}); err != nil {
		t.Fatal(err)
	}

	// 60 days later the membership has lapsed; renewal grants a fresh
	// 30 days from the payment date.
	f.clk.Advance(60 * 24 * time.Hour)
	renewed, _, err := f.transitions.Apply(context.Background(), "u1", app.Event{
		Kind: app.EventRenew, IdempotencyKey: "evt-2",
	})
	if err != nil {
		t.Fatal(err)
	}

	want := f.clk.Now().AddDate(0, 0, 30)
	if renewed.ExpiresAt == nil || !renewed.ExpiresAt.Equal(want) {
		t.Errorf("expiry = %v, want %v", renewed.ExpiresAt, want)
	}
	if !renewed.Active {
		t.Error("renewal left the record inactive")
	}
}

func TestApply_RenewRejectedWithoutDuration(t *testing.T) {
	f := newTransitionFixture(t, testCatalog(t))

	if _, _, err := f.transitions.Apply(context.Background(), "u1", app.Event{
		Kind: app.EventActivate, PlanID: plan.Single, IdempotencyKey: "evt-1",
	}); err != nil {
		t.Fatal(err)
	}

	_, _, err := f.transitions.Apply(context.Background(), "u1", app.Event{
		Kind: app.EventRenew, IdempotencyKey: "evt-2",
	})
	if !errors.Is(err, app.ErrInvalidTransition) {
		t.Errorf("got %v, want ErrInvalidTransition", err)
	}
}

func TestApply_RenewRefillsWhenPlanOptsIn(t *testing.T) {
	catalog, err := plan.NewCatalog([]plan.Plan{{
		ID:            "pack10",
		Name:          "Ten Pack",
		CreditModel:   plan.CreditFixed,
		Credits:       10,
		Features:      []plan.FeatureID{plan.FeatureTarotReading},
		DurationDays:  30,
		RefillOnRenew: true,
	}})
	if err != nil {
		t.Fatal(err)
	}
	f := newTransitionFixture(t, memory.StaticCatalog(catalog))

	if _, _, err := f.transitions.Apply(context.Background(), "u1", app.Event{
		Kind: app.EventActivate, PlanID: "pack10", IdempotencyKey: "evt-1",
	}); err != nil {
		t.Fatal(err)
	}

	// Burn some credits, then renew.
	ledger := app.NewLedger(f.store, memory.StaticCatalog(catalog), f.clk, 0, zerolog.Nop())
	for i := 0; i < 4; i++ {
		if _, err := ledger.Consume(context.Background(), "u1"); err != nil {
			t.Fatal(err)
		}
	}

	renewed, _, err := f.transitions.Apply(context.Background(), "u1", app.Event{
		Kind: app.EventRenew, IdempotencyKey: "evt-2",
	})
	if err != nil {
		t.Fatal(err)
	}
	if renewed.CreditsLeft() != 10 {
		t.Errorf("credits after refill = %d, want 10", renewed.CreditsLeft())
	}
}

func TestApply_CancelFoldsToExpiryNow(t *testing.T) {
	f := newTransitionFixture(t, testCatalog(t))

	if _, _, err := f.transitions.Apply(context.Background(), "u1", app.Event{
		Kind: app.EventActivate, PlanID: plan.Monthly, IdempotencyKey: "evt-1",
	}); err != nil {
		t.Fatal(err)
	}

	f.clk.Advance(time.Hour)
	cancelled, _, err := f.transitions.Apply(context.Background(), "u1", app.Event{
		Kind: app.EventCancel, IdempotencyKey: "evt-2",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Active {
		t.Error("cancelled record still active")
	}
	if cancelled.ExpiresAt == nil || !cancelled.ExpiresAt.Equal(f.clk.Now()) {
		t.Errorf("expiry = %v, want cancellation time %v", cancelled.ExpiresAt, f.clk.Now())
	}
	if cancelled.PlanID != plan.Monthly {
		t.Error("cancellation dropped the plan id, audit trail lost")
	}
}

func TestApply_CancelUnknownUser(t *testing.T) {
	f := newTransitionFixture(t, testCatalog(t))

	_, _, err := f.transitions.Apply(context.Background(), "ghost", app.Event{
		Kind: app.EventCancel, IdempotencyKey: "evt-1",
	})
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestApply_UnknownPlanRejected(t *testing.T) {
	f := newTransitionFixture(t, testCatalog(t))

	_, _, err := f.transitions.Apply(context.Background(), "u1", app.Event{
		Kind: app.EventActivate, PlanID: "legacy_vip", IdempotencyKey: "evt-1",
	})
	if !errors.Is(err, app.ErrInvalidTransition) {
		t.Errorf("got %v, want ErrInvalidTransition", err)
	}
}

func TestApply_UnknownKindRejected(t *testing.T) {
	f := newTransitionFixture(t, testCatalog(t))

	_, _, err := f.transitions.Apply(context.Background(), "u1", app.Event{
		Kind: "suspend", IdempotencyKey: "evt-1",
	})
	if !errors.Is(err, app.ErrInvalidTransition) {
		t.Errorf("got %v, want ErrInvalidTransition", err)
	}
}

func TestSweep_DeactivatesExpiredRecords(t *testing.T) {
	f := newTransitionFixture(t, testCatalog(t))

	for _, userID := range []string{"a", "b", "c"} {
		if _, _, err := f.transitions.Apply(context.Background(), userID, app.Event{
			Kind: app.EventActivate, PlanID: plan.Monthly, IdempotencyKey: "evt-" + userID,
		}); err != nil {
			t.Fatal(err)
		}
	}

	f.clk.Advance(31 * 24 * time.Hour)
	swept, err := f.transitions.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if swept != 3 {
		t.Errorf("swept = %d, want 3", swept)
	}

	for _, userID := range []string{"a", "b", "c"} {
		rec, err := f.store.Get(context.Background(), userID)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Active {
			t.Errorf("record %s still active after sweep", userID)
		}
	}

	// A second run finds nothing.
	swept, err = f.transitions.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if swept != 0 {
		t.Errorf("second sweep = %d, want 0", swept)
	}
}

func TestSweep_LeavesUnexpiredAlone(t *testing.T) {
	f := newTransitionFixture(t, testCatalog(t))

	if _, _, err := f.transitions.Apply(context.Background(), "fresh", app.Event{
		Kind: app.EventActivate, PlanID: plan.Yearly, IdempotencyKey: "evt-1",
	}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.transitions.Apply(context.Background(), "forever", app.Event{
		Kind: app.EventActivate, PlanID: plan.Single, IdempotencyKey: "evt-2",
	}); err != nil {
		t.Fatal(err)
	}

	f.clk.Advance(31 * 24 * time.Hour)
	swept, err := f.transitions.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if swept != 0 {
		t.Errorf("swept = %d, want 0", swept)
	}
}
