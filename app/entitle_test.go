package app_test

import (
	"context"
	"testing"

	"github.com/fatewise/fatewise/adapters/clock"
	"github.com/fatewise/fatewise/adapters/memory"
	"github.com/fatewise/fatewise/app"
	"github.com/fatewise/fatewise/domain/entitlement"
	"github.com/fatewise/fatewise/domain/plan"
	"github.com/rs/zerolog"
)

func TestCheck_AnonymousDenied(t *testing.T) {
	store := memory.NewMembershipStore()
	svc := app.NewEntitlementService(store, testCatalog(t), clock.NewFake(testNow), zerolog.Nop())

	d, rec, err := svc.Check(context.Background(), "", plan.FeatureDailyFortune)
	if err != nil {
		t.Fatal(err)
	}
	if d.Reason != entitlement.ReasonNotLoggedIn {
		t.Errorf("reason = %s, want not_logged_in", d.Reason)
	}
	if rec != nil {
		t.Error("anonymous check returned a record")
	}
}

func TestCheck_UnknownUserGetsImplicitFree(t *testing.T) {
	store := memory.NewMembershipStore()
	svc := app.NewEntitlementService(store, testCatalog(t), clock.NewFake(testNow), zerolog.Nop())

	d, rec, err := svc.Check(context.Background(), "new-user", plan.FeatureDailyFortune)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Errorf("implicit free member denied free feature: %s", d.Reason)
	}
	if rec != nil {
		t.Error("implicit free must return nil record, there is no row to debit")
	}

	d, _, err = svc.Check(context.Background(), "new-user", plan.FeatureBaziAnalysis)
	if err != nil {
		t.Fatal(err)
	}
	if d.Reason != entitlement.ReasonFeatureNotInPlan {
		t.Errorf("implicit free paid feature: reason = %s, want feature_not_in_plan", d.Reason)
	}
}

func TestCheck_StoredRecordEvaluated(t *testing.T) {
	store := memory.NewMembershipStore()
	seedRecord(t, store, plan.Single, int64p(1), nil)
	svc := app.NewEntitlementService(store, testCatalog(t), clock.NewFake(testNow), zerolog.Nop())

	d, rec, err := svc.Check(context.Background(), "u1", plan.FeatureBaziAnalysis)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Errorf("single member with credit denied: %s", d.Reason)
	}
	if rec == nil || rec.PlanID != plan.Single {
		t.Errorf("expected the stored record back, got %+v", rec)
	}
}

func TestCheck_ExpiryUsesClock(t *testing.T) {
	store := memory.NewMembershipStore()
	expiry := testNow.AddDate(0, 0, 30)
	seedRecord(t, store, plan.Monthly, nil, &expiry)

	clk := clock.NewFake(testNow)
	svc := app.NewEntitlementService(store, testCatalog(t), clk, zerolog.Nop())

	d, _, err := svc.Check(context.Background(), "u1", plan.FeatureTarotReading)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatalf("fresh monthly member denied: %s", d.Reason)
	}

	clk.Set(expiry) // expiry boundary is exclusive for the member
	d, _, err = svc.Check(context.Background(), "u1", plan.FeatureTarotReading)
	if err != nil {
		t.Fatal(err)
	}
	if d.Reason != entitlement.ReasonMembershipExpired {
		t.Errorf("at expiry instant: reason = %s, want membership_expired", d.Reason)
	}
}
