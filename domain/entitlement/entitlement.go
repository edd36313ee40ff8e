// Package entitlement provides the pure entitlement evaluator.
//
// Evaluate maps (membership record, requested feature, current time) to an
// allow/deny decision with a typed reason. It is side-effect free: callers
// may evaluate once to render a button and again immediately before
// consuming a credit.
package entitlement

import (
	"time"

	"github.com/fatewise/fatewise/domain/membership"
	"github.com/fatewise/fatewise/domain/plan"
)

// Reason explains an entitlement decision. Denial reasons are
// business-normal outcomes, never errors.
type Reason string

const (
	ReasonAllowed           Reason = "allowed"
	ReasonNotLoggedIn       Reason = "not_logged_in"
	ReasonFeatureNotInPlan  Reason = "feature_not_in_plan"
	ReasonMembershipExpired Reason = "membership_expired"
	ReasonNoCreditsLeft     Reason = "no_credits_left"
)

// Decision is the ephemeral outcome of an entitlement check.
type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow() Decision        { return Decision{Allowed: true, Reason: ReasonAllowed} }
func deny(r Reason) Decision { return Decision{Allowed: false, Reason: r} }

// Evaluate decides whether the holder of rec may use feature at time now.
// A nil record means no authenticated user context was supplied, which is
// distinct from an existing free-plan record.
//
// Checks are ordered; the first match wins:
//  1. nil record            -> NotLoggedIn
//  2. expiry passed         -> MembershipExpired (ignores the stored Active
//     flag, which may be stale if the sweep is lagging)
//  3. feature not in plan   -> FeatureNotInPlan (also covers a plan id the
//     catalog no longer knows)
//  4. fixed credits at zero -> NoCreditsLeft
//  5. otherwise             -> Allowed
//
// This is a PURE function.
func Evaluate(catalog *plan.Catalog, rec *membership.Record, feature plan.FeatureID, now time.Time) Decision {
	if rec == nil {
		return deny(ReasonNotLoggedIn)
	}
	if rec.Expired(now) {
		return deny(ReasonMembershipExpired)
	}

	p, ok := catalog.Get(rec.PlanID)
	if !ok || !p.HasFeature(feature) {
		return deny(ReasonFeatureNotInPlan)
	}

	if p.CreditModel == plan.CreditFixed && rec.CreditsLeft() <= 0 {
		return deny(ReasonNoCreditsLeft)
	}

	return allow()
}
