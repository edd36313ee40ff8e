// Package membership provides the membership record value type.
package membership

import (
	"time"

	"github.com/fatewise/fatewise/domain/plan"
)

// Record is the per-user persisted membership state (one row per user).
// Mutated only by plan transitions and credit consumption; never deleted.
type Record struct {
	UserID           string
	PlanID           plan.ID
	Active           bool
	ActivatedAt      time.Time
	ExpiresAt        *time.Time // nil = never expires
	RemainingCredits *int64     // nil unless the plan meters fixed credits
	Version          int64      // optimistic-concurrency guard, +1 per committed mutation
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Expired reports whether the record's expiry has passed. The stored Active
// flag is deliberately not consulted: the lifecycle sweep may lag, and the
// timestamp is authoritative.
// This is a PURE function.
func (r Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// CreditsLeft returns the remaining credit count, or 0 when the record
// carries no counter.
func (r Record) CreditsLeft() int64 {
	if r.RemainingCredits == nil {
		return 0
	}
	return *r.RemainingCredits
}

// ImplicitFree builds the record an authenticated user without a stored row
// is treated as: a free-plan member with no expiry and no credits.
// This is a PURE function.
func ImplicitFree(userID string) Record {
	return Record{
		UserID: userID,
		PlanID: plan.Free,
		Active: true,
	}
}
