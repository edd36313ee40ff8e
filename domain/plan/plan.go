// Package plan provides the static plan catalog: value types and pure functions.
package plan

import "fmt"

// ID identifies a plan tier.
type ID string

const (
	Free    ID = "free"
	Single  ID = "single"
	Monthly ID = "monthly"
	Yearly  ID = "yearly"
)

// CreditModel determines how feature usage is metered for a plan.
type CreditModel string

const (
	// CreditUnlimited grants metered features without a counter.
	CreditUnlimited CreditModel = "unlimited"
	// CreditFixed grants a finite number of uses, debited one per use.
	CreditFixed CreditModel = "fixed"
	// CreditNone means the plan carries no credit allowance; features it
	// includes are unmetered.
	CreditNone CreditModel = "none"
)

// FeatureID identifies a paid product feature.
type FeatureID string

const (
	FeatureBaziAnalysis FeatureID = "bazi_analysis"
	FeatureDailyFortune FeatureID = "daily_fortune"
	FeatureTarotReading FeatureID = "tarot_reading"
	FeatureLuckyItems   FeatureID = "lucky_items"
)

// KnownFeatures lists every feature the product ships.
var KnownFeatures = []FeatureID{
	FeatureBaziAnalysis,
	FeatureDailyFortune,
	FeatureTarotReading,
	FeatureLuckyItems,
}

// IsKnownFeature reports whether f is a feature the catalog can grant.
// This is a PURE function.
func IsKnownFeature(f FeatureID) bool {
	for _, k := range KnownFeatures {
		if k == f {
			return true
		}
	}
	return false
}

// Plan represents a pricing tier (immutable value type).
type Plan struct {
	ID            ID
	Name          string
	CreditModel   CreditModel
	Credits       int64 // initial credit grant, > 0 iff CreditModel == CreditFixed
	Features      []FeatureID
	DurationDays  int // 0 = never expires
	RefillOnRenew bool
	PriceCents    int64 // monthly price in cents, 0 for free
	StripePriceID string
}

// HasFeature reports whether the plan grants feature f.
// This is a PURE function.
func (p Plan) HasFeature(f FeatureID) bool {
	for _, pf := range p.Features {
		if pf == f {
			return true
		}
	}
	return false
}

// Expires reports whether memberships on this plan carry an expiry.
func (p Plan) Expires() bool {
	return p.DurationDays > 0
}

// Catalog is the validated, immutable set of plan definitions loaded at
// process start. Safe for concurrent reads without locking.
type Catalog struct {
	plans map[ID]Plan
	order []ID
}

// NewCatalog validates plan definitions and builds a catalog.
// Exactly one definition per id; fixed-credit plans must grant at least one
// credit; every feature must be known.
func NewCatalog(plans []Plan) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, fmt.Errorf("catalog: no plans defined")
	}

	c := &Catalog{plans: make(map[ID]Plan, len(plans))}
	for _, p := range plans {
		if p.ID == "" {
			return nil, fmt.Errorf("catalog: plan with empty id")
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate plan %q", p.ID)
		}
		switch p.CreditModel {
		case CreditUnlimited, CreditNone:
			// Credits field is ignored for these models.
		case CreditFixed:
			if p.Credits <= 0 {
				return nil, fmt.Errorf("catalog: plan %q has fixed credits <= 0", p.ID)
			}
		default:
			return nil, fmt.Errorf("catalog: plan %q has unknown credit model %q", p.ID, p.CreditModel)
		}
		if p.DurationDays < 0 {
			return nil, fmt.Errorf("catalog: plan %q has negative duration", p.ID)
		}
		for _, f := range p.Features {
			if !IsKnownFeature(f) {
				return nil, fmt.Errorf("catalog: plan %q grants unknown feature %q", p.ID, f)
			}
		}
		c.plans[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	return c, nil
}

// Get retrieves a plan by id.
func (c *Catalog) Get(id ID) (Plan, bool) {
	p, ok := c.plans[id]
	return p, ok
}

// List returns all plans in definition order.
func (c *Catalog) List() []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plans[id])
	}
	return out
}

// Defaults returns the built-in plan table used when the config file does
// not override it.
func Defaults() []Plan {
	return []Plan{
		{
			ID:          Free,
			Name:        "Free",
			CreditModel: CreditNone,
			Features:    []FeatureID{FeatureDailyFortune},
		},
		{
			ID:          Single,
			Name:        "Single Reading",
			CreditModel: CreditFixed,
			Credits:     1,
			Features:    []FeatureID{FeatureBaziAnalysis, FeatureDailyFortune},
			PriceCents:  990,
		},
		{
			ID:           Monthly,
			Name:         "Monthly Member",
			CreditModel:  CreditUnlimited,
			Features:     KnownFeatures,
			DurationDays: 30,
			PriceCents:   2990,
		},
		{
			ID:           Yearly,
			Name:         "Yearly Member",
			CreditModel:  CreditUnlimited,
			Features:     KnownFeatures,
			DurationDays: 365,
			PriceCents:   19900,
		},
	}
}
