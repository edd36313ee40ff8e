// Package app contains the membership engine services. Business rules live
// in domain/; I/O happens at the edges via injected stores.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatewise/fatewise/domain/entitlement"
	"github.com/fatewise/fatewise/domain/membership"
	"github.com/fatewise/fatewise/domain/plan"
	"github.com/fatewise/fatewise/ports"
	"github.com/rs/zerolog"
)

// EntitlementService answers "may this user use this feature right now".
type EntitlementService struct {
	store   ports.MembershipStore
	catalog ports.CatalogSource
	clock   ports.Clock
	logger  zerolog.Logger
}

// NewEntitlementService creates an entitlement service.
func NewEntitlementService(
	store ports.MembershipStore,
	catalog ports.CatalogSource,
	clock ports.Clock,
	logger zerolog.Logger,
) *EntitlementService {
	return &EntitlementService{
		store:   store,
		catalog: catalog,
		clock:   clock,
		logger:  logger,
	}
}

// Check evaluates the entitlement of userID for feature. An empty userID
// means the request carried no authenticated user and yields NotLoggedIn.
// An authenticated user with no stored record is treated as an implicit
// free-plan member; the returned record pointer is nil in that case only
// when no row exists (callers use it to decide whether a consumption can be
// recorded).
func (s *EntitlementService) Check(ctx context.Context, userID string, feature plan.FeatureID) (entitlement.Decision, *membership.Record, error) {
	now := s.clock.Now()

	if userID == "" {
		d := entitlement.Evaluate(s.catalog.Catalog(), nil, feature, now)
		return d, nil, nil
	}

	rec, err := s.store.Get(ctx, userID)
	if errors.Is(err, ports.ErrNotFound) {
		implicit := membership.ImplicitFree(userID)
		d := entitlement.Evaluate(s.catalog.Catalog(), &implicit, feature, now)
		return d, nil, nil
	}
	if err != nil {
		return entitlement.Decision{}, nil, fmt.Errorf("get membership: %w", err)
	}

	d := entitlement.Evaluate(s.catalog.Catalog(), &rec, feature, now)
	s.logger.Debug().
		Str("user_id", userID).
		Str("feature", string(feature)).
		Str("reason", string(d.Reason)).
		Msg("entitlement evaluated")
	return d, &rec, nil
}
