// Package http exposes the membership engine over a small JSON API,
// consumed by the product's route handlers and the billing provider's
// webhook relay.
package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fatewise/fatewise/adapters/auth"
	"github.com/fatewise/fatewise/adapters/metrics"
	"github.com/fatewise/fatewise/app"
	"github.com/fatewise/fatewise/domain/entitlement"
	"github.com/fatewise/fatewise/domain/membership"
	"github.com/fatewise/fatewise/domain/plan"
	"github.com/fatewise/fatewise/ports"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a machine-readable code and a human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DecisionResponse is returned by the entitlement endpoint.
type DecisionResponse struct {
	Feature string `json:"feature"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// MembershipResponse is the wire shape of a membership record.
type MembershipResponse struct {
	UserID           string  `json:"user_id"`
	PlanID           string  `json:"plan_id"`
	Active           bool    `json:"active"`
	ActivatedAt      string  `json:"activated_at,omitempty"`
	ExpiresAt        *string `json:"expires_at,omitempty"`
	RemainingCredits *int64  `json:"remaining_credits,omitempty"`
	Version          int64   `json:"version"`
}

// PlanResponse is the wire shape of a catalog entry.
type PlanResponse struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	CreditModel  string   `json:"credit_model"`
	Credits      int64    `json:"credits,omitempty"`
	Features     []string `json:"features"`
	DurationDays int      `json:"duration_days,omitempty"`
	PriceCents   int64    `json:"price_cents"`
}

// BillingEventRequest is the body posted by the billing webhook relay.
// ID is the provider's event id and doubles as the idempotency key.
type BillingEventRequest struct {
	ID     string `json:"id"`
	Type   string `json:"type"` // "activated", "renewed", "cancelled"
	UserID string `json:"user_id"`
	PlanID string `json:"plan_id,omitempty"`
}

// Handler serves the engine's HTTP API.
type Handler struct {
	entitlements  *app.EntitlementService
	ledger        *app.Ledger
	transitions   *app.Transitioner
	catalog       ports.CatalogSource
	tokens        *auth.TokenService
	webhookSecret string
	logger        zerolog.Logger
	metrics       *metrics.Collector
}

// New creates a new API handler. metrics may be nil.
func New(
	entitlements *app.EntitlementService,
	ledger *app.Ledger,
	transitions *app.Transitioner,
	catalog ports.CatalogSource,
	tokens *auth.TokenService,
	webhookSecret string,
	logger zerolog.Logger,
	m *metrics.Collector,
) *Handler {
	return &Handler{
		entitlements:  entitlements,
		ledger:        ledger,
		transitions:   transitions,
		catalog:       catalog,
		tokens:        tokens,
		webhookSecret: webhookSecret,
		logger:        logger,
		metrics:       m,
	}
}

// Router builds the chi route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.handleHealth)
	if h.metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/plans", h.handlePlans)
		r.Get("/entitlements/{feature}", h.handleEntitlement)
		r.Post("/features/{feature}/consume", h.handleConsume)
		r.Post("/billing/events", h.handleBillingEvent)
		r.Post("/admin/sweep", h.handleSweep)
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handlePlans(w http.ResponseWriter, r *http.Request) {
	var out []PlanResponse
	for _, p := range h.catalog.Catalog().List() {
		features := make([]string, 0, len(p.Features))
		for _, f := range p.Features {
			features = append(features, string(f))
		}
		out = append(out, PlanResponse{
			ID:           string(p.ID),
			Name:         p.Name,
			CreditModel:  string(p.CreditModel),
			Credits:      p.Credits,
			Features:     features,
			DurationDays: p.DurationDays,
			PriceCents:   p.PriceCents,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": out})
}

// handleEntitlement evaluates the bearer's entitlement for a feature.
// A missing or invalid token is not a transport error: it yields a
// NotLoggedIn decision so the UI can render a login prompt.
func (h *Handler) handleEntitlement(w http.ResponseWriter, r *http.Request) {
	feature, ok := h.featureParam(w, r)
	if !ok {
		return
	}

	userID := h.bearerUserID(r)
	decision, _, err := h.entitlements.Check(r.Context(), userID, feature)
	if err != nil {
		h.logger.Error().Err(err).Str("feature", string(feature)).Msg("entitlement check failed")
		writeError(w, http.StatusInternalServerError, "internal", "entitlement check failed")
		return
	}

	if h.metrics != nil {
		h.metrics.DecisionsTotal.WithLabelValues(string(feature), string(decision.Reason)).Inc()
	}
	writeJSON(w, http.StatusOK, DecisionResponse{
		Feature: string(feature),
		Allowed: decision.Allowed,
		Reason:  string(decision.Reason),
	})
}

// handleConsume re-evaluates immediately before debiting so a stale
// client-side decision cannot overdraw the counter.
func (h *Handler) handleConsume(w http.ResponseWriter, r *http.Request) {
	feature, ok := h.featureParam(w, r)
	if !ok {
		return
	}

	userID := h.bearerUserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "not_logged_in", "authentication required")
		return
	}

	decision, rec, err := h.entitlements.Check(r.Context(), userID, feature)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "entitlement check failed")
		return
	}
	if !decision.Allowed {
		h.countConsume(string(decision.Reason))
		writeError(w, denialStatus(decision.Reason), string(decision.Reason), "feature not available")
		return
	}

	// Implicit free members have no row to debit; their free features are
	// unmetered.
	if rec == nil {
		h.countConsume("unmetered")
		writeJSON(w, http.StatusOK, toMembershipResponse(membership.ImplicitFree(userID)))
		return
	}

	updated, err := h.ledger.Consume(r.Context(), userID)
	switch {
	case errors.Is(err, app.ErrNoCreditsLeft):
		h.countConsume("no_credits_left")
		writeError(w, http.StatusPaymentRequired, "no_credits_left", "no credits left")
	case errors.Is(err, app.ErrConflict):
		h.countConsume("conflict")
		if h.metrics != nil {
			h.metrics.VersionConflicts.Inc()
		}
		writeError(w, http.StatusConflict, "conflict", "concurrent update, retry the request")
	case errors.Is(err, app.ErrNotFound):
		h.countConsume("not_found")
		h.logger.Error().Str("user_id", userID).Msg("membership record vanished during consumption")
		writeError(w, http.StatusInternalServerError, "integrity", "membership record missing")
	case err != nil:
		h.countConsume("error")
		h.logger.Error().Err(err).Str("user_id", userID).Msg("consumption failed")
		writeError(w, http.StatusInternalServerError, "internal", "consumption failed")
	default:
		h.countConsume("ok")
		writeJSON(w, http.StatusOK, toMembershipResponse(updated))
	}
}

func (h *Handler) handleBillingEvent(w http.ResponseWriter, r *http.Request) {
	if !h.sharedSecretOK(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid webhook secret")
		return
	}

	var req BillingEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.ID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "id and user_id are required")
		return
	}

	var kind app.EventKind
	switch req.Type {
	case "activated":
		kind = app.EventActivate
	case "renewed":
		kind = app.EventRenew
	case "cancelled":
		kind = app.EventCancel
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "unknown event type")
		return
	}

	rec, applied, err := h.transitions.Apply(r.Context(), req.UserID, app.Event{
		Kind:           kind,
		PlanID:         plan.ID(req.PlanID),
		IdempotencyKey: req.ID,
	})
	if h.metrics != nil && !applied && err == nil {
		h.metrics.EventReplays.Inc()
	}
	switch {
	case errors.Is(err, app.ErrInvalidTransition):
		h.countTransition(string(kind), "invalid")
		writeError(w, http.StatusUnprocessableEntity, "invalid_transition", err.Error())
	case errors.Is(err, ports.ErrNotFound):
		h.countTransition(string(kind), "not_found")
		writeError(w, http.StatusNotFound, "not_found", "no membership for user")
	case errors.Is(err, app.ErrConflict):
		h.countTransition(string(kind), "conflict")
		writeError(w, http.StatusConflict, "conflict", "concurrent update, retry the event")
	case err != nil:
		h.countTransition(string(kind), "error")
		h.logger.Error().Err(err).Str("event_id", req.ID).Msg("billing event failed")
		writeError(w, http.StatusInternalServerError, "internal", "transition failed")
	default:
		h.countTransition(string(kind), "ok")
		writeJSON(w, http.StatusOK, map[string]any{
			"applied":    applied,
			"membership": toMembershipResponse(rec),
		})
	}
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	if !h.sharedSecretOK(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid webhook secret")
		return
	}

	swept, err := h.transitions.Sweep(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("expiry sweep failed")
		writeError(w, http.StatusInternalServerError, "internal", "sweep failed")
		return
	}
	if h.metrics != nil {
		h.metrics.SweepRuns.Inc()
		h.metrics.SweptRecords.Add(float64(swept))
	}
	writeJSON(w, http.StatusOK, map[string]int{"swept": swept})
}

// bearerUserID extracts the user id from the Authorization header.
// Missing or invalid tokens yield "" (anonymous), never an error.
func (h *Handler) bearerUserID(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	claims, err := h.tokens.ValidateToken(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return ""
	}
	return claims.UserID
}

func (h *Handler) sharedSecretOK(r *http.Request) bool {
	if h.webhookSecret == "" {
		return false
	}
	got := r.Header.Get("X-Webhook-Secret")
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) == 1
}

func (h *Handler) featureParam(w http.ResponseWriter, r *http.Request) (plan.FeatureID, bool) {
	f := plan.FeatureID(chi.URLParam(r, "feature"))
	if !plan.IsKnownFeature(f) {
		writeError(w, http.StatusNotFound, "unknown_feature", "unknown feature")
		return "", false
	}
	return f, true
}

func (h *Handler) countConsume(outcome string) {
	if h.metrics != nil {
		h.metrics.ConsumptionsTotal.WithLabelValues(outcome).Inc()
	}
}

func (h *Handler) countTransition(kind, outcome string) {
	if h.metrics != nil {
		h.metrics.TransitionsTotal.WithLabelValues(kind, outcome).Inc()
	}
}

// denialStatus maps a denial reason to an HTTP status. NoCreditsLeft gets
// 402 so the UI can route straight to the top-up flow.
func denialStatus(reason entitlement.Reason) int {
	switch reason {
	case entitlement.ReasonNotLoggedIn:
		return http.StatusUnauthorized
	case entitlement.ReasonNoCreditsLeft:
		return http.StatusPaymentRequired
	default:
		return http.StatusForbidden
	}
}

func toMembershipResponse(rec membership.Record) MembershipResponse {
	resp := MembershipResponse{
		UserID:  rec.UserID,
		PlanID:  string(rec.PlanID),
		Active:  rec.Active,
		Version: rec.Version,
	}
	if !rec.ActivatedAt.IsZero() {
		resp.ActivatedAt = rec.ActivatedAt.UTC().Format(time.RFC3339)
	}
	if rec.ExpiresAt != nil {
		s := rec.ExpiresAt.UTC().Format(time.RFC3339)
		resp.ExpiresAt = &s
	}
	resp.RemainingCredits = rec.RemainingCredits
	return resp
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}
