// Package service contains the business logic layer.
//
// This file implements tier resolution from verified token claims, with
// in-memory overrides set by the upgrade and downgrade endpoints.
package service

import (
	"strings"
	"sync"

	"github.com/DukeRupert/picscribe/internal/auth"
	"github.com/DukeRupert/picscribe/internal/domain"
	"github.com/DukeRupert/picscribe/internal/metrics"
)

// premiumMarker is matched case-insensitively as a substring of the claim
// values, so "Premium_Monthly" counts as premium.
const premiumMarker = "premium"

// tierClaimPaths are consulted in order after the override.
var tierClaimPaths = [][]string{
	{"public_metadata", "subscription_tier"},
	{"subscription", "plan"},
}

// TierResolver derives a user's tier from an override or their claims.
// Overrides live for the lifetime of the process.
type TierResolver struct {
	mu        sync.RWMutex
	overrides map[string]domain.Tier
}

// NewTierResolver creates a TierResolver with no overrides.
func NewTierResolver() *TierResolver {
	return &TierResolver{
		overrides: make(map[string]domain.Tier),
	}
}

// Resolve returns the effective tier. An override wins, then
// public_metadata.subscription_tier, then subscription.plan; otherwise free.
func (r *TierResolver) Resolve(userID string, claims *auth.Claims) domain.Tier {
	if tier, ok := r.Override(userID); ok {
		return tier
	}

	for _, path := range tierClaimPaths {
		if strings.Contains(strings.ToLower(claims.String(path...)), premiumMarker) {
			return domain.TierPremium
		}
	}

	return domain.TierFree
}

// SetOverride replaces the user's override. Only free and premium are accepted.
func (r *TierResolver) SetOverride(userID string, tier domain.Tier) error {
	const op = "tier.set_override"

	if !tier.IsValid() {
		return domain.Errorf(domain.EINVALID, op, "Unknown tier %q", tier)
	}

	r.mu.Lock()
	r.overrides[userID] = tier
	r.mu.Unlock()

	metrics.TierChangesTotal.WithLabelValues(tier.String()).Inc()
	return nil
}

// Override returns the user's override, if any.
func (r *TierResolver) Override(userID string) (domain.Tier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tier, ok := r.overrides[userID]
	return tier, ok
}
