// Package domain contains core business types and interfaces.
//
// This file defines subscription tiers and the usage view returned to clients.
package domain

import (
	"encoding/json"
	"fmt"
)

// Tier represents the subscription level that governs the analysis quota.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// FreeAnalysisLimit is the number of analyses a free user may run.
const FreeAnalysisLimit = 1

// QuotaExceededMessage is shown when a free user has used their analysis.
const QuotaExceededMessage = "Free tier limit reached. Upgrade to Premium for unlimited analyses."

// String returns the string representation of the tier.
func (t Tier) String() string {
	return string(t)
}

// IsValid returns true if the tier is a recognized value.
func (t Tier) IsValid() bool {
	switch t {
	case TierFree, TierPremium:
		return true
	}
	return false
}

// IsUnlimited reports whether the tier has no analysis quota.
func (t Tier) IsUnlimited() bool {
	return t == TierPremium
}

// Limit returns the analysis limit for the tier.
func (t Tier) Limit() UsageLimit {
	if t.IsUnlimited() {
		return UsageLimit{Unlimited: true}
	}
	return UsageLimit{Count: FreeAnalysisLimit}
}

// Allows reports whether a user on this tier with the given usage may run
// another analysis.
func (t Tier) Allows(used int) bool {
	if t.IsUnlimited() {
		return true
	}
	return used < FreeAnalysisLimit
}

// UsageLimit is either a fixed count or unlimited. It serializes as the
// integer count or the string "unlimited".
type UsageLimit struct {
	Unlimited bool
	Count     int
}

// MarshalJSON implements json.Marshaler.
func (l UsageLimit) MarshalJSON() ([]byte, error) {
	if l.Unlimited {
		return []byte(`"unlimited"`), nil
	}
	return json.Marshal(l.Count)
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *UsageLimit) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "unlimited" {
			return fmt.Errorf("unknown usage limit %q", s)
		}
		*l = UsageLimit{Unlimited: true}
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("usage limit: %w", err)
	}
	*l = UsageLimit{Count: n}
	return nil
}

// UsagePayload is the read-only usage view returned to clients.
// It is built per response and never stored.
type UsagePayload struct {
	UserID       string     `json:"user_id"`
	Tier         Tier       `json:"tier"`
	AnalysesUsed int        `json:"analyses_used"`
	Limit        UsageLimit `json:"limit"`
}

// AnalysisResult is the usage view plus the generated description.
type AnalysisResult struct {
	UsagePayload
	Description string `json:"description"`
}

// QuotaExceeded creates the error returned when a free user has no analyses
// left.
func QuotaExceeded(op string) *Error {
	return &Error{
		Code:    ERATELIMIT,
		Op:      op,
		Message: QuotaExceededMessage,
	}
}
