package service

import (
	"sync"

	"github.com/DukeRupert/picscribe/internal/domain"
)

// UsageLedger counts successful analyses per user. Counts only grow and are
// kept in memory for the lifetime of the process.
type UsageLedger struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewUsageLedger creates an empty ledger.
func NewUsageLedger() *UsageLedger {
	return &UsageLedger{
		counts: make(map[string]int),
	}
}

// Used returns the user's count, 0 if they have never succeeded.
func (l *UsageLedger) Used(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[userID]
}

// Increment records one successful analysis and returns the new count.
func (l *UsageLedger) Increment(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[userID]++
	return l.counts[userID]
}

// Payload builds the usage view for the user at the given tier.
func (l *UsageLedger) Payload(userID string, tier domain.Tier) domain.UsagePayload {
	return domain.UsagePayload{
		UserID:       userID,
		Tier:         tier,
		AnalysesUsed: l.Used(userID),
		Limit:        tier.Limit(),
	}
}
