// Package service contains the business logic layer.
//
// This file implements the analysis service: quota enforcement, upload
// validation and the single call to the AI provider.
package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/DukeRupert/picscribe/internal/ai"
	"github.com/DukeRupert/picscribe/internal/auth"
	"github.com/DukeRupert/picscribe/internal/domain"
	"github.com/DukeRupert/picscribe/internal/metrics"
)

// DescribePrompt is the instruction sent with every image.
const DescribePrompt = "Describe this image in detail, including objects, colors, mood, and any notable features."

// AnalysisFailedMessage is shown when the AI provider call fails.
const AnalysisFailedMessage = "AI analysis failed. Please try again."

// =============================================================================
// Implementation
// =============================================================================

// AnalysisService runs analyses and exposes the usage view around them.
type AnalysisService struct {
	tiers    *TierResolver
	ledger   *UsageLedger
	provider ai.AIProvider
	locks    *userLocks
	logger   *slog.Logger
}

// NewAnalysisService creates a new AnalysisService.
func NewAnalysisService(tiers *TierResolver, ledger *UsageLedger, provider ai.AIProvider, logger *slog.Logger) *AnalysisService {
	return &AnalysisService{
		tiers:    tiers,
		ledger:   ledger,
		provider: provider,
		locks:    newUserLocks(),
		logger:   logger,
	}
}

// Usage returns the current usage view for the caller.
func (s *AnalysisService) Usage(userID string, claims *auth.Claims) domain.UsagePayload {
	return s.ledger.Payload(userID, s.tiers.Resolve(userID, claims))
}

// SetTier overrides the caller's tier and returns the resulting usage view.
// The usage count is left untouched.
func (s *AnalysisService) SetTier(userID string, claims *auth.Claims, tier domain.Tier) (domain.UsagePayload, error) {
	if err := s.tiers.SetOverride(userID, tier); err != nil {
		return domain.UsagePayload{}, err
	}

	s.logger.Info("tier override set", "user_id", userID, "tier", tier)
	return s.Usage(userID, claims), nil
}

// Analyze checks the quota, validates the upload, asks the provider for a
// description and records the success. The whole sequence holds the caller's
// lock, so concurrent requests from one user are serialized and a free user
// can never get more than one success.
//
// Returns domain.ERATELIMIT when the quota is used up, the validation error
// when the upload is rejected, and domain.EUPSTREAM when the provider fails.
// Usage is only incremented on success.
func (s *AnalysisService) Analyze(ctx context.Context, userID string, claims *auth.Claims, upload domain.UploadCandidate) (*domain.AnalysisResult, error) {
	const op = "analysis.analyze"

	unlock, err := s.locks.lock(ctx, userID)
	if err != nil {
		return nil, domain.Internal(err, op, "request cancelled while waiting for a previous analysis")
	}
	defer unlock()

	tier := s.tiers.Resolve(userID, claims)
	used := s.ledger.Used(userID)

	if !tier.Allows(used) {
		s.logger.Info("Analysis quota exceeded",
			"user_id", userID,
			"tier", tier,
			"used", used,
		)
		metrics.AnalysesTotal.WithLabelValues(metrics.AnalysisQuotaExceeded).Inc()
		return nil, domain.QuotaExceeded(op)
	}

	if err := domain.ValidateUpload(upload); err != nil {
		s.logger.Info("upload rejected",
			"user_id", userID,
			"filename", upload.Filename,
			"content_type", upload.ContentType,
			"size", upload.Size,
			"reason", domain.ErrorMessage(err),
		)
		metrics.AnalysesTotal.WithLabelValues(metrics.AnalysisRejected).Inc()
		return nil, err
	}

	start := time.Now()
	desc, err := s.provider.DescribeImage(ctx, ai.DescribeImageParams{
		Image:  ai.NewImage(upload.MediaType(), upload.Data),
		Prompt: DescribePrompt,
		UserID: userID,
	})
	metrics.AIRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.Error("AI analysis failed",
			"user_id", userID,
			"tier", tier,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		metrics.AIAPICalls.WithLabelValues("error").Inc()
		metrics.AnalysesTotal.WithLabelValues(metrics.AnalysisFailed).Inc()
		return nil, domain.Upstream(err, op, AnalysisFailedMessage)
	}

	metrics.AIAPICalls.WithLabelValues("success").Inc()
	metrics.AITokensTotal.WithLabelValues("input").Add(float64(desc.Usage.InputTokens))
	metrics.AITokensTotal.WithLabelValues("output").Add(float64(desc.Usage.OutputTokens))

	used = s.ledger.Increment(userID)
	metrics.AnalysesTotal.WithLabelValues(metrics.AnalysisSucceeded).Inc()

	s.logger.Info("image analyzed",
		"user_id", userID,
		"tier", tier,
		"analyses_used", used,
		"model", desc.Usage.Model,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &domain.AnalysisResult{
		UsagePayload: domain.UsagePayload{
			UserID:       userID,
			Tier:         tier,
			AnalysesUsed: used,
			Limit:        tier.Limit(),
		},
		Description: strings.TrimSpace(desc.Text),
	}, nil
}

// =============================================================================
// Per-user locks
// =============================================================================

// userLocks hands out one lock per user. Entries are reference counted and
// removed when no request holds or waits for them.
type userLocks struct {
	mu      sync.Mutex
	entries map[string]*userLock
}

type userLock struct {
	ch   chan struct{}
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{
		entries: make(map[string]*userLock),
	}
}

// lock blocks until the user's lock is held or ctx is done.
func (l *userLocks) lock(ctx context.Context, userID string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.entries[userID]
	if !ok {
		entry = &userLock{ch: make(chan struct{}, 1)}
		l.entries[userID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
		return func() {
			<-entry.ch
			l.release(userID, entry)
		}, nil
	case <-ctx.Done():
		l.release(userID, entry)
		return nil, ctx.Err()
	}
}

func (l *userLocks) release(userID string, entry *userLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, userID)
	}
}
