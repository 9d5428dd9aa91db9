package mock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/picscribe/internal/ai"
)

// DefaultDescription is returned when no custom response is configured.
const DefaultDescription = "A mock description of the uploaded image: a brightly lit scene with a few everyday objects, warm colors and a calm mood."

// Provider is a mock AI provider for testing and development
type Provider struct {
	logger *slog.Logger

	mu sync.Mutex

	// Configurable responses for testing
	DescribeImageResponse *ai.Description
	DescribeImageError    error

	// Delay is slept before answering, honoring context cancellation.
	Delay time.Duration

	// Hook, when set, runs at the start of every call.
	Hook func(ctx context.Context, params ai.DescribeImageParams)

	// Call tracking for testing
	describeImageCalls int
	lastParams         ai.DescribeImageParams
}

// New creates a new mock AI provider
func New(logger *slog.Logger) *Provider {
	return &Provider{
		logger: logger,
	}
}

// DescribeImage returns the configured response, or a canned description.
func (p *Provider) DescribeImage(ctx context.Context, params ai.DescribeImageParams) (*ai.Description, error) {
	p.mu.Lock()
	p.describeImageCalls++
	p.lastParams = params
	hook := p.Hook
	delay := p.Delay
	resp := p.DescribeImageResponse
	respErr := p.DescribeImageError
	p.mu.Unlock()

	if hook != nil {
		hook(ctx, params)
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ai.WrapError("describe image", ai.EAITimeout)
		}
	}

	if p.logger != nil {
		p.logger.Debug("mock describe image", "user_id", params.UserID, "media_type", params.Image.MediaType)
	}

	// If a custom response or error is set, use it
	if respErr != nil {
		return nil, respErr
	}
	if resp != nil {
		out := *resp
		return &out, nil
	}

	return &ai.Description{
		Text: DefaultDescription,
		Usage: ai.UsageInfo{
			Model:        "mock-ai-v1",
			InputTokens:  1250,
			OutputTokens: 120,
			Duration:     delay,
		},
	}, nil
}

// Calls returns how many times DescribeImage has been invoked.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.describeImageCalls
}

// LastParams returns the parameters of the most recent call.
func (p *Provider) LastParams() ai.DescribeImageParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastParams
}

// SetResponse replaces the canned response and error.
func (p *Provider) SetResponse(resp *ai.Description, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DescribeImageResponse = resp
	p.DescribeImageError = err
}
