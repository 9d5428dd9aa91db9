package ai

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limited wraps an AIProvider and caps the number of in-flight calls.
type Limited struct {
	next AIProvider
	sem  *semaphore.Weighted
}

// WithConcurrencyLimit returns provider unchanged when max <= 0, otherwise a
// wrapper allowing at most max concurrent DescribeImage calls.
func WithConcurrencyLimit(provider AIProvider, max int) AIProvider {
	if max <= 0 {
		return provider
	}
	return &Limited{
		next: provider,
		sem:  semaphore.NewWeighted(int64(max)),
	}
}

// DescribeImage waits for a free slot, then delegates. If ctx ends while
// waiting the call fails with EAITimeout and the provider is never invoked.
func (l *Limited) DescribeImage(ctx context.Context, params DescribeImageParams) (*Description, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, WrapError("acquire slot", EAITimeout)
	}
	defer l.sem.Release(1)

	return l.next.DescribeImage(ctx, params)
}
