package ai_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DukeRupert/picscribe/internal/ai"
	"github.com/DukeRupert/picscribe/internal/ai/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestWithConcurrencyLimit_ZeroIsPassthrough(t *testing.T) {
	p := mock.New(nil)
	assert.Same(t, ai.AIProvider(p), ai.WithConcurrencyLimit(p, 0))
}

func TestWithConcurrencyLimit_CapsInFlight(t *testing.T) {
	var inFlight, peak atomic.Int32

	p := mock.New(nil)
	p.Delay = 20 * time.Millisecond
	p.Hook = func(context.Context, ai.DescribeImageParams) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
	}

	limited := ai.WithConcurrencyLimit(&decrementing{next: p, inFlight: &inFlight}, 2)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := limited.DescribeImage(context.Background(), ai.DescribeImageParams{})
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 8, p.Calls())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestWithConcurrencyLimit_CancelledWhileWaiting(t *testing.T) {
	p := mock.New(nil)
	p.Delay = time.Second
	limited := ai.WithConcurrencyLimit(p, 1)

	started := make(chan struct{})
	p.Hook = func(context.Context, ai.DescribeImageParams) { close(started) }

	holdCtx, release := context.WithCancel(context.Background())
	defer release()
	go func() {
		_, _ = limited.DescribeImage(holdCtx, ai.DescribeImageParams{})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := limited.DescribeImage(ctx, ai.DescribeImageParams{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ai.EAITimeout)
	assert.Equal(t, 1, p.Calls())
}

func TestNewImage(t *testing.T) {
	img := ai.NewImage("image/png", []byte("abc"))
	assert.Equal(t, "image/png", img.MediaType)
	assert.Equal(t, "YWJj", img.Base64)
	assert.Equal(t, "data:image/png;base64,YWJj", img.DataURL)
}

// decrementing lowers the in-flight counter once the wrapped call returns.
type decrementing struct {
	next     ai.AIProvider
	inFlight *atomic.Int32
}

func (d *decrementing) DescribeImage(ctx context.Context, params ai.DescribeImageParams) (*ai.Description, error) {
	defer d.inFlight.Add(-1)
	return d.next.DescribeImage(ctx, params)
}
