package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DukeRupert/picscribe/internal/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(Config{
		APIKey:         "test-key",
		BaseURL:        srv.URL,
		ProviderConfig: ai.ProviderConfig{RequestTimeout: 2 * time.Second},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return p
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{}, slog.Default())
	assert.Error(t, err)
}

func TestDescribeImage_Success(t *testing.T) {
	var got apiRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, APIVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"A cat"},{"type":"text","text":"on a sofa."}],"usage":{"input_tokens":7,"output_tokens":5}}`)
	})

	desc, err := p.DescribeImage(context.Background(), ai.DescribeImageParams{
		Image:  ai.NewImage("image/png", []byte("png")),
		Prompt: "Describe this image.",
	})
	require.NoError(t, err)
	assert.Equal(t, "A cat\non a sofa.", desc.Text)
	assert.Equal(t, DefaultModel, desc.Usage.Model)
	assert.Equal(t, 7, desc.Usage.InputTokens)

	require.Len(t, got.Messages, 1)
	content := got.Messages[0].Content
	require.Len(t, content, 2)
	require.NotNil(t, content[0].Source)
	assert.Equal(t, "base64", content[0].Source.Type)
	assert.Equal(t, "image/png", content[0].Source.MediaType)
	assert.Equal(t, "cG5n", content[0].Source.Data)
	assert.Equal(t, "Describe this image.", content[1].Text)
}

func TestDescribeImage_HTTPErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{}`, ai.EAIUnauthorized},
		{"rate limited", http.StatusTooManyRequests, `{}`, ai.EAIRateLimit},
		{"overloaded", 529, `{}`, ai.EAIUnavailable},
		{"invalid image", http.StatusBadRequest, `{"type":"error","error":{"type":"invalid_request_error","message":"Could not process image"}}`, ai.EAIInvalidImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := p.DescribeImage(context.Background(), ai.DescribeImageParams{Image: ai.NewImage("image/png", nil)})
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 1, calls)
		})
	}
}
