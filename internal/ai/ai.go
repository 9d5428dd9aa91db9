package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// AIProvider defines the interface for vision models that describe images.
type AIProvider interface {
	// DescribeImage submits an image and an instruction prompt and returns
	// the model's text. Implementations make exactly one upstream attempt.
	DescribeImage(ctx context.Context, params DescribeImageParams) (*Description, error)
}

// Image is an encoded image ready to be sent to a provider.
type Image struct {
	MediaType string // Declared MIME type (e.g., "image/jpeg")
	Base64    string // Standard base64 encoding of the raw bytes
	DataURL   string // data:<media type>;base64,<data>
}

// NewImage base64-encodes raw image bytes for the given media type.
func NewImage(mediaType string, data []byte) Image {
	b64 := base64.StdEncoding.EncodeToString(data)
	return Image{
		MediaType: mediaType,
		Base64:    b64,
		DataURL:   "data:" + mediaType + ";base64," + b64,
	}
}

// DescribeImageParams contains parameters for image description.
type DescribeImageParams struct {
	Image  Image
	Prompt string
	UserID string // Subject of the caller, for logging only
}

// Description is the provider's answer for one image.
type Description struct {
	Text  string    // Raw text returned by the model, possibly empty
	Usage UsageInfo // Token usage information
}

// UsageInfo tracks API usage for monitoring
type UsageInfo struct {
	Model        string        // AI model used
	InputTokens  int           // Tokens in the request
	OutputTokens int           // Tokens in the response
	Duration     time.Duration // Request duration
}

// ProviderConfig contains common configuration for AI providers
type ProviderConfig struct {
	RequestTimeout time.Duration // Timeout for individual requests
}

// Error codes for AI provider operations
var (
	// EAIRateLimit indicates the API rate limit has been exceeded
	EAIRateLimit = errors.New("ai provider rate limit exceeded")

	// EAIInvalidImage indicates the image format or content is invalid
	EAIInvalidImage = errors.New("invalid image format or content")

	// EAITimeout indicates the request timed out
	EAITimeout = errors.New("ai request timed out")

	// EAIUnavailable indicates the AI service is temporarily unavailable
	EAIUnavailable = errors.New("ai service temporarily unavailable")

	// EAIUnauthorized indicates invalid API credentials
	EAIUnauthorized = errors.New("ai provider authentication failed")

	// EAIEmptyResponse indicates the provider answered without any choices
	EAIEmptyResponse = errors.New("ai provider returned no result")
)

// WrapError wraps an error with context about the AI operation
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ai %s: %w", operation, err)
}
