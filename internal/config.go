package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	Port     int
	LogLevel string

	// Clerk token verification
	ClerkJWKSURL           string
	ClerkIssuer            string   // Optional expected "iss"
	ClerkAuthorizedParties []string // Optional allow-list for "azp"

	// AuthDisabled runs every request as the local-dev user.
	// Only honored when Env is "development".
	AuthDisabled bool

	// AI Provider Configuration
	AIProvider       string // "openai", "anthropic" or "mock"
	OpenAIAPIKey     string
	OpenAIModel      string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicModel   string
	AIRequestTimeout time.Duration
	AIMaxConcurrent  int // 0 means unbounded

	// Per-user throttle on /analyze; 0 disables it
	AnalyzeRateLimit  int
	AnalyzeRateWindow time.Duration

	ShutdownTimeout time.Duration

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		ClerkJWKSURL:           getEnv("CLERK_JWKS_URL", ""),
		ClerkIssuer:            getEnv("CLERK_ISSUER", ""),
		ClerkAuthorizedParties: getEnvList("CLERK_AUTHORIZED_PARTIES"),
		AuthDisabled:           getEnvBool("AUTH_DISABLED", false),

		// AI provider defaults
		AIProvider:       strings.ToLower(getEnv("AI_PROVIDER", "mock")),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:   getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
		AIRequestTimeout: getEnvDuration("AI_REQUEST_TIMEOUT", 60*time.Second),
		AIMaxConcurrent:  getEnvInt("AI_MAX_CONCURRENT", 0),

		AnalyzeRateLimit:  getEnvInt("ANALYZE_RATE_LIMIT", 0),
		AnalyzeRateWindow: getEnvDuration("ANALYZE_RATE_WINDOW", time.Minute),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Validate auth configuration
	if cfg.AuthDisabled && cfg.Env != "development" {
		return nil, fmt.Errorf("AUTH_DISABLED is only allowed when ENV is 'development', got: %s", cfg.Env)
	}
	if !cfg.AuthDisabled && cfg.ClerkJWKSURL == "" {
		return nil, fmt.Errorf("CLERK_JWKS_URL is required")
	}

	// Validate AI provider configuration
	switch cfg.AIProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is 'openai'")
		}
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is 'anthropic'")
		}
	case "mock":
	default:
		return nil, fmt.Errorf("AI_PROVIDER must be one of 'openai', 'anthropic' or 'mock', got: %s", cfg.AIProvider)
	}

	if cfg.AIMaxConcurrent < 0 {
		return nil, fmt.Errorf("AI_MAX_CONCURRENT must not be negative, got: %d", cfg.AIMaxConcurrent)
	}
	if cfg.AnalyzeRateLimit > 0 && cfg.AnalyzeRateWindow <= 0 {
		return nil, fmt.Errorf("ANALYZE_RATE_WINDOW must be positive when ANALYZE_RATE_LIMIT is set")
	}

	return cfg, nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping blank entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
