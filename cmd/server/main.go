package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/picscribe/internal"
	"github.com/DukeRupert/picscribe/internal/ai"
	"github.com/DukeRupert/picscribe/internal/ai/anthropic"
	"github.com/DukeRupert/picscribe/internal/ai/mock"
	"github.com/DukeRupert/picscribe/internal/ai/openai"
	"github.com/DukeRupert/picscribe/internal/auth"
	"github.com/DukeRupert/picscribe/internal/handler"
	"github.com/DukeRupert/picscribe/internal/metrics"
	"github.com/DukeRupert/picscribe/internal/middleware"
	"github.com/DukeRupert/picscribe/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize token verification
	var verifier middleware.TokenVerifier
	if cfg.AuthDisabled {
		logger.Warn("Authentication disabled, all requests run as the local-dev user")
	} else {
		v, err := auth.NewVerifier(ctx, auth.VerifierConfig{
			JWKSURL:           cfg.ClerkJWKSURL,
			Issuer:            cfg.ClerkIssuer,
			AuthorizedParties: cfg.ClerkAuthorizedParties,
		})
		if err != nil {
			return fmt.Errorf("verifier initialization failed: %w", err)
		}
		verifier = v
	}

	// Initialize AI provider
	provider, err := newAIProvider(cfg, logger)
	if err != nil {
		return fmt.Errorf("ai provider initialization failed: %w", err)
	}
	provider = ai.WithConcurrencyLimit(provider, cfg.AIMaxConcurrent)
	logger.Info("AI provider ready", "provider", cfg.AIProvider, "max_concurrent", cfg.AIMaxConcurrent)

	// Initialize services
	analysisService := service.NewAnalysisService(
		service.NewTierResolver(),
		service.NewUsageLedger(),
		provider,
		logger,
	)

	// Initialize middleware
	authMw := middleware.NewAuthMiddleware(verifier, logger, cfg.AuthDisabled)
	metricsAuthMw := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword, logger)
	if !metricsAuthMw.Enabled() {
		logger.Warn("Metrics endpoint is unprotected, set METRICS_USERNAME and METRICS_PASSWORD")
	}

	var limitAnalyze func(http.Handler) http.Handler
	if cfg.AnalyzeRateLimit > 0 {
		limiter := middleware.NewRateLimiter(ctx, cfg.AnalyzeRateLimit, cfg.AnalyzeRateWindow)
		limitAnalyze = middleware.NewRateLimitMiddleware(limiter, logger).Limit
	}

	// Initialize handlers
	analysisHandler := handler.NewAnalysisHandler(analysisService, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	handler.RegisterPublicRoutes(mux)
	mux.Handle("GET /metrics", metricsAuthMw.Handler(promhttp.Handler()))
	analysisHandler.RegisterRoutes(mux, authMw.RequireUser, limitAnalyze)

	stack := middleware.Stack(
		middleware.NewRecoverMiddleware(logger).Handler,
		middleware.NewRequestLoggingMiddleware(logger).Handler,
		metrics.Middleware,
		middleware.NewSecurityHeadersMiddleware(!cfg.IsDevelopment()).Handler,
	)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           stack(mux),
		ReadHeaderTimeout: 10 * time.Second,
		// Leave room for the AI call on top of reading the upload.
		WriteTimeout: cfg.AIRequestTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal or a listener failure
	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

// newAIProvider builds the provider selected by AI_PROVIDER.
func newAIProvider(cfg *internal.Config, logger *slog.Logger) (ai.AIProvider, error) {
	providerCfg := ai.ProviderConfig{RequestTimeout: cfg.AIRequestTimeout}

	switch cfg.AIProvider {
	case "openai":
		p, err := openai.New(openai.Config{
			APIKey:         cfg.OpenAIAPIKey,
			Model:          cfg.OpenAIModel,
			BaseURL:        cfg.OpenAIBaseURL,
			ProviderConfig: providerCfg,
		}, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "anthropic":
		p, err := anthropic.New(anthropic.Config{
			APIKey:         cfg.AnthropicAPIKey,
			Model:          cfg.AnthropicModel,
			ProviderConfig: providerCfg,
		}, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		logger.Warn("Using mock AI provider")
		return mock.New(logger), nil
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
