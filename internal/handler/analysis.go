// Package handler contains HTTP handlers for the picscribe API.
//
// This file implements the usage, tier and analysis endpoints.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/picscribe/internal/auth"
	"github.com/DukeRupert/picscribe/internal/domain"
)

// maxRequestBody caps the whole multipart request. Uploads above
// domain.MaxImageSize but under this cap are rejected by validation.
const maxRequestBody = 32 << 20

// uploadField is the multipart field carrying the image.
const uploadField = "file"

// noFileMessage is returned when the request has no usable "file" field.
const noFileMessage = "No file uploaded."

// =============================================================================
// Service Interface
// =============================================================================

// AnalysisService is the subset of the analysis service used by the handlers.
type AnalysisService interface {
	Usage(userID string, claims *auth.Claims) domain.UsagePayload
	SetTier(userID string, claims *auth.Claims, tier domain.Tier) (domain.UsagePayload, error)
	Analyze(ctx context.Context, userID string, claims *auth.Claims, upload domain.UploadCandidate) (*domain.AnalysisResult, error)
}

// =============================================================================
// Handler Configuration
// =============================================================================

// AnalysisHandler handles the authenticated API endpoints.
type AnalysisHandler struct {
	service AnalysisService
	logger  *slog.Logger
}

// NewAnalysisHandler creates a new AnalysisHandler.
func NewAnalysisHandler(service AnalysisService, logger *slog.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		service: service,
		logger:  logger,
	}
}

// =============================================================================
// Route Registration
// =============================================================================

// RegisterRoutes registers the API routes with the provided mux. Every route
// is served both at its bare path and under /api.
//
// Routes:
// - GET  /usage     -> Usage
// - POST /upgrade   -> Upgrade
// - POST /downgrade -> Downgrade
// - POST /analyze   -> Analyze (wrapped by limitAnalyze when non-nil)
func (h *AnalysisHandler) RegisterRoutes(mux *http.ServeMux, requireUser, limitAnalyze func(http.Handler) http.Handler) {
	analyze := http.Handler(http.HandlerFunc(h.Analyze))
	if limitAnalyze != nil {
		analyze = limitAnalyze(analyze)
	}

	for _, prefix := range []string{"", "/api"} {
		mux.Handle("GET "+prefix+"/usage", requireUser(http.HandlerFunc(h.Usage)))
		mux.Handle("POST "+prefix+"/upgrade", requireUser(http.HandlerFunc(h.Upgrade)))
		mux.Handle("POST "+prefix+"/downgrade", requireUser(http.HandlerFunc(h.Downgrade)))
		mux.Handle("POST "+prefix+"/analyze", requireUser(analyze))
	}
}

// RegisterPublicRoutes registers the unauthenticated routes.
//
// Routes:
// - OPTIONS any path -> 204
// - GET /health      -> 200 "OK"
func RegisterPublicRoutes(mux *http.ServeMux) {
	mux.HandleFunc("OPTIONS /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// =============================================================================
// GET /usage
// =============================================================================

// Usage returns the caller's usage view.
func (h *AnalysisHandler) Usage(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromRequest(r)
	if claims == nil {
		h.logger.Error("usage handler called without authenticated user")
		UnauthorizedResponse(w, r, h.logger, "Authentication required")
		return
	}

	writeJSON(w, http.StatusOK, h.service.Usage(claims.Subject, claims))
}

// =============================================================================
// POST /upgrade, POST /downgrade
// =============================================================================

// Upgrade simulates a purchase by overriding the caller's tier to premium.
func (h *AnalysisHandler) Upgrade(w http.ResponseWriter, r *http.Request) {
	h.setTier(w, r, domain.TierPremium)
}

// Downgrade overrides the caller's tier to free. Usage is kept.
func (h *AnalysisHandler) Downgrade(w http.ResponseWriter, r *http.Request) {
	h.setTier(w, r, domain.TierFree)
}

func (h *AnalysisHandler) setTier(w http.ResponseWriter, r *http.Request, tier domain.Tier) {
	claims := auth.GetClaimsFromRequest(r)
	if claims == nil {
		h.logger.Error("tier handler called without authenticated user")
		UnauthorizedResponse(w, r, h.logger, "Authentication required")
		return
	}

	payload, err := h.service.SetTier(claims.Subject, claims, tier)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, payload)
}

// =============================================================================
// POST /analyze
// =============================================================================

// Analyze reads the uploaded image from the "file" field and returns its
// description together with the updated usage.
func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromRequest(r)
	if claims == nil {
		h.logger.Error("analyze handler called without authenticated user")
		UnauthorizedResponse(w, r, h.logger, "Authentication required")
		return
	}

	upload, err := readUpload(w, r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.service.Analyze(r.Context(), claims.Subject, claims, upload)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// readUpload buffers the multipart file into an UploadCandidate. The whole
// file is read before size validation runs.
func readUpload(w http.ResponseWriter, r *http.Request) (domain.UploadCandidate, error) {
	const op = "handler.read_upload"

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	// Parse multipart form (32MB memory limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return domain.UploadCandidate{}, domain.Wrap(domain.ErrFileTooLarge, domain.ETOOLARGE, op, domain.FileTooLargeMessage)
		}
		return domain.UploadCandidate{}, domain.Wrap(err, domain.EINVALID, op, noFileMessage)
	}

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		return domain.UploadCandidate{}, domain.Wrap(err, domain.EINVALID, op, noFileMessage)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return domain.UploadCandidate{}, domain.Internal(err, op, "failed to read uploaded file")
	}

	return domain.UploadCandidate{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        int64(len(data)),
		Data:        data,
	}, nil
}
