package handler_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/DukeRupert/picscribe/internal/ai"
	"github.com/DukeRupert/picscribe/internal/ai/mock"
	"github.com/DukeRupert/picscribe/internal/auth"
	"github.com/DukeRupert/picscribe/internal/domain"
	"github.com/DukeRupert/picscribe/internal/handler"
	"github.com/DukeRupert/picscribe/internal/middleware"
	"github.com/DukeRupert/picscribe/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Server
// =============================================================================

// stubVerifier accepts "token-<subject>" and rejects everything else.
// The subject "premium" carries premium metadata.
type stubVerifier struct{}

func (stubVerifier) Verify(token string) (*auth.Claims, error) {
	subject, ok := strings.CutPrefix(token, "token-")
	if !ok || subject == "" {
		return nil, errors.New("token is malformed")
	}
	claims := &auth.Claims{Subject: subject, Raw: map[string]any{"sub": subject}}
	if subject == "premium" {
		claims.Raw["public_metadata"] = map[string]any{"subscription_tier": "premium"}
	}
	return claims, nil
}

type testServer struct {
	handler  http.Handler
	provider *mock.Provider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := mock.New(logger)
	provider.SetResponse(&ai.Description{Text: "A red bicycle leaning on a wall."}, nil)

	svc := service.NewAnalysisService(service.NewTierResolver(), service.NewUsageLedger(), provider, logger)
	authMw := middleware.NewAuthMiddleware(stubVerifier{}, logger, false)

	mux := http.NewServeMux()
	handler.RegisterPublicRoutes(mux)
	handler.NewAnalysisHandler(svc, logger).RegisterRoutes(mux, authMw.RequireUser, nil)

	return &testServer{
		handler:  middleware.NewRecoverMiddleware(logger).Handler(mux),
		provider: provider,
	}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func authed(req *http.Request, subject string) *http.Request {
	req.Header.Set("Authorization", "Bearer token-"+subject)
	return req
}

// uploadRequest builds a multipart POST with one file part.
func uploadRequest(t *testing.T, path, field, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func pngRequest(t *testing.T, path string) *http.Request {
	return uploadRequest(t, path, "file", "photo.png", "image/png", []byte("\x89PNG\r\n\x1a\n"))
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

// =============================================================================
// End-to-end Flows
// =============================================================================

func TestFreeUserFlow(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, authed(httptest.NewRequest(http.MethodGet, "/usage", nil), "alice"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_id":"alice","tier":"free","analyses_used":0,"limit":1}`, rec.Body.String())

	rec = srv.do(t, authed(pngRequest(t, "/analyze"), "alice"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{
		"user_id":"alice","tier":"free","analyses_used":1,"limit":1,
		"description":"A red bicycle leaning on a wall."
	}`, rec.Body.String())

	rec = srv.do(t, authed(pngRequest(t, "/analyze"), "alice"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"message":"Free tier limit reached. Upgrade to Premium for unlimited analyses."}`, rec.Body.String())
	assert.Equal(t, 1, srv.provider.Calls())

	rec = srv.do(t, authed(httptest.NewRequest(http.MethodGet, "/usage", nil), "alice"))
	assert.JSONEq(t, `{"user_id":"alice","tier":"free","analyses_used":1,"limit":1}`, rec.Body.String())
}

func TestUpgradeFlow(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, authed(httptest.NewRequest(http.MethodPost, "/upgrade", nil), "bob"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_id":"bob","tier":"premium","analyses_used":0,"limit":"unlimited"}`, rec.Body.String())

	for i := 1; i <= 2; i++ {
		rec = srv.do(t, authed(pngRequest(t, "/analyze"), "bob"))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decodeJSON(t, rec)
		assert.Equal(t, float64(i), body["analyses_used"])
		assert.Equal(t, "unlimited", body["limit"])
	}

	rec = srv.do(t, authed(httptest.NewRequest(http.MethodPost, "/downgrade", nil), "bob"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_id":"bob","tier":"free","analyses_used":2,"limit":1}`, rec.Body.String())

	rec = srv.do(t, authed(pngRequest(t, "/analyze"), "bob"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestPremiumClaims(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, authed(httptest.NewRequest(http.MethodGet, "/api/usage", nil), "premium"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_id":"premium","tier":"premium","analyses_used":0,"limit":"unlimited"}`, rec.Body.String())

	// An explicit downgrade overrides the claims.
	srv.do(t, authed(httptest.NewRequest(http.MethodPost, "/api/downgrade", nil), "premium"))
	rec = srv.do(t, authed(httptest.NewRequest(http.MethodGet, "/api/usage", nil), "premium"))
	assert.Contains(t, rec.Body.String(), `"tier":"free"`)
}

func TestAPIAliasesShareState(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, authed(pngRequest(t, "/api/analyze"), "carol"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, authed(pngRequest(t, "/analyze"), "carol"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = srv.do(t, authed(httptest.NewRequest(http.MethodPost, "/api/upgrade", nil), "carol"))
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = srv.do(t, authed(httptest.NewRequest(http.MethodGet, "/usage", nil), "carol"))
	assert.JSONEq(t, `{"user_id":"carol","tier":"premium","analyses_used":1,"limit":"unlimited"}`, rec.Body.String())
}

// =============================================================================
// Validation
// =============================================================================

func TestAnalyze_ValidationErrors(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		size        int
		wantStatus  int
		wantMessage string
	}{
		{"gif extension", "anim.gif", "image/gif", 10, http.StatusBadRequest, "Invalid file type (extension). Allowed: .jpg, .jpeg, .png, .webp"},
		{"extension before content type", "notes.txt", "image/png", 10, http.StatusBadRequest, "Invalid file type (extension). Allowed: .jpg, .jpeg, .png, .webp"},
		{"content type", "photo.jpg", "application/pdf", 10, http.StatusBadRequest, "Invalid file type (content-type). Allowed: image/jpeg, image/png, image/webp"},
		{"too large", "photo.webp", "image/webp", domain.MaxImageSize + 1, http.StatusRequestEntityTooLarge, "File too large. Max size is 5MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			req := uploadRequest(t, "/analyze", "file", tt.filename, tt.contentType, bytes.Repeat([]byte{0xAB}, tt.size))

			rec := srv.do(t, authed(req, "dave"))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, `{"message":"`+tt.wantMessage+`"}`, rec.Body.String())
			assert.Equal(t, 0, srv.provider.Calls())

			// A rejected upload does not use up the free analysis.
			rec = srv.do(t, authed(httptest.NewRequest(http.MethodGet, "/usage", nil), "dave"))
			assert.Contains(t, rec.Body.String(), `"analyses_used":0`)
		})
	}
}

func TestAnalyze_ExactlyMaxSizeAccepted(t *testing.T) {
	srv := newTestServer(t)
	req := uploadRequest(t, "/analyze", "file", "big.JPG", "image/jpeg", make([]byte, domain.MaxImageSize))

	rec := srv.do(t, authed(req, "erin"))

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/jpeg", srv.provider.LastParams().Image.MediaType)
}

func TestAnalyze_MissingFile(t *testing.T) {
	srv := newTestServer(t)

	t.Run("wrong field", func(t *testing.T) {
		req := uploadRequest(t, "/analyze", "image", "photo.png", "image/png", []byte("x"))
		rec := srv.do(t, authed(req, "frank"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"message":"No file uploaded."}`, rec.Body.String())
	})

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		rec := srv.do(t, authed(req, "frank"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAnalyze_QuotaCheckedBeforeValidation(t *testing.T) {
	srv := newTestServer(t)
	require.Equal(t, http.StatusOK, srv.do(t, authed(pngRequest(t, "/analyze"), "gina")).Code)

	req := uploadRequest(t, "/analyze", "file", "notes.txt", "text/plain", []byte("x"))
	rec := srv.do(t, authed(req, "gina"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

// =============================================================================
// Upstream failures
// =============================================================================

func TestAnalyze_ProviderFailure(t *testing.T) {
	srv := newTestServer(t)
	srv.provider.SetResponse(nil, ai.WrapError("execute request", ai.EAIUnavailable))

	rec := srv.do(t, authed(pngRequest(t, "/analyze"), "hank"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"message":"AI analysis failed. Please try again."}`, rec.Body.String())

	rec = srv.do(t, authed(httptest.NewRequest(http.MethodGet, "/usage", nil), "hank"))
	assert.Contains(t, rec.Body.String(), `"analyses_used":0`)
}

// =============================================================================
// Auth and public routes
// =============================================================================

func TestProtectedRoutesRequireAuth(t *testing.T) {
	srv := newTestServer(t)

	routes := []struct{ method, path string }{
		{http.MethodGet, "/usage"},
		{http.MethodGet, "/api/usage"},
		{http.MethodPost, "/upgrade"},
		{http.MethodPost, "/api/upgrade"},
		{http.MethodPost, "/downgrade"},
		{http.MethodPost, "/api/downgrade"},
		{http.MethodPost, "/analyze"},
		{http.MethodPost, "/api/analyze"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rec := srv.do(t, httptest.NewRequest(rt.method, rt.path, nil))
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"message":"Missing authorization header"}`, rec.Body.String())

			req := httptest.NewRequest(rt.method, rt.path, nil)
			req.Header.Set("Authorization", "Bearer forged")
			rec = srv.do(t, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"message":"Invalid token"}`, rec.Body.String())
		})
	}
	assert.Equal(t, 0, srv.provider.Calls())
}

func TestOptionsReturnsNoContent(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/analyze", "/api/usage", "/anything/else"} {
		rec := srv.do(t, httptest.NewRequest(http.MethodOptions, path, nil))
		assert.Equal(t, http.StatusNoContent, rec.Code, path)
		assert.Empty(t, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
