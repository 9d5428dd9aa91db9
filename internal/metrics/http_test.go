package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/analyze", "/analyze"},
		{"/api/analyze", "/analyze"},
		{"/api/usage", "/usage"},
		{"/api", "/"},
		{"/health", "/health"},
		{"/apiary", "other"},
		{"/wp-login.php", "other"},
		{"/usage/extra", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.path))
		})
	}
}

func TestMiddleware_RecordsStatus(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/analyze", "429"))

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/analyze", nil))

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/analyze", "429"))
	assert.Equal(t, before+1, after)
}
