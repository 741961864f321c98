package edge

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cybernetic/internal/breaker"
	"cybernetic/pkg/bucket"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubGenerate struct{ called bool }

func (s *stubGenerate) Generate(c *gin.Context, tenant string) {
	s.called = true
	c.JSON(http.StatusOK, gin.H{"tenant": tenant})
}

func newTestEngine(t *testing.T, gen GenerateHandler) *gin.Engine {
	t.Helper()
	buckets := bucket.NewRegistry(1000, 1000, time.Minute)
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), zap.NewNop())
	cfg := Config{
		Auth:     AuthConfig{Environment: "development"},
		Buckets:  buckets,
		Breakers: breakers,
		Log:      zap.NewNop(),
		Generate: gen,
	}
	return New(cfg)
}

func TestRouter_HealthIsUnauthenticated(t *testing.T) {
	r := newTestEngine(t, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_GenerateWithoutAuthDefaultsTenantInDevelopment(t *testing.T) {
	gen := &stubGenerate{}
	r := newTestEngine(t, gen)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gen.called)
}

func TestRouter_GenerateRejectsMismatchedTenantHeader(t *testing.T) {
	gen := &stubGenerate{}
	r := newTestEngine(t, gen)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)
	req.Header.Set("X-Tenant-Id", "someone-else")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, gen.called)
}

func TestRouter_GenerateNotConfiguredReturns501(t *testing.T) {
	r := newTestEngine(t, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestRouter_ProductionRejectsUnauthenticatedGenerate(t *testing.T) {
	buckets := bucket.NewRegistry(1000, 1000, time.Minute)
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), zap.NewNop())
	gen := &stubGenerate{}
	r := New(Config{
		Auth:     AuthConfig{Environment: "production"},
		Buckets:  buckets,
		Breakers: breakers,
		Log:      zap.NewNop(),
		Generate: gen,
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, gen.called)
}

func TestRouter_RateLimitExhaustionReturns429(t *testing.T) {
	buckets := bucket.NewRegistry(2, 0, time.Minute) // exactly one normal-priority request's worth, no refill
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), zap.NewNop())
	gen := &stubGenerate{}
	r := New(Config{
		Auth:     AuthConfig{Environment: "development"},
		Buckets:  buckets,
		Breakers: breakers,
		Log:      zap.NewNop(),
		Generate: gen,
	})

	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, httptest.NewRequest(http.MethodPost, "/v1/generate", nil))
	require.Equal(t, http.StatusOK, w1.Code)

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest(http.MethodPost, "/v1/generate", nil))
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)
}
