package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/chattygw/internal/config"
	"github.com/vyrodovalexey/chattygw/internal/middleware"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ClientURL = "https://app.example.com"
	cfg.Security.Session.Keys = []string{"k1", "k2"}
	return cfg
}

func TestNewPipeline_StageOrder(t *testing.T) {
	t.Parallel()

	p, err := NewPipeline(testConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{StageSession, StageHeaders, StageHPP, StageOrigin}, p.Stages())
	assert.NotNil(t, p.Sessions())
}

func TestNewPipeline_NoKeys(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Security.Session.Keys = nil
	_, err := NewPipeline(cfg)
	assert.ErrorIs(t, err, ErrNoSigningKeys)
}

func TestPipeline_AllStagesSeeRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics("test")
	p, err := NewPipeline(testConfig(), WithMetrics(metrics))
	require.NoError(t, err)

	var (
		rejected bool
		raw      string
		session  *Session
	)
	h := p.Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rejected = middleware.OriginRejected(r.Context())
		raw = r.URL.RawQuery
		session = SessionFromContext(r.Context())
		session.Set("k", "v")
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/?a=1&a=2", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.True(t, rejected)
	assert.Equal(t, "a=1", raw)
	assert.NotNil(t, session)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	// development environment: cookie without Secure
	require.Len(t, w.Result().Cookies(), 1)
	assert.False(t, w.Result().Cookies()[0].Secure)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.originRejected))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.pollutedRequests))
}

func TestPipeline_SecureCookieOutsideDevelopment(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Environment = "production"
	p, err := NewPipeline(cfg)
	require.NoError(t, err)

	h := p.Then(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		SessionFromContext(r.Context()).Set("k", "v")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Len(t, w.Result().Cookies(), 1)
	assert.True(t, w.Result().Cookies()[0].Secure)
}

func TestPipeline_RejectedPreflightStopsChain(t *testing.T) {
	t.Parallel()

	p, err := NewPipeline(testConfig())
	require.NoError(t, err)

	called := false
	h := p.Then(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusForbidden, w.Code)
	// hardening headers are applied before the origin stage
	assert.Equal(t, "SAMEORIGIN", w.Header().Get("X-Frame-Options"))
}
