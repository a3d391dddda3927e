package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_Health(t *testing.T) {
	t.Parallel()

	checker := NewChecker("1.2.3")
	rec := httptest.NewRecorder()
	checker.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, contentTypeJSON, rec.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
}

func TestChecker_Liveness(t *testing.T) {
	t.Parallel()

	checker := NewChecker("dev")
	rec := httptest.NewRecorder()
	checker.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestChecker_Readiness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checks     map[string]CheckFunc
		wantCode   int
		wantStatus Status
	}{
		{
			name:       "no checks",
			wantCode:   http.StatusOK,
			wantStatus: StatusHealthy,
		},
		{
			name: "all healthy",
			checks: map[string]CheckFunc{
				"bridge": func(context.Context) error { return nil },
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusHealthy,
		},
		{
			name: "one failing",
			checks: map[string]CheckFunc{
				"bridge": func(context.Context) error { return errors.New("broker down") },
				"other":  func(context.Context) error { return nil },
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			checker := NewChecker("dev")
			for name, fn := range tt.checks {
				checker.RegisterCheck(name, fn)
			}

			rec := httptest.NewRecorder()
			checker.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			var resp ReadinessResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checks))
		})
	}
}

func TestChecker_ReadinessTimeout(t *testing.T) {
	t.Parallel()

	checker := NewChecker("dev", WithProbeTimeout(50*time.Millisecond))
	checker.RegisterCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	resp := checker.Readiness(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Contains(t, resp.Checks["slow"].Message, "deadline exceeded")
}

func TestChecker_Unregister(t *testing.T) {
	t.Parallel()

	checker := NewChecker("dev")
	checker.RegisterCheck("bridge", func(context.Context) error { return errors.New("down") })
	checker.UnregisterCheck("bridge")

	assert.Equal(t, StatusHealthy, checker.Readiness(context.Background()).Status)
}

func TestChecker_Metrics(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics("test")
	checker := NewChecker("dev", WithMetrics(metrics))
	checker.RegisterCheck("bridge", func(context.Context) error { return nil })
	checker.RegisterCheck("cache", func(context.Context) error { return errors.New("down") })

	checker.ReadinessHandler()(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.checksTotal.WithLabelValues("readiness")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.checkStatus.WithLabelValues("bridge")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.checkStatus.WithLabelValues("cache")))
}
