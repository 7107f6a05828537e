package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"userapikey/backend/internal/storage/memory"
)

func TestHealthChecker_Ready(t *testing.T) {
	hc := NewHealthChecker(memory.NewStore(), prometheus.NewRegistry(), zap.NewNop())

	rec := httptest.NewRecorder()
	hc.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	hc.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	results, healthy := hc.CheckHealth()
	assert.True(t, healthy)
	assert.Equal(t, "OK", results["store"])
	assert.NotEmpty(t, results["timestamp"])
}

func TestHealthChecker_FailingReadinessCheck(t *testing.T) {
	hc := NewHealthChecker(memory.NewStore(), prometheus.NewRegistry(), zap.NewNop())
	hc.AddReadinessCheck("redis", func(context.Context) error {
		return errors.New("connection refused")
	})

	rec := httptest.NewRecorder()
	hc.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// 就绪失败不影响存活
	rec = httptest.NewRecorder()
	hc.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	results, healthy := hc.CheckHealth()
	assert.False(t, healthy)
	assert.Equal(t, "ERROR: connection refused", results["redis"])
	assert.Equal(t, "OK", results["store"])
}
