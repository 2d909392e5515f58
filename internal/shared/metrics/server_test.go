package metrics_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/count-market-engine/internal/shared/metrics"
)

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := metrics.NewEngineMetrics(reg).Hooks()
	h.OnReconcile()

	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(metrics.Handler(reg, func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("push down")
	}))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Contains(t, string(body), "engine_reconcile_polls_total 1")

	res, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	healthy.Store(false)
	res, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ = io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Equal(t, "unhealthy: push down", string(body))
}
