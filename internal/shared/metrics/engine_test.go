package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/count-market-engine/internal/shared/metrics"
)

// values lê o registro como nome{label} -> valor
func values(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]float64)
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, l := range m.GetLabel() {
				key += "{" + l.GetValue() + "}"
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			}
		}
	}
	return out
}

func TestEngineHooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := metrics.NewEngineMetrics(reg).Hooks()

	h.OnFrameApplied(250 * time.Millisecond)
	h.OnFrameApplied(250 * time.Millisecond)
	h.OnFrameDropped("stale")
	h.OnError("submit", errors.New("boom"))
	h.OnOptimisticDiscarded(3)
	h.OnPushState(true)
	h.OnRoundChange("R2")

	v := values(t, reg)
	assert.Equal(t, 2.0, v["engine_frames_applied_total"])
	assert.Equal(t, 0.25, v["engine_stream_latency_seconds"])
	assert.Equal(t, 1.0, v["engine_frames_dropped_total{stale}"])
	assert.Equal(t, 1.0, v["engine_errors_total{submit}"])
	assert.Equal(t, 3.0, v["engine_optimistic_discarded_total"])
	assert.Equal(t, 1.0, v["engine_push_connected"])
	assert.Equal(t, 1.0, v["engine_round_changes_total"])

	h.OnPushState(false)
	assert.Equal(t, 0.0, values(t, reg)["engine_push_connected"])
}
