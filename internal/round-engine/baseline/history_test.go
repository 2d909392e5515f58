package baseline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/count-market-engine/internal/round-engine/baseline"
	"github.com/radieske/count-market-engine/internal/round-engine/domain"
)

func TestHistory_ActsAsSnapshotSource(t *testing.T) {
	h := baseline.NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Record(domain.CountFrame{CameraID: "cam-1", CapturedAt: t0.Add(time.Duration(i) * time.Second), Total: 100 + i})
	}
	h.Record(domain.CountFrame{CameraID: "cam-1", CapturedAt: t0, Total: 1})
	assert.Equal(t, 3, h.Len())

	r := baseline.New(h)
	v, err := r.Resolve(context.Background(), t0.Add(3500*time.Millisecond), "cam-1", "")
	require.NoError(t, err)
	assert.Equal(t, 103, v)

	// evicted: nada em ou antes de t0+1s
	v, err = r.Resolve(context.Background(), t0.Add(time.Second), "cam-1", "")
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}
