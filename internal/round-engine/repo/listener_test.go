package repo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/count-market-engine/internal/round-engine/domain"
	"github.com/radieske/count-market-engine/internal/round-engine/repo"
)

func TestParseNotify(t *testing.T) {
	r, ok := repo.ParseNotify(`{"id":"R9","status":"upcoming","camera_id":"cam-1","market_type":"over_under","params":{"threshold":10}}`)
	require.True(t, ok)
	assert.Equal(t, "R9", r.ID)
	assert.Equal(t, domain.RoundUpcoming, r.Status)
	require.NotNil(t, r.Params.Threshold)
	assert.Equal(t, 10, *r.Params.Threshold)
}

func TestParseNotify_Invalid(t *testing.T) {
	for _, p := range []string{"", "not json", `{"status":"open"}`} {
		_, ok := repo.ParseNotify(p)
		assert.False(t, ok, p)
	}
}
