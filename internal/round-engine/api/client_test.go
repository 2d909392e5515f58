package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/count-market-engine/internal/round-engine/api"
	"github.com/radieske/count-market-engine/internal/round-engine/domain"
)

func newClient(url string) *api.Client {
	return api.New(url, 1000).WithRetryWait(time.Millisecond)
}

func TestSubmit_RetriesWithSameIdempotencyKey(t *testing.T) {
	var calls atomic.Int32
	keys := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys <- r.Header.Get("Idempotency-Key")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "R1", body["round_id"])
		_ = json.NewEncoder(w).Encode(domain.SubmitResult{BetID: "abc", PotentialPayout: 190})
	}))
	defer srv.Close()

	res, err := newClient(srv.URL).Submit(context.Background(), domain.BetDraft{RoundID: "R1", MarketID: "m-over", Amount: 100})
	require.NoError(t, err)
	assert.Equal(t, "abc", res.BetID)
	assert.Equal(t, int32(2), calls.Load())

	first, second := <-keys, <-keys
	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestSubmit_ClientErrorIsValidation(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"round is locked"}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Submit(context.Background(), domain.BetDraft{RoundID: "R1", Amount: 1})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "round is locked", verr.Reason)
	assert.Equal(t, int32(1), calls.Load(), "validation errors are never retried")
}

func TestList_ServerErrorsBecomeNetworkError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).List(context.Background(), "R1")
	assert.True(t, domain.IsNetwork(err))
	assert.Equal(t, int32(4), calls.Load())
}

func TestList_DecodesBets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "R 1", r.URL.Query().Get("round_id"))
		_, _ = w.Write([]byte(`[{"id":"abc","round_id":"R 1","status":"pending","amount":100,"baseline_count":12}]`))
	}))
	defer srv.Close()

	bets, err := newClient(srv.URL).List(context.Background(), "R 1")
	require.NoError(t, err)
	require.Len(t, bets, 1)
	assert.Equal(t, domain.BetPending, bets[0].Status)
	require.NotNil(t, bets[0].BaselineCount)
	assert.Equal(t, 12, *bets[0].BaselineCount)
}

func TestHealth_NextRoundFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"ok","next_round_starts_at":"2026-03-01T12:05:00Z"}`))
	}))
	defer srv.Close()

	h, err := newClient(srv.URL).Health(context.Background())
	require.NoError(t, err)
	assert.Nil(t, h.Count)
	require.NotNil(t, h.NextRoundStartsAt)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC), h.NextRoundStartsAt.UTC())
}
