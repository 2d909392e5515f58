package simulator_test

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	simulator "github.com/radieske/count-market-engine/internal/count-simulator"
	"github.com/radieske/count-market-engine/internal/count-simulator/dto"
	"github.com/radieske/count-market-engine/internal/round-engine/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newWorld() *simulator.World {
	return simulator.NewWorld(simulator.Options{
		CameraID: "cam-1",
		Timing:   simulator.Timing{Upcoming: 10 * time.Second, Betting: 30 * time.Second, Locked: 20 * time.Second},
		Seed:     7,
	})
}

// runUntil avança de segundo em segundo e devolve todas as mudanças de rodada
func runUntil(w *simulator.World, from, to time.Time) []domain.Round {
	var all []domain.Round
	for now := from; !now.After(to); now = now.Add(time.Second) {
		_, changed := w.Step(now)
		all = append(all, changed...)
	}
	return all
}

func TestWorld_RoundLifecycle(t *testing.T) {
	w := newWorld()
	changes := runUntil(w, t0, t0.Add(61*time.Second))

	var r1 []domain.RoundStatus
	for _, r := range changes {
		if r.ID == "R1" {
			r1 = append(r1, r.Status)
		}
	}
	assert.Equal(t, []domain.RoundStatus{domain.RoundUpcoming, domain.RoundOpen, domain.RoundLocked, domain.RoundResolved}, r1)

	// a próxima rodada abre quando a anterior termina
	rounds := w.Rounds()
	require.NotEmpty(t, rounds)
	assert.Equal(t, "R2", rounds[0].ID)
	assert.Equal(t, domain.RoundOpen, rounds[0].Status)
	assert.Equal(t, t0.Add(60*time.Second), rounds[0].OpensAt)
}

func TestWorld_CountsAreMonotonic(t *testing.T) {
	w := newWorld()
	last := -1
	for i := 0; i < 50; i++ {
		frames, _ := w.Step(t0.Add(time.Duration(i) * time.Second))
		for _, f := range frames {
			assert.GreaterOrEqual(t, f.Total, last)
			last = f.Total
			sum := 0
			for _, v := range f.VehicleBreakdown {
				sum += v
			}
			assert.Equal(t, f.Total, sum)
		}
	}
}

func TestWorld_ReorderDeliversOlderFrameLate(t *testing.T) {
	w := simulator.NewWorld(simulator.Options{ReorderRate: 1, Seed: 1})

	frames, _ := w.Step(t0)
	assert.Empty(t, frames)

	frames, _ = w.Step(t0.Add(time.Second))
	require.Len(t, frames, 2)
	assert.True(t, frames[0].CapturedAt.After(frames[1].CapturedAt))
}

func TestWorld_PlaceBet(t *testing.T) {
	w := newWorld()
	runUntil(w, t0, t0.Add(10*time.Second)) // R1 aberta

	now := t0.Add(11 * time.Second)
	res, err := w.PlaceBet("k1", dto.BetReq{RoundID: "R1", MarketID: "R1-over", Amount: 100}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(190), res.PotentialPayout)
	require.NotNil(t, res.WindowEnd)

	// mesma chave: mesma aposta
	again, err := w.PlaceBet("k1", dto.BetReq{RoundID: "R1", MarketID: "R1-over", Amount: 100}, now)
	require.NoError(t, err)
	assert.Equal(t, res.BetID, again.BetID)
	assert.Len(t, w.Bets("R1"), 1)

	bets := w.Bets("R1")
	assert.Equal(t, domain.BetPending, bets[0].Status)
	assert.Equal(t, "over", bets[0].OutcomeKey)
	assert.Nil(t, bets[0].BaselineCount)
}

func TestWorld_PlaceBetRejections(t *testing.T) {
	w := newWorld()
	runUntil(w, t0, t0.Add(10*time.Second))
	now := t0.Add(11 * time.Second)
	zero := 0

	cases := []struct {
		name   string
		req    dto.BetReq
		at     time.Time
		status int
	}{
		{"amount", dto.BetReq{RoundID: "R1", MarketID: "R1-over"}, now, http.StatusBadRequest},
		{"unknown round", dto.BetReq{RoundID: "R9", MarketID: "x", Amount: 1}, now, http.StatusNotFound},
		{"unknown market", dto.BetReq{RoundID: "R1", MarketID: "nope", Amount: 1}, now, http.StatusBadRequest},
		{"exact without class", dto.BetReq{RoundID: "R1", ExactCount: &zero, Amount: 1}, now, http.StatusBadRequest},
		{"window closed", dto.BetReq{RoundID: "R1", MarketID: "R1-over", Amount: 1}, t0.Add(40 * time.Second), http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := w.PlaceBet("", tc.req, tc.at)
			var rej *simulator.RejectError
			require.True(t, errors.As(err, &rej))
			assert.Equal(t, tc.status, rej.Status)
		})
	}
}

func TestWorld_ResolvesBets(t *testing.T) {
	w := newWorld()
	runUntil(w, t0, t0.Add(10*time.Second))

	now := t0.Add(11 * time.Second)
	over, err := w.PlaceBet("", dto.BetReq{RoundID: "R1", MarketID: "R1-over", Amount: 100}, now)
	require.NoError(t, err)
	under, err := w.PlaceBet("", dto.BetReq{RoundID: "R1", MarketID: "R1-under", Amount: 100}, now)
	require.NoError(t, err)

	runUntil(w, now, t0.Add(61*time.Second))

	byID := map[string]domain.ServerBet{}
	for _, b := range w.Bets("R1") {
		byID[b.ID] = b
	}
	o, u := byID[over.BetID], byID[under.BetID]
	require.True(t, o.Status.Terminal())
	require.True(t, u.Status.Terminal())
	// exatamente um dos lados ganha
	assert.NotEqual(t, o.Status, u.Status)
	require.NotNil(t, o.ResolvedAt)
	if o.Status == domain.BetWon {
		assert.Equal(t, int64(190), o.Payout)
		assert.Zero(t, u.Payout)
	}
}

func TestWorld_Health(t *testing.T) {
	w := newWorld()
	w.Step(t0)
	h := w.Health()
	assert.Equal(t, "ok", h.Status)
	require.NotNil(t, h.Count)
	assert.Empty(t, h.Count.Detections)
	require.NotNil(t, h.NextRoundStartsAt)
	assert.Equal(t, t0.Add(10*time.Second), *h.NextRoundStartsAt)
}
