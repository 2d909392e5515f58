package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/count-market-engine/internal/round-engine/domain"
	"github.com/radieske/count-market-engine/internal/round-engine/engine"
	"github.com/radieske/count-market-engine/internal/round-engine/kv"
	"github.com/radieske/count-market-engine/internal/round-engine/outcome"
)

type fakeRounds struct {
	mu     sync.Mutex
	rounds []domain.Round
}

func (f *fakeRounds) CandidateRounds(context.Context, string, time.Time, time.Duration) ([]domain.Round, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Round(nil), f.rounds...), nil
}

type fakeSnapshots struct{ total int }

func (f fakeSnapshots) LatestSnapshotAtOrBefore(_ context.Context, cameraID string, at time.Time) (*domain.CountSnapshot, error) {
	return &domain.CountSnapshot{CameraID: cameraID, CapturedAt: at.Add(-time.Second), Total: f.total}, nil
}

// gatedSnapshots segura a consulta feita em gateAt até gate ser fechado
type gatedSnapshots struct {
	gate     chan struct{}
	gateAt   time.Time
	released atomic.Int32
}

func (g *gatedSnapshots) LatestSnapshotAtOrBefore(_ context.Context, cameraID string, at time.Time) (*domain.CountSnapshot, error) {
	total := 7
	if at.Equal(g.gateAt) {
		<-g.gate
		defer g.released.Add(1)
		total = 111
	}
	return &domain.CountSnapshot{CameraID: cameraID, CapturedAt: at.Add(-time.Second), Total: total}, nil
}

type fakeBets struct {
	mu        sync.Mutex
	submitErr error
	submitted []domain.BetDraft
	server    []domain.ServerBet
	lists     atomic.Int32

	// gate segura List da rodada gateRound até ser fechado
	gate      chan struct{}
	gateRound string
	released  atomic.Int32
}

func (f *fakeBets) Submit(_ context.Context, d domain.BetDraft) (domain.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return domain.SubmitResult{}, f.submitErr
	}
	f.submitted = append(f.submitted, d)
	f.server = append(f.server, domain.ServerBet{
		ID: "abc", RoundID: d.RoundID, MarketID: d.MarketID, BetType: d.Type(),
		Status: domain.BetPending, Amount: d.Amount, PlacedAt: time.Now(),
	})
	return domain.SubmitResult{BetID: "abc", PotentialPayout: d.Amount * 2}, nil
}

func (f *fakeBets) List(_ context.Context, roundID string) ([]domain.ServerBet, error) {
	f.lists.Add(1)
	if f.gate != nil && roundID == f.gateRound {
		<-f.gate
		defer f.released.Add(1)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ServerBet
	for _, b := range f.server {
		if b.RoundID == roundID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeBets) set(bets ...domain.ServerBet) {
	f.mu.Lock()
	f.server = bets
	f.mu.Unlock()
}

type fakeHealth struct{ next *time.Time }

func (f fakeHealth) Health(context.Context) (domain.HealthStatus, error) {
	return domain.HealthStatus{Status: "ok", NextRoundStartsAt: f.next}, nil
}

func ptr(v int) *int { return &v }

func openRound(id string) domain.Round {
	now := time.Now()
	return domain.Round{
		ID:         id,
		Status:     domain.RoundOpen,
		MarketType: domain.MarketOverUnder,
		Params:     domain.RoundParams{Threshold: ptr(50)},
		OpensAt:    now.Add(-time.Minute),
		ClosesAt:   now.Add(3 * time.Minute),
		EndsAt:     now.Add(4 * time.Minute),
		CameraID:   "cam-1",
		Markets: []domain.Market{
			{ID: "m-over", RoundID: id, OutcomeKey: "over", Odds: 1.9},
			{ID: "m-under", RoundID: id, OutcomeKey: "under", Odds: 1.9},
		},
	}
}

func testConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.CameraID = "cam-1"
	cfg.DisplayTick = 5 * time.Millisecond
	cfg.ReconcileEvery = 20 * time.Millisecond
	cfg.RoundsRefresh = time.Hour
	cfg.HealthRefresh = time.Hour
	return cfg
}

func start(t *testing.T, deps engine.Deps) *engine.Engine {
	t.Helper()
	if deps.Outcomes == nil {
		deps.Outcomes = outcome.New(kv.NewMemory(), nil, zap.NewNop())
	}
	deps.Log = zap.NewNop()
	e, err := engine.New(testConfig(), deps)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e
}

func snap(t *testing.T, e *engine.Engine) engine.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := e.Snapshot(ctx)
	require.NoError(t, err)
	return s
}

func TestEngine_NoRoundFallsBackToNextRound(t *testing.T) {
	next := time.Now().Add(90 * time.Second).UTC()
	e := start(t, engine.Deps{
		Rounds: &fakeRounds{},
		Bets:   &fakeBets{},
		Health: fakeHealth{next: &next},
	})

	require.Eventually(t, func() bool { return snap(t, e).NextRoundAt != nil }, time.Second, 5*time.Millisecond)
	s := snap(t, e)
	assert.Nil(t, s.Round)
	assert.Empty(t, s.LastError)
	assert.True(t, next.Equal(*s.NextRoundAt))
}

func TestEngine_RoundProgressFromBaseline(t *testing.T) {
	e := start(t, engine.Deps{
		Rounds:    &fakeRounds{rounds: []domain.Round{openRound("R1")}},
		Snapshots: fakeSnapshots{total: 120},
		Bets:      &fakeBets{},
	})

	require.Eventually(t, func() bool { return snap(t, e).RoundBaseline != nil }, time.Second, 5*time.Millisecond)
	require.NoError(t, e.IngestFrame(context.Background(), domain.CountFrame{
		CameraID: "cam-1", CapturedAt: time.Now(), Total: 125,
	}))

	require.Eventually(t, func() bool {
		s := snap(t, e)
		return s.RoundProgress != nil && *s.RoundProgress == 5
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_SubmitValidation(t *testing.T) {
	bets := &fakeBets{}
	e := start(t, engine.Deps{
		Rounds:    &fakeRounds{rounds: []domain.Round{openRound("R1")}},
		Snapshots: fakeSnapshots{},
		Bets:      bets,
	})
	require.Eventually(t, func() bool { return snap(t, e).Round != nil }, time.Second, 5*time.Millisecond)
	ctx := context.Background()

	cases := []domain.BetDraft{
		{MarketID: "m-over", Amount: 0},
		{MarketID: "nope", Amount: 10},
		{RoundID: "R0", MarketID: "m-over", Amount: 10},
		{ExactCount: ptr(3), Amount: 10},
		{ExactCount: ptr(-1), VehicleClass: "car", Amount: 10},
	}
	for _, d := range cases {
		_, err := e.SubmitBet(ctx, d)
		assert.True(t, domain.IsValidation(err), "draft %+v", d)
	}
	assert.Empty(t, snap(t, e).Bets)
	bets.mu.Lock()
	assert.Empty(t, bets.submitted)
	bets.mu.Unlock()
}

func TestEngine_SubmitRejectedWhenWindowClosed(t *testing.T) {
	r := openRound("R1")
	r.ClosesAt = time.Now().Add(-time.Second)
	e := start(t, engine.Deps{
		Rounds:    &fakeRounds{rounds: []domain.Round{r}},
		Snapshots: fakeSnapshots{},
		Bets:      &fakeBets{},
	})
	require.Eventually(t, func() bool { return snap(t, e).Round != nil }, time.Second, 5*time.Millisecond)

	_, err := e.SubmitBet(context.Background(), domain.BetDraft{MarketID: "m-over", Amount: 10})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "betting window already closed", verr.Reason)
}

func TestEngine_OptimisticBetReconciledToSingleEntry(t *testing.T) {
	bets := &fakeBets{}
	e := start(t, engine.Deps{
		Rounds:    &fakeRounds{rounds: []domain.Round{openRound("R1")}},
		Snapshots: fakeSnapshots{total: 40},
		Bets:      bets,
	})
	require.Eventually(t, func() bool { return snap(t, e).Round != nil }, time.Second, 5*time.Millisecond)
	require.NoError(t, e.IngestFrame(context.Background(), domain.CountFrame{CameraID: "cam-1", CapturedAt: time.Now(), Total: 42}))
	require.Eventually(t, func() bool { return snap(t, e).Latest != nil }, time.Second, 5*time.Millisecond)

	bet, err := e.SubmitBet(context.Background(), domain.BetDraft{MarketID: "m-over", Amount: 100})
	require.NoError(t, err)
	assert.True(t, bet.Optimistic)
	assert.Equal(t, 42, bet.BaselineCount)

	require.Eventually(t, func() bool {
		s := snap(t, e)
		return len(s.Bets) == 1 && s.Bets[0].ID == "abc"
	}, 2*time.Second, 10*time.Millisecond)

	// várias reconciliações depois, continua uma entrada só e o baseline herdado
	before := bets.lists.Load()
	require.Eventually(t, func() bool { return bets.lists.Load() >= before+3 }, 2*time.Second, 10*time.Millisecond)
	s := snap(t, e)
	require.Len(t, s.Bets, 1)
	assert.Equal(t, 42, s.Bets[0].BaselineCount)
	assert.False(t, s.Bets[0].Optimistic)
}

func TestEngine_ServerRejectionDiscardsOptimisticEntry(t *testing.T) {
	bets := &fakeBets{submitErr: domain.NewValidation("amount", "insufficient credits")}
	e := start(t, engine.Deps{
		Rounds:    &fakeRounds{rounds: []domain.Round{openRound("R1")}},
		Snapshots: fakeSnapshots{},
		Bets:      bets,
	})
	require.Eventually(t, func() bool { return snap(t, e).Round != nil }, time.Second, 5*time.Millisecond)

	_, err := e.SubmitBet(context.Background(), domain.BetDraft{MarketID: "m-over", Amount: 100})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s := snap(t, e)
		return len(s.Bets) == 0 && s.LastError != ""
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, snap(t, e).LastError, "insufficient credits")
}

func TestEngine_StaleFramesDroppedAndCounted(t *testing.T) {
	var dropped atomic.Int32
	e := start(t, engine.Deps{
		Bets: &fakeBets{},
		Hooks: engine.Hooks{
			OnFrameDropped: func(string) { dropped.Add(1) },
		},
	})
	ctx := context.Background()
	t100 := time.Now()
	require.NoError(t, e.IngestFrame(ctx, domain.CountFrame{CameraID: "cam-1", CapturedAt: t100, Total: 10}))
	require.NoError(t, e.IngestFrame(ctx, domain.CountFrame{CameraID: "cam-1", CapturedAt: t100.Add(-10 * time.Millisecond), Total: 9}))

	require.Eventually(t, func() bool { return dropped.Load() == 1 }, time.Second, 5*time.Millisecond)
	s := snap(t, e)
	require.NotNil(t, s.Latest)
	assert.Equal(t, 10, s.Latest.Total)
}

func TestEngine_RoundChangeResetsLedgerAndCard(t *testing.T) {
	bets := &fakeBets{}
	notifier := outcome.New(kv.NewMemory(), nil, zap.NewNop())
	var changes atomic.Int32
	e := start(t, engine.Deps{
		Rounds:    &fakeRounds{rounds: []domain.Round{openRound("R1")}},
		Snapshots: fakeSnapshots{},
		Bets:      bets,
		Outcomes:  notifier,
		Hooks:     engine.Hooks{OnRoundChange: func(string) { changes.Add(1) }},
	})
	require.Eventually(t, func() bool { return snap(t, e).Round != nil }, time.Second, 5*time.Millisecond)

	resolvedAt := time.Now()
	bets.set(domain.ServerBet{ID: "w1", RoundID: "R1", Status: domain.BetWon, Amount: 100, Payout: 800, ResolvedAt: &resolvedAt})
	require.Eventually(t, func() bool { return snap(t, e).Card != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(800), snap(t, e).Card.Payout)

	// rodada mais nova abre: ledger e cartão da anterior somem
	r2 := openRound("R2")
	r2.OpensAt = time.Now()
	require.NoError(t, e.ApplyRound(context.Background(), r2))

	require.Eventually(t, func() bool {
		s := snap(t, e)
		return s.Round != nil && s.Round.ID == "R2"
	}, time.Second, 5*time.Millisecond)
	s := snap(t, e)
	assert.Empty(t, s.Bets)
	assert.Nil(t, s.Card)
	assert.Equal(t, int32(2), changes.Load())
}

func TestEngine_DismissHidesCard(t *testing.T) {
	bets := &fakeBets{}
	e := start(t, engine.Deps{
		Rounds:    &fakeRounds{rounds: []domain.Round{openRound("R1")}},
		Snapshots: fakeSnapshots{},
		Bets:      bets,
	})
	bets.set(domain.ServerBet{ID: "w1", RoundID: "R1", Status: domain.BetLost, Amount: 100})
	require.Eventually(t, func() bool { return snap(t, e).Card != nil }, time.Second, 5*time.Millisecond)

	require.NoError(t, e.Dismiss(context.Background(), "w1"))
	assert.Nil(t, snap(t, e).Card)
}

func TestEngine_SubscribersReceiveSnapshots(t *testing.T) {
	e := start(t, engine.Deps{Bets: &fakeBets{}})
	ch, cancel := e.Subscribe()
	defer cancel()

	require.NoError(t, e.IngestFrame(context.Background(), domain.CountFrame{CameraID: "cam-1", CapturedAt: time.Now(), Total: 3}))
	select {
	case s := <-ch:
		require.NotNil(t, s.Latest)
		assert.Equal(t, 3, s.Latest.Total)
	case <-time.After(time.Second):
		t.Fatal("no snapshot published")
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := engine.New(engine.DefaultConfig(), engine.Deps{})
	assert.Error(t, err)
	_, err = engine.New(engine.DefaultConfig(), engine.Deps{Bets: &fakeBets{}})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, engine.ErrStopped))
}

func TestEngine_IgnoresOtherCameras(t *testing.T) {
	var byCamera atomic.Int32
	e := start(t, engine.Deps{
		Rounds:    &fakeRounds{},
		Snapshots: fakeSnapshots{},
		Bets:      &fakeBets{},
		Hooks: engine.Hooks{
			OnFrameDropped: func(reason string) {
				if reason == "camera" {
					byCamera.Add(1)
				}
			},
		},
	})
	ctx := context.Background()
	t0 := time.Now()

	require.NoError(t, e.IngestFrame(ctx, domain.CountFrame{CameraID: "cam-2", CapturedAt: t0.Add(time.Second), Total: 99}))
	require.NoError(t, e.IngestFrame(ctx, domain.CountFrame{CameraID: "cam-1", CapturedAt: t0, Total: 10}))
	require.Eventually(t, func() bool { return snap(t, e).Latest != nil }, time.Second, 5*time.Millisecond)

	s := snap(t, e)
	assert.Equal(t, "cam-1", s.Latest.CameraID)
	assert.Equal(t, 10, s.Latest.Total)
	assert.Equal(t, int32(1), byCamera.Load())

	other := openRound("X1")
	other.CameraID = "cam-2"
	require.NoError(t, e.ApplyRound(ctx, other))
	require.NoError(t, e.ApplyRound(ctx, openRound("R1")))
	require.Eventually(t, func() bool {
		s := snap(t, e)
		return s.Round != nil && s.Round.ID == "R1"
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_LateResultFromPreviousRoundIsDropped(t *testing.T) {
	r1 := openRound("R1")
	resolvedAt := time.Now()
	bets := &fakeBets{gate: make(chan struct{}), gateRound: "R1"}
	bets.set(domain.ServerBet{ID: "w1", RoundID: "R1", Status: domain.BetWon, Amount: 100, Payout: 190, ResolvedAt: &resolvedAt})
	snaps := &gatedSnapshots{gate: make(chan struct{}), gateAt: r1.OpensAt}
	e := start(t, engine.Deps{
		Rounds:    &fakeRounds{rounds: []domain.Round{r1}},
		Snapshots: snaps,
		Bets:      bets,
	})
	require.Eventually(t, func() bool {
		s := snap(t, e)
		return s.Round != nil && s.Round.ID == "R1" && bets.lists.Load() > 0
	}, time.Second, 5*time.Millisecond)

	// R2 abre enquanto baseline e lista de R1 ainda estão em voo
	r2 := openRound("R2")
	r2.OpensAt = time.Now()
	require.NoError(t, e.ApplyRound(context.Background(), r2))
	require.Eventually(t, func() bool {
		s := snap(t, e)
		return s.Round != nil && s.Round.ID == "R2" && s.RoundBaseline != nil
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 7, *snap(t, e).RoundBaseline)

	close(bets.gate)
	close(snaps.gate)
	require.Eventually(t, func() bool {
		return bets.released.Load() > 0 && snaps.released.Load() > 0
	}, time.Second, 5*time.Millisecond)

	assert.Never(t, func() bool {
		s := snap(t, e)
		return len(s.Bets) > 0 || s.Card != nil || s.RoundBaseline == nil || *s.RoundBaseline != 7
	}, 200*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, "R2", snap(t, e).Round.ID)
}

func TestEngine_PreviousRoundBetsSettleAfterDeselection(t *testing.T) {
	bets := &fakeBets{}
	bets.set(domain.ServerBet{ID: "p1", RoundID: "R1", MarketID: "m-over", Status: domain.BetPending, Amount: 100, PlacedAt: time.Now()})
	e := start(t, engine.Deps{
		Rounds:    &fakeRounds{rounds: []domain.Round{openRound("R1")}},
		Snapshots: fakeSnapshots{},
		Bets:      bets,
	})
	require.Eventually(t, func() bool {
		s := snap(t, e)
		return len(s.Bets) == 1 && s.Bets[0].ID == "p1"
	}, time.Second, 5*time.Millisecond)

	r2 := openRound("R2")
	r2.OpensAt = time.Now()
	require.NoError(t, e.ApplyRound(context.Background(), r2))
	require.Eventually(t, func() bool {
		s := snap(t, e)
		return s.Round != nil && s.Round.ID == "R2"
	}, time.Second, 5*time.Millisecond)
	assert.Nil(t, snap(t, e).Card)

	// o servidor só liquida depois da troca de rodada
	resolvedAt := time.Now()
	bets.set(domain.ServerBet{ID: "p1", RoundID: "R1", MarketID: "m-over", Status: domain.BetWon, Amount: 100, Payout: 190, ResolvedAt: &resolvedAt})

	require.Eventually(t, func() bool {
		c := snap(t, e).Card
		return c != nil && c.BetID == "p1"
	}, 2*time.Second, 10*time.Millisecond)
	c := snap(t, e).Card
	assert.True(t, c.Won)
	assert.Equal(t, int64(190), c.Payout)
}
