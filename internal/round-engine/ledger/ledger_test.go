package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/count-market-engine/internal/round-engine/domain"
	"github.com/radieske/count-market-engine/internal/round-engine/ledger"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newLedger(c *clock, ids ...string) *ledger.Ledger {
	i := 0
	l := ledger.New(
		ledger.WithClock(c.now),
		ledger.WithIDGenerator(func() string {
			id := ids[i%len(ids)]
			i++
			return id
		}),
	)
	l.Reset("R1")
	return l
}

func ptr(v int) *int { return &v }

func draft() domain.BetDraft {
	return domain.BetDraft{RoundID: "R1", MarketID: "m-over", Amount: 100}
}

func TestSubmit_CreatesOptimisticEntry(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := newLedger(c, "123")

	b, err := l.Submit(draft(), 120)
	require.NoError(t, err)
	assert.Equal(t, "temp-123", b.ID)
	assert.True(t, b.Optimistic)
	assert.Equal(t, domain.BetPending, b.Status)
	assert.Equal(t, 120, b.BaselineCount)
	assert.Equal(t, c.t, b.PlacedAt)
	assert.Len(t, l.Current(), 1)

	_, err = l.Submit(domain.BetDraft{RoundID: "R9", Amount: 1}, 0)
	assert.True(t, domain.IsValidation(err))
}

// temp-123 é substituída pela confirmada abc
func TestReconcile_OptimisticReplacedByConfirmed(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := newLedger(c, "123")
	_, err := l.Submit(draft(), 120)
	require.NoError(t, err)

	c.advance(5 * time.Second)
	res := l.Reconcile([]domain.ServerBet{{
		ID: "abc", RoundID: "R1", MarketID: "m-over", BetType: domain.BetMarket,
		Status: domain.BetPending, Amount: 100, PlacedAt: c.t.Add(-4 * time.Second),
	}}, nil)

	assert.Equal(t, []string{"temp-123"}, res.Discarded)
	cur := l.Current()
	require.Len(t, cur, 1)
	assert.Equal(t, "abc", cur[0].ID)
	assert.False(t, cur[0].Optimistic)
	assert.Equal(t, 120, cur[0].BaselineCount, "inherits optimistic baseline when server omits it")
}

func TestReconcile_IdempotentAcrossPolls(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := newLedger(c, "x")
	tmp, _ := l.Submit(draft(), 7)
	require.NoError(t, l.AttachServerID(tmp.ID, domain.SubmitResult{BetID: "abc", PotentialPayout: 190}))

	server := []domain.ServerBet{{
		ID: "abc", RoundID: "R1", MarketID: "m-over", Status: domain.BetPending,
		Amount: 100, BaselineCount: ptr(9), PlacedAt: c.t,
	}}

	for i := 0; i < 5; i++ {
		c.advance(5 * time.Second)
		res := l.Reconcile(server, nil)
		assert.Empty(t, res.Transitions)
		require.Len(t, l.Current(), 1)
	}
	got, ok := l.Get("abc")
	require.True(t, ok)
	assert.Equal(t, 9, got.BaselineCount)
	_, ok = l.Get(tmp.ID)
	assert.False(t, ok)
}

func TestReconcile_BaselineNeverMutates(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := newLedger(c, "x")

	first := []domain.ServerBet{{ID: "b1", RoundID: "R1", Status: domain.BetPending, Amount: 5, BaselineCount: ptr(40)}}
	l.Reconcile(first, nil)

	later := []domain.ServerBet{{ID: "b1", RoundID: "R1", Status: domain.BetPending, Amount: 5, BaselineCount: ptr(77)}}
	l.Reconcile(later, map[string]int{"b1": 99})

	got, _ := l.Get("b1")
	assert.Equal(t, 40, got.BaselineCount)
}

func TestReconcile_ResolvedBaselineUsedWhenNothingElse(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := newLedger(c, "x")
	l.Reconcile([]domain.ServerBet{{ID: "b1", RoundID: "R1", Status: domain.BetPending, Amount: 5}}, map[string]int{"b1": 33})
	got, _ := l.Get("b1")
	assert.Equal(t, 33, got.BaselineCount)
}

func TestReconcile_TransitionsAndTerminalNeverReverts(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := newLedger(c, "x")
	l.Reconcile([]domain.ServerBet{{ID: "b1", RoundID: "R1", Status: domain.BetPending, Amount: 100, BaselineCount: ptr(0)}}, nil)

	resolvedAt := c.t.Add(time.Minute)
	res := l.Reconcile([]domain.ServerBet{{
		ID: "b1", RoundID: "R1", Status: domain.BetWon, Amount: 100, Payout: 800, ResolvedAt: &resolvedAt,
	}}, nil)
	require.Len(t, res.Transitions, 1)
	tr := res.Transitions[0]
	assert.Equal(t, domain.BetPending, tr.From)
	assert.Equal(t, domain.BetWon, tr.To)
	assert.Equal(t, int64(800), tr.Bet.Payout)

	res = l.Reconcile([]domain.ServerBet{{ID: "b1", RoundID: "R1", Status: domain.BetPending, Amount: 100}}, nil)
	assert.Empty(t, res.Transitions)
	got, _ := l.Get("b1")
	assert.Equal(t, domain.BetWon, got.Status)
}

func TestReconcile_NewTerminalBetEmitsTransitionWithoutFrom(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := newLedger(c, "x")
	res := l.Reconcile([]domain.ServerBet{{ID: "b1", RoundID: "R1", Status: domain.BetLost, Amount: 100}}, nil)
	require.Len(t, res.Transitions, 1)
	assert.Equal(t, domain.BetStatus(""), res.Transitions[0].From)
	assert.Equal(t, domain.BetLost, res.Transitions[0].To)
}

func TestReconcile_OrphanOptimisticRemovedAfterGrace(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := newLedger(c, "1")
	_, _ = l.Submit(draft(), 0)

	c.advance(5 * time.Second)
	res := l.Reconcile(nil, nil)
	assert.Empty(t, res.Discarded, "server may simply be slower than the poll")
	assert.Len(t, l.Current(), 1)

	c.advance(ledger.DefaultOptimisticGrace)
	res = l.Reconcile(nil, nil)
	assert.Equal(t, []string{"temp-1"}, res.Discarded)
	assert.Empty(t, l.Current())
}

func TestReconcile_IgnoresOtherRounds(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := newLedger(c, "1")
	_, _ = l.Submit(draft(), 0)

	res := l.Reconcile([]domain.ServerBet{{ID: "old", RoundID: "R0", Status: domain.BetPending}}, nil)
	assert.Empty(t, res.Discarded)
	_, ok := l.Get("old")
	assert.False(t, ok)
}

func TestDiscardAndReset(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := newLedger(c, "1", "2")
	a, _ := l.Submit(draft(), 0)
	_, _ = l.Submit(draft(), 0)

	assert.True(t, l.Discard(a.ID))
	assert.False(t, l.Discard(a.ID))
	assert.True(t, l.HasPending())

	l.Reset("R2")
	assert.Empty(t, l.Current())
	assert.Equal(t, "R2", l.RoundID())
	assert.ErrorIs(t, l.AttachServerID("temp-2", domain.SubmitResult{BetID: "z"}), domain.ErrUnknownBet)
}
