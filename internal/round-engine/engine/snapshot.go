package engine

import (
	"time"

	"github.com/radieske/count-market-engine/internal/round-engine/domain"
	"github.com/radieske/count-market-engine/internal/round-engine/estimator"
	"github.com/radieske/count-market-engine/internal/round-engine/outcome"
)

// BetView é a aposta com o progresso e a chance calculados no momento do snapshot
type BetView struct {
	domain.Bet
	Progress *int           `json:"progress,omitempty"`
	Chance   *float64       `json:"chance,omitempty"`
	Hint     estimator.Hint `json:"hint"`
}

// Snapshot é uma foto imutável do estado do motor
type Snapshot struct {
	At            time.Time          `json:"at"`
	Round         *domain.Round      `json:"round"`
	Resolving     bool               `json:"resolving"`
	RoundBaseline *int               `json:"round_baseline,omitempty"`
	RoundProgress *int               `json:"round_progress,omitempty"`
	Latest        *domain.CountFrame `json:"latest,omitempty"`
	Displayed     *domain.CountFrame `json:"displayed,omitempty"`
	Bets          []BetView          `json:"bets"`
	Card          *outcome.Card      `json:"card,omitempty"`
	NextRoundAt   *time.Time         `json:"next_round_at,omitempty"`
	ClosesInSec   *float64           `json:"closes_in_sec,omitempty"`
	EndsInSec     *float64           `json:"ends_in_sec,omitempty"`
	Connected     bool               `json:"connected"`
	LatencyMs     int64              `json:"latency_ms"`
	LastError     string             `json:"last_error,omitempty"`
}

func (e *Engine) snapshot() Snapshot {
	now := e.now()
	s := Snapshot{
		At:        now,
		Connected: e.connected,
		LatencyMs: e.stream.Latency().Milliseconds(),
		LastError: e.lastErr,
		Card:      e.deps.Outcomes.Current(),
		Bets:      []BetView{},
	}

	var latest *domain.CountFrame
	if f, ok := e.stream.Latest(); ok {
		latest = &f
		s.Latest = latest
	}
	if f, ok := e.stream.Displayed(); ok {
		s.Displayed = &f
	}

	if e.selected == nil {
		// sem rodada: a UI cai no countdown da próxima
		if e.nextRoundAt != nil {
			t := *e.nextRoundAt
			s.NextRoundAt = &t
		}
		return s
	}

	round := e.selected.Round
	s.Round = &round
	s.Resolving = e.selected.Resolving
	s.ClosesInSec = secondsUntil(round.ClosesAt, now)
	s.EndsInSec = secondsUntil(round.EndsAt, now)

	if e.roundBaseline != nil {
		b := *e.roundBaseline
		s.RoundBaseline = &b
		if p, ok := estimator.Progress(domain.Bet{BaselineCount: b}, round, latest, now); ok {
			s.RoundProgress = &p
		}
	}

	for _, b := range e.ledger.Current() {
		v := BetView{Bet: b}
		if p, ok := estimator.Progress(b, round, latest, now); ok {
			v.Progress = &p
			if c, ok := estimator.Chance(b, round, p, now); ok && b.Status == domain.BetPending {
				v.Chance = &c
			}
			if b.Status == domain.BetPending {
				v.Hint = estimator.HintFor(b, round, p, now)
			}
		}
		s.Bets = append(s.Bets, v)
	}
	return s
}

func secondsUntil(t, now time.Time) *float64 {
	d := t.Sub(now).Seconds()
	if d < 0 {
		d = 0
	}
	return &d
}
