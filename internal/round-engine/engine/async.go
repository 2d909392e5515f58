package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/radieske/count-market-engine/internal/round-engine/baseline"
	"github.com/radieske/count-market-engine/internal/round-engine/domain"
	"github.com/radieske/count-market-engine/internal/round-engine/ledger"
)

// Tudo aqui dispara I/O fora do loop. Os closures apply rodam de volta no loop.

func (e *Engine) startHealth() {
	if e.deps.Health == nil {
		return
	}
	go func() {
		ctx, cancel := e.ioContext()
		defer cancel()
		h, err := e.deps.Health.Health(ctx)
		e.post(asyncResult{apply: func() {
			if err != nil {
				e.fail("health", err)
				e.log.Warn("health fetch failed", zap.Error(err))
				return
			}
			if h.Count != nil && !e.foreignCamera(h.Count.CameraID) && e.stream.Bootstrap(*h.Count) {
				e.log.Debug("stream bootstrapped from health snapshot")
			}
			e.nextRoundAt = h.NextRoundStartsAt
			e.dirty = true
		}})
	}()
}

func (e *Engine) startRefresh() {
	if e.deps.Rounds == nil {
		return
	}
	now := e.now()
	go func() {
		ctx, cancel := e.ioContext()
		defer cancel()
		list, err := e.deps.Rounds.CandidateRounds(ctx, e.cfg.CameraID, now, e.cfg.RoundGrace)
		e.post(asyncResult{apply: func() {
			if err != nil {
				e.fail("rounds", err)
				e.log.Warn("round refresh failed", zap.Error(err))
				return
			}
			own := list[:0]
			for _, r := range list {
				if !e.foreignCamera(r.CameraID) {
					own = append(own, r)
				}
			}
			e.book.Replace(own)
			e.book.Prune(e.now(), 2*e.cfg.RoundGrace)
			e.reselect()
		}})
	}()
}

// startBaseline resolve o baseline da rodada selecionada (opens_at)
func (e *Engine) startBaseline() {
	if e.selected == nil || e.baselineBusy {
		return
	}
	if v, ok := e.resolver.Cached(e.selected.Round.ID); ok {
		e.roundBaseline = &v
		return
	}
	e.baselineBusy = true
	round := e.selected.Round
	res := e.resolver
	epoch := e.tracker.Epoch()
	go func() {
		ctx, cancel := e.ioContext()
		defer cancel()
		v, err := res.Resolve(ctx, round.OpensAt, round.CameraID, round.Params.VehicleClass)
		e.post(scoped(epoch, func() {
			e.baselineBusy = false
			if err != nil {
				e.fail("baseline", err)
				e.log.Warn("round baseline failed", zap.String("round_id", round.ID), zap.Error(err))
				return
			}
			e.resolver.Store(round.ID, v)
			e.roundBaseline = &v
			e.dirty = true
		}))
	}()
}

// startReconcile busca a lista autoritativa de apostas da rodada
func (e *Engine) startReconcile() {
	if e.selected == nil || e.reconciling {
		return
	}
	e.reconciling = true
	round := e.selected.Round
	res := e.resolver
	epoch := e.tracker.Epoch()
	go func() {
		ctx, cancel := e.ioContext()
		defer cancel()
		list, err := e.deps.Bets.List(ctx, round.ID)

		// baselines que o servidor não mandou, resolvidos aqui fora do loop
		resolved := make(map[string]int)
		if err == nil {
			for _, sb := range list {
				if sb.BaselineCount != nil || sb.RoundID != round.ID {
					continue
				}
				probe := domain.Bet{VehicleClass: sb.VehicleClass}
				v, berr := res.Resolve(ctx, sb.PlacedAt, round.CameraID, baseline.TargetClass(probe, round))
				if berr != nil {
					e.log.Debug("bet baseline lookup failed", zap.String("bet_id", sb.ID), zap.Error(berr))
					continue
				}
				resolved[sb.ID] = v
			}
		}

		e.post(scoped(epoch, func() {
			e.reconciling = false
			if err != nil {
				e.fail("reconcile", err)
				e.log.Warn("bet reconciliation failed", zap.String("round_id", round.ID), zap.Error(err))
				return
			}
			e.applyReconcile(list, resolved)
		}))
	}()
}

func (e *Engine) applyReconcile(list []domain.ServerBet, resolved map[string]int) {
	out := e.ledger.Reconcile(list, resolved)
	if e.hooks.OnReconcile != nil {
		e.hooks.OnReconcile()
	}
	if n := len(out.Discarded); n > 0 {
		e.log.Debug("optimistic entries discarded", zap.Strings("ids", out.Discarded))
		if e.hooks.OnOptimisticDiscarded != nil {
			e.hooks.OnOptimisticDiscarded(n)
		}
	}
	e.observeTransitions(out.Transitions)
	e.dirty = true
}

func (e *Engine) observeTransitions(ts []ledger.Transition) {
	if len(ts) == 0 {
		return
	}
	var round domain.Round
	if e.selected != nil {
		round = e.selected.Round
	}
	for _, t := range ts {
		actual, target := e.outcomeFigures(t.Bet, round)
		if c := e.deps.Outcomes.Observe(e.runCtx, t, actual, target); c != nil {
			e.log.Info("bet resolved",
				zap.String("bet_id", c.BetID),
				zap.Bool("won", c.Won),
				zap.Int64("payout", c.Payout),
			)
		}
	}
}

// startSubmit envia a aposta ao servidor. Rejeição descarta a entrada otimista.
func (e *Engine) startSubmit(tempID string, d domain.BetDraft) {
	epoch := e.tracker.Epoch()
	go func() {
		ctx, cancel := e.ioContext()
		defer cancel()
		res, err := e.deps.Bets.Submit(ctx, d)
		e.post(scoped(epoch, func() {
			if err != nil {
				e.ledger.Discard(tempID)
				e.lastErr = err.Error()
				e.fail("submit", err)
				e.log.Warn("bet rejected", zap.String("temp_id", tempID), zap.Error(err))
				e.dirty = true
				return
			}
			if aerr := e.ledger.AttachServerID(tempID, res); aerr != nil {
				// já absorvida por uma reconciliação
				e.log.Debug("attach server id skipped", zap.String("temp_id", tempID), zap.String("bet_id", res.BetID))
			}
			e.dirty = true
			e.startReconcile()
		}))
	}()
}

// settleAttempts limita as consultas de uma rodada que saiu de seleção
const settleAttempts = 12

// startSettle acompanha apostas pendentes de uma rodada que deixou de ser a
// selecionada, para que a resolução ainda gere o cartão de resultado.
// Consulta a cada ReconcileEvery até todas ficarem terminais ou esgotar as tentativas.
func (e *Engine) startSettle(round domain.Round, pending []string) {
	ids := make(map[string]bool, len(pending))
	for _, id := range pending {
		ids[id] = true
	}
	bets := make(map[string]domain.Bet)
	for _, b := range e.ledger.Current() {
		if ids[b.ID] {
			bets[b.ID] = b
		}
	}
	if len(bets) == 0 {
		return
	}
	ctx := e.runCtx
	go func() {
		settled := make(map[string]bool, len(bets))
		for attempt := 0; attempt < settleAttempts && len(settled) < len(bets); attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(e.cfg.ReconcileEvery):
				}
			}
			ioctx, cancel := e.ioContext()
			list, err := e.deps.Bets.List(ioctx, round.ID)
			cancel()
			if err != nil {
				e.post(asyncResult{apply: func() {
					e.fail("settle", err)
					e.log.Warn("settle previous round failed", zap.String("round_id", round.ID), zap.Error(err))
				}})
				continue
			}
			var done []domain.ServerBet
			for _, sb := range list {
				if _, ok := bets[sb.ID]; ok && !settled[sb.ID] && sb.Status.Terminal() {
					settled[sb.ID] = true
					done = append(done, sb)
				}
			}
			if len(done) > 0 {
				e.post(asyncResult{apply: func() { e.applySettled(round, bets, done) }})
			}
		}
		if left := len(bets) - len(settled); left > 0 {
			e.log.Warn("previous round bets still pending after settle attempts",
				zap.String("round_id", round.ID),
				zap.Int("pending", left),
			)
		}
	}()
}

func (e *Engine) applySettled(round domain.Round, bets map[string]domain.Bet, done []domain.ServerBet) {
	for _, sb := range done {
		b := bets[sb.ID]
		b.Status = sb.Status
		b.Payout = sb.Payout
		if sb.ResolvedAt != nil {
			t := *sb.ResolvedAt
			b.ResolvedAt = &t
		}
		actual, target := e.outcomeFigures(b, round)
		e.deps.Outcomes.Observe(e.runCtx, ledger.Transition{Bet: b, From: domain.BetPending, To: sb.Status}, actual, target)
	}
	e.dirty = true
}

// outcomeFigures calcula o valor final observado e o alvo da aposta
func (e *Engine) outcomeFigures(b domain.Bet, round domain.Round) (actual, target *int) {
	if b.ExactCount != nil {
		t := *b.ExactCount
		target = &t
	} else if round.Params.Threshold != nil {
		t := *round.Params.Threshold
		target = &t
	}
	if latest, ok := e.stream.Latest(); ok {
		a := max(0, latest.Count(baseline.TargetClass(b, round))-b.BaselineCount)
		actual = &a
	}
	return actual, target
}
