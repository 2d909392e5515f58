package engine

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/count-market-engine/internal/round-engine/baseline"
	"github.com/radieske/count-market-engine/internal/round-engine/domain"
	"github.com/radieske/count-market-engine/internal/round-engine/rounds"
)

func (e *Engine) onFrame(f domain.CountFrame) {
	if e.foreignCamera(f.CameraID) {
		if e.hooks.OnFrameDropped != nil {
			e.hooks.OnFrameDropped("camera")
		}
		return
	}
	acc, err := e.stream.Ingest(f, e.now())
	if errors.Is(err, domain.ErrStaleFrame) {
		if e.hooks.OnFrameDropped != nil {
			e.hooks.OnFrameDropped("stale")
		}
		return
	}
	if err != nil {
		e.fail("ingest", err)
		return
	}
	if e.hooks.OnFrameApplied != nil {
		e.hooks.OnFrameApplied(e.stream.Latency())
	}
	if acc.Stripped && e.hooks.OnFrameStripped != nil {
		e.hooks.OnFrameStripped()
	}
	if e.deps.History != nil {
		latest, _ := e.stream.Latest()
		e.deps.History.Record(latest)
	}
	e.dirty = true
}

func (e *Engine) onRoundMessage(r domain.Round) {
	if e.foreignCamera(r.CameraID) {
		e.log.Debug("round from other camera ignored",
			zap.String("round_id", r.ID),
			zap.String("camera_id", r.CameraID),
		)
		return
	}
	if !e.book.Upsert(r) {
		e.log.Debug("round update ignored",
			zap.String("round_id", r.ID),
			zap.String("status", string(r.Status)),
		)
		return
	}
	e.reselect()

	// resolução anunciada: busca o resultado sem esperar o próximo tick
	if r.Status == domain.RoundResolved && r.ID == e.ledger.RoundID() {
		e.startReconcile()
	}
	e.dirty = true
}

// foreignCamera: mensagens sem camera_id são aceitas
func (e *Engine) foreignCamera(id string) bool {
	return id != "" && e.cfg.CameraID != "" && id != e.cfg.CameraID
}

func (e *Engine) onPushState(connected bool) {
	if connected == e.connected {
		return
	}
	e.connected = connected
	if e.hooks.OnPushState != nil {
		e.hooks.OnPushState(connected)
	}
	e.dirty = true
}

// reselect reaplica a precedência de rodadas e reseta o estado por rodada
// quando a identidade muda
func (e *Engine) reselect() {
	now := e.now()
	sel := rounds.SelectPreferred(e.book.All(), now, e.cfg.RoundGrace)
	prev := e.selected
	changed := e.tracker.Observe(sel)
	e.selected = sel
	if changed {
		e.onRoundChanged(prev)
	}
	e.armRoundTimer(now)
	e.dirty = true
}

// onRoundChanged é o sinal de cancelamento de tudo que é derivado da rodada
func (e *Engine) onRoundChanged(prev *rounds.Selection) {
	newID := e.tracker.CurrentID()

	// apostas pendentes da rodada anterior ainda podem resolver
	if prev != nil {
		var pending []string
		for _, b := range e.ledger.Current() {
			if b.Status == domain.BetPending && !b.Optimistic {
				pending = append(pending, b.ID)
			}
		}
		if len(pending) > 0 {
			e.startSettle(prev.Round, pending)
		}
	}

	e.resolver.Reset()
	e.roundBaseline = nil
	e.ledger.Reset(newID)
	e.reconciling = false
	e.baselineBusy = false
	e.deps.Outcomes.OnRoundChange(newID)

	if e.hooks.OnRoundChange != nil {
		e.hooks.OnRoundChange(newID)
	}
	e.log.Info("selected round changed",
		zap.String("round_id", newID),
		zap.Uint64("epoch", e.tracker.Epoch()),
	)

	if e.selected != nil {
		e.startBaseline()
		e.startReconcile()
	}
}

// armRoundTimer agenda a próxima fronteira de tempo relevante para a seleção
func (e *Engine) armRoundTimer(now time.Time) {
	var next time.Time
	consider := func(t time.Time) {
		if t.After(now) && (next.IsZero() || t.Before(next)) {
			next = t
		}
	}
	for _, r := range e.book.All() {
		consider(r.OpensAt)
		consider(r.ClosesAt)
		consider(r.EndsAt)
		consider(r.EndsAt.Add(e.cfg.RoundGrace))
		consider(r.EndsAt.Add(-e.cfg.RoundGrace))
	}
	e.roundTimer.Stop()
	if next.IsZero() {
		return
	}
	// drena um disparo pendente antes do Reset
	select {
	case <-e.roundTimer.C:
	default:
	}
	e.roundTimer.Reset(next.Sub(now) + time.Millisecond)
}

// submit roda dentro do loop
func (e *Engine) submit(d domain.BetDraft) (domain.Bet, error) {
	now := e.now()
	if d.RoundID == "" && e.selected != nil {
		d.RoundID = e.selected.Round.ID
	}
	if err := validateDraft(d, e.selected, now); err != nil {
		return domain.Bet{}, err
	}
	round := e.selected.Round

	base := 0
	probe := domain.Bet{VehicleClass: d.VehicleClass}
	class := baseline.TargetClass(probe, round)
	if latest, ok := e.stream.Latest(); ok {
		base = baseline.FromFrame(latest, class)
	} else if e.roundBaseline != nil && class == round.Params.VehicleClass {
		base = *e.roundBaseline
	}

	bet, err := e.ledger.Submit(d, base)
	if err != nil {
		return domain.Bet{}, err
	}
	e.lastErr = ""
	e.dirty = true
	e.startSubmit(bet.ID, d)
	return bet, nil
}

func validateDraft(d domain.BetDraft, sel *rounds.Selection, now time.Time) error {
	if d.Amount <= 0 {
		return domain.NewValidation("amount", "must be positive")
	}
	if sel == nil {
		return domain.NewValidation("round_id", "no round is open")
	}
	round := sel.Round
	if d.RoundID != round.ID {
		return domain.NewValidation("round_id", "round is not the selected round")
	}
	if round.Status != domain.RoundOpen {
		return domain.NewValidation("round_id", "round is not open")
	}
	if !round.AcceptsBets(now) {
		return domain.NewValidation("round_id", "betting window already closed")
	}

	switch d.Type() {
	case domain.BetExactCount:
		if d.MarketID != "" {
			return domain.NewValidation("market_id", "exact count bets do not take a market")
		}
		if d.VehicleClass == "" {
			return domain.NewValidation("vehicle_class", "required for exact count bets")
		}
		if *d.ExactCount < 0 {
			return domain.NewValidation("exact_count", "must not be negative")
		}
	default:
		if d.MarketID == "" {
			return domain.NewValidation("market_id", "required")
		}
		if _, ok := round.Market(d.MarketID); !ok {
			return domain.NewValidation("market_id", "unknown market for round")
		}
	}
	return nil
}
