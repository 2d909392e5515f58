// Package estimator calcula progresso e a "chance" exibida ao usuário.
//
// A chance é uma heurística de UX, não uma probabilidade calibrada: projeta o
// progresso linearmente até ends_at e mapeia a distância até o alvo por
// funções lineares com clamp. Não usar para nada além de feedback visual.
package estimator

import (
	"fmt"
	"math"
	"time"

	"github.com/radieske/count-market-engine/internal/round-engine/baseline"
	"github.com/radieske/count-market-engine/internal/round-engine/domain"
)

const (
	// Sensitivity amplifica a distância relativa entre projeção e alvo
	Sensitivity = 6.0

	overUnderMin = 5.0
	overUnderMax = 95.0
	exactMin     = 1.0
	exactMax     = 60.0
)

// Progress retorna o progresso da aposta na observação mais recente.
// Em rodada elegível é relativo ao baseline (nunca negativo); fora dela volta
// para a contagem absoluta. false quando não há observação utilizável.
func Progress(bet domain.Bet, round domain.Round, frame *domain.CountFrame, now time.Time) (int, bool) {
	if frame == nil {
		return 0, false
	}
	if round.CameraID != "" && frame.CameraID != "" && frame.CameraID != round.CameraID {
		return 0, false
	}
	raw := frame.Count(baseline.TargetClass(bet, round))
	if !round.RelativeEligible(now) {
		return raw, true
	}
	return max(0, raw-bet.BaselineCount), true
}

// target retorna o alvo numérico e o tipo de desfecho da aposta
func target(bet domain.Bet, round domain.Round) (int, string, bool) {
	if bet.BetType == domain.BetExactCount {
		if bet.ExactCount == nil {
			return 0, "", false
		}
		return *bet.ExactCount, "exact", true
	}
	if round.MarketType != domain.MarketOverUnder || round.Params.Threshold == nil {
		return 0, "", false
	}
	key := bet.OutcomeKey
	if key == "" {
		if m, ok := round.Market(bet.MarketID); ok {
			key = m.OutcomeKey
		}
	}
	switch key {
	case "over", "under":
		return *round.Params.Threshold, key, true
	}
	return 0, "", false
}

// projection estende o progresso pela taxa desde a aposta até ends_at
func projection(bet domain.Bet, round domain.Round, progress int, now time.Time) float64 {
	elapsed := now.Sub(bet.PlacedAt).Minutes()
	remaining := math.Max(0, round.EndsAt.Sub(now).Minutes())
	rate := 0.0
	if elapsed > 0 {
		rate = float64(progress) / elapsed
	}
	return float64(progress) + rate*remaining
}

// Chance retorna a chance heurística (0-100) da aposta.
// false quando a aposta não tem alvo numérico (ex: mercado por classe).
func Chance(bet domain.Bet, round domain.Round, progress int, now time.Time) (float64, bool) {
	t, kind, ok := target(bet, round)
	if !ok {
		return 0, false
	}
	projected := projection(bet, round, progress, now)
	scale := math.Max(float64(t), 1)
	dist := (projected - float64(t)) / scale

	switch kind {
	case "over":
		if progress > t {
			return overUnderMax, true
		}
		return clamp(50+Sensitivity*dist*50, overUnderMin, overUnderMax), true
	case "under":
		if progress > t {
			return overUnderMin, true
		}
		return clamp(50-Sensitivity*dist*50, overUnderMin, overUnderMax), true
	default:
		if progress > t {
			return exactMin, true
		}
		return clamp(exactMax-Sensitivity*math.Abs(dist)*50, exactMin, exactMax), true
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

// Hint é o texto curto mostrado ao lado da aposta
type Hint struct {
	Need    int    `json:"need"`
	Message string `json:"message"`
}

// HintFor descreve quanto falta para a aposta bater o alvo
func HintFor(bet domain.Bet, round domain.Round, progress int, now time.Time) Hint {
	t, kind, ok := target(bet, round)
	if !ok {
		return Hint{}
	}
	expired := !now.Before(round.EndsAt)

	switch kind {
	case "under":
		if progress > t {
			return Hint{Message: "line crossed"}
		}
		return Hint{Message: fmt.Sprintf("%d to spare", t-progress)}
	case "over":
		need := t + 1 - progress
		if need <= 0 {
			return Hint{Message: "over the line"}
		}
		if expired {
			return Hint{Need: need, Message: "time expired"}
		}
		return Hint{Need: need, Message: fmt.Sprintf("need %d more before time expires", need)}
	default:
		need := t - progress
		switch {
		case need < 0:
			return Hint{Message: "target passed"}
		case need == 0:
			return Hint{Message: "on target, hold until time expires"}
		case expired:
			return Hint{Need: need, Message: "time expired"}
		}
		return Hint{Need: need, Message: fmt.Sprintf("need %d more before time expires", need)}
	}
}
