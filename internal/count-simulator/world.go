package simulator

import (
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/radieske/count-market-engine/internal/count-simulator/dto"
	"github.com/radieske/count-market-engine/internal/round-engine/domain"
)

// Classes de veículo emitidas pelo simulador
var Classes = []string{"car", "truck", "bus", "motorcycle"}

// pesos relativos de cada classe no sorteio de cruzamentos
var classWeights = []int{70, 12, 6, 12}

const exactOdds = 10.0

// Timing define o ciclo de vida de cada rodada
type Timing struct {
	Upcoming time.Duration // anúncio antes de abrir
	Betting  time.Duration // opens_at até closes_at
	Locked   time.Duration // closes_at até ends_at
}

func DefaultTiming() Timing {
	return Timing{Upcoming: 15 * time.Second, Betting: 60 * time.Second, Locked: 30 * time.Second}
}

type Options struct {
	CameraID    string
	Timing      Timing
	Threshold   int     // linha de over/under
	MaxPerTick  int     // cruzamentos máximos por tick
	ReorderRate float64 // probabilidade de segurar um frame e entregá-lo fora de ordem
	Seed        int64
}

// RejectError é a recusa de uma aposta, com o status HTTP correspondente
type RejectError struct {
	Status int
	Reason string
}

func (e *RejectError) Error() string { return e.Reason }

func reject(status int, format string, args ...any) error {
	return &RejectError{Status: status, Reason: fmt.Sprintf(format, args...)}
}

// World é o estado simulado: contagem acumulada, rodadas e apostas
type World struct {
	mu  sync.Mutex
	opt Options
	rng *rand.Rand

	seq       int
	total     int
	breakdown map[string]int
	latest    *domain.CountFrame
	held      *domain.CountFrame

	rounds  []*domain.Round
	opening map[string]domain.CountSnapshot // contagem em opens_at, por rodada

	bets  map[string]*domain.ServerBet
	base  map[string]int // contagem da classe alvo no momento da aposta
	idem  map[string]domain.SubmitResult
	order []string
}

func NewWorld(opt Options) *World {
	if opt.CameraID == "" {
		opt.CameraID = "cam-1"
	}
	if opt.Timing == (Timing{}) {
		opt.Timing = DefaultTiming()
	}
	if opt.Threshold <= 0 {
		opt.Threshold = 20
	}
	if opt.MaxPerTick <= 0 {
		opt.MaxPerTick = 2
	}
	return &World{
		opt:       opt,
		rng:       rand.New(rand.NewSource(opt.Seed)),
		breakdown: make(map[string]int),
		opening:   make(map[string]domain.CountSnapshot),
		bets:      make(map[string]*domain.ServerBet),
		base:      make(map[string]int),
		idem:      make(map[string]domain.SubmitResult),
	}
}

// Step avança a simulação até now. Retorna os frames a enviar (possivelmente
// fora de ordem) e as rodadas que mudaram de status.
func (w *World) Step(now time.Time) ([]domain.CountFrame, []domain.Round) {
	w.mu.Lock()
	defer w.mu.Unlock()

	frame := w.observe(now)
	changed := w.advance(now)

	var frames []domain.CountFrame
	switch {
	case w.held != nil:
		frames = []domain.CountFrame{frame, *w.held}
		w.held = nil
	case w.rng.Float64() < w.opt.ReorderRate:
		w.held = &frame
	default:
		frames = []domain.CountFrame{frame}
	}
	return frames, changed
}

func (w *World) observe(now time.Time) domain.CountFrame {
	n := w.rng.Intn(w.opt.MaxPerTick + 1)
	f := domain.CountFrame{
		CameraID:     w.opt.CameraID,
		CapturedAt:   now.UTC(),
		NewCrossings: n,
	}
	for i := 0; i < n; i++ {
		class := w.pickClass()
		w.breakdown[class]++
		w.total++
		f.Detections = append(f.Detections, domain.Detection{
			Class:      class,
			Confidence: 0.6 + 0.4*w.rng.Float64(),
			Box:        domain.Box{X: w.rng.Float64() * 0.8, Y: w.rng.Float64() * 0.8, W: 0.1, H: 0.08},
			TrackID:    int64(w.total),
		})
	}
	f.Total = w.total
	f.VehicleBreakdown = w.copyBreakdown()
	w.latest = &f
	return f
}

func (w *World) pickClass() string {
	sum := 0
	for _, v := range classWeights {
		sum += v
	}
	x := w.rng.Intn(sum)
	for i, v := range classWeights {
		if x < v {
			return Classes[i]
		}
		x -= v
	}
	return Classes[0]
}

func (w *World) copyBreakdown() map[string]int {
	out := make(map[string]int, len(w.breakdown))
	for k, v := range w.breakdown {
		out[k] = v
	}
	return out
}

func (w *World) count(class string) int {
	if class == "" {
		return w.total
	}
	return w.breakdown[class]
}

// advance aplica o ciclo upcoming → open → locked → resolved
func (w *World) advance(now time.Time) []domain.Round {
	var changed []domain.Round
	if len(w.rounds) == 0 {
		r := w.newRound(now.Add(w.opt.Timing.Upcoming))
		changed = append(changed, *r)
	}

	for _, r := range w.rounds {
		before := r.Status
		if r.Status == domain.RoundUpcoming && !now.Before(r.OpensAt) {
			r.Status = domain.RoundOpen
			w.opening[r.ID] = domain.CountSnapshot{
				CameraID: w.opt.CameraID, CapturedAt: now, Total: w.total, VehicleBreakdown: w.copyBreakdown(),
			}
		}
		if r.Status == domain.RoundOpen && !now.Before(r.ClosesAt) {
			r.Status = domain.RoundLocked
		}
		if r.Status == domain.RoundLocked && !now.Before(r.EndsAt) {
			w.resolve(r, now)
			r.Status = domain.RoundResolved
		}
		if r.Status != before {
			changed = append(changed, *r)
		}
		// a próxima rodada é anunciada assim que a atual trava
		if before != domain.RoundLocked && r.Status == domain.RoundLocked && w.pendingAfter(r) {
			n := w.newRound(r.EndsAt)
			changed = append(changed, *n)
		}
	}

	kept := w.rounds[:0]
	for _, r := range w.rounds {
		if r.Status != domain.RoundResolved {
			kept = append(kept, r)
		}
	}
	w.rounds = kept
	if len(w.rounds) == 0 {
		r := w.newRound(now.Add(w.opt.Timing.Upcoming))
		changed = append(changed, *r)
	}
	return changed
}

// pendingAfter indica que ainda não há rodada anunciada depois de r
func (w *World) pendingAfter(r *domain.Round) bool {
	for _, o := range w.rounds {
		if o.OpensAt.After(r.OpensAt) {
			return false
		}
	}
	return true
}

func (w *World) newRound(opensAt time.Time) *domain.Round {
	w.seq++
	id := fmt.Sprintf("R%d", w.seq)
	t := w.opt.Timing
	r := &domain.Round{
		ID:       id,
		Status:   domain.RoundUpcoming,
		OpensAt:  opensAt.UTC(),
		ClosesAt: opensAt.Add(t.Betting).UTC(),
		EndsAt:   opensAt.Add(t.Betting + t.Locked).UTC(),
		CameraID: w.opt.CameraID,
	}

	// alterna os tipos de mercado
	switch w.seq % 3 {
	case 1:
		th := w.opt.Threshold
		r.MarketType = domain.MarketOverUnder
		r.Params = domain.RoundParams{Threshold: &th}
		r.Markets = []domain.Market{
			{ID: id + "-over", RoundID: id, OutcomeKey: "over", Odds: 1.9},
			{ID: id + "-under", RoundID: id, OutcomeKey: "under", Odds: 1.9},
		}
	case 2:
		r.MarketType = domain.MarketVehicleClass
		for i, c := range Classes {
			odds := 100.0 / float64(classWeights[i])
			r.Markets = append(r.Markets, domain.Market{ID: id + "-" + c, RoundID: id, OutcomeKey: c, Odds: float64(int(odds*100)) / 100})
		}
	default:
		th := w.opt.Threshold / 2
		r.MarketType = domain.MarketExactCount
		r.Params = domain.RoundParams{Threshold: &th, VehicleClass: "car"}
	}
	w.rounds = append(w.rounds, r)
	return r
}

func (w *World) delta(roundID, class string) int {
	open := w.opening[roundID]
	return max(0, w.count(class)-open.Count(class))
}

// winningClass é a classe com mais cruzamentos na janela (empate: ordem de Classes)
func (w *World) winningClass(roundID string) string {
	best, bestN := Classes[0], -1
	for _, c := range Classes {
		if n := w.delta(roundID, c); n > bestN {
			best, bestN = c, n
		}
	}
	return best
}

func (w *World) resolve(r *domain.Round, now time.Time) {
	at := now.UTC()
	for _, id := range w.order {
		b := w.bets[id]
		if b.RoundID != r.ID || b.Status != domain.BetPending {
			continue
		}
		// contagem desde a aposta, como o motor mostra o progresso
		since := func(class string) int { return max(0, w.count(class)-w.base[id]) }
		won := false
		switch {
		case b.ExactCount != nil:
			won = since(b.VehicleClass) == *b.ExactCount
		case b.OutcomeKey == "over":
			won = since(r.Params.VehicleClass) > *r.Params.Threshold
		case b.OutcomeKey == "under":
			won = since(r.Params.VehicleClass) <= *r.Params.Threshold
		default:
			won = b.OutcomeKey == w.winningClass(r.ID)
		}
		b.Status = domain.BetLost
		if won {
			b.Status = domain.BetWon
			b.Payout = b.PotentialPayout
		}
		b.ResolvedAt = &at
	}
	delete(w.opening, r.ID)
}

// PlaceBet registra a aposta. A mesma idempotency key devolve a mesma resposta.
func (w *World) PlaceBet(key string, req dto.BetReq, now time.Time) (domain.SubmitResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if key != "" {
		if res, ok := w.idem[key]; ok {
			return res, nil
		}
	}
	if req.Amount <= 0 {
		return domain.SubmitResult{}, reject(http.StatusBadRequest, "amount must be positive")
	}
	r := w.round(req.RoundID)
	if r == nil {
		return domain.SubmitResult{}, reject(http.StatusNotFound, "round %s not found", req.RoundID)
	}
	if r.Status != domain.RoundOpen || !now.Before(r.ClosesAt) {
		return domain.SubmitResult{}, reject(http.StatusConflict, "round %s is not open", r.ID)
	}

	b := &domain.ServerBet{
		ID:       uuid.NewString(),
		RoundID:  r.ID,
		Status:   domain.BetPending,
		Amount:   req.Amount,
		PlacedAt: now.UTC(),
	}
	end := r.EndsAt
	b.WindowEnd = &end

	if req.ExactCount != nil {
		if req.MarketID != "" || req.VehicleClass == "" || *req.ExactCount < 0 {
			return domain.SubmitResult{}, reject(http.StatusBadRequest, "exact count bets need vehicle_class and a non-negative exact_count")
		}
		n := *req.ExactCount
		b.BetType = domain.BetExactCount
		b.VehicleClass = req.VehicleClass
		b.ExactCount = &n
		b.PotentialPayout = payout(req.Amount, exactOdds)
		// só apostas de contagem exata trazem o baseline do servidor
		base := w.count(req.VehicleClass)
		b.BaselineCount = &base
		w.base[b.ID] = base
	} else {
		var m *domain.Market
		for i := range r.Markets {
			if r.Markets[i].ID == req.MarketID {
				m = &r.Markets[i]
			}
		}
		if m == nil {
			return domain.SubmitResult{}, reject(http.StatusBadRequest, "unknown market %q", req.MarketID)
		}
		m.TotalStaked += req.Amount
		b.BetType = domain.BetMarket
		b.MarketID = m.ID
		b.OutcomeKey = m.OutcomeKey
		b.PotentialPayout = payout(req.Amount, m.Odds)
		w.base[b.ID] = w.count(r.Params.VehicleClass)
	}

	w.bets[b.ID] = b
	w.order = append(w.order, b.ID)
	res := domain.SubmitResult{BetID: b.ID, PotentialPayout: b.PotentialPayout, WindowEnd: b.WindowEnd}
	if key != "" {
		w.idem[key] = res
	}
	return res, nil
}

func payout(amount int64, odds float64) int64 {
	return int64(math.Round(float64(amount) * odds))
}

func (w *World) round(id string) *domain.Round {
	for _, r := range w.rounds {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// Bets lista as apostas da rodada por ordem de criação
func (w *World) Bets(roundID string) []domain.ServerBet {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := []domain.ServerBet{}
	for _, id := range w.order {
		if b := w.bets[id]; b.RoundID == roundID {
			out = append(out, *b)
		}
	}
	return out
}

// Rounds devolve as rodadas ativas ordenadas por abertura
func (w *World) Rounds() []domain.Round {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]domain.Round, 0, len(w.rounds))
	for _, r := range w.rounds {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpensAt.Before(out[j].OpensAt) })
	return out
}

// Health devolve o último frame e a próxima abertura prevista
func (w *World) Health() domain.HealthStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	h := domain.HealthStatus{Status: "ok"}
	if w.latest != nil {
		f := *w.latest
		f.Detections = nil
		h.Count = &f
	}
	for _, r := range w.rounds {
		if r.Status == domain.RoundUpcoming && (h.NextRoundStartsAt == nil || r.OpensAt.Before(*h.NextRoundStartsAt)) {
			t := r.OpensAt
			h.NextRoundStartsAt = &t
		}
	}
	return h
}
