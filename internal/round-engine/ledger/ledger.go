package ledger

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/radieske/count-market-engine/internal/round-engine/domain"
)

// TempPrefix marca ids de entradas otimistas
const TempPrefix = "temp-"

// DefaultOptimisticGrace é quanto uma entrada otimista sobrevive quando o
// servidor não lista nenhuma aposta pendente
const DefaultOptimisticGrace = 15 * time.Second

// Transition é uma aposta saindo de pending. From vazio significa que a aposta
// já chegou terminal (ex: primeira reconciliação após restart).
type Transition struct {
	Bet  domain.Bet
	From domain.BetStatus
	To   domain.BetStatus
}

// Result resume uma rodada de reconciliação
type Result struct {
	Transitions []Transition
	Discarded   []string
}

// Ledger mantém as apostas do usuário para a rodada corrente.
// Merge por id: entradas otimistas (Optimistic=true) convivem com as
// confirmadas até a reconciliação absorvê-las. Não é seguro para uso concorrente.
type Ledger struct {
	roundID string
	entries map[string]*domain.Bet
	grace   time.Duration
	now     func() time.Time
	newID   func() string
}

// Option configura o Ledger
type Option func(*Ledger)

// WithClock injeta o relógio (testes)
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

// WithIDGenerator injeta o gerador de ids temporários (testes)
func WithIDGenerator(f func() string) Option { return func(l *Ledger) { l.newID = f } }

// WithOptimisticGrace altera a tolerância de entradas otimistas órfãs
func WithOptimisticGrace(d time.Duration) Option { return func(l *Ledger) { l.grace = d } }

// New cria um Ledger vazio
func New(opts ...Option) *Ledger {
	l := &Ledger{
		entries: make(map[string]*domain.Bet),
		grace:   DefaultOptimisticGrace,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// RoundID retorna a rodada a que o ledger está ancorado
func (l *Ledger) RoundID() string { return l.roundID }

// Reset descarta tudo e ancora o ledger em outra rodada
func (l *Ledger) Reset(roundID string) {
	l.roundID = roundID
	clear(l.entries)
}

// Submit cria a entrada otimista da aposta. A validação do rascunho é
// responsabilidade do chamador; aqui só se garante a rodada.
func (l *Ledger) Submit(d domain.BetDraft, baseline int) (domain.Bet, error) {
	if d.RoundID == "" || d.RoundID != l.roundID {
		return domain.Bet{}, domain.NewValidation("round_id", "round is not the selected round")
	}
	if baseline < 0 {
		baseline = 0
	}
	b := &domain.Bet{
		ID:            TempPrefix + l.newID(),
		RoundID:       d.RoundID,
		MarketID:      d.MarketID,
		BetType:       d.Type(),
		Status:        domain.BetPending,
		Amount:        d.Amount,
		VehicleClass:  d.VehicleClass,
		ExactCount:    copyInt(d.ExactCount),
		BaselineCount: baseline,
		PlacedAt:      l.now(),
		Optimistic:    true,
	}
	l.entries[b.ID] = b
	return *b, nil
}

// AttachServerID associa a resposta do endpoint de aposta à entrada otimista.
// A entrada continua otimista até a próxima reconciliação.
func (l *Ledger) AttachServerID(tempID string, res domain.SubmitResult) error {
	b, ok := l.entries[tempID]
	if !ok || !b.Optimistic {
		return domain.ErrUnknownBet
	}
	b.ServerID = res.BetID
	b.PotentialPayout = res.PotentialPayout
	if res.WindowEnd != nil {
		t := *res.WindowEnd
		b.WindowEnd = &t
	}
	return nil
}

// Discard remove uma entrada otimista (ex: servidor rejeitou a aposta)
func (l *Ledger) Discard(tempID string) bool {
	b, ok := l.entries[tempID]
	if !ok || !b.Optimistic {
		return false
	}
	delete(l.entries, tempID)
	return true
}

// Reconcile funde a lista autoritativa do servidor. Idempotente: rodar de
// novo com a mesma lista não muda nada nem emite transições.
// resolved traz baselines calculados fora do loop para apostas que o
// servidor devolveu sem baseline_count.
func (l *Ledger) Reconcile(server []domain.ServerBet, resolved map[string]int) Result {
	var res Result

	mine := make([]domain.ServerBet, 0, len(server))
	present := make(map[string]bool, len(server))
	anyPending := false
	for _, sb := range server {
		if sb.RoundID != l.roundID || sb.ID == "" {
			continue
		}
		mine = append(mine, sb)
		present[sb.ID] = true
		if sb.Status == domain.BetPending {
			anyPending = true
		}
	}

	// otimistas absorvidas (ou órfãs) nesta passada
	absorbed := make(map[string]*domain.Bet)
	now := l.now()
	for id, b := range l.entries {
		if !b.Optimistic {
			continue
		}
		switch {
		case b.ServerID != "" && present[b.ServerID]:
			absorbed[id] = b
		case anyPending:
			absorbed[id] = b
		case now.Sub(b.PlacedAt) >= l.grace:
			absorbed[id] = b
		}
	}

	for _, sb := range mine {
		if cur, ok := l.entries[sb.ID]; ok {
			if t, changed := merge(cur, sb); changed {
				res.Transitions = append(res.Transitions, t)
			}
			continue
		}

		b := fromServer(sb)
		switch {
		case sb.BaselineCount != nil:
			b.BaselineCount = max(*sb.BaselineCount, 0)
		default:
			if src := matchOptimistic(absorbed, sb); src != nil {
				b.BaselineCount = src.BaselineCount
				if b.WindowEnd == nil && src.WindowEnd != nil {
					t := *src.WindowEnd
					b.WindowEnd = &t
				}
			} else if v, ok := resolved[sb.ID]; ok {
				b.BaselineCount = max(v, 0)
			}
		}
		l.entries[b.ID] = b
		if b.Status.Terminal() {
			res.Transitions = append(res.Transitions, Transition{Bet: *b, To: b.Status})
		}
	}

	for id := range absorbed {
		delete(l.entries, id)
		res.Discarded = append(res.Discarded, id)
	}
	sort.Strings(res.Discarded)
	return res
}

// merge aplica campos mutáveis do servidor sem tocar no baseline.
// Entradas terminais nunca voltam para pending.
func merge(cur *domain.Bet, sb domain.ServerBet) (Transition, bool) {
	if cur.Status.Terminal() {
		return Transition{}, false
	}
	if sb.PotentialPayout != 0 {
		cur.PotentialPayout = sb.PotentialPayout
	}
	if sb.OutcomeKey != "" {
		cur.OutcomeKey = sb.OutcomeKey
	}
	if sb.WindowEnd != nil {
		t := *sb.WindowEnd
		cur.WindowEnd = &t
	}
	if !sb.Status.Terminal() {
		return Transition{}, false
	}
	from := cur.Status
	cur.Status = sb.Status
	cur.Payout = sb.Payout
	if sb.ResolvedAt != nil {
		t := *sb.ResolvedAt
		cur.ResolvedAt = &t
	}
	return Transition{Bet: *cur, From: from, To: cur.Status}, true
}

// matchOptimistic encontra a entrada otimista que originou sb: primeiro pelo
// id devolvido no submit, depois pelo formato da aposta
func matchOptimistic(absorbed map[string]*domain.Bet, sb domain.ServerBet) *domain.Bet {
	for _, b := range absorbed {
		if b.ServerID == sb.ID {
			return b
		}
	}
	var cands []*domain.Bet
	for _, b := range absorbed {
		if b.ServerID == "" && sameShape(b, sb) {
			cands = append(cands, b)
		}
	}
	if len(cands) == 0 {
		return nil
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].PlacedAt.Before(cands[j].PlacedAt) })
	return cands[0]
}

func sameShape(b *domain.Bet, sb domain.ServerBet) bool {
	if b.Amount != sb.Amount || b.BetType != sb.BetType {
		return false
	}
	if b.BetType == domain.BetExactCount {
		return b.VehicleClass == sb.VehicleClass && eqInt(b.ExactCount, sb.ExactCount)
	}
	return b.MarketID == sb.MarketID
}

func fromServer(sb domain.ServerBet) *domain.Bet {
	b := &domain.Bet{
		ID:              sb.ID,
		RoundID:         sb.RoundID,
		MarketID:        sb.MarketID,
		OutcomeKey:      sb.OutcomeKey,
		BetType:         sb.BetType,
		Status:          sb.Status,
		Amount:          sb.Amount,
		PotentialPayout: sb.PotentialPayout,
		Payout:          sb.Payout,
		VehicleClass:    sb.VehicleClass,
		ExactCount:      copyInt(sb.ExactCount),
		PlacedAt:        sb.PlacedAt,
	}
	if b.BetType == "" {
		b.BetType = domain.BetMarket
		if b.ExactCount != nil {
			b.BetType = domain.BetExactCount
		}
	}
	if sb.ResolvedAt != nil {
		t := *sb.ResolvedAt
		b.ResolvedAt = &t
	}
	if sb.WindowEnd != nil {
		t := *sb.WindowEnd
		b.WindowEnd = &t
	}
	return b
}

// Current retorna as apostas ordenadas por placed_at
func (l *Ledger) Current() []domain.Bet {
	out := make([]domain.Bet, 0, len(l.entries))
	for _, b := range l.entries {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlacedAt.Equal(out[j].PlacedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].PlacedAt.Before(out[j].PlacedAt)
	})
	return out
}

// Get retorna a aposta pelo id
func (l *Ledger) Get(id string) (domain.Bet, bool) {
	b, ok := l.entries[id]
	if !ok {
		return domain.Bet{}, false
	}
	return *b, true
}

// HasPending indica se há alguma aposta pendente (otimista ou confirmada)
func (l *Ledger) HasPending() bool {
	for _, b := range l.entries {
		if b.Status == domain.BetPending {
			return true
		}
	}
	return false
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func eqInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
