package outcome

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/count-market-engine/internal/round-engine/domain"
	"github.com/radieske/count-market-engine/internal/round-engine/kv"
	"github.com/radieske/count-market-engine/internal/round-engine/ledger"
)

const (
	latestKey    = "latest"
	storeTimeout = 500 * time.Millisecond
)

// Card é o resumo imutável de uma aposta resolvida
type Card struct {
	BetID      string    `json:"bet_id"`
	RoundID    string    `json:"round_id"`
	Won        bool      `json:"won"`
	Payout     int64     `json:"payout"`
	Actual     *int      `json:"actual,omitempty"`
	Target     *int      `json:"target,omitempty"`
	Amount     int64     `json:"amount"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Publisher recebe cada cartão novo (ex: tópico Kafka bet_outcomes)
type Publisher interface {
	PublishOutcome(ctx context.Context, c Card) error
}

// Notifier mantém o último cartão de resultado e o conjunto de dispensas.
// Falhas de persistência são logadas e ignoradas: nunca bloqueiam a reconciliação.
type Notifier struct {
	log       *zap.Logger
	cards     kv.Store
	dismissed kv.Store
	pub       Publisher

	mu         sync.Mutex
	current    *Card
	dismissMem map[string]bool
}

// New cria o Notifier sobre o namespace "outcomes" do store
func New(store kv.Store, pub Publisher, log *zap.Logger) *Notifier {
	ns := store.Namespace("outcomes")
	return &Notifier{
		log:        log,
		cards:      ns,
		dismissed:  ns.Namespace("dismissed"),
		pub:        pub,
		dismissMem: make(map[string]bool),
	}
}

// Observe transforma uma transição terminal em cartão, a menos que a aposta
// já tenha sido dispensada. Retorna o cartão exibido (ou nil).
func (n *Notifier) Observe(ctx context.Context, t ledger.Transition, actual, target *int) *Card {
	if !t.To.Terminal() {
		return nil
	}
	if n.isDismissed(ctx, t.Bet.ID) {
		return nil
	}

	n.mu.Lock()
	if n.current != nil && n.current.BetID == t.Bet.ID {
		c := *n.current
		n.mu.Unlock()
		return &c
	}
	n.mu.Unlock()

	card := Card{
		BetID:   t.Bet.ID,
		RoundID: t.Bet.RoundID,
		Won:     t.To == domain.BetWon,
		Payout:  t.Bet.Payout,
		Actual:  copyInt(actual),
		Target:  copyInt(target),
		Amount:  t.Bet.Amount,
	}
	if t.Bet.ResolvedAt != nil {
		card.ResolvedAt = *t.Bet.ResolvedAt
	} else {
		card.ResolvedAt = time.Now().UTC()
	}

	n.mu.Lock()
	n.current = &card
	n.mu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if b, err := json.Marshal(card); err == nil {
		if err := n.cards.Set(sctx, latestKey, string(b)); err != nil {
			n.log.Warn("persist outcome card failed", zap.String("bet_id", card.BetID), zap.Error(err))
		}
	}

	// só publica resoluções observadas ao vivo (não as redescobertas após restart)
	if n.pub != nil && t.From == domain.BetPending {
		if err := n.pub.PublishOutcome(sctx, card); err != nil {
			n.log.Warn("publish outcome failed", zap.String("bet_id", card.BetID), zap.Error(err))
		}
	}

	out := card
	return &out
}

// Current retorna o cartão visível, se houver
func (n *Notifier) Current() *Card {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current == nil {
		return nil
	}
	c := *n.current
	return &c
}

// Dismiss registra a dispensa permanente da aposta e esconde o cartão
func (n *Notifier) Dismiss(ctx context.Context, betID string) {
	n.mu.Lock()
	n.dismissMem[betID] = true
	if n.current != nil && n.current.BetID == betID {
		n.current = nil
	}
	n.mu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := n.dismissed.Set(sctx, betID, "1"); err != nil {
		n.log.Warn("persist dismissal failed", zap.String("bet_id", betID), zap.Error(err))
	}
}

// OnRoundChange limpa o cartão quando ele pertence a outra rodada
func (n *Notifier) OnRoundChange(roundID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current != nil && n.current.RoundID != roundID {
		n.current = nil
	}
}

// Restore recarrega o último cartão persistido (após restart), a menos que
// tenha sido dispensado
func (n *Notifier) Restore(ctx context.Context) *Card {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	raw, ok, err := n.cards.Get(sctx, latestKey)
	if err != nil {
		n.log.Warn("load outcome card failed", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var c Card
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		n.log.Warn("decode outcome card failed", zap.Error(err))
		return nil
	}
	if n.isDismissed(sctx, c.BetID) {
		return nil
	}

	n.mu.Lock()
	n.current = &c
	n.mu.Unlock()
	out := c
	return &out
}

func (n *Notifier) isDismissed(ctx context.Context, betID string) bool {
	n.mu.Lock()
	if n.dismissMem[betID] {
		n.mu.Unlock()
		return true
	}
	n.mu.Unlock()

	_, ok, err := n.dismissed.Get(ctx, betID)
	if err != nil {
		n.log.Warn("load dismissal failed", zap.String("bet_id", betID), zap.Error(err))
		return false
	}
	if ok {
		n.mu.Lock()
		n.dismissMem[betID] = true
		n.mu.Unlock()
	}
	return ok
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
