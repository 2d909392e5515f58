package rounds

import (
	"time"

	"github.com/radieske/count-market-engine/internal/round-engine/domain"
)

// maxSettled limita quantos ids resolvidos o Book lembra depois do Prune
const maxSettled = 256

// Book guarda as rodadas conhecidas por id. Status só avança: uma mensagem
// atrasada com status anterior é ignorada, inclusive para rodadas resolvidas
// que já saíram do Book.
type Book struct {
	rounds  map[string]domain.Round
	settled map[string]struct{}
	order   []string
}

// NewBook cria um Book vazio
func NewBook() *Book {
	return &Book{
		rounds:  make(map[string]domain.Round),
		settled: make(map[string]struct{}),
	}
}

// Upsert insere ou atualiza a rodada. Retorna false quando a atualização foi
// rejeitada por regredir o status.
func (b *Book) Upsert(r domain.Round) bool {
	if !r.Status.Valid() || r.ID == "" {
		return false
	}
	if _, ok := b.settled[r.ID]; ok {
		return false
	}
	if cur, ok := b.rounds[r.ID]; ok && !cur.Status.Advances(r.Status) {
		return false
	}
	b.rounds[r.ID] = r
	return true
}

// Replace sincroniza com uma listagem completa do servidor, respeitando a
// monotonicidade de cada rodada já conhecida
func (b *Book) Replace(list []domain.Round) {
	for _, r := range list {
		b.Upsert(r)
	}
}

// Get retorna a rodada pelo id
func (b *Book) Get(id string) (domain.Round, bool) {
	r, ok := b.rounds[id]
	return r, ok
}

// All retorna todas as rodadas conhecidas
func (b *Book) All() []domain.Round {
	out := make([]domain.Round, 0, len(b.rounds))
	for _, r := range b.rounds {
		out = append(out, r)
	}
	return out
}

// Prune remove rodadas resolvidas ou encerradas há mais de grace.
// Ids resolvidos ficam lembrados para que não voltem por mensagem atrasada.
func (b *Book) Prune(now time.Time, grace time.Duration) int {
	n := 0
	for id, r := range b.rounds {
		if r.Status == domain.RoundResolved || now.Sub(r.EndsAt) > grace {
			if r.Status == domain.RoundResolved {
				b.settle(id)
			}
			delete(b.rounds, id)
			n++
		}
	}
	return n
}

func (b *Book) settle(id string) {
	if _, ok := b.settled[id]; ok {
		return
	}
	b.settled[id] = struct{}{}
	b.order = append(b.order, id)
	if len(b.order) > maxSettled {
		delete(b.settled, b.order[0])
		b.order = b.order[1:]
	}
}

// Len retorna quantas rodadas estão no Book
func (b *Book) Len() int { return len(b.rounds) }
