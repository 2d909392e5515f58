package rounds

import (
	"sort"
	"time"

	"github.com/radieske/count-market-engine/internal/round-engine/domain"
)

// DefaultGrace é a janela em que uma rodada locked ainda aparece como "resolvendo"
const DefaultGrace = 2 * time.Minute

// Selection é a rodada escolhida e como ela deve ser apresentada
type Selection struct {
	Round     domain.Round
	Resolving bool
}

// SelectPreferred aplica a precedência fixa:
//  1. open com ends_at no futuro (opens_at mais recente vence)
//  2. locked ainda contando ou encerrada há no máximo grace
//  3. upcoming mais próxima (opens_at mais cedo)
//  4. nenhuma
func SelectPreferred(rounds []domain.Round, now time.Time, grace time.Duration) *Selection {
	var open, locked, upcoming []domain.Round
	for _, r := range rounds {
		switch r.Status {
		case domain.RoundOpen:
			if r.EndsAt.After(now) {
				open = append(open, r)
			}
		case domain.RoundLocked:
			if withinGrace(r.EndsAt, now, grace) {
				locked = append(locked, r)
			}
		case domain.RoundUpcoming:
			upcoming = append(upcoming, r)
		}
	}

	if len(open) > 0 {
		sort.SliceStable(open, func(i, j int) bool { return open[i].OpensAt.After(open[j].OpensAt) })
		return &Selection{Round: open[0]}
	}
	if len(locked) > 0 {
		sort.SliceStable(locked, func(i, j int) bool { return locked[i].EndsAt.After(locked[j].EndsAt) })
		r := locked[0]
		return &Selection{Round: r, Resolving: !now.Before(r.EndsAt)}
	}
	if len(upcoming) > 0 {
		sort.SliceStable(upcoming, func(i, j int) bool { return upcoming[i].OpensAt.Before(upcoming[j].OpensAt) })
		return &Selection{Round: upcoming[0]}
	}
	return nil
}

// withinGrace: a janela só conta depois de ends_at. Antes disso a rodada
// locked ainda está contando e continua elegível.
func withinGrace(endsAt, now time.Time, grace time.Duration) bool {
	return now.Before(endsAt.Add(grace))
}

// Tracker detecta troca de identidade da rodada selecionada.
// Cada troca incrementa a época; callbacks assíncronos comparam a época
// que capturaram com a atual antes de aplicar qualquer resultado.
type Tracker struct {
	currentID string
	epoch     uint64
}

// Observe registra a seleção atual e reporta se a identidade mudou
func (t *Tracker) Observe(sel *Selection) bool {
	id := ""
	if sel != nil {
		id = sel.Round.ID
	}
	if id == t.currentID {
		return false
	}
	t.currentID = id
	t.epoch++
	return true
}

// CurrentID retorna o id da rodada selecionada ("" quando nenhuma)
func (t *Tracker) CurrentID() string { return t.currentID }

// Epoch retorna a época corrente
func (t *Tracker) Epoch() uint64 { return t.epoch }
