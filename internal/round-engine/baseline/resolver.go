package baseline

import (
	"context"
	"fmt"
	"time"

	"github.com/radieske/count-market-engine/internal/round-engine/domain"
)

// SnapshotSource busca o snapshot mais recente em ou antes de at.
// Retorna (nil, nil) quando não existe snapshot.
type SnapshotSource interface {
	LatestSnapshotAtOrBefore(ctx context.Context, cameraID string, at time.Time) (*domain.CountSnapshot, error)
}

// Resolver resolve o valor "zero" de uma rodada ou aposta.
// O cache por rodada não é seguro para uso concorrente.
type Resolver struct {
	src   SnapshotSource
	cache map[string]int
}

// New cria um Resolver
func New(src SnapshotSource) *Resolver {
	return &Resolver{src: src, cache: make(map[string]int)}
}

// Resolve retorna a contagem do snapshot mais próximo em ou antes de ref.
// Sem snapshot o baseline é 0.
func (r *Resolver) Resolve(ctx context.Context, ref time.Time, cameraID, vehicleClass string) (int, error) {
	snap, err := r.src.LatestSnapshotAtOrBefore(ctx, cameraID, ref)
	if err != nil {
		return 0, fmt.Errorf("resolve baseline %s@%s: %w", cameraID, ref.Format(time.RFC3339), err)
	}
	if snap == nil {
		return 0, nil
	}
	return snap.Count(vehicleClass), nil
}

// Cached retorna o baseline já resolvido da rodada
func (r *Resolver) Cached(roundID string) (int, bool) {
	v, ok := r.cache[roundID]
	return v, ok
}

// Store grava o baseline da rodada no cache
func (r *Resolver) Store(roundID string, v int) { r.cache[roundID] = v }

// ForRound resolve (e guarda) o baseline da rodada, ancorado em opens_at
func (r *Resolver) ForRound(ctx context.Context, round domain.Round) (int, error) {
	if v, ok := r.cache[round.ID]; ok {
		return v, nil
	}
	v, err := r.Resolve(ctx, round.OpensAt, round.CameraID, round.Params.VehicleClass)
	if err != nil {
		return 0, err
	}
	r.cache[round.ID] = v
	return v, nil
}

// ForBet resolve o baseline de uma aposta no instante em que foi colocada.
// Não usa o cache: a aposta pode mirar uma classe diferente da rodada.
func (r *Resolver) ForBet(ctx context.Context, bet domain.Bet, round domain.Round) (int, error) {
	return r.Resolve(ctx, bet.PlacedAt, round.CameraID, TargetClass(bet, round))
}

// Reset limpa o cache (troca de rodada)
func (r *Resolver) Reset() { clear(r.cache) }

// FromFrame deriva o baseline de uma aposta otimista a partir da última observação
func FromFrame(f domain.CountFrame, vehicleClass string) int {
	return f.Count(vehicleClass)
}

// TargetClass é a classe de veículo que a aposta acompanha (vazio = total)
func TargetClass(bet domain.Bet, round domain.Round) string {
	if bet.VehicleClass != "" {
		return bet.VehicleClass
	}
	return round.Params.VehicleClass
}
