package baseline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/radieske/count-market-engine/internal/round-engine/domain"
)

// History é um SnapshotSource em memória alimentado pelos frames aceitos.
// Usado quando não há banco de snapshots (ambiente local). Seguro para uso
// concorrente: o loop grava, goroutines de I/O leem.
type History struct {
	mu    sync.RWMutex
	limit int
	snaps []domain.CountSnapshot // ordenado por captured_at
}

// NewHistory guarda no máximo limit snapshots
func NewHistory(limit int) *History {
	if limit < 1 {
		limit = 1
	}
	return &History{limit: limit}
}

// Record adiciona o frame como snapshot; frames fora de ordem são ignorados
func (h *History) Record(f domain.CountFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.snaps); n > 0 && !f.CapturedAt.After(h.snaps[n-1].CapturedAt) {
		return
	}
	bd := make(map[string]int, len(f.VehicleBreakdown))
	for k, v := range f.VehicleBreakdown {
		bd[k] = v
	}
	h.snaps = append(h.snaps, domain.CountSnapshot{
		CameraID:         f.CameraID,
		CapturedAt:       f.CapturedAt,
		Total:            f.Total,
		VehicleBreakdown: bd,
	})
	if over := len(h.snaps) - h.limit; over > 0 {
		h.snaps = append(h.snaps[:0], h.snaps[over:]...)
	}
}

func (h *History) LatestSnapshotAtOrBefore(_ context.Context, cameraID string, at time.Time) (*domain.CountSnapshot, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	// primeiro índice depois de at
	i := sort.Search(len(h.snaps), func(i int) bool { return h.snaps[i].CapturedAt.After(at) })
	for j := i - 1; j >= 0; j-- {
		if cameraID == "" || h.snaps[j].CameraID == cameraID {
			s := h.snaps[j]
			return &s, nil
		}
	}
	return nil, nil
}

// Len retorna quantos snapshots estão guardados
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.snaps)
}
