package domain

import "time"

// HealthStatus é a resposta do endpoint de saúde do backend de contagem:
// snapshot de bootstrap e, quando não há rodada, quando começa a próxima
type HealthStatus struct {
	Status            string      `json:"status"`
	Count             *CountFrame `json:"count,omitempty"`
	NextRoundStartsAt *time.Time  `json:"next_round_starts_at,omitempty"`
}
