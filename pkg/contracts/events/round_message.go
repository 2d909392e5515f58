package events

import "time"

type MarketPayload struct {
	ID          string  `json:"id"`
	OutcomeKey  string  `json:"outcome_key"`
	Odds        float64 `json:"odds"`
	TotalStaked int64   `json:"total_staked"`
}

type RoundPayload struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"` // upcoming | open | locked | resolved
	MarketType   string          `json:"market_type"`
	Threshold    *int            `json:"threshold,omitempty"`
	VehicleClass string          `json:"vehicle_class,omitempty"`
	OpensAt      time.Time       `json:"opens_at"`
	ClosesAt     time.Time       `json:"closes_at"`
	EndsAt       time.Time       `json:"ends_at"`
	CameraID     string          `json:"camera_id"`
	Markets      []MarketPayload `json:"markets"`
}

// Mensagem {type:"round"} enviada a cada mudança de ciclo de vida da rodada
type RoundMessage struct {
	Type  string       `json:"type"`
	Round RoundPayload `json:"round"`
}
