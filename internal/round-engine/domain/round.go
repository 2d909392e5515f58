package domain

import "time"

// RoundStatus é o estado de ciclo de vida de uma rodada (definido pelo servidor)
type RoundStatus string

const (
	RoundUpcoming RoundStatus = "upcoming"
	RoundOpen     RoundStatus = "open"
	RoundLocked   RoundStatus = "locked"
	RoundResolved RoundStatus = "resolved"
)

func (s RoundStatus) rank() int {
	switch s {
	case RoundUpcoming:
		return 0
	case RoundOpen:
		return 1
	case RoundLocked:
		return 2
	case RoundResolved:
		return 3
	}
	return -1
}

// Valid indica se o status é conhecido
func (s RoundStatus) Valid() bool { return s.rank() >= 0 }

// Advances reporta se ir de s para next respeita a ordem upcoming → open → locked → resolved.
// Repetir o mesmo status é permitido (idempotente).
func (s RoundStatus) Advances(next RoundStatus) bool {
	if !next.Valid() {
		return false
	}
	return next.rank() >= s.rank()
}

// MarketType descreve como a rodada é liquidada
type MarketType string

const (
	MarketOverUnder    MarketType = "over_under"
	MarketVehicleClass MarketType = "vehicle_class"
	MarketExactCount   MarketType = "exact_count"
)

// RoundParams são os parâmetros do mercado da rodada
type RoundParams struct {
	Threshold    *int   `json:"threshold,omitempty"`
	VehicleClass string `json:"vehicle_class,omitempty"`
}

// Market é um resultado apostável dentro da rodada (ex: "over")
type Market struct {
	ID          string  `json:"id"`
	RoundID     string  `json:"round_id"`
	OutcomeKey  string  `json:"outcome_key"`
	Odds        float64 `json:"odds"`
	TotalStaked int64   `json:"total_staked"`
}

// Round é um período de apostas cronometrado
type Round struct {
	ID         string      `json:"id"`
	Status     RoundStatus `json:"status"`
	MarketType MarketType  `json:"market_type"`
	Params     RoundParams `json:"params"`
	OpensAt    time.Time   `json:"opens_at"`
	ClosesAt   time.Time   `json:"closes_at"`
	EndsAt     time.Time   `json:"ends_at"`
	CameraID   string      `json:"camera_id"`
	Markets    []Market    `json:"markets"`
}

// RelativeEligible indica se o progresso deve ser medido relativo ao baseline
func (r Round) RelativeEligible(now time.Time) bool {
	switch r.Status {
	case RoundUpcoming, RoundOpen, RoundLocked:
		return now.Before(r.EndsAt)
	}
	return false
}

// AcceptsBets indica se a rodada ainda aceita apostas em now
func (r Round) AcceptsBets(now time.Time) bool {
	return r.Status == RoundOpen && now.Before(r.ClosesAt)
}

// Market retorna o mercado pelo id
func (r Round) Market(id string) (Market, bool) {
	for _, m := range r.Markets {
		if m.ID == id {
			return m, true
		}
	}
	return Market{}, false
}
