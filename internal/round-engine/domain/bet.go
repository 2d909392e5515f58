package domain

import "time"

// BetType distingue apostas em mercado discreto de apostas em contagem exata
type BetType string

const (
	BetMarket     BetType = "market"
	BetExactCount BetType = "exact_count"
)

// BetStatus é o estado de uma aposta; won e lost são terminais
type BetStatus string

const (
	BetPending BetStatus = "pending"
	BetWon     BetStatus = "won"
	BetLost    BetStatus = "lost"
)

// Terminal indica que a aposta não pode mais mudar de status
func (s BetStatus) Terminal() bool { return s == BetWon || s == BetLost }

// Bet é uma aposta do usuário na rodada corrente.
// BaselineCount é fixado na criação da entrada e nunca mais alterado.
type Bet struct {
	ID              string     `json:"id"`
	RoundID         string     `json:"round_id"`
	MarketID        string     `json:"market_id,omitempty"`
	OutcomeKey      string     `json:"outcome_key,omitempty"`
	BetType         BetType    `json:"bet_type"`
	Status          BetStatus  `json:"status"`
	Amount          int64      `json:"amount"`
	PotentialPayout int64      `json:"potential_payout"`
	Payout          int64      `json:"payout,omitempty"`
	VehicleClass    string     `json:"vehicle_class,omitempty"`
	ExactCount      *int       `json:"exact_count,omitempty"`
	BaselineCount   int        `json:"baseline_count"`
	PlacedAt        time.Time  `json:"placed_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	WindowEnd       *time.Time `json:"window_end,omitempty"`

	// entradas otimistas existem só localmente até a reconciliação
	Optimistic bool   `json:"optimistic"`
	ServerID   string `json:"server_id,omitempty"`
}

// BetDraft é o que o usuário envia ao apostar
type BetDraft struct {
	RoundID      string `json:"round_id"`
	MarketID     string `json:"market_id,omitempty"`
	VehicleClass string `json:"vehicle_class,omitempty"`
	ExactCount   *int   `json:"exact_count,omitempty"`
	Amount       int64  `json:"amount"`
}

// Type deriva o tipo de aposta do rascunho
func (d BetDraft) Type() BetType {
	if d.ExactCount != nil {
		return BetExactCount
	}
	return BetMarket
}

// ServerBet é a visão do servidor de uma aposta (baseline pode vir ausente)
type ServerBet struct {
	ID              string     `json:"id"`
	RoundID         string     `json:"round_id"`
	MarketID        string     `json:"market_id,omitempty"`
	OutcomeKey      string     `json:"outcome_key,omitempty"`
	BetType         BetType    `json:"bet_type"`
	Status          BetStatus  `json:"status"`
	Amount          int64      `json:"amount"`
	PotentialPayout int64      `json:"potential_payout"`
	Payout          int64      `json:"payout,omitempty"`
	VehicleClass    string     `json:"vehicle_class,omitempty"`
	ExactCount      *int       `json:"exact_count,omitempty"`
	BaselineCount   *int       `json:"baseline_count,omitempty"`
	PlacedAt        time.Time  `json:"placed_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	WindowEnd       *time.Time `json:"window_end,omitempty"`
}

// SubmitResult é a resposta do endpoint de aposta
type SubmitResult struct {
	BetID           string     `json:"bet_id"`
	PotentialPayout int64      `json:"potential_payout"`
	WindowEnd       *time.Time `json:"window_end,omitempty"`
}
