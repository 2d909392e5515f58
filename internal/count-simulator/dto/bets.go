package dto

// BetReq é o corpo de POST /bets
type BetReq struct {
	RoundID      string `json:"round_id"`
	MarketID     string `json:"market_id,omitempty"`
	VehicleClass string `json:"vehicle_class,omitempty"`
	ExactCount   *int   `json:"exact_count,omitempty"`
	Amount       int64  `json:"amount"`
}

// ErrorResp segue o formato {"error": "..."} lido pelo cliente do motor
type ErrorResp struct {
	Error string `json:"error"`
}
