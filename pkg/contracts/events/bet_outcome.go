package events

import "time"

// Evento publicado no tópico "bet_outcomes" quando uma aposta resolve
type BetOutcome struct {
	BetID      string    `json:"bet_id"`
	RoundID    string    `json:"round_id"`
	CameraID   string    `json:"camera_id,omitempty"`
	Won        bool      `json:"won"`
	Payout     int64     `json:"payout"`
	Amount     int64     `json:"amount"`
	Actual     *int      `json:"actual,omitempty"`
	Target     *int      `json:"target,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
	TsUnixMs   int64     `json:"ts_unix_ms"`
}
