package producer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/count-market-engine/internal/round-engine/outcome"
	"github.com/radieske/count-market-engine/internal/shared/kafka"
	"github.com/radieske/count-market-engine/pkg/contracts/events"
)

// MessageWriter é satisfeito por *kafka.Writer
type MessageWriter = kafka.MessageWriter

// OutcomePublisher publica cada cartão de resultado no tópico bet_outcomes.
// A chave é o bet_id para manter a ordem por aposta na partição.
type OutcomePublisher struct {
	Writer   MessageWriter
	CameraID string
	Log      *zap.Logger
}

func NewOutcomePublisher(w MessageWriter, cameraID string, log *zap.Logger) *OutcomePublisher {
	return &OutcomePublisher{Writer: w, CameraID: cameraID, Log: log}
}

func (p *OutcomePublisher) PublishOutcome(ctx context.Context, c outcome.Card) error {
	ev := events.BetOutcome{
		BetID:      c.BetID,
		RoundID:    c.RoundID,
		CameraID:   p.CameraID,
		Won:        c.Won,
		Payout:     c.Payout,
		Amount:     c.Amount,
		Actual:     c.Actual,
		Target:     c.Target,
		ResolvedAt: c.ResolvedAt,
		TsUnixMs:   time.Now().UnixMilli(),
	}
	if err := kafka.WriteJSON(ctx, p.Writer, c.BetID, ev); err != nil {
		return err
	}
	p.Log.Debug("published bet outcome", zap.String("bet_id", c.BetID), zap.Bool("won", c.Won))
	return nil
}
