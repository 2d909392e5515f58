package push

import (
	"github.com/radieske/count-market-engine/internal/round-engine/domain"
	"github.com/radieske/count-market-engine/pkg/contracts/events"
)

// FrameFromMessage converte a mensagem do push channel no frame do domínio
func FrameFromMessage(m events.CountMessage) domain.CountFrame {
	f := domain.CountFrame{
		CameraID:         m.CameraID,
		CapturedAt:       m.CapturedAt,
		Total:            m.Total,
		VehicleBreakdown: m.VehicleBreakdown,
		NewCrossings:     m.NewCrossings,
		RuntimeProfile:   m.RuntimeProfile,
		SceneLighting:    m.SceneLighting,
	}
	if len(m.Detections) > 0 {
		f.Detections = make([]domain.Detection, len(m.Detections))
		for i, d := range m.Detections {
			f.Detections[i] = domain.Detection{
				Class:      d.Class,
				Confidence: d.Confidence,
				Box:        domain.Box{X: d.Box.X, Y: d.Box.Y, W: d.Box.W, H: d.Box.H},
				TrackID:    d.TrackID,
			}
		}
	}
	return f
}

func RoundFromPayload(p events.RoundPayload) domain.Round {
	r := domain.Round{
		ID:         p.ID,
		Status:     domain.RoundStatus(p.Status),
		MarketType: domain.MarketType(p.MarketType),
		Params:     domain.RoundParams{Threshold: p.Threshold, VehicleClass: p.VehicleClass},
		OpensAt:    p.OpensAt,
		ClosesAt:   p.ClosesAt,
		EndsAt:     p.EndsAt,
		CameraID:   p.CameraID,
	}
	for _, m := range p.Markets {
		r.Markets = append(r.Markets, domain.Market{
			ID:          m.ID,
			RoundID:     p.ID,
			OutcomeKey:  m.OutcomeKey,
			Odds:        m.Odds,
			TotalStaked: m.TotalStaked,
		})
	}
	return r
}

// PayloadFromRound é o inverso de RoundFromPayload (simulador)
func PayloadFromRound(r domain.Round) events.RoundPayload {
	p := events.RoundPayload{
		ID:           r.ID,
		Status:       string(r.Status),
		MarketType:   string(r.MarketType),
		Threshold:    r.Params.Threshold,
		VehicleClass: r.Params.VehicleClass,
		OpensAt:      r.OpensAt,
		ClosesAt:     r.ClosesAt,
		EndsAt:       r.EndsAt,
		CameraID:     r.CameraID,
	}
	for _, m := range r.Markets {
		p.Markets = append(p.Markets, events.MarketPayload{
			ID: m.ID, OutcomeKey: m.OutcomeKey, Odds: m.Odds, TotalStaked: m.TotalStaked,
		})
	}
	return p
}
