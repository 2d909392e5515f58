package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/count-market-engine/internal/count-simulator/dto"
	"github.com/radieske/count-market-engine/internal/round-engine/domain"
	"github.com/radieske/count-market-engine/internal/round-engine/push"
	"github.com/radieske/count-market-engine/pkg/contracts/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server expõe o stream de contagem (/ws), as apostas (/bets) e /health
type Server struct {
	World *World
	Log   *zap.Logger
	Now   func() time.Time

	hub *hub
}

func NewServer(w *World, m *Metrics, log *zap.Logger) *Server {
	return &Server{World: w, Log: log, Now: time.Now, hub: newHub(log, m)}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", s.handleWS)
	r.Post("/bets", s.placeBet)
	r.Get("/bets", s.listBets)
	r.Get("/health", s.health)
	return r
}

// Run avança a simulação a cada tick e envia frames e rodadas aos clientes
func (s *Server) Run(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.step(s.Now())
		}
	}
}

func (s *Server) step(now time.Time) {
	frames, changed := s.World.Step(now)
	for _, r := range changed {
		s.hub.broadcast(roundMessage(r))
		s.Log.Info("round status", zap.String("round_id", r.ID), zap.String("status", string(r.Status)))
	}
	for _, f := range frames {
		s.hub.broadcast(countMessage(f))
	}
}

func roundMessage(r domain.Round) events.RoundMessage {
	return events.RoundMessage{Type: events.TypeRound, Round: push.PayloadFromRound(r)}
}

func countMessage(f domain.CountFrame) events.CountMessage {
	m := events.CountMessage{
		Type:             events.TypeCount,
		CameraID:         f.CameraID,
		CapturedAt:       f.CapturedAt,
		Total:            f.Total,
		VehicleBreakdown: f.VehicleBreakdown,
		NewCrossings:     f.NewCrossings,
		RuntimeProfile:   "simulated",
	}
	for _, d := range f.Detections {
		m.Detections = append(m.Detections, events.Detection{
			Class:      d.Class,
			Confidence: d.Confidence,
			Box:        events.Box{X: d.Box.X, Y: d.Box.Y, W: d.Box.W, H: d.Box.H},
			TrackID:    d.TrackID,
		})
	}
	return m
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	// rodadas ativas antes de entrar no broadcast
	for _, rd := range s.World.Rounds() {
		b, _ := json.Marshal(roundMessage(rd))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			_ = conn.Close()
			return
		}
	}
	id := s.hub.add(conn)

	go func() {
		defer func() {
			s.hub.remove(id)
			_ = conn.Close()
		}()
		for {
			// Lê e descarta mensagens do cliente para manter o socket limpo
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req dto.BetReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResp{Error: "invalid json body"})
		return
	}

	res, err := s.World.PlaceBet(r.Header.Get("Idempotency-Key"), req, s.Now())
	if err != nil {
		s.hub.m.betsRejected.Inc()
		var rej *RejectError
		if errors.As(err, &rej) {
			writeJSON(w, rej.Status, dto.ErrorResp{Error: rej.Reason})
			return
		}
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResp{Error: err.Error()})
		return
	}
	s.hub.m.betsPlaced.Inc()
	s.Log.Info("bet placed", zap.String("bet_id", res.BetID), zap.String("round_id", req.RoundID))
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) listBets(w http.ResponseWriter, r *http.Request) {
	roundID := r.URL.Query().Get("round_id")
	if roundID == "" {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResp{Error: "round_id is required"})
		return
	}
	writeJSON(w, http.StatusOK, s.World.Bets(roundID))
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.World.Health())
}
