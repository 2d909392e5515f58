package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/radieske/count-market-engine/internal/round-engine/domain"
	"github.com/radieske/count-market-engine/internal/round-engine/engine"
)

// Engine é o que a API precisa do motor
type Engine interface {
	Snapshot(ctx context.Context) (engine.Snapshot, error)
	SubmitBet(ctx context.Context, d domain.BetDraft) (domain.Bet, error)
	Dismiss(ctx context.Context, betID string) error
}

// API expõe o estado do motor e as ações do usuário
type API struct {
	Engine Engine
	WS     http.HandlerFunc // hub WebSocket (opcional)
	Log    *zap.Logger
}

// Router retorna o roteador HTTP
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/state", a.getState)
	r.Post("/v1/bets", a.placeBet)
	r.Post("/v1/outcomes/{betId}/dismiss", a.dismiss)
	if a.WS != nil {
		r.Get("/v1/ws", a.WS)
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor mapeia a taxonomia de erros para HTTP
func statusFor(err error) int {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		if verr.Field == "round_id" {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case domain.IsNetwork(err), errors.Is(err, engine.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (a *API) getState(w http.ResponseWriter, r *http.Request) {
	s, err := a.Engine.Snapshot(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) placeBet(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var d domain.BetDraft
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid json body"))
		return
	}

	bet, err := a.Engine.SubmitBet(r.Context(), d)
	if err != nil {
		if !domain.IsValidation(err) {
			a.Log.Error("submit bet failed", zap.Error(err))
		}
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, bet)
}

func (a *API) dismiss(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "betId")
	if err := a.Engine.Dismiss(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
