package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/count-market-engine/internal/round-engine/domain"
	"github.com/radieske/count-market-engine/pkg/contracts/events"
)

const (
	InitialBackoff = 1 * time.Second
	MaxBackoff     = 30 * time.Second
	BackoffFactor  = 2.0
	JitterPercent  = 0.2
)

// Sink recebe as mensagens decodificadas. Implementado pelo engine.
type Sink interface {
	IngestFrame(ctx context.Context, f domain.CountFrame) error
	ApplyRound(ctx context.Context, r domain.Round) error
	SetConnected(connected bool)
}

// Client consome o push channel (contagens + rodadas) e repassa ao Sink.
// Em caso de desconexão reconecta com backoff exponencial e jitter.
type Client struct {
	URL  string      // endpoint WebSocket do pipeline de contagem
	Log  *zap.Logger // logger estruturado
	Sink Sink

	backoff time.Duration
}

// Start bloqueia até ctx ser cancelado
func (c *Client) Start(ctx context.Context) {
	c.backoff = InitialBackoff
	for {
		select {
		case <-ctx.Done():
			c.Log.Info("context canceled, stopping push client")
			return
		default:
		}

		err := c.connectAndListen(ctx)
		c.Sink.SetConnected(false)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.Log.Warn("push connection closed", zap.Error(err), zap.Duration("backoff", c.backoff))
		}
		c.waitBackoff(ctx)
	}
}

func (c *Client) connectAndListen(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return &domain.NetworkError{Op: "dial push channel", Err: err}
	}
	defer conn.Close()

	// fecha a conexão quando o contexto acabar para destravar o ReadMessage
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c.Log.Info("connected to push channel", zap.String("url", c.URL))
	c.backoff = InitialBackoff
	c.Sink.SetConnected(true)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || ctx.Err() != nil {
				return nil
			}
			return &domain.NetworkError{Op: "read push channel", Err: err}
		}
		if err := c.dispatch(ctx, message); err != nil {
			if errors.Is(err, ctx.Err()) {
				return nil
			}
			c.Log.Warn("invalid push message", zap.Error(err))
		}
	}
}

func (c *Client) dispatch(ctx context.Context, message []byte) error {
	var env events.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case events.TypeCount:
		var m events.CountMessage
		if err := json.Unmarshal(message, &m); err != nil {
			return fmt.Errorf("decode count: %w", err)
		}
		return c.Sink.IngestFrame(ctx, FrameFromMessage(m))
	case events.TypeRound:
		var m events.RoundMessage
		if err := json.Unmarshal(message, &m); err != nil {
			return fmt.Errorf("decode round: %w", err)
		}
		return c.Sink.ApplyRound(ctx, RoundFromPayload(m.Round))
	default:
		c.Log.Debug("ignoring push message", zap.String("type", env.Type))
		return nil
	}
}

func (c *Client) waitBackoff(ctx context.Context) {
	jitter := time.Duration(float64(c.backoff) * JitterPercent * (rand.Float64()*2 - 1))
	wait := c.backoff + jitter

	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}

	c.backoff = time.Duration(float64(c.backoff) * BackoffFactor)
	if c.backoff > MaxBackoff {
		c.backoff = MaxBackoff
	}
}
