package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/radieske/count-market-engine/internal/round-engine/domain"
)

// stringArray adapta []string para parâmetros ANY($1)
func stringArray(v []string) any { return pq.Array(v) }

// Listen escuta o canal NOTIFY e chama onNotify a cada aviso de rodada nova
// ou alterada. Bloqueia até ctx ser cancelado.
func Listen(ctx context.Context, dsn, channel string, log *zap.Logger, onNotify func(payload string)) error {
	report := func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			log.Info("round listener connected", zap.String("channel", channel))
		case pq.ListenerEventDisconnected:
			log.Warn("round listener disconnected", zap.Error(err))
		case pq.ListenerEventReconnected:
			log.Info("round listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			log.Warn("round listener connect failed", zap.Error(err))
		}
	}

	l := pq.NewListener(dsn, time.Second, 30*time.Second, report)
	defer l.Close()

	if err := l.Listen(channel); err != nil {
		return err
	}

	// ping periódico detecta conexões mortas sem tráfego
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-l.Notify:
			// n == nil após reconexão: pode ter perdido avisos
			payload := ""
			if n != nil {
				payload = n.Extra
			}
			onNotify(payload)
		case <-ping.C:
			go func() {
				if err := l.Ping(); err != nil {
					log.Debug("round listener ping failed", zap.Error(err))
				}
			}()
		}
	}
}

// ParseNotify interpreta o payload JSON de uma notificação de rodada.
// Payload vazio ou inválido retorna ok=false; o chamador refaz a busca completa.
func ParseNotify(payload string) (domain.Round, bool) {
	if payload == "" {
		return domain.Round{}, false
	}
	var r domain.Round
	if err := json.Unmarshal([]byte(payload), &r); err != nil || r.ID == "" {
		return domain.Round{}, false
	}
	return r, true
}
