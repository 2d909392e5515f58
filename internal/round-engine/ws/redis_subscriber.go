package ws

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/count-market-engine/pkg/contracts/events"
	"github.com/radieske/count-market-engine/pkg/contracts/topics"
)

// StartRedisSubscriber escuta o canal de broadcast de estado e repassa cada
// atualização ao Hub. Permite várias instâncias da API atrás de um balanceador.
func StartRedisSubscriber(ctx context.Context, r *redis.Client, hub *Hub, log *zap.Logger) {
	sub := r.Subscribe(ctx, topics.StateBroadcast)
	ch := sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg := <-ch:
				if msg == nil {
					continue
				}
				var upd events.StateUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &upd); err != nil {
					log.Warn("ws subscriber unmarshal error", zap.Error(err))
					continue
				}
				hub.Broadcast(upd)
			}
		}
	}()
}

// LocalPublisher entrega direto ao Hub quando não há Redis (ambiente local).
// Implementa pubsub.Publisher.
type LocalPublisher struct {
	Hub *Hub
}

func (p LocalPublisher) Publish(_ context.Context, channel string, payload []byte) error {
	if channel != topics.StateBroadcast {
		return nil
	}
	var upd events.StateUpdate
	if err := json.Unmarshal(payload, &upd); err != nil {
		return err
	}
	p.Hub.Broadcast(upd)
	return nil
}
