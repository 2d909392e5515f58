package pubsub

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/count-market-engine/internal/round-engine/engine"
	"github.com/radieske/count-market-engine/pkg/contracts/events"
	"github.com/radieske/count-market-engine/pkg/contracts/topics"
)

// Publisher publica um payload em um canal
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type RedisBroadcaster struct {
	r *redis.Client
}

func NewRedisBroadcaster(r *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{r: r}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.r.Publish(ctx, channel, payload).Err()
}

// Forward publica cada snapshot do motor no canal de broadcast até o canal
// de snapshots fechar ou ctx acabar. Falhas de publish são logadas e o loop segue.
func Forward(ctx context.Context, snaps <-chan engine.Snapshot, cameraID string, pub Publisher, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-snaps:
			if !ok {
				return
			}
			payload, err := json.Marshal(s)
			if err != nil {
				log.Warn("marshal snapshot failed", zap.Error(err))
				continue
			}
			msg, _ := json.Marshal(events.StateUpdate{CameraID: cameraID, Payload: payload})
			if err := pub.Publish(ctx, topics.StateBroadcast, msg); err != nil {
				log.Warn("state broadcast failed", zap.Error(err))
			}
		}
	}
}
