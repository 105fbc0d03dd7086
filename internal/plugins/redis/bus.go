package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/core/contracts"
)

// EventBus adapts Redis pub/sub to the bus contract the router
// consumes. Pub/sub matches the relay's delivery promise exactly:
// no backlog, no replay, and events published while nobody listens are
// dropped by Redis itself.
type EventBus struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewEventBus(rdb *redis.Client, log *slog.Logger) *EventBus {
	if log == nil {
		log = slog.Default()
	}
	return &EventBus{rdb: rdb, log: log}
}

func (b *EventBus) Subscribe(ctx context.Context, channels ...string) (<-chan contracts.BusMessage, error) {
	pubsub := b.rdb.Subscribe(ctx, channels...)
	// Confirm the subscription reached the server before reporting
	// success; otherwise a dead connection looks like a silent bus.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan contracts.BusMessage, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()
		src := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-src:
				if !ok {
					b.log.Warn("redis bus - subscribe - upstream channel closed")
					return
				}
				select {
				case out <- contracts.BusMessage{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
