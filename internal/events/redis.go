package events

import (
	"context"
	"encoding/json"
	"log"

	"github.com/pkg/errors"
	"github.com/playmatatu/escrow/internal/escrow"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel ledger events are published on.
const DefaultChannel = "ledger_events"

// RedisPublisher publishes committed events on a Redis channel so every server
// instance can forward them to its own subscribers.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, rec escrow.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	return errors.Wrapf(p.rdb.Publish(ctx, p.channel, data).Err(), "publish %s", rec.Kind)
}

// Subscribe forwards events from the Redis channel to hub until ctx is done.
func Subscribe(ctx context.Context, rdb *redis.Client, channel string, hub *Hub) {
	if rdb == nil {
		log.Println("[WS] Redis client not set; event subscriber not started")
		return
	}
	if channel == "" {
		channel = DefaultChannel
	}

	pubsub := rdb.Subscribe(ctx, channel)
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		log.Printf("[WS] %s subscriber started", channel)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var rec escrow.Record
				if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
					log.Printf("[WS] invalid event payload: %v", err)
					continue
				}
				hub.Broadcast(rec)
			}
		}
	}()
}
